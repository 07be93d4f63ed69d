// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolve maps raw reference strings (DOIs, arXiv IDs, URLs, and
// free-text citations) to a canonical paper identity with ranked candidate
// PDF locations.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/httputil"
	"github.com/pdiddy/extraction-engine/internal/ratelimit"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Reason classifies a resolution failure.
type Reason string

const (
	ReasonNotFound       Reason = "NotFound"
	ReasonAmbiguousMatch Reason = "AmbiguousMatch"
	ReasonRateLimited    Reason = "RateLimited"
)

// Failure is returned when a reference cannot be resolved.
type Failure struct {
	Reason   Reason
	Message  string
	Attempts []types.Attempt
}

// Sentinels for errors.Is.
var (
	ErrNotFound       = &Failure{Reason: ReasonNotFound}
	ErrAmbiguousMatch = &Failure{Reason: ReasonAmbiguousMatch}
	ErrRateLimited    = &Failure{Reason: ReasonRateLimited}
)

func (f *Failure) Error() string {
	if f.Message == "" {
		return "resolution failed: " + string(f.Reason)
	}
	return fmt.Sprintf("resolution failed: %s: %s", f.Reason, f.Message)
}

// Is matches any Failure with the same reason.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Reason == f.Reason
}

// FailureReason returns the reason as a string for reports.
func (f *Failure) FailureReason() string { return string(f.Reason) }

// FailureAttempts returns the API calls made before giving up.
func (f *Failure) FailureAttempts() []types.Attempt { return f.Attempts }

// Resolver resolves references against Semantic Scholar, Unpaywall, and
// OpenAlex. It is safe for concurrent use.
type Resolver struct {
	cfg     types.ResolverConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	cache   cache.Store
	logger  *slog.Logger
	apiKey  string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache stores successful resolutions in s.
func WithCache(s cache.Store) Option { return func(r *Resolver) { r.cache = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.client = c } }

// WithAPIKey sets the Semantic Scholar API key.
func WithAPIKey(key string) Option { return func(r *Resolver) { r.apiKey = key } }

// New creates a Resolver. The limiter is shared with the rest of the run.
func New(cfg types.ResolverConfig, limiter *ratelimit.Limiter, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:     cfg,
		client:  httputil.NewClient(cfg.SemanticScholar.HTTPConfig),
		limiter: limiter,
		cache:   cache.Nop{},
		logger:  slog.Default(),
		apiKey:  cfg.SemanticScholar.APIKey,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve maps ref to a PaperIdentity. DOIs are tried first, then arXiv
// IDs, then direct URLs, then free-text citations. The boolean reports a
// cache hit. On failure the error is a *Failure.
func (r *Resolver) Resolve(ctx context.Context, ref types.PaperReference) (*types.PaperIdentity, bool, error) {
	if len(ref.Refs) == 0 {
		return nil, false, &Failure{Reason: ReasonNotFound, Message: "no reference strings"}
	}

	key := cacheKey(ref.Refs)
	var cached types.PaperIdentity
	if ok, err := cache.GetJSON(ctx, r.cache, key, &cached); err != nil {
		r.logger.Warn("resolve cache read failed", "error", err)
	} else if ok {
		return &cached, true, nil
	}

	byKind := make(map[RefKind][]string)
	for _, s := range ref.Refs {
		kind, norm := Classify(s)
		byKind[kind] = append(byKind[kind], norm)
	}

	t := &trace{}
	// bare keeps an identifier match with no PDF candidates while the
	// citation strings are searched.
	var id, bare *types.PaperIdentity
	var err error
	for _, kind := range []RefKind{KindDOI, KindArxiv, KindURL, KindCitation} {
		for _, s := range byKind[kind] {
			switch kind {
			case KindDOI:
				id, err = r.resolveDOI(ctx, s, t)
			case KindArxiv:
				id, err = r.resolveArxiv(ctx, s, t)
			case KindURL:
				id = urlIdentity(s)
			case KindCitation:
				id, err = r.resolveCitation(ctx, s, t)
			}
			if id != nil && len(id.Candidates) == 0 && kind != KindCitation && len(byKind[KindCitation]) > 0 {
				r.logger.Debug("identifier has no candidates, trying citation search", "ref", s, "kind", kind)
				if bare == nil {
					bare = id
				}
				id = nil
				continue
			}
			if id != nil {
				break
			}
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			r.logger.Debug("reference not resolved", "ref", s, "kind", kind, "error", err)
		}
		if id != nil {
			break
		}
	}

	if id == nil {
		id = bare
	}
	if id == nil {
		return nil, false, t.failure(err)
	}

	if err := cache.PutJSON(ctx, r.cache, key, id); err != nil {
		r.logger.Warn("resolve cache write failed", "error", err)
	}
	return id, false, nil
}

// cacheKey derives the resolution key from the normalized reference strings.
func cacheKey(refs []string) string {
	parts := make([]string, len(refs))
	for i, s := range refs {
		parts[i] = normalizeRef(s)
	}
	return cache.Key(cache.StageResolve, parts...)
}

// urlIdentity treats a non-DOI URL as a direct PDF link.
func urlIdentity(u string) *types.PaperIdentity {
	return &types.PaperIdentity{
		Candidates: []types.SourceCandidate{{URL: u, Strategy: StrategyURL}},
		MatchScore: 1,
		Source:     "url",
	}
}

// resolveDOI looks the DOI up on Semantic Scholar, then gathers OA
// locations. A DOI unknown to Semantic Scholar still yields an identity;
// Resolve falls through to citation search when it has no candidates.
func (r *Resolver) resolveDOI(ctx context.Context, doi string, t *trace) (*types.PaperIdentity, error) {
	id := &types.PaperIdentity{DOI: doi, MatchScore: 1, Source: "doi"}

	var cands candidateList
	p, err := r.semanticLookup(ctx, "DOI:"+doi, t)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Reason == ReasonRateLimited {
			return nil, err
		}
		r.logger.Debug("semantic scholar lookup failed", "doi", doi, "error", err)
	}
	if p != nil {
		p.fill(id)
		if p.OpenAccessPDF != nil {
			cands.add(p.OpenAccessPDF.URL, StrategySemanticScholar)
		}
	}

	r.gatherOA(ctx, id, &cands, t)
	id.Candidates = cands.list()
	return id, nil
}

// resolveArxiv looks up an arXiv ID. The arXiv PDF is always a candidate.
func (r *Resolver) resolveArxiv(ctx context.Context, arxivID string, t *trace) (*types.PaperIdentity, error) {
	id := &types.PaperIdentity{ArxivID: arxivID, MatchScore: 1, Source: "arxiv"}

	var cands candidateList
	p, err := r.semanticLookup(ctx, "arXiv:"+arxivID, t)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Reason == ReasonRateLimited {
			return nil, err
		}
	}
	if p != nil {
		p.fill(id)
		if p.OpenAccessPDF != nil {
			cands.add(p.OpenAccessPDF.URL, StrategySemanticScholar)
		}
	}
	r.gatherOA(ctx, id, &cands, t)
	id.Candidates = cands.list()
	return id, nil
}

// resolveCitation searches for the citation and accepts the best-scoring
// candidate when it clears the threshold and is not ambiguous.
func (r *Resolver) resolveCitation(ctx context.Context, text string, t *trace) (*types.PaperIdentity, error) {
	c := parseCitation(text)
	papers, err := r.semanticSearch(ctx, searchQuery(text), t)
	if err != nil {
		return nil, err
	}

	best, err := pickMatch(c, papers, r.cfg.MatchThreshold, r.cfg.AmbiguityMargin)
	if err != nil {
		return nil, err
	}

	id := &types.PaperIdentity{MatchScore: best.similarity, Source: "search"}
	best.paper.fill(id)

	var cands candidateList
	if best.paper.OpenAccessPDF != nil {
		cands.add(best.paper.OpenAccessPDF.URL, StrategySemanticScholar)
	}
	r.gatherOA(ctx, id, &cands, t)
	id.Candidates = cands.list()
	return id, nil
}

// gatherOA appends Unpaywall, OpenAlex, arXiv, and publisher candidates.
// Lookup errors are logged and skipped; the identity is still usable.
func (r *Resolver) gatherOA(ctx context.Context, id *types.PaperIdentity, cands *candidateList, t *trace) {
	if id.DOI != "" && r.cfg.UnpaywallEmail != "" {
		up, err := r.unpaywall(ctx, id.DOI, t)
		if err != nil {
			r.logger.Debug("unpaywall lookup failed", "doi", id.DOI, "error", err)
		}
		if up != nil {
			up.fill(id)
			cands.addAll(up.pdfURLs(), StrategyUnpaywall)
		}
	}
	if id.DOI != "" && r.cfg.UseOpenAlex {
		u, err := r.openAlex(ctx, id.DOI, t)
		if err != nil {
			r.logger.Debug("openalex lookup failed", "doi", id.DOI, "error", err)
		}
		cands.add(u, StrategyOpenAlex)
	}
	if id.ArxivID != "" {
		cands.add(arxivPDFBase+id.ArxivID, StrategyArxiv)
	}
	if id.DOI != "" {
		cands.addAll(publisherURLs(id.DOI), StrategyPublisher)
	}
}

// trace records the API calls made while resolving one reference.
type trace struct {
	attempts []types.Attempt
}

func (t *trace) record(a types.Attempt) {
	t.attempts = append(t.attempts, a)
}

// failure converts the last error into a *Failure carrying the full trace.
// A rate limit anywhere in the trace wins over NotFound so the record is
// reported as retryable.
func (t *trace) failure(last error) *Failure {
	f := &Failure{Reason: ReasonNotFound, Attempts: t.attempts}
	var lf *Failure
	if errors.As(last, &lf) {
		f.Reason = lf.Reason
		f.Message = lf.Message
	} else if last != nil {
		f.Message = last.Error()
	}
	for _, a := range t.attempts {
		if a.Reason == string(ReasonRateLimited) {
			f.Reason = ReasonRateLimited
		}
	}
	return f
}

// errNotFound marks an HTTP 404 from a lookup endpoint.
var errNotFound = errors.New("not found")

// getJSON issues a GET with bounded 429 retries, each try waiting on the
// shared limiter, and decodes a 200 response into v. It records one
// Attempt per call. A final 429 becomes a RateLimited *Failure; a 404
// returns errNotFound.
func (r *Resolver) getJSON(ctx context.Context, api, target, reqURL string, header http.Header, v any, t *trace) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", api, err)
	}
	req.Header.Set("User-Agent", r.cfg.SemanticScholar.UserAgent)
	for k, vs := range header {
		for _, hv := range vs {
			req.Header.Add(k, hv)
		}
	}

	state := httputil.NewRetryState(r.cfg.MaxRetries, r.cfg.RetryDelay)
	attempt := types.Attempt{Target: target, At: time.Now()}
	gate := func(ctx context.Context) error { return r.limiter.Wait(ctx, api) }
	resp, err := httputil.DoWithRetry(ctx, r.client, req, state, gate)
	attempt.Tries = state.Attempts
	if err != nil {
		attempt.Error = err.Error()
		t.record(attempt)
		return fmt.Errorf("%s request: %w", api, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		attempt.Reason = string(ReasonRateLimited)
		attempt.NextEligible = state.Schedule(time.Now())
		t.record(attempt)
		return &Failure{
			Reason:  ReasonRateLimited,
			Message: fmt.Sprintf("%s returned HTTP 429 after %d tries", api, state.Attempts),
		}
	case http.StatusNotFound:
		attempt.Reason = string(ReasonNotFound)
		t.record(attempt)
		return errNotFound
	default:
		attempt.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		t.record(attempt)
		return fmt.Errorf("%s returned HTTP %d", api, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		attempt.Error = err.Error()
		t.record(attempt)
		return fmt.Errorf("parsing %s response: %w", api, err)
	}
	t.record(attempt)
	return nil
}
