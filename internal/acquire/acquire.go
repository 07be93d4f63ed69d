// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire downloads the PDF for a resolved paper identity, trying
// its ranked candidate URLs in order, and extracts page text with layout
// coordinates.
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/httputil"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Reason classifies an acquisition failure.
type Reason string

const (
	ReasonNoOpenAccessCopy Reason = "NoOpenAccessCopy"
	ReasonAllSourcesFailed Reason = "AllSourcesFailed"
	ReasonTimeout          Reason = "Timeout"
)

// Per-candidate attempt reasons.
const (
	attemptTimeout    = "Timeout"
	attemptHTTPStatus = "HTTPStatus"
	attemptNetwork    = "NetworkError"
	attemptInvalidPDF = "InvalidPDF"
)

// Failure is returned when no candidate yields a usable PDF.
type Failure struct {
	Reason   Reason
	Message  string
	Attempts []types.Attempt
}

// Sentinels for errors.Is.
var (
	ErrNoOpenAccessCopy = &Failure{Reason: ReasonNoOpenAccessCopy}
	ErrAllSourcesFailed = &Failure{Reason: ReasonAllSourcesFailed}
	ErrTimeout          = &Failure{Reason: ReasonTimeout}
)

func (f *Failure) Error() string {
	if f.Message == "" {
		return "acquisition failed: " + string(f.Reason)
	}
	return fmt.Sprintf("acquisition failed: %s: %s", f.Reason, f.Message)
}

// Is matches any Failure with the same reason.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Reason == f.Reason
}

// FailureReason returns the reason as a string for reports.
func (f *Failure) FailureReason() string { return string(f.Reason) }

// FailureAttempts returns one attempt per candidate tried.
func (f *Failure) FailureAttempts() []types.Attempt { return f.Attempts }

// statusError is a non-200 download response.
type statusError struct {
	Code int
	URL  string
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d from %s", e.Code, e.URL) }

// Acquirer fetches and validates PDFs. It is safe for concurrent use;
// concurrent requests for the same identity share one download.
type Acquirer struct {
	cfg    types.DownloaderConfig
	client *http.Client
	parser Parser
	cache  cache.Store
	logger *slog.Logger
	group  singleflight.Group
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithCache stores acquired documents in s.
func WithCache(s cache.Store) Option { return func(a *Acquirer) { a.cache = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Acquirer) { a.logger = l } }

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option { return func(a *Acquirer) { a.client = c } }

// WithParser replaces the PDF parser.
func WithParser(p Parser) Option { return func(a *Acquirer) { a.parser = p } }

// New creates an Acquirer.
func New(cfg types.DownloaderConfig, opts ...Option) *Acquirer {
	a := &Acquirer{
		cfg:    cfg,
		client: &http.Client{},
		parser: PDFParser{},
		cache:  cache.Nop{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type outcome struct {
	doc *types.AcquiredDocument
	hit bool
}

// Acquire returns the document for id. The boolean reports that no
// download happened for this call: a cache hit, a reused local file, or a
// concurrent caller's download. On failure the error is a *Failure.
func (a *Acquirer) Acquire(ctx context.Context, id *types.PaperIdentity) (*types.AcquiredDocument, bool, error) {
	if id == nil || len(id.Candidates) == 0 {
		return nil, false, &Failure{Reason: ReasonNoOpenAccessCopy, Message: "no candidate source URLs"}
	}

	key := cache.Key(cache.StageAcquire, id.Key())
	ran := false
	v, err, _ := a.group.Do(key, func() (any, error) {
		ran = true
		return a.acquire(ctx, key, id)
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(outcome)
	return out.doc, out.hit || !ran, nil
}

func (a *Acquirer) acquire(ctx context.Context, key string, id *types.PaperIdentity) (outcome, error) {
	var cached types.AcquiredDocument
	if ok, err := cache.GetJSON(ctx, a.cache, key, &cached); err != nil {
		a.logger.Warn("acquire cache read failed", "error", err)
	} else if ok {
		return outcome{doc: &cached, hit: true}, nil
	}

	path := a.pdfPath(id)
	if doc := a.reuseLocal(path); doc != nil {
		a.put(ctx, key, doc)
		return outcome{doc: doc, hit: true}, nil
	}

	doc, err := a.fetch(ctx, id)
	if err != nil {
		return outcome{}, err
	}

	if path != "" {
		if err := writeAtomic(path, doc.Bytes); err != nil {
			a.logger.Warn("saving PDF failed", "path", path, "error", err)
		} else {
			doc.Path = path
		}
	}
	a.put(ctx, key, doc)
	return outcome{doc: doc}, nil
}

func (a *Acquirer) put(ctx context.Context, key string, doc *types.AcquiredDocument) {
	if err := cache.PutJSON(ctx, a.cache, key, doc); err != nil {
		a.logger.Warn("acquire cache write failed", "error", err)
	}
}

func (a *Acquirer) pdfPath(id *types.PaperIdentity) string {
	if a.cfg.PDFDir == "" {
		return ""
	}
	return filepath.Join(a.cfg.PDFDir, id.Slug()+".pdf")
}

// reuseLocal loads a previously saved PDF when skip_existing is set.
func (a *Acquirer) reuseLocal(path string) *types.AcquiredDocument {
	if path == "" || !a.cfg.SkipExisting {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	doc, err := a.buildDocument(data)
	if err != nil {
		a.logger.Warn("ignoring unreadable local PDF", "path", path, "error", err)
		return nil
	}
	doc.Path = path
	doc.Strategy = "local"
	return doc
}

// fetch tries each candidate in rank order. Every candidate tried adds
// exactly one Attempt, whatever the number of retries inside it.
func (a *Acquirer) fetch(ctx context.Context, id *types.PaperIdentity) (*types.AcquiredDocument, error) {
	cands := append([]types.SourceCandidate(nil), id.Candidates...)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Rank < cands[j].Rank })

	var attempts []types.Attempt
	timeouts := 0
	for _, c := range cands {
		doc, att := a.tryCandidate(ctx, c)
		attempts = append(attempts, att)
		if doc != nil {
			doc.SourceURL = c.URL
			doc.Strategy = c.Strategy
			a.logger.Info("acquired", "url", c.URL, "strategy", c.Strategy, "pages", doc.PageCount)
			return doc, nil
		}
		a.logger.Debug("candidate failed", "url", c.URL, "reason", att.Reason, "error", att.Error)
		if att.Reason == attemptTimeout {
			timeouts++
		}
		if err := ctx.Err(); err != nil {
			return nil, &Failure{Reason: ReasonTimeout, Message: err.Error(), Attempts: attempts}
		}
	}

	reason := ReasonAllSourcesFailed
	if timeouts == len(cands) {
		reason = ReasonTimeout
	}
	return nil, &Failure{
		Reason:   reason,
		Message:  fmt.Sprintf("%d candidate URLs failed", len(cands)),
		Attempts: attempts,
	}
}

// tryCandidate downloads one URL with bounded retries of transient errors
// (timeouts, HTTP 429 and 5xx) and validates the result.
func (a *Acquirer) tryCandidate(ctx context.Context, c types.SourceCandidate) (*types.AcquiredDocument, types.Attempt) {
	att := types.Attempt{Target: c.URL, At: time.Now()}
	state := httputil.NewRetryState(a.cfg.MaxRetries, a.cfg.RetryDelay)

	for state.Begin() {
		att.Tries = state.Attempts
		data, err := a.download(ctx, c.URL)
		if err == nil {
			doc, verr := a.buildDocument(data)
			if verr != nil {
				att.Reason, att.Error = attemptInvalidPDF, verr.Error()
				return nil, att
			}
			att.Reason, att.Error = "", ""
			return doc, att
		}

		att.Reason, att.Error = classify(err), err.Error()
		if !transient(err) || !state.CanRetry() {
			return nil, att
		}
		att.NextEligible = state.Schedule(time.Now())
		if werr := state.Wait(ctx); werr != nil {
			return nil, att
		}
	}
	return nil, att
}

// download fetches url under the per-download timeout.
func (a *Acquirer) download(ctx context.Context, url string) ([]byte, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	ua := a.cfg.UserAgent
	if ua == "" {
		ua = types.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/pdf,application/octet-stream,*/*")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{Code: resp.StatusCode, URL: url}
	}
	return io.ReadAll(resp.Body)
}

// buildDocument validates data as a PDF and extracts its text layout.
func (a *Acquirer) buildDocument(data []byte) (*types.AcquiredDocument, error) {
	minBytes := a.cfg.MinBytes
	if len(data) < minBytes {
		return nil, fmt.Errorf("response too small (%d bytes, need %d)", len(data), minBytes)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, errors.New("missing %PDF header")
	}
	n, err := a.parser.PageCount(data)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errors.New("PDF has no pages")
	}
	pages, err := a.parser.Pages(data)
	if err != nil {
		return nil, err
	}
	return &types.AcquiredDocument{
		ContentHash: types.ContentHash(data),
		Bytes:       data,
		PageCount:   n,
		Pages:       pages,
	}, nil
}

// classify names the attempt failure for the audit trail.
func classify(err error) string {
	var se *statusError
	switch {
	case isTimeout(err):
		return attemptTimeout
	case errors.As(err, &se):
		return attemptHTTPStatus
	default:
		return attemptNetwork
	}
}

// transient reports whether err is worth retrying against the same URL.
// 403 and 404 are final.
func transient(err error) bool {
	if isTimeout(err) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// writeAtomic writes data to a temp file beside path and renames it.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".acquire-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
