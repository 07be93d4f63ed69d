// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns an acquired document into typed field values by
// asking a priority list of LLM providers for structured output, falling
// back to the next provider when the answer is unusable or low-confidence.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/httputil"
	"github.com/pdiddy/extraction-engine/internal/ratelimit"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Reason classifies an extraction failure.
type Reason string

const (
	ReasonMalformedResponse     Reason = "MalformedResponse"
	ReasonAllProvidersExhausted Reason = "AllProvidersExhausted"
)

// Per-call attempt reasons.
const (
	attemptMalformed     = "MalformedResponse"
	attemptTransient     = "TransientError"
	attemptProviderError = "ProviderError"
	attemptLowConfidence = "LowConfidence"
)

// Failure is returned when no provider produced a parseable answer.
type Failure struct {
	Reason   Reason
	Message  string
	Attempts []types.Attempt
}

// Sentinels for errors.Is.
var (
	ErrMalformedResponse     = &Failure{Reason: ReasonMalformedResponse}
	ErrAllProvidersExhausted = &Failure{Reason: ReasonAllProvidersExhausted}
)

func (f *Failure) Error() string {
	if f.Message == "" {
		return "extraction failed: " + string(f.Reason)
	}
	return fmt.Sprintf("extraction failed: %s: %s", f.Reason, f.Message)
}

// Is matches any Failure with the same reason.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Reason == f.Reason
}

// FailureReason returns the reason as a string for reports.
func (f *Failure) FailureReason() string { return string(f.Reason) }

// FailureAttempts returns one attempt per provider call.
func (f *Failure) FailureAttempts() []types.Attempt { return f.Attempts }

// Engine runs extraction over an ordered list of providers. It is safe for
// concurrent use.
type Engine struct {
	cfg        types.LLMConfig
	sourceRefs bool
	providers  []Provider
	limiter    *ratelimit.Limiter
	cache      cache.Store
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache stores extraction results in s.
func WithCache(s cache.Store) Option { return func(e *Engine) { e.cache = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an Engine. providers is the priority order, primary first.
// MaxRetries caps attempts across all providers, so providers past the
// first MaxRetries+1 are never asked; New logs a warning when that happens.
func New(cfg types.LLMConfig, ecfg types.ExtractionConfig, providers []Provider, limiter *ratelimit.Limiter, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		sourceRefs: ecfg.RequestSourceRefs,
		providers:  providers,
		limiter:    limiter,
		cache:      cache.Nop{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if budget := max(cfg.MaxRetries, 0) + 1; budget < len(providers) {
		unreachable := make([]string, 0, len(providers)-budget)
		for _, p := range providers[budget:] {
			unreachable = append(unreachable, p.Name())
		}
		e.logger.Warn("max_retries leaves fallback providers unreachable",
			"max_retries", cfg.MaxRetries, "providers", len(providers), "unreachable", unreachable)
	}
	return e
}

// scored is one successful provider attempt.
type scored struct {
	provider string
	records  [][]types.FieldResult
	score    float64
}

// Extract returns one result per record found in doc. The boolean reports
// a cache hit. On failure the error is a *Failure.
func (e *Engine) Extract(ctx context.Context, doc *types.AcquiredDocument, schema types.ExtractionSchema) ([]types.ExtractionResult, bool, error) {
	if err := schema.Validate(); err != nil {
		return nil, false, err
	}
	if len(e.providers) == 0 {
		return nil, false, &Failure{Reason: ReasonAllProvidersExhausted, Message: "no providers configured"}
	}

	key := cache.Key(cache.StageExtract, doc.ContentHash, schema.Hash(), strconv.FormatBool(e.sourceRefs))
	var cached []types.ExtractionResult
	if ok, err := cache.GetJSON(ctx, e.cache, key, &cached); err != nil {
		e.logger.Warn("extract cache read failed", "error", err)
	} else if ok {
		for i := range cached {
			cached[i].FromCache = true
		}
		return cached, true, nil
	}

	validator, err := compileRecordSchema(schema)
	if err != nil {
		return nil, false, err
	}
	chunks := chunkPages(renderPages(doc.Pages), e.cfg.MaxInputChars)

	var (
		budget    = max(e.cfg.MaxRetries, 0) + 1
		attempts  int
		history   []types.Attempt
		tried     []string
		best      *scored
		accepted  bool
		malformed = true
	)

providers:
	for i, p := range e.providers {
		if attempts >= budget {
			break
		}
		tried = append(tried, p.Name())
		remaining := len(e.providers) - i - 1

		for tries := 1; ; tries++ {
			attempts++
			at := types.Attempt{Target: p.Name() + "/" + p.Model(), Tries: tries, At: time.Now()}
			records, err := e.runAttempt(ctx, p, chunks, schema, validator)

			if err != nil {
				at.Error = err.Error()
				switch {
				case errors.Is(err, errMalformed):
					at.Reason = attemptMalformed
				case IsTransient(err):
					at.Reason = attemptTransient
					malformed = false
				default:
					at.Reason = attemptProviderError
					malformed = false
				}
				history = append(history, at)
				e.logger.Warn("extraction attempt failed", "provider", p.Name(), "model", p.Model(), "reason", at.Reason, "error", err)

				if ctx.Err() != nil {
					return nil, false, &Failure{Reason: ReasonAllProvidersExhausted, Message: ctx.Err().Error(), Attempts: history}
				}
				if IsTransient(err) && attempts+remaining < budget {
					delay := e.cfg.RetryDelay * time.Duration(1<<(tries-1))
					if err := httputil.Sleep(ctx, delay); err != nil {
						return nil, false, &Failure{Reason: ReasonAllProvidersExhausted, Message: err.Error(), Attempts: history}
					}
					continue
				}
				break
			}

			score := meanAggregate(records)
			if score < e.cfg.AcceptanceThreshold {
				at.Reason = attemptLowConfidence
			}
			history = append(history, at)
			e.logger.Info("extraction attempt", "provider", p.Name(), "model", p.Model(), "records", len(records), "confidence", score)

			if best == nil || score > best.score {
				best = &scored{provider: p.Name(), records: records, score: score}
			}
			if score >= e.cfg.AcceptanceThreshold {
				accepted = true
				break providers
			}
			break
		}
	}

	if best == nil {
		reason := ReasonAllProvidersExhausted
		if malformed {
			reason = ReasonMalformedResponse
		}
		return nil, false, &Failure{
			Reason:   reason,
			Message:  fmt.Sprintf("%d attempts across %d providers", attempts, len(tried)),
			Attempts: history,
		}
	}

	results := make([]types.ExtractionResult, len(best.records))
	for i, fields := range best.records {
		results[i] = types.ExtractionResult{
			RecordIndex:         i,
			Fields:              fields,
			AggregateConfidence: aggregate(fields),
			AttemptCount:        attempts,
			ProvidersTried:      append([]string(nil), tried...),
			ProviderUsed:        best.provider,
			LowConfidence:       !accepted,
			Attempts:            append([]types.Attempt(nil), history...),
		}
	}

	if err := cache.PutJSON(ctx, e.cache, key, results); err != nil {
		e.logger.Warn("extract cache write failed", "error", err)
	}
	return results, false, nil
}

// runAttempt sends every chunk to p and merges the answers.
func (e *Engine) runAttempt(ctx context.Context, p Provider, chunks []string, schema types.ExtractionSchema, validator *jsonschema.Schema) ([][]types.FieldResult, error) {
	perChunk := make([][][]types.FieldResult, 0, len(chunks))
	respSchema := responseSchema(schema, e.sourceRefs)

	for i, chunk := range chunks {
		prompt, err := renderPrompt(schema, e.sourceRefs, chunk, i+1, len(chunks))
		if err != nil {
			return nil, err
		}
		if err := e.limiter.Wait(ctx, "provider:"+p.Name()); err != nil {
			return nil, err
		}
		raw, err := p.GenerateStructured(ctx, Request{
			DocumentText:   chunk,
			Schema:         schema,
			SourceRefs:     e.sourceRefs,
			Prompt:         prompt,
			ResponseSchema: respSchema,
		})
		if err != nil {
			return nil, err
		}
		recs, err := parseResponse(raw, validator)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			recs = []map[string]any{{}}
		}

		records := make([][]types.FieldResult, len(recs))
		for j, rec := range recs {
			records[j] = buildRecord(schema, rec, chunk, p.Name())
		}
		perChunk = append(perChunk, records)
	}
	return mergeChunks(perChunk), nil
}

// buildRecord coerces one parsed record into schema order.
func buildRecord(schema types.ExtractionSchema, rec map[string]any, chunk, provider string) []types.FieldResult {
	fields := make([]types.FieldResult, len(schema))
	for i, def := range schema {
		raw := fieldOf(rec, def.Name)
		fr := types.FieldResult{FieldName: def.Name, ProviderUsed: provider}

		if raw.Quote != "" {
			page := raw.Page
			if page <= 0 {
				page = pageOf(chunk, raw.Quote)
			}
			fr.SourceSpan = &types.SourceSpan{Page: page, QuotedText: raw.Quote}
		}

		v, coerced, err := coerce(def.Type, raw.Value)
		switch {
		case err != nil:
			fr.Coerced = true
		case v != nil:
			fr.Value = v
			fr.Coerced = coerced
			fr.Confidence = 1
			if raw.Confidence != nil {
				fr.Confidence = clamp01(*raw.Confidence)
			}
		}
		fields[i] = fr
	}
	return fields
}

// mergeChunks combines per-chunk answers record by record, keeping the
// highest-confidence value of each field.
func mergeChunks(perChunk [][][]types.FieldResult) [][]types.FieldResult {
	if len(perChunk) == 1 {
		return perChunk[0]
	}
	n := 0
	for _, recs := range perChunk {
		n = max(n, len(recs))
	}
	merged := make([][]types.FieldResult, n)
	for r := range n {
		for _, recs := range perChunk {
			if r >= len(recs) {
				continue
			}
			if merged[r] == nil {
				merged[r] = append([]types.FieldResult(nil), recs[r]...)
				continue
			}
			for f, fr := range recs[r] {
				if fr.Confidence > merged[r][f].Confidence {
					merged[r][f] = fr
				}
			}
		}
	}
	return merged
}

// aggregate is the mean confidence over all fields, null fields counting
// as zero.
func aggregate(fields []types.FieldResult) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		sum += f.Confidence
	}
	return clamp01(sum / float64(len(fields)))
}

// meanAggregate scores a multi-record answer by its mean record aggregate.
func meanAggregate(records [][]types.FieldResult) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += aggregate(r)
	}
	return sum / float64(len(records))
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Min(1, math.Max(0, x))
}
