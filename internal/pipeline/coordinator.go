// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives a batch of paper references through resolution,
// acquisition, extraction, and annotation. Each stage runs across the whole
// batch before the next one starts, with its own worker pool and
// per-operation timeout. A record that fails stops where it failed; the
// batch always completes.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/pdiddy/extraction-engine/internal/annotate"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Resolver maps a reference to a paper identity.
type Resolver interface {
	Resolve(ctx context.Context, ref types.PaperReference) (*types.PaperIdentity, bool, error)
}

// Acquirer downloads and parses the PDF for an identity.
type Acquirer interface {
	Acquire(ctx context.Context, id *types.PaperIdentity) (*types.AcquiredDocument, bool, error)
}

// Extractor turns a document into field values.
type Extractor interface {
	Extract(ctx context.Context, doc *types.AcquiredDocument, schema types.ExtractionSchema) ([]types.ExtractionResult, bool, error)
}

// Annotator writes a highlight overlay for extracted values.
type Annotator interface {
	Annotate(ctx context.Context, doc *types.AcquiredDocument, results []types.ExtractionResult, recordID string) (*annotate.AnnotatedDocument, error)
}

// Stages bundles the stage implementations. A nil Annotator disables the
// annotation stage and extracted records finish as Done.
type Stages struct {
	Resolver  Resolver
	Acquirer  Acquirer
	Extractor Extractor
	Annotator Annotator
}

// Failure kinds recorded on a record.
const (
	KindResolution  = "resolution"
	KindAcquisition = "acquisition"
	KindExtraction  = "extraction"
	KindAnnotation  = "annotation"
)

// Reasons used when a stage error carries no classification of its own.
const (
	ReasonTimeout  = "Timeout"
	ReasonCanceled = "Canceled"
	ReasonError    = "Error"
)

// reasoned is implemented by the Failure types of the stage packages.
type reasoned interface {
	FailureReason() string
	FailureAttempts() []types.Attempt
}

// skipper is implemented by errors that end a stage without failing it.
type skipper interface {
	IsSkip() bool
}

// Coordinator runs batches. It holds no per-batch state and may run
// several batches concurrently.
type Coordinator struct {
	cfg    types.PipelineConfig
	schema types.ExtractionSchema
	stages Stages
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithClock replaces time.Now for stage timestamps.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// New creates a Coordinator that extracts schema with the given stages.
func New(cfg types.PipelineConfig, schema types.ExtractionSchema, stages Stages, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		schema: schema,
		stages: stages,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// step describes one batch-wide stage.
type step struct {
	name    string
	ready   types.Stage
	limit   int
	timeout time.Duration
	run     func(ctx context.Context, rec *types.PipelineRecord)
}

// Run processes refs and returns one record per reference, sorted by input
// index. Cancelling ctx stops dispatch; in-flight operations run to
// completion or to their stage timeout, and undispatched records keep the
// stage they reached. The error is non-nil only when ctx was cancelled, and
// the report is returned in that case too.
func (c *Coordinator) Run(ctx context.Context, refs []types.PaperReference) (*Report, error) {
	started := c.now()
	records := make([]*types.PipelineRecord, len(refs))
	for i, ref := range refs {
		records[i] = types.NewRecord(ref, started)
	}

	steps := []step{
		{"resolve", types.StagePending, c.cfg.Concurrency.Resolve, c.cfg.Timeouts.Resolve, c.resolve},
		{"acquire", types.StageResolved, c.cfg.Concurrency.Acquire, c.cfg.Timeouts.Acquire, c.acquire},
		{"extract", types.StageAcquired, c.cfg.Concurrency.Extract, c.cfg.Timeouts.Extract, c.extract},
	}
	if c.stages.Annotator != nil {
		steps = append(steps, step{"annotate", types.StageExtracted, c.cfg.Concurrency.Annotate, c.cfg.Timeouts.Annotate, c.annotate})
	}

	for _, s := range steps {
		if ctx.Err() != nil {
			break
		}
		c.runStep(ctx, records, s)
	}

	for _, rec := range records {
		rec.Document = nil
	}

	report := newReport(uuid.NewString(), records, started, c.now())
	if err := ctx.Err(); err != nil {
		report.Canceled = true
		c.logger.Warn("batch cancelled", "run", report.RunID, "error", err)
		return report, err
	}
	c.logger.Info("batch complete", "run", report.RunID, "records", len(records), "elapsed", report.Stats.Elapsed())
	return report, nil
}

// runStep dispatches every record waiting at s.ready to a bounded pool.
func (c *Coordinator) runStep(ctx context.Context, records []*types.PipelineRecord, s step) {
	var g errgroup.Group
	g.SetLimit(max(1, s.limit))

	var started atomic.Int32
	for _, rec := range records {
		if rec.Stage != s.ready {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A worker slot may free up only after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			started.Add(1)
			opCtx, cancel := c.opContext(ctx, s.timeout)
			defer cancel()
			s.run(opCtx, rec)
			return nil
		})
	}
	_ = g.Wait()
	c.logger.Info("stage complete", "stage", s.name, "records", started.Load())
}

// opContext detaches the operation from batch cancellation so in-flight
// work finishes, and bounds it by the stage timeout.
func (c *Coordinator) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}

func (c *Coordinator) resolve(ctx context.Context, rec *types.PipelineRecord) {
	c.advance(rec, types.StageResolving)
	id, hit, err := c.stages.Resolver.Resolve(ctx, rec.Reference)
	if err != nil {
		c.fail(rec, types.StageUnresolved, KindResolution, err)
		return
	}
	rec.Identity = id
	rec.FromCache[types.StageResolved] = hit
	c.advance(rec, types.StageResolved)
}

func (c *Coordinator) acquire(ctx context.Context, rec *types.PipelineRecord) {
	c.advance(rec, types.StageAcquiring)
	doc, hit, err := c.stages.Acquirer.Acquire(ctx, rec.Identity)
	if err != nil {
		c.fail(rec, types.StageAcquisitionFailed, KindAcquisition, err)
		return
	}
	rec.Document = doc
	rec.DocumentHash = doc.ContentHash
	rec.PDFPath = doc.Path
	rec.SourceURL = doc.SourceURL
	rec.FromCache[types.StageAcquired] = hit
	c.advance(rec, types.StageAcquired)
}

func (c *Coordinator) extract(ctx context.Context, rec *types.PipelineRecord) {
	c.advance(rec, types.StageExtracting)
	results, hit, err := c.stages.Extractor.Extract(ctx, rec.Document, c.schema)
	if err != nil {
		c.fail(rec, types.StageExtractionFailed, KindExtraction, err)
		return
	}
	rec.Results = results
	rec.FromCache[types.StageExtracted] = hit
	c.advance(rec, types.StageExtracted)
	if c.stages.Annotator == nil {
		c.advance(rec, types.StageDone)
	}
}

func (c *Coordinator) annotate(ctx context.Context, rec *types.PipelineRecord) {
	c.advance(rec, types.StageAnnotating)
	out, err := c.stages.Annotator.Annotate(ctx, rec.Document, rec.Results, recordID(rec))
	var skip skipper
	switch {
	case err != nil && errors.As(err, &skip) && skip.IsSkip():
		rec.Warning = err.Error()
		c.logger.Info("annotation skipped", "record", recordID(rec), "reason", err)
	case err != nil:
		c.fail(rec, types.StageAnnotationFailed, KindAnnotation, err)
		return
	default:
		rec.AnnotatedPath = out.Path
	}
	c.advance(rec, types.StageDone)
}

func (c *Coordinator) advance(rec *types.PipelineRecord, next types.Stage) {
	if err := rec.Advance(next, c.now()); err != nil {
		// Only reachable through a coordinator bug; keep the record where it is.
		c.logger.Error("stage transition rejected", "record", recordID(rec), "error", err)
	}
}

func (c *Coordinator) fail(rec *types.PipelineRecord, stage types.Stage, kind string, err error) {
	rec.Failure = failureOf(stage, kind, err)
	c.advance(rec, stage)
	c.logger.Warn("record failed", "record", recordID(rec), "stage", stage, "reason", rec.Failure.Reason, "error", err)
}

// failureOf classifies a stage error for the report.
func failureOf(stage types.Stage, kind string, err error) *types.Failure {
	f := &types.Failure{Stage: stage, Kind: kind, Message: err.Error()}
	var r reasoned
	switch {
	case errors.As(err, &r):
		f.Reason = r.FailureReason()
		f.Attempts = r.FailureAttempts()
	case errors.Is(err, context.DeadlineExceeded):
		f.Reason = ReasonTimeout
	case errors.Is(err, context.Canceled):
		f.Reason = ReasonCanceled
	default:
		f.Reason = ReasonError
	}
	return f
}

// recordID names a record in logs, overlays, and output rows.
func recordID(rec *types.PipelineRecord) string {
	if rec.Reference.Identifier != "" {
		return rec.Reference.Identifier
	}
	return "row-" + strconv.Itoa(rec.Reference.Index+1)
}
