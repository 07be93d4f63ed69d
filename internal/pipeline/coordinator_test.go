// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/extraction-engine/internal/acquire"
	"github.com/pdiddy/extraction-engine/internal/annotate"
	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/resolve"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var testSchema = types.ExtractionSchema{
	{Name: "site_name", Type: types.FieldText},
	{Name: "latitude", Type: types.FieldNumber},
}

func testPipelineConfig() types.PipelineConfig {
	return types.DefaultConfig().Pipeline
}

func refs(refStrings ...string) []types.PaperReference {
	out := make([]types.PaperReference, len(refStrings))
	for i, r := range refStrings {
		out[i] = types.PaperReference{Index: i, Identifier: "S-" + string(rune('A'+i)), Refs: []string{r}}
	}
	return out
}

// fakeResolver maps the first reference string to an identity; anything
// unknown is NotFound.
type fakeResolver struct {
	ids   map[string]*types.PaperIdentity
	calls atomic.Int32
	hook  func()
}

func (f *fakeResolver) Resolve(_ context.Context, ref types.PaperReference) (*types.PaperIdentity, bool, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook()
	}
	if id, ok := f.ids[ref.Refs[0]]; ok {
		return id, false, nil
	}
	return nil, false, &resolve.Failure{Reason: resolve.ReasonNotFound, Message: "no match for " + ref.Refs[0]}
}

// fakeAcquirer returns a one-page document per identity key.
type fakeAcquirer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAcquirer) Acquire(_ context.Context, id *types.PaperIdentity) (*types.AcquiredDocument, bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, false, f.err
	}
	return &types.AcquiredDocument{
		ContentHash: "hash-" + id.Key(),
		PageCount:   1,
		Pages:       []types.Page{{Index: 1, Blocks: []types.TextBlock{{Page: 1, Text: "Site U1425 at 39.49N"}}}},
		SourceURL:   id.Candidates[0].URL,
	}, false, nil
}

type fakeExtractor struct {
	calls atomic.Int32
	conf  float64
	err   error
	block bool
}

func (f *fakeExtractor) Extract(ctx context.Context, doc *types.AcquiredDocument, schema types.ExtractionSchema) ([]types.ExtractionResult, bool, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	if f.err != nil {
		return nil, false, f.err
	}
	return []types.ExtractionResult{{
		Fields: []types.FieldResult{
			{FieldName: schema[0].Name, Value: "U1425", Confidence: f.conf,
				SourceSpan: &types.SourceSpan{Page: 1, QuotedText: "Site U1425"}},
		},
		AggregateConfidence: f.conf,
		LowConfidence:       f.conf < 0.7,
		ProviderUsed:        "claude",
	}}, false, nil
}

type fakeAnnotator struct {
	mu   sync.Mutex
	ids  []string
	err  error
	seen []types.ExtractionResult
}

func (f *fakeAnnotator) Annotate(_ context.Context, doc *types.AcquiredDocument, results []types.ExtractionResult, recordID string) (*annotate.AnnotatedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, recordID)
	f.seen = append(f.seen, results...)
	if f.err != nil {
		return nil, f.err
	}
	return &annotate.AnnotatedDocument{Path: "annotations/" + recordID + ".annotations.json"}, nil
}

func identity(doi, url string) *types.PaperIdentity {
	return &types.PaperIdentity{
		Title:      "Japan Sea sediments",
		DOI:        doi,
		Candidates: []types.SourceCandidate{{URL: url, Strategy: "publisher"}},
		Source:     "doi",
	}
}

func TestRun_AllStagesSucceed(t *testing.T) {
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{
		"10.1/a": identity("10.1/a", "https://example.org/a.pdf"),
		"10.1/b": identity("10.1/b", "https://example.org/b.pdf"),
	}}
	ann := &fakeAnnotator{}
	c := New(testPipelineConfig(), testSchema, Stages{
		Resolver: res, Acquirer: &fakeAcquirer{}, Extractor: &fakeExtractor{conf: 0.9}, Annotator: ann,
	}, WithLogger(quiet))

	report, err := c.Run(context.Background(), refs("10.1/a", "10.1/b"))
	require.NoError(t, err)
	require.Len(t, report.Records, 2)
	assert.NotEmpty(t, report.RunID)

	for i, rec := range report.Records {
		assert.Equal(t, i, rec.Reference.Index)
		assert.Equal(t, types.StageDone, rec.Stage)
		assert.Nil(t, rec.Failure)
		assert.Nil(t, rec.Document, "documents are released after the batch")
		assert.Equal(t, "hash-doi:"+rec.Reference.Refs[0], rec.DocumentHash)
		assert.Equal(t, "annotations/"+rec.Reference.Identifier+".annotations.json", rec.AnnotatedPath)
		for _, s := range []types.Stage{types.StageResolved, types.StageAcquired, types.StageExtracted, types.StageAnnotating, types.StageDone} {
			assert.Contains(t, rec.Timestamps, s)
		}
	}

	s := report.Stats
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.Resolved)
	assert.Equal(t, 2, s.Downloaded)
	assert.Equal(t, 2, s.Extracted)
	assert.Equal(t, 2, s.Annotated)
	assert.Equal(t, 0, s.LowConfidence)
	assert.Equal(t, 0, report.FailedCount())
	assert.InDelta(t, 0.9, s.AverageConfidence, 1e-9)
	assert.ElementsMatch(t, []string{"S-A", "S-B"}, ann.ids)
}

func TestRun_DOIWithMissingPDF(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer ts.Close()

	res := &fakeResolver{ids: map[string]*types.PaperIdentity{
		"10.1234/example": identity("10.1234/example", ts.URL+"/example.pdf"),
	}}
	dl := types.DefaultConfig().Downloader
	dl.PDFDir = ""
	dl.RetryDelay = time.Millisecond
	acq := acquire.New(dl, acquire.WithHTTPClient(ts.Client()), acquire.WithLogger(quiet))
	ext := &fakeExtractor{conf: 0.9}

	c := New(testPipelineConfig(), testSchema, Stages{Resolver: res, Acquirer: acq, Extractor: ext}, WithLogger(quiet))
	report, err := c.Run(context.Background(), refs("10.1234/example"))
	require.NoError(t, err)

	rec := report.Records[0]
	assert.Equal(t, types.StageAcquisitionFailed, rec.Stage)
	require.NotNil(t, rec.Identity, "resolution succeeded")
	require.NotNil(t, rec.Failure)
	assert.Equal(t, types.StageAcquisitionFailed, rec.Failure.Stage)
	assert.Equal(t, KindAcquisition, rec.Failure.Kind)
	assert.Equal(t, string(acquire.ReasonAllSourcesFailed), rec.Failure.Reason)
	require.Len(t, rec.Failure.Attempts, 1)
	assert.Equal(t, ts.URL+"/example.pdf", rec.Failure.Attempts[0].Target)
	assert.Equal(t, int32(1), hits.Load(), "404 is not retried")

	assert.Equal(t, 1, report.Stats.Resolved)
	assert.Equal(t, 1, report.Stats.Failed[types.StageAcquisitionFailed])
	assert.Zero(t, report.Stats.Failed[types.StageUnresolved])
	assert.Zero(t, ext.calls.Load())
}

func TestRun_FailureIsLocalToRecord(t *testing.T) {
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{
		"10.1/ok": identity("10.1/ok", "https://example.org/ok.pdf"),
	}}
	acq := &fakeAcquirer{}
	c := New(testPipelineConfig(), testSchema, Stages{Resolver: res, Acquirer: acq, Extractor: &fakeExtractor{conf: 0.5}}, WithLogger(quiet))

	report, err := c.Run(context.Background(), refs("Nobody (1900) A paper that does not exist", "10.1/ok"))
	require.NoError(t, err)

	bad, good := report.Records[0], report.Records[1]
	assert.Equal(t, types.StageUnresolved, bad.Stage)
	assert.Equal(t, KindResolution, bad.Failure.Kind)
	assert.Equal(t, "NotFound", bad.Failure.Reason)
	assert.NotContains(t, bad.Timestamps, types.StageAcquiring)

	assert.Equal(t, types.StageDone, good.Stage)
	assert.NotContains(t, good.Timestamps, types.StageAnnotating, "annotation disabled")
	assert.Equal(t, int32(1), acq.calls.Load())
	assert.Equal(t, 1, report.Stats.LowConfidence)
	assert.Equal(t, 1, report.Stats.Failed[types.StageUnresolved])
}

func TestRun_SharedIdentityDownloadedOnce(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Write(fakePDF)
	}))
	defer ts.Close()

	id := identity("10.5/shared", ts.URL+"/shared.pdf")
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{
		"10.5/shared":                 id,
		"https://doi.org/10.5/shared": id,
	}}
	dl := types.DefaultConfig().Downloader
	dl.PDFDir = ""
	acq := acquire.New(dl,
		acquire.WithHTTPClient(ts.Client()),
		acquire.WithParser(onePageParser{}),
		acquire.WithCache(cache.NewMemory()),
		acquire.WithLogger(quiet),
	)

	c := New(testPipelineConfig(), testSchema, Stages{Resolver: res, Acquirer: acq, Extractor: &fakeExtractor{conf: 1}}, WithLogger(quiet))
	report, err := c.Run(context.Background(), refs("10.5/shared", "https://doi.org/10.5/shared"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, report.Records[0].DocumentHash, report.Records[1].DocumentHash)
	assert.Equal(t, 1, report.Stats.CacheHits[types.StageAcquired])
	assert.Equal(t, 2, report.Stats.Downloaded)
}

func TestRun_AnnotationSkipIsNotAFailure(t *testing.T) {
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{"10.1/a": identity("10.1/a", "https://example.org/a.pdf")}}
	ann := &fakeAnnotator{err: &annotate.Skipped{Reason: annotate.ReasonNoMatchableSpans, Message: "no quoted source spans"}}
	c := New(testPipelineConfig(), testSchema, Stages{
		Resolver: res, Acquirer: &fakeAcquirer{}, Extractor: &fakeExtractor{conf: 0.9}, Annotator: ann,
	}, WithLogger(quiet))

	report, err := c.Run(context.Background(), refs("10.1/a"))
	require.NoError(t, err)
	rec := report.Records[0]
	assert.Equal(t, types.StageDone, rec.Stage)
	assert.Nil(t, rec.Failure)
	assert.Contains(t, rec.Warning, "NoMatchableSpans")
	assert.Empty(t, rec.AnnotatedPath)
	assert.Equal(t, 0, report.Stats.Annotated)
}

func TestRun_AnnotationFailureKeepsResults(t *testing.T) {
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{"10.1/a": identity("10.1/a", "https://example.org/a.pdf")}}
	ann := &fakeAnnotator{err: errors.New("disk full")}
	c := New(testPipelineConfig(), testSchema, Stages{
		Resolver: res, Acquirer: &fakeAcquirer{}, Extractor: &fakeExtractor{conf: 0.9}, Annotator: ann,
	}, WithLogger(quiet))

	report, err := c.Run(context.Background(), refs("10.1/a"))
	require.NoError(t, err)
	rec := report.Records[0]
	assert.Equal(t, types.StageAnnotationFailed, rec.Stage)
	assert.Equal(t, ReasonError, rec.Failure.Reason)
	require.Len(t, rec.Results, 1)
	assert.Equal(t, "U1425", rec.Results[0].Fields[0].Value)
	assert.Equal(t, 1, report.Stats.Extracted)
}

func TestRun_StageTimeout(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Timeouts.Extract = 20 * time.Millisecond
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{"10.1/a": identity("10.1/a", "https://example.org/a.pdf")}}
	c := New(cfg, testSchema, Stages{Resolver: res, Acquirer: &fakeAcquirer{}, Extractor: &fakeExtractor{block: true}}, WithLogger(quiet))

	report, err := c.Run(context.Background(), refs("10.1/a"))
	require.NoError(t, err)
	rec := report.Records[0]
	assert.Equal(t, types.StageExtractionFailed, rec.Stage)
	assert.Equal(t, ReasonTimeout, rec.Failure.Reason)
}

func TestRun_CancelStopsDispatch(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Concurrency.Resolve = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := &fakeResolver{
		ids: map[string]*types.PaperIdentity{
			"10.1/a": identity("10.1/a", "https://example.org/a.pdf"),
			"10.1/b": identity("10.1/b", "https://example.org/b.pdf"),
			"10.1/c": identity("10.1/c", "https://example.org/c.pdf"),
		},
		hook: cancel,
	}
	acq := &fakeAcquirer{}
	c := New(cfg, testSchema, Stages{Resolver: res, Acquirer: acq, Extractor: &fakeExtractor{conf: 1}}, WithLogger(quiet))

	report, err := c.Run(ctx, refs("10.1/a", "10.1/b", "10.1/c"))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Canceled)

	assert.Equal(t, int32(1), res.calls.Load())
	assert.Equal(t, types.StageResolved, report.Records[0].Stage, "in-flight work finishes")
	assert.Equal(t, types.StagePending, report.Records[1].Stage)
	assert.Equal(t, types.StagePending, report.Records[2].Stage)
	assert.Zero(t, acq.calls.Load())
}

func TestFailureOf(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &acquire.Failure{
		Reason:   acquire.ReasonNoOpenAccessCopy,
		Attempts: []types.Attempt{{Target: "x"}},
	})
	tests := []struct {
		name   string
		err    error
		reason string
		tries  int
	}{
		{"stage failure", wrapped, "NoOpenAccessCopy", 1},
		{"deadline", context.DeadlineExceeded, ReasonTimeout, 0},
		{"canceled", context.Canceled, ReasonCanceled, 0},
		{"other", errors.New("boom"), ReasonError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := failureOf(types.StageAcquisitionFailed, KindAcquisition, tt.err)
			assert.Equal(t, tt.reason, f.Reason)
			assert.Len(t, f.Attempts, tt.tries)
			assert.Equal(t, tt.err.Error(), f.Message)
		})
	}
}

func TestReportWriters(t *testing.T) {
	res := &fakeResolver{ids: map[string]*types.PaperIdentity{"10.1/a": identity("10.1/a", "https://example.org/a.pdf")}}
	c := New(testPipelineConfig(), testSchema, Stages{Resolver: res, Acquirer: &fakeAcquirer{}, Extractor: &fakeExtractor{conf: 0.4}}, WithLogger(quiet))
	report, err := c.Run(context.Background(), refs("10.1/a", "unknown citation"))
	require.NoError(t, err)

	var summary bytes.Buffer
	report.WriteSummary(&summary)
	out := summary.String()
	assert.Contains(t, out, "done:      S-A")
	assert.Contains(t, out, "low-confidence")
	assert.Contains(t, out, "failed:    S-B")
	assert.Contains(t, out, "unresolved (NotFound)")
	assert.Contains(t, out, "Batch summary: 1 resolved, 1 downloaded, 1 extracted, 0 annotated, 1 failed (total: 2)")

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.RunID, decoded["run_id"])
	assert.Len(t, decoded["records"], 2)
	assert.False(t, strings.Contains(buf.String(), `"Document"`))
}

var fakePDF = []byte("%PDF-1.4\n" + strings.Repeat("x", 2000))

type onePageParser struct{}

func (onePageParser) PageCount([]byte) (int, error) { return 1, nil }

func (onePageParser) Pages([]byte) ([]types.Page, error) {
	return []types.Page{{Index: 1, Blocks: []types.TextBlock{{Page: 1, Text: "Site U1425"}}}}, nil
}
