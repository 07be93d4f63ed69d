// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Stats summarizes a batch.
type Stats struct {
	Total         int `json:"total"`
	Resolved      int `json:"resolved"`
	Downloaded    int `json:"downloaded"`
	Extracted     int `json:"extracted"`
	Annotated     int `json:"annotated"`
	LowConfidence int `json:"low_confidence"`

	// Failed counts records by the failure stage they ended in.
	Failed map[types.Stage]int `json:"failed"`

	// CacheHits counts records served from the cache, by stage.
	CacheHits map[types.Stage]int `json:"cache_hits"`

	// AverageConfidence is the mean aggregate confidence over all
	// extraction results in the batch.
	AverageConfidence float64 `json:"average_confidence"`

	Started        time.Time `json:"started"`
	Finished       time.Time `json:"finished"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Elapsed returns the batch wall time.
func (s Stats) Elapsed() time.Duration { return s.Finished.Sub(s.Started) }

// Report is the outcome of one batch: every input record with its last
// stage, artifacts, and failure, in input order.
type Report struct {
	RunID    string                  `json:"run_id"`
	Canceled bool                    `json:"canceled,omitempty"`
	Records  []*types.PipelineRecord `json:"records"`
	Stats    Stats                   `json:"stats"`
}

func newReport(runID string, records []*types.PipelineRecord, started, finished time.Time) *Report {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b *types.PipelineRecord) int {
		return cmp.Compare(a.Reference.Index, b.Reference.Index)
	})
	return &Report{RunID: runID, Records: sorted, Stats: computeStats(sorted, started, finished)}
}

func computeStats(records []*types.PipelineRecord, started, finished time.Time) Stats {
	s := Stats{
		Total:          len(records),
		Failed:         make(map[types.Stage]int),
		CacheHits:      make(map[types.Stage]int),
		Started:        started,
		Finished:       finished,
		ElapsedSeconds: finished.Sub(started).Seconds(),
	}
	var confSum float64
	var confN int
	for _, r := range records {
		if r.Identity != nil {
			s.Resolved++
		}
		if r.DocumentHash != "" {
			s.Downloaded++
		}
		if len(r.Results) > 0 {
			s.Extracted++
			low := false
			for _, res := range r.Results {
				confSum += res.AggregateConfidence
				confN++
				low = low || res.LowConfidence
			}
			if low {
				s.LowConfidence++
			}
		}
		if r.AnnotatedPath != "" {
			s.Annotated++
		}
		if r.Stage.IsFailed() {
			s.Failed[r.Stage]++
		}
		for stage, hit := range r.FromCache {
			if hit {
				s.CacheHits[stage]++
			}
		}
	}
	if confN > 0 {
		s.AverageConfidence = confSum / float64(confN)
	}
	return s
}

// FailedCount is the number of records that ended in a failure stage.
func (r *Report) FailedCount() int {
	n := 0
	for _, c := range r.Stats.Failed {
		n += c
	}
	return n
}

// WriteJSON writes the full report.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteSummary prints one line per record and the batch totals.
func (r *Report) WriteSummary(w io.Writer) {
	for _, rec := range r.Records {
		id := recordID(rec)
		switch {
		case rec.Failure != nil:
			fmt.Fprintf(w, "failed:    %-24s %s (%s)\n", id, rec.Failure.Stage, rec.Failure.Reason)
		case rec.Stage == types.StageDone:
			conf, low := summaryConfidence(rec.Results)
			flag := ""
			if low {
				flag = " low-confidence"
			}
			fmt.Fprintf(w, "done:      %-24s %d record(s), confidence %.2f%s\n", id, len(rec.Results), conf, flag)
		default:
			fmt.Fprintf(w, "stopped:   %-24s %s\n", id, rec.Stage)
		}
		if rec.Warning != "" {
			fmt.Fprintf(w, "  warning: %s\n", rec.Warning)
		}
	}

	s := r.Stats
	fmt.Fprintf(w, "\nBatch summary: %d resolved, %d downloaded, %d extracted, %d annotated, %d failed (total: %d)\n",
		s.Resolved, s.Downloaded, s.Extracted, s.Annotated, r.FailedCount(), s.Total)
	for _, stage := range []types.Stage{types.StageUnresolved, types.StageAcquisitionFailed, types.StageExtractionFailed, types.StageAnnotationFailed} {
		if n := s.Failed[stage]; n > 0 {
			fmt.Fprintf(w, "  %-20s %d\n", stage, n)
		}
	}
	fmt.Fprintf(w, "Average confidence: %.2f (%d low-confidence)\n", s.AverageConfidence, s.LowConfidence)
	fmt.Fprintf(w, "Cache hits: %d resolve, %d acquire, %d extract\n",
		s.CacheHits[types.StageResolved], s.CacheHits[types.StageAcquired], s.CacheHits[types.StageExtracted])
	fmt.Fprintf(w, "Elapsed: %s (run %s)\n", s.Elapsed().Round(time.Millisecond), r.RunID)
	if r.Canceled {
		fmt.Fprintln(w, "Batch was cancelled before all stages ran.")
	}
}

func summaryConfidence(results []types.ExtractionResult) (float64, bool) {
	if len(results) == 0 {
		return 0, false
	}
	var sum float64
	low := false
	for _, r := range results {
		sum += r.AggregateConfidence
		low = low || r.LowConfidence
	}
	return sum / float64(len(results)), low
}
