// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// Stage is a pipeline record's position in the per-record state machine.
type Stage string

const (
	StagePending           Stage = "pending"
	StageResolving         Stage = "resolving"
	StageResolved          Stage = "resolved"
	StageUnresolved        Stage = "unresolved"
	StageAcquiring         Stage = "acquiring"
	StageAcquired          Stage = "acquired"
	StageAcquisitionFailed Stage = "acquisition_failed"
	StageExtracting        Stage = "extracting"
	StageExtracted         Stage = "extracted"
	StageExtractionFailed  Stage = "extraction_failed"
	StageAnnotating        Stage = "annotating"
	StageDone              Stage = "done"
	StageAnnotationFailed  Stage = "annotation_failed"
)

// IsFailed reports whether s is a failure state.
func (s Stage) IsFailed() bool {
	switch s {
	case StageUnresolved, StageAcquisitionFailed, StageExtractionFailed, StageAnnotationFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s.IsFailed()
}

// transitions lists the stages reachable from each non-terminal stage.
// Extracted may skip annotation and finish directly.
var transitions = map[Stage][]Stage{
	StagePending:    {StageResolving},
	StageResolving:  {StageResolved, StageUnresolved},
	StageResolved:   {StageAcquiring},
	StageAcquiring:  {StageAcquired, StageAcquisitionFailed},
	StageAcquired:   {StageExtracting},
	StageExtracting: {StageExtracted, StageExtractionFailed},
	StageExtracted:  {StageAnnotating, StageDone},
	StageAnnotating: {StageDone, StageAnnotationFailed},
}

// CanAdvance reports whether a record in stage s may move to next.
func (s Stage) CanAdvance(next Stage) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Failure records why a record stopped, with the attempt history for audit.
type Failure struct {
	// Stage is the state the record failed in (e.g. acquisition_failed).
	Stage Stage `json:"stage" yaml:"stage"`

	// Kind is the failure family: resolution, acquisition, extraction, annotation.
	Kind string `json:"kind" yaml:"kind"`

	// Reason is the classification within the family (e.g. AllSourcesFailed).
	Reason string `json:"reason" yaml:"reason"`

	Message  string    `json:"message" yaml:"message"`
	Attempts []Attempt `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// PipelineRecord is the unit of work for one input reference.
type PipelineRecord struct {
	Reference PaperReference `json:"reference" yaml:"reference"`
	Stage     Stage          `json:"stage" yaml:"stage"`

	// Timestamps holds the time each stage was entered.
	Timestamps map[Stage]time.Time `json:"timestamps" yaml:"timestamps"`

	Identity *PaperIdentity `json:"identity,omitempty" yaml:"identity,omitempty"`

	// Document is held in memory only; the report carries its hash and path.
	Document     *AcquiredDocument `json:"-" yaml:"-"`
	DocumentHash string            `json:"document_hash,omitempty" yaml:"document_hash,omitempty"`
	PDFPath      string            `json:"pdf_path,omitempty" yaml:"pdf_path,omitempty"`
	SourceURL    string            `json:"source_url,omitempty" yaml:"source_url,omitempty"`

	Results       []ExtractionResult `json:"results,omitempty" yaml:"results,omitempty"`
	AnnotatedPath string             `json:"annotated_path,omitempty" yaml:"annotated_path,omitempty"`

	// Warning notes non-fatal issues such as a skipped annotation.
	Warning string   `json:"warning,omitempty" yaml:"warning,omitempty"`
	Failure *Failure `json:"failure,omitempty" yaml:"failure,omitempty"`

	// FromCache marks stages served from the cache store.
	FromCache map[Stage]bool `json:"from_cache,omitempty" yaml:"from_cache,omitempty"`
}

// NewRecord creates a Pending record for ref.
func NewRecord(ref PaperReference, now time.Time) *PipelineRecord {
	return &PipelineRecord{
		Reference:  ref,
		Stage:      StagePending,
		Timestamps: map[Stage]time.Time{StagePending: now},
		FromCache:  map[Stage]bool{},
	}
}

// Advance moves the record to next and stamps the time. Moving backwards,
// sideways, or out of a terminal stage is an error and leaves the record
// unchanged.
func (r *PipelineRecord) Advance(next Stage, at time.Time) error {
	if !r.Stage.CanAdvance(next) {
		return fmt.Errorf("invalid transition %s -> %s", r.Stage, next)
	}
	r.Stage = next
	if r.Timestamps == nil {
		r.Timestamps = make(map[Stage]time.Time)
	}
	r.Timestamps[next] = at
	return nil
}
