// Package model contains the conversion job document shared by every service
// that touches the pipeline.
package model

import (
	"time"
)

// Status describes where a job is in its lifecycle. Jobs only move forward:
// PENDING -> QUEUED -> PROCESSING -> COMPLETED, with FAILED reachable from any
// non-terminal state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusQueued:     1,
	StatusProcessing: 2,
	StatusCompleted:  3,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job in status from may be moved to status
// to. Re-applying the current non-terminal status is allowed so redelivered
// updates stay idempotent.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusFailed || from == to {
		return true
	}
	return statusRank[to] == statusRank[from]+1
}

// Processor names the executor deployment that handled a job.
type Processor string

const (
	ProcessorSmall Processor = "small"
	ProcessorLarge Processor = "large"
)

// InputFile locates the uploaded source object.
type InputFile struct {
	Bucket       string `json:"bucket,omitempty"`
	Path         string `json:"path,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// OutputFile describes the requested and, once COMPLETED, produced artifact.
// Only Format is set before completion.
type OutputFile struct {
	Format       string     `json:"format"`
	Bucket       string     `json:"bucket,omitempty"`
	Path         string     `json:"path,omitempty"`
	SignedURL    string     `json:"signedUrl,omitempty"`
	URLExpiresAt *time.Time `json:"urlExpiresAt,omitempty"`
}

// Progress is the coarse progress indicator shown to callers.
type Progress struct {
	Percent     int    `json:"percent"`
	CurrentStep string `json:"currentStep,omitempty"`
}

// ErrorInfo is present only on FAILED jobs.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConversionJob is one requested conversion of a single input file to a single
// output format.
type ConversionJob struct {
	ID                 string         `json:"jobId"`
	Status             Status         `json:"status"`
	InputFile          InputFile      `json:"inputFile"`
	OutputFile         OutputFile     `json:"outputFile"`
	ConversionSettings map[string]any `json:"conversionSettings,omitempty"`
	Progress           Progress       `json:"progress"`
	Processor          Processor      `json:"processor,omitempty"`
	ClaimedBy          string         `json:"claimedBy,omitempty"`
	Error              *ErrorInfo     `json:"error,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	ClaimedAt          *time.Time     `json:"claimedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}
