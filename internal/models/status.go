package models

import (
	"fmt"
	"strings"
)

// InvoiceImageStatus is the processing state of an uploaded invoice image.
type InvoiceImageStatus string

const (
	StatusUploaded           InvoiceImageStatus = "uploaded"
	StatusOCRInProgress      InvoiceImageStatus = "ocr_in_progress"
	StatusOCRFinished        InvoiceImageStatus = "ocr_finished"
	StatusOCRFailed          InvoiceImageStatus = "ocr_failed"
	StatusAnalysisInProgress InvoiceImageStatus = "analysis_in_progress"
	StatusAnalysisFinished   InvoiceImageStatus = "analysis_finished"
	StatusAnalysisFailed     InvoiceImageStatus = "analysis_failed"
	StatusCompleted          InvoiceImageStatus = "completed"
	StatusError              InvoiceImageStatus = "error"
)

// AllStatuses lists every state in pipeline order.
var AllStatuses = []InvoiceImageStatus{
	StatusUploaded,
	StatusOCRInProgress,
	StatusOCRFinished,
	StatusOCRFailed,
	StatusAnalysisInProgress,
	StatusAnalysisFinished,
	StatusAnalysisFailed,
	StatusCompleted,
	StatusError,
}

// transitions is the static table of legal next states.
var transitions = map[InvoiceImageStatus][]InvoiceImageStatus{
	StatusUploaded:           {StatusOCRInProgress, StatusError},
	StatusOCRInProgress:      {StatusOCRFinished, StatusOCRFailed, StatusError},
	StatusOCRFinished:        {StatusAnalysisInProgress, StatusOCRInProgress, StatusCompleted},
	StatusOCRFailed:          {StatusOCRInProgress, StatusCompleted, StatusError},
	StatusAnalysisInProgress: {StatusAnalysisFinished, StatusAnalysisFailed, StatusError},
	StatusAnalysisFinished:   {StatusCompleted, StatusAnalysisInProgress, StatusOCRInProgress},
	StatusAnalysisFailed:     {StatusAnalysisInProgress, StatusOCRInProgress, StatusCompleted, StatusError},
	StatusCompleted:          {StatusOCRInProgress, StatusAnalysisInProgress},
	StatusError:              {StatusOCRInProgress},
}

// TransitionError reports a status change that the transition table forbids.
type TransitionError struct {
	From InvoiceImageStatus
	To   InvoiceImageStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

// ParseStatus converts a raw string into a known status.
func ParseStatus(s string) (InvoiceImageStatus, error) {
	status := InvoiceImageStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown invoice image status %q", s)
	}
	return status, nil
}

func (s InvoiceImageStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s InvoiceImageStatus) String() string { return string(s) }

// IsProcessing reports whether an OCR or analysis step currently owns the image.
func (s InvoiceImageStatus) IsProcessing() bool {
	return s == StatusOCRInProgress || s == StatusAnalysisInProgress
}

// FailureFor returns the failure state an in-progress status falls back to.
func (s InvoiceImageStatus) FailureFor() (InvoiceImageStatus, bool) {
	switch s {
	case StatusOCRInProgress:
		return StatusOCRFailed, true
	case StatusAnalysisInProgress:
		return StatusAnalysisFailed, true
	}
	return "", false
}

// AllowedTransitions returns a copy of the states reachable from s.
func AllowedTransitions(s InvoiceImageStatus) []InvoiceImageStatus {
	next := transitions[s]
	out := make([]InvoiceImageStatus, len(next))
	copy(out, next)
	return out
}

func CanTransition(from, to InvoiceImageStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError when from -> to is not in the table.
func ValidateTransition(from, to InvoiceImageStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
