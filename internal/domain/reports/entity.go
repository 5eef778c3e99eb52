package reports

import (
	"fmt"
	"strings"
	"time"
)

// ReportID identifier type
type ReportID string

// Status enum
type Status string

const (
	StatusProcessing Status = "processing"
	StatusAnalyzed   Status = "analyzed"
	StatusFailed     Status = "failed"
)

// MaxReportTypeLen caps the free-form report type tag.
const MaxReportTypeLen = 64

// Report is the aggregate root: one uploaded medical image and its analysis lifecycle.
type Report struct {
	ID            ReportID  `json:"id"`
	UserID        *string   `json:"userId"`
	ReportType    string    `json:"reportType"`
	URL           string    `json:"url"`
	Status        Status    `json:"status"`
	Analysis      string    `json:"analysis"`
	FailureReason string    `json:"failureReason,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreateInput holds the caller supplied fields of a new report.
type CreateInput struct {
	UserID     *string
	ReportType string
	URL        string
}

// Validate checks required fields.
func (in CreateInput) Validate() error {
	reportType := strings.TrimSpace(in.ReportType)
	if reportType == "" {
		return fmt.Errorf("%w: reportType is required", ErrValidation)
	}
	if len(reportType) > MaxReportTypeLen {
		return fmt.Errorf("%w: reportType exceeds %d characters", ErrValidation, MaxReportTypeLen)
	}
	if strings.TrimSpace(in.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	return nil
}

// New builds a fresh report in the processing state. Repositories call it from Create
// so every driver applies the same defaults.
func New(id ReportID, in CreateInput, now time.Time) (*Report, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var userID *string
	if in.UserID != nil && strings.TrimSpace(*in.UserID) != "" {
		u := strings.TrimSpace(*in.UserID)
		userID = &u
	}
	return &Report{
		ID:         id,
		UserID:     userID,
		ReportType: strings.TrimSpace(in.ReportType),
		URL:        strings.TrimSpace(in.URL),
		Status:     StatusProcessing,
		Analysis:   "",
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Patch is a partial update applied atomically by Repository.Update.
type Patch struct {
	Status        Status
	Analysis      string
	FailureReason string
}

// Analyzed returns the patch recording a successful analysis.
func Analyzed(text string) Patch {
	return Patch{Status: StatusAnalyzed, Analysis: text}
}

// Failed returns the patch recording a failed analysis. The previous analysis text, if any,
// is kept.
func Failed(r *Report, reason string) Patch {
	return Patch{Status: StatusFailed, Analysis: r.Analysis, FailureReason: reason}
}

// CanTransition reports whether the lifecycle allows moving from the report's current
// status to next. Nothing moves back to processing.
func (r *Report) CanTransition(next Status) bool {
	switch r.Status {
	case StatusProcessing:
		return next == StatusAnalyzed || next == StatusFailed
	case StatusFailed:
		return next == StatusAnalyzed || next == StatusFailed
	case StatusAnalyzed:
		return next == StatusAnalyzed
	default:
		return false
	}
}

// Apply validates a patch against the current state and returns the updated copy.
// The caller persists it.
func (r *Report) Apply(p Patch, now time.Time) (*Report, error) {
	if !r.CanTransition(p.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, p.Status)
	}
	if p.Status == StatusAnalyzed && strings.TrimSpace(p.Analysis) == "" {
		return nil, fmt.Errorf("%w: analyzed report requires analysis text", ErrValidation)
	}
	next := *r
	next.Status = p.Status
	next.Analysis = p.Analysis
	next.FailureReason = ""
	if p.Status == StatusFailed {
		next.FailureReason = p.FailureReason
	}
	next.Version = r.Version + 1
	next.UpdatedAt = now
	return &next, nil
}
