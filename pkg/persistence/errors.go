// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrSiteNotFound indicates a site was not found by the given identifier.
	ErrSiteNotFound = errors.New("site not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished indicates a terminal run was written again.
	ErrRunFinished = errors.New("run already finished")
)

// SiteError wraps site-related errors with additional context.
type SiteError struct {
	Op     string // Operation being performed (e.g., "SiteByID", "SaveSite", "DeleteSite")
	SiteID string
	Err    error
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("%s operation failed for site %s: %v", e.Op, e.SiteID, e.Err)
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for site errors.
func (e *SiteError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSiteError creates a new site error with context.
func NewSiteError(op, siteID string, err error) *SiteError {
	return &SiteError{Op: op, SiteID: siteID, Err: err}
}

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// IsSiteNotFound checks if an error indicates a site was not found.
func IsSiteNotFound(err error) bool {
	return errors.Is(err, ErrSiteNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsRunFinished checks if an error indicates a write to a terminal run.
func IsRunFinished(err error) bool {
	return errors.Is(err, ErrRunFinished)
}
