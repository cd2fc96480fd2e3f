// Package models defines the sites, flows and runs the check-in engine works on.
package models

import "time"

// RunStatus is the lifecycle state of a run or of a single step.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusSkipped RunStatus = "SKIPPED"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusSkipped
}

// Trigger tells what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Site is a registered third-party target with its flow and cadence.
type Site struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Tags    []string `json:"tags"`
	Enabled bool     `json:"enabled"`
	Paused  bool     `json:"paused"`
	BaseURL string   `json:"base_url,omitempty"`

	Auth     AuthSpec     `json:"auth"`
	Flow     []Step       `json:"flow"`
	Schedule ScheduleSpec `json:"schedule"`

	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedulable reports whether the site should hold an active timer.
func (s *Site) Schedulable() bool {
	return s.Enabled && !s.Paused
}

// Step is one HTTP request of a flow.
type Step struct {
	Name      string            `json:"name"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
	Condition string            `json:"condition,omitempty"`
	Expect    *Expect           `json:"expect,omitempty"`
	Extract   []ExtractRule     `json:"extract,omitempty"`
}

const (
	ExpectTypeJSON  = "json"
	ExtractTypeJSON = "json"
)

// Expect is the validation applied to a step response.
type Expect struct {
	Type   string `json:"type,omitempty"`
	Path   string `json:"path,omitempty"`
	Equals any    `json:"equals"`
}

// Kind returns the expectation type, defaulting to json.
func (e *Expect) Kind() string {
	if e.Type == "" {
		return ExpectTypeJSON
	}

	return e.Type
}

// ExtractRule copies a value out of a response into the variable namespace.
type ExtractRule struct {
	Var  string `json:"var"`
	Type string `json:"type,omitempty"`
	Path string `json:"path"`
}

// Kind returns the rule type, defaulting to json.
func (r ExtractRule) Kind() string {
	if r.Type == "" {
		return ExtractTypeJSON
	}

	return r.Type
}

// StepResult records what happened to a single step.
type StepResult struct {
	Name       string            `json:"name"`
	Status     RunStatus         `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	StatusCode int               `json:"status_code,omitempty"`
	ElapsedMs  int64             `json:"elapsed_ms"`
	Headers    map[string]string `json:"headers,omitempty"`
	Response   string            `json:"response,omitempty"`
	Error      string            `json:"error,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	AuthFailed bool              `json:"auth_failed,omitempty"`
}

// Run is one execution of a site flow.
type Run struct {
	ID         string       `json:"id"`
	SiteID     string       `json:"site_id"`
	Trigger    Trigger      `json:"trigger"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	Steps      []StepResult `json:"steps"`
	AuthFailed bool         `json:"auth_failed"`
}

// OutcomeStatus is the coarse result returned to callers of a run.
type OutcomeStatus string

const (
	OutcomeError   OutcomeStatus = "error"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeSuccess OutcomeStatus = "success"
)

// RunOutcome is what a triggered run reports back to the scheduler, API or CLI.
type RunOutcome struct {
	Status    OutcomeStatus `json:"status"`
	Message   string        `json:"message,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	RunStatus RunStatus     `json:"run_status,omitempty"`
}
