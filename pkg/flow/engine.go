// Package flow executes a site's ordered HTTP steps and classifies the run outcome.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/checkinhub/pkg/condition"
	"github.com/dukex/checkinhub/pkg/extract"
	"github.com/dukex/checkinhub/pkg/log"
	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/otelhelper"
	"github.com/dukex/checkinhub/pkg/redact"
	"github.com/dukex/checkinhub/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRequestTimeout bounds every request of a run.
	DefaultRequestTimeout = 30 * time.Second

	maxResponseBytes = 10 << 20

	SummaryAllSucceeded = "all steps succeeded"
)

// Vars is the per-run variable namespace shared by the steps of one run.
type Vars = map[string]any

// SecretResolver turns an auth configuration into seed variables.
type SecretResolver interface {
	ResolveSecret(auth models.AuthSpec) (map[string]string, error)
}

// ClientFactory builds the HTTP client used by a single run.
type ClientFactory func() *http.Client

// Result is the classified outcome of a flow.
type Result struct {
	Status     models.RunStatus
	Steps      []models.StepResult
	AuthFailed bool
	Summary    string
}

type Engine struct {
	secrets     SecretResolver
	newClient   ClientFactory
	logger      *slog.Logger
	tracer      trace.Tracer
	responseLen int
}

type Option func(*Engine)

// WithClientFactory replaces the default client construction.
func WithClientFactory(factory ClientFactory) Option {
	return func(e *Engine) {
		e.newClient = factory
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithResponseLimit sets how many characters of each response are kept.
func WithResponseLimit(n int) Option {
	return func(e *Engine) {
		e.responseLen = n
	}
}

func NewEngine(secrets SecretResolver, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		secrets: secrets,
		newClient: func() *http.Client {
			return &http.Client{Timeout: DefaultRequestTimeout}
		},
		logger:      logger.With("module", "flow"),
		tracer:      otelhelper.Tracer("github.com/dukex/checkinhub/pkg/flow"),
		responseLen: redact.DefaultMaxLen,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Execute runs the steps in order until one is skipped or fails.
// Every call has its own variables and HTTP client.
func (e *Engine) Execute(ctx context.Context, flow []models.Step, auth models.AuthSpec) *Result {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "flow.execute", attribute.Int("checkinhub.flow.steps", len(flow)))
	defer span.End()

	logger := log.FromContext(ctx, e.logger)
	result := &Result{Steps: make([]models.StepResult, 0, len(flow))}

	secrets, err := e.secrets.ResolveSecret(auth)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve credentials", "error", err)
		otelhelper.SetError(span, err)

		result.Status = models.RunStatusFailed
		result.Summary = "credential error: " + err.Error()

		return result
	}

	vars := make(Vars, len(secrets))
	for name, value := range secrets {
		vars[name] = value
	}

	client := e.newClient()
	defer client.CloseIdleConnections()

	for index, step := range flow {
		stepResult := e.executeStep(ctx, client, index, step, vars)
		result.Steps = append(result.Steps, stepResult)

		switch stepResult.Status {
		case models.RunStatusSkipped:
			result.Status = models.RunStatusSkipped
			result.Summary = fmt.Sprintf("step %s skipped: %s", step.Name, stepResult.Reason)

			logger.InfoContext(ctx, "Flow stopped at skipped step", "step", step.Name, "reason", stepResult.Reason)
			span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(result.Status)))

			return result
		case models.RunStatusFailed:
			result.Status = models.RunStatusFailed
			result.AuthFailed = stepResult.AuthFailed
			result.Summary = fmt.Sprintf("step %s failed: %s", step.Name, stepResult.Error)

			logger.WarnContext(ctx, "Flow step failed", "step", step.Name, "error", stepResult.Error, "auth_failed", stepResult.AuthFailed)
			otelhelper.SetFailure(span, result.Summary)

			return result
		}
	}

	result.Status = models.RunStatusSuccess
	result.Summary = SummaryAllSucceeded
	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(result.Status)))

	return result
}

func (e *Engine) executeStep(ctx context.Context, client *http.Client, index int, step models.Step, vars Vars) (result models.StepResult) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "flow.step",
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.Int(otelhelper.StepIndexKey, index),
	)
	defer span.End()

	result = models.StepResult{
		Name:      step.Name,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = models.RunStatusFailed
			result.Error = fmt.Sprintf("unexpected error: %v", r)
		}

		result.FinishedAt = time.Now().UTC()

		span.SetAttributes(attribute.String(otelhelper.StepStatusKey, string(result.Status)))

		if result.Status == models.RunStatusFailed {
			otelhelper.SetFailure(span, result.Error)
		}
	}()

	if strings.TrimSpace(step.Condition) != "" {
		ok, err := condition.Evaluate(step.Condition, vars)
		if err != nil {
			log.FromContext(ctx, e.logger).WarnContext(ctx, "Step condition could not be evaluated", "step", step.Name, "expression", step.Condition, "error", err)

			result.Status = models.RunStatusFailed
			result.Error = err.Error()

			return result
		}

		if !ok {
			result.Status = models.RunStatusSkipped
			result.Reason = "condition not met: " + step.Condition

			return result
		}
	}

	req, err := buildRequest(ctx, step, vars)
	if err != nil {
		result.Status = models.RunStatusFailed
		result.Error = "request failed: " + err.Error()

		return result
	}

	span.SetAttributes(attribute.String(otelhelper.HTTPMethodKey, req.Method))

	started := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		result.ElapsedMs = time.Since(started).Milliseconds()
		result.Status = models.RunStatusFailed
		result.Error = "request failed: " + err.Error()

		return result
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	result.ElapsedMs = time.Since(started).Milliseconds()
	result.StatusCode = resp.StatusCode
	result.Headers = redact.Headers(flattenHeaders(resp.Header))

	span.SetAttributes(attribute.Int(otelhelper.HTTPStatusKey, resp.StatusCode))

	if err != nil {
		result.Status = models.RunStatusFailed
		result.Error = "request failed: reading response: " + err.Error()

		return result
	}

	body, parsed := parseJSON(raw)
	if parsed {
		encoded, _ := json.Marshal(body)
		result.Response = redact.Response(string(encoded), e.responseLen)
	} else {
		result.Response = redact.Response(string(raw), e.responseLen)
	}

	if step.Expect != nil {
		authFailed, err := validateExpect(step.Expect, resp.StatusCode, body)
		if err != nil {
			result.Status = models.RunStatusFailed
			result.Error = err.Error()
			result.AuthFailed = authFailed

			return result
		}
	}

	if len(step.Extract) > 0 && parsed && body != nil {
		extract.ApplyRules(body, step.Extract, vars)
	}

	result.Status = models.RunStatusSuccess

	return result
}

func buildRequest(ctx context.Context, step models.Step, vars Vars) (*http.Request, error) {
	url := template.Render(step.URL, vars)

	var payload io.Reader

	hasBody := !isEmptyBody(step.Body)
	if hasBody {
		body := step.Body
		if object, ok := body.(map[string]any); ok {
			body = template.RenderDeep(object, vars)
		}

		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}

		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(step.Method), url, payload)
	if err != nil {
		return nil, err
	}

	for name, value := range step.Headers {
		req.Header.Set(name, template.Render(value, vars))
	}

	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// isEmptyBody reports bodies that are not sent: absent, empty string,
// empty object or empty array.
func isEmptyBody(body any) bool {
	switch v := body.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func parseJSON(raw []byte) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, false
	}

	return body, true
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}

	return out
}
