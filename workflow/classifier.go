package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/JuanCS-Dev/stepflow/types"
)

// FailureSignal is the raw failure reported by the executor. Code is an
// optional machine-readable identifier; Message is free text.
type FailureSignal struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (f FailureSignal) String() string {
	if f.Code != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return f.Message
}

// Outcome is the executor's report for one step attempt.
type Outcome struct {
	Success bool           `json:"success"`
	Output  any            `json:"output,omitempty"`
	Failure *FailureSignal `json:"failure,omitempty"`
}

// StepExecutor performs a step's action. The action payload is a black box
// supplied by planning logic outside this engine.
//
// A non-nil error means the executor itself is unavailable, which is fatal
// for the run; failures of the action belong in Outcome.Failure.
type StepExecutor interface {
	Execute(ctx context.Context, action any) (Outcome, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, action any) (Outcome, error)

func (f StepExecutorFunc) Execute(ctx context.Context, action any) (Outcome, error) {
	return f(ctx, action)
}

// classifierRule maps a failure signal onto the taxonomy. Codes are matched
// exactly after normalization, message needles as substrings.
type classifierRule struct {
	codes    []string
	needles  []string
	code     types.ErrorCode
	category types.FailureCategory
}

// Classifier maps raw failure signals into the fixed taxonomy. Every signal
// maps into exactly one category; anything unrecognized is permanent so real
// bugs are not retried away.
type Classifier struct {
	rules []classifierRule
}

// NewClassifier creates a classifier with the built-in rule table.
func NewClassifier() *Classifier {
	return &Classifier{rules: []classifierRule{
		{
			codes:    []string{"timeout", "deadline_exceeded"},
			needles:  []string{"timeout", "timed out", "deadline exceeded"},
			code:     types.ErrTimeout,
			category: types.CategoryTransient,
		},
		{
			codes:    []string{"connection_reset", "connection_refused", "eof"},
			needles:  []string{"connection reset", "connection refused", "broken pipe", "unexpected eof"},
			code:     types.ErrConnectionReset,
			category: types.CategoryTransient,
		},
		{
			codes:    []string{"resource_unavailable", "rate_limited", "too_many_requests"},
			needles:  []string{"temporarily unavailable", "resource unavailable", "rate limit", "too many requests", "try again"},
			code:     types.ErrResourceUnavailable,
			category: types.CategoryTransient,
		},
		{
			codes:    []string{"permission_denied", "forbidden", "unauthorized"},
			needles:  []string{"permission denied", "access denied", "forbidden", "operation not permitted"},
			code:     types.ErrPermissionDenied,
			category: types.CategoryPermanent,
		},
		{
			codes:    []string{"not_found"},
			needles:  []string{"not found", "no such file", "does not exist"},
			code:     types.ErrNotFound,
			category: types.CategoryPermanent,
		},
		{
			codes:    []string{"malformed_input", "invalid_argument", "parse_error"},
			needles:  []string{"malformed", "invalid input", "invalid argument", "syntax error", "parse error"},
			code:     types.ErrMalformedInput,
			category: types.CategoryPermanent,
		},
		{
			codes:    []string{"user_cancelled", "cancelled", "canceled"},
			needles:  []string{"cancelled by user", "canceled by user", "user cancelled", "user canceled"},
			code:     types.ErrUserCancelled,
			category: types.CategoryUserCancelled,
		},
	}}
}

// Categorize maps a failure signal to a taxonomy category and a normalized
// error code.
func (c *Classifier) Categorize(signal FailureSignal) (types.FailureCategory, types.ErrorCode) {
	code := normalizeSignal(signal.Code)
	message := strings.ToLower(signal.Message)

	for _, rule := range c.rules {
		for _, rc := range rule.codes {
			if code == rc {
				return rule.category, rule.code
			}
		}
	}
	for _, rule := range c.rules {
		for _, needle := range rule.needles {
			if needle != "" && strings.Contains(message, needle) {
				return rule.category, rule.code
			}
		}
	}
	return types.CategoryPermanent, types.ErrUnknownFailure
}

func normalizeSignal(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "_")
	return strings.ReplaceAll(code, " ", "_")
}

// AttemptRecord captures one failed attempt of a step, kept so later
// diagnosis calls see every prior failure and avoid repeating corrections.
type AttemptRecord struct {
	Attempt   int                   `json:"attempt"`
	Failure   FailureSignal         `json:"failure"`
	Category  types.FailureCategory `json:"category"`
	Delay     time.Duration         `json:"delay,omitempty"`
	Corrected bool                  `json:"corrected,omitempty"`
	At        time.Time             `json:"at"`
}

// RecoveryContext is the ephemeral value handed to the diagnoser for one
// failed step. It is never persisted beyond the recovery decision.
type RecoveryContext struct {
	StepID      string                `json:"step_id"`
	Attempt     int                   `json:"attempt"`
	MaxAttempts int                   `json:"max_attempts"`
	Failure     FailureSignal         `json:"failure"`
	Category    types.FailureCategory `json:"category"`
	// Action is the failing step's current action descriptor (possibly an
	// earlier correction).
	Action any `json:"action"`
	// History holds every prior attempt's failure for this step.
	History []AttemptRecord `json:"history,omitempty"`
	// CompletedSteps lists the run's completed step ids, in completion order.
	CompletedSteps []string `json:"completed_steps,omitempty"`
	// Outputs holds the outputs of completed steps, read-only context for
	// diagnosis.
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Diagnosis is the diagnoser's verdict: a human-readable explanation and an
// optional corrected action to substitute on the next attempt. A nil
// CorrectedAction abandons the step.
type Diagnosis struct {
	Explanation     string `json:"explanation"`
	CorrectedAction any    `json:"corrected_action,omitempty"`
}

// Diagnoser is the external reasoning collaborator. It may be backed by an
// LLM call or a static rule table; the engine only bounds call frequency and
// consumes the structured result.
type Diagnoser interface {
	Diagnose(ctx context.Context, rc RecoveryContext) (Diagnosis, error)
}

// DiagnoserFunc adapts a function to Diagnoser.
type DiagnoserFunc func(ctx context.Context, rc RecoveryContext) (Diagnosis, error)

func (f DiagnoserFunc) Diagnose(ctx context.Context, rc RecoveryContext) (Diagnosis, error) {
	return f(ctx, rc)
}

// ThrottledDiagnoser rate-limits calls to an underlying diagnoser. The
// per-step attempt bound lives in the scheduler; this guards the collaborator
// (typically a metered LLM endpoint) across steps.
type ThrottledDiagnoser struct {
	inner   Diagnoser
	limiter *rate.Limiter
}

// NewThrottledDiagnoser wraps diagnoser, allowing callsPerSecond sustained
// calls with the given burst.
func NewThrottledDiagnoser(diagnoser Diagnoser, callsPerSecond float64, burst int) *ThrottledDiagnoser {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledDiagnoser{
		inner:   diagnoser,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), burst),
	}
}

// Diagnose waits for limiter clearance, honoring ctx, then delegates.
func (t *ThrottledDiagnoser) Diagnose(ctx context.Context, rc RecoveryContext) (Diagnosis, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Diagnosis{}, fmt.Errorf("diagnosis throttled: %w", err)
	}
	return t.inner.Diagnose(ctx, rc)
}
