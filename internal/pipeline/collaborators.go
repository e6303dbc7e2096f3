// Package pipeline runs the per-application evaluation loop: scrub,
// evaluate, validate, retry on rejection, finalize, chain, notify.
// The evaluator and validator are opaque collaborators; this package
// owns only the routing between them.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cohort/internal/admission"
)

// ErrMaxAttempts is the terminal business failure for one application:
// the validator rejected every evaluation round up to the cap.
var ErrMaxAttempts = errors.New("exceeded max attempts")

// Scrubber produces the PII-free record for an application. It must be
// idempotent: scrubbing the same application twice yields logically
// equivalent output, though not necessarily the same subject id.
type Scrubber interface {
	Scrub(ctx context.Context, app *admission.Application) (*admission.AnonymizedRecord, error)
}

// Evaluator scores an anonymized record. On attempts after the first,
// priorFeedback carries the previous verdict's feedback verbatim.
type Evaluator interface {
	Evaluate(ctx context.Context, rec *admission.AnonymizedRecord, attempt int, priorFeedback string) (*admission.EvaluationAttempt, error)
}

// Validator checks an evaluation attempt for bias and rubric
// compliance. Feedback must be non-empty; it drives the retry loop.
type Validator interface {
	Validate(ctx context.Context, rec *admission.AnonymizedRecord, att *admission.EvaluationAttempt) (*admission.ValidationVerdict, error)
}

// Notifier delivers the final decision. Failures are non-fatal.
type Notifier interface {
	Notify(ctx context.Context, d *admission.FinalDecision) error
}

// TransientError wraps a collaborator failure that survived the
// backoff budget. It is distinct from a validator rejection: the
// former is infrastructure, the latter is a business outcome.
type TransientError struct {
	Collaborator string
	Err          error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s collaborator failed after retries: %v", e.Collaborator, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
