package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cohort/internal/admission"
	"cohort/internal/ledger"
	"cohort/internal/logging"
	"cohort/internal/store"
)

// decisionType tags ledger entries produced by this pipeline.
const decisionType = "score_decision"

// RetryPolicy bounds collaborator-level retries with exponential
// backoff. This budget is separate from the evaluation-round cap.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Config holds the per-cycle pipeline parameters.
type Config struct {
	MaxAttempts int
	Weights     admission.Weights
	Retry       RetryPolicy
}

// Runner executes the evaluation pipeline for one application at a
// time. Instances are safe for concurrent use across applications;
// ordering inside one run is strictly sequential.
type Runner struct {
	st       store.Store
	chain    *ledger.Ledger
	scrubber Scrubber
	eval     Evaluator
	validate Validator
	notify   Notifier
	cfg      Config
	log      *slog.Logger
}

// NewRunner wires the pipeline. notify may be nil.
func NewRunner(st store.Store, chain *ledger.Ledger, scrubber Scrubber, eval Evaluator, validate Validator, notify Notifier, cfg Config) (*Runner, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if err := cfg.Weights.Check(); err != nil {
		return nil, err
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 5 * time.Second
	}
	return &Runner{
		st: st, chain: chain,
		scrubber: scrubber, eval: eval, validate: validate, notify: notify,
		cfg: cfg, log: logging.New("pipeline"),
	}, nil
}

// Result is the outcome of one pipeline run.
type Result struct {
	ApplicationID int64
	SubjectID     string
	State         State
	Attempts      int
	Decision      *admission.FinalDecision
	Err           error // ErrMaxAttempts, *TransientError, or a store failure
}

// run-scoped mutable context threaded through effect execution.
type runCtx struct {
	app      *admission.Application
	rec      *admission.AnonymizedRecord
	attempt  int
	feedback string
	latest   *admission.EvaluationAttempt
	decision *admission.FinalDecision
}

// Run drives one application through the state machine until
// Completed or Terminal. The result's Err classifies terminal
// failures; a completed run has Err nil even if notification failed.
func (r *Runner) Run(ctx context.Context, app *admission.Application) *Result {
	res := &Result{ApplicationID: app.ID, State: StateScrubIdentity}
	rc := &runCtx{app: app}

	ev := r.scrub(ctx, rc)
	for {
		next, effects := Next(res.State, ev, r.cfg.MaxAttempts)
		res.State = next
		if next == StateCompleted {
			break
		}
		if next == StateTerminal {
			r.fail(rc, ev, res)
			break
		}
		// Each effect yields the event that drives the next step.
		for _, eff := range effects {
			ev = r.apply(ctx, eff, rc)
		}
	}

	res.SubjectID = subjectID(rc)
	res.Attempts = rc.attempt
	res.Decision = rc.decision
	return res
}

func subjectID(rc *runCtx) string {
	if rc.rec != nil {
		return rc.rec.SubjectID
	}
	return ""
}

func (r *Runner) apply(ctx context.Context, eff Effect, rc *runCtx) Event {
	switch eff {
	case EffectEvaluate:
		return r.evaluate(ctx, rc)
	case EffectValidate:
		return r.judge(ctx, rc)
	case EffectFinalize:
		return r.finalize(rc)
	case EffectChain:
		return r.chainDecision(rc)
	case EffectNotify:
		return r.sendNotification(ctx, rc)
	}
	return Event{Kind: EventError, Err: fmt.Errorf("unknown effect %q", eff)}
}

// scrub produces the anonymized record, skipping the scrubber when a
// record already exists for this application.
func (r *Runner) scrub(ctx context.Context, rc *runCtx) Event {
	existing, err := r.st.RecordByApplication(rc.app.ID)
	if err != nil {
		return Event{Kind: EventError, Err: err}
	}
	if existing != nil {
		rc.rec = existing
		return Event{Kind: EventScrubbed}
	}

	var rec *admission.AnonymizedRecord
	err = r.withRetry(ctx, "scrubber", func() error {
		var e error
		rec, e = r.scrubber.Scrub(ctx, rc.app)
		return e
	})
	if err != nil {
		return Event{Kind: EventError, Err: err}
	}
	rec.ApplicationID = rc.app.ID
	if _, err := r.st.SaveRecord(rec); err != nil {
		return Event{Kind: EventError, Err: err}
	}
	rc.rec = rec
	return Event{Kind: EventScrubbed}
}

func (r *Runner) evaluate(ctx context.Context, rc *runCtx) Event {
	rc.attempt++
	var att *admission.EvaluationAttempt
	err := r.withRetry(ctx, "evaluator", func() error {
		var e error
		att, e = r.eval.Evaluate(ctx, rc.rec, rc.attempt, rc.feedback)
		return e
	})
	if err != nil {
		return Event{Kind: EventError, Err: err}
	}

	att.SubjectID = rc.rec.SubjectID
	att.Attempt = rc.attempt
	// The decision total always comes from configured weights, not
	// from whatever the evaluator claims.
	att.WeightedTotal = r.cfg.Weights.Total(att.Scores)
	if _, err := r.st.SaveAttempt(att); err != nil {
		return Event{Kind: EventError, Err: err}
	}
	rc.latest = att

	r.log.Debug("attempt recorded",
		"subject_id", rc.rec.SubjectID, "attempt", rc.attempt, "total", att.WeightedTotal)
	return Event{Kind: EventEvaluated, Attempt: rc.attempt}
}

func (r *Runner) judge(ctx context.Context, rc *runCtx) Event {
	var verdict *admission.ValidationVerdict
	err := r.withRetry(ctx, "validator", func() error {
		var e error
		verdict, e = r.validate.Validate(ctx, rc.rec, rc.latest)
		return e
	})
	if err != nil {
		return Event{Kind: EventError, Err: err}
	}
	if !verdict.Approved && verdict.Feedback == "" {
		return Event{Kind: EventError, Err: fmt.Errorf("validator rejected attempt %d without feedback", rc.attempt)}
	}

	verdict.SubjectID = rc.rec.SubjectID
	verdict.AttemptID = rc.latest.ID
	if _, err := r.st.SaveVerdict(verdict); err != nil {
		return Event{Kind: EventError, Err: err}
	}

	if verdict.Approved {
		r.log.Info("attempt approved",
			"subject_id", rc.rec.SubjectID, "attempt", rc.attempt, "quality", verdict.QualityScore)
		return Event{Kind: EventApproved, Attempt: rc.attempt}
	}
	r.log.Info("attempt rejected",
		"subject_id", rc.rec.SubjectID, "attempt", rc.attempt,
		"bias", verdict.BiasDetected, "feedback", verdict.Feedback)
	rc.feedback = verdict.Feedback
	return Event{Kind: EventRejected, Attempt: rc.attempt, Feedback: verdict.Feedback}
}

func (r *Runner) finalize(rc *runCtx) Event {
	strengths, improvements := DeriveLists(rc.latest.Scores)
	d := &admission.FinalDecision{
		SubjectID:     rc.rec.SubjectID,
		ApplicationID: rc.app.ID,
		CycleID:       rc.app.CycleID,
		Scores:        rc.latest.Scores,
		WeightedTotal: rc.latest.WeightedTotal,
		Explanation:   rc.latest.Explanation,
		Strengths:     strengths,
		Improvements:  improvements,
		Attempts:      rc.attempt,
	}
	id, err := r.st.SaveDecision(d)
	if err != nil {
		return Event{Kind: EventError, Err: err}
	}
	d.ID = id
	rc.decision = d
	return Event{Kind: EventFinalized}
}

func (r *Runner) chainDecision(rc *runCtx) Event {
	d := rc.decision
	entry, err := r.chain.Append(d.SubjectID, decisionType, map[string]any{
		"subject_id":     d.SubjectID,
		"decision_type":  decisionType,
		"scores":         d.Scores,
		"weighted_total": d.WeightedTotal,
		"explanation":    d.Explanation,
		"strengths":      d.Strengths,
		"improvements":   d.Improvements,
		"attempts":       d.Attempts,
	})
	if err != nil {
		return Event{Kind: EventError, Err: err}
	}
	if err := r.st.SetDecisionHash(d.ID, entry.DataHash); err != nil {
		return Event{Kind: EventError, Err: err}
	}
	d.ChainHash = entry.DataHash

	if err := r.st.SetApplicationStatus(rc.app.ID, admission.StatusScored); err != nil {
		return Event{Kind: EventError, Err: err}
	}
	return Event{Kind: EventChained}
}

func (r *Runner) sendNotification(ctx context.Context, rc *runCtx) Event {
	if r.notify == nil {
		return Event{Kind: EventNotified}
	}
	if err := r.notify.Notify(ctx, rc.decision); err != nil {
		r.log.Warn("notification failed",
			"subject_id", rc.decision.SubjectID, "error", err)
		return Event{Kind: EventNotifyFailed}
	}
	return Event{Kind: EventNotified}
}

// fail records the terminal outcome on the application and classifies
// it on the result.
func (r *Runner) fail(rc *runCtx, ev Event, res *Result) {
	switch {
	case ev.Kind == EventRejected:
		res.Err = ErrMaxAttempts
	case ev.Err != nil:
		res.Err = ev.Err
	default:
		res.Err = fmt.Errorf("pipeline stopped in state %s", res.State)
	}

	// A cancelled run is interrupted, not failed: the application
	// stays in processing so a resumed batch picks it up.
	if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
		r.log.Warn("pipeline run interrupted",
			"application_id", rc.app.ID, "subject_id", subjectID(rc),
			"attempts", rc.attempt, "error", res.Err)
		return
	}

	if err := r.st.FailApplication(rc.app.ID, res.Err.Error()); err != nil {
		r.log.Error("could not mark application failed",
			"application_id", rc.app.ID, "error", err)
	}
	r.log.Warn("pipeline run failed",
		"application_id", rc.app.ID, "subject_id", subjectID(rc),
		"attempts", rc.attempt, "error", res.Err)
}

// withRetry retries fn with exponential backoff up to the policy's
// budget, then wraps the last error as a TransientError.
func (r *Runner) withRetry(ctx context.Context, collaborator string, fn func() error) error {
	delay := r.cfg.Retry.BaseDelay
	var lastErr error
	for i := 0; i <= r.cfg.Retry.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return &TransientError{Collaborator: collaborator, Err: err}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if i == r.cfg.Retry.MaxRetries {
			break
		}
		r.log.Debug("collaborator retry",
			"collaborator", collaborator, "try", i+1, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return &TransientError{Collaborator: collaborator, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.cfg.Retry.MaxDelay {
			delay = r.cfg.Retry.MaxDelay
		}
	}
	return &TransientError{Collaborator: collaborator, Err: lastErr}
}

// IsTransient reports whether err is a collaborator-level failure
// rather than a business rejection.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// scoreCategories fixes the derivation order for strengths and
// improvement areas.
var scoreCategories = []struct {
	name  string
	score func(admission.ComponentScores) float64
}{
	{"academic", func(s admission.ComponentScores) float64 { return s.Academic }},
	{"test", func(s admission.ComponentScores) float64 { return s.Test }},
	{"achievement", func(s admission.ComponentScores) float64 { return s.Achievement }},
	{"essay", func(s admission.ComponentScores) float64 { return s.Essay }},
}

// DeriveLists extracts strengths (score >= 80) and improvement areas
// (score < 70) from the component scores. At least one of each is
// guaranteed: with no qualifying category, the highest scorer becomes
// the strength and the lowest the improvement area.
func DeriveLists(s admission.ComponentScores) (strengths, improvements []string) {
	hiName, loName := scoreCategories[0].name, scoreCategories[0].name
	hi, lo := scoreCategories[0].score(s), scoreCategories[0].score(s)
	for _, c := range scoreCategories {
		v := c.score(s)
		if v >= 80 {
			strengths = append(strengths, c.name)
		}
		if v < 70 {
			improvements = append(improvements, c.name)
		}
		if v > hi {
			hi, hiName = v, c.name
		}
		if v < lo {
			lo, loName = v, c.name
		}
	}
	if len(strengths) == 0 {
		strengths = []string{hiName}
	}
	if len(improvements) == 0 {
		improvements = []string{loName}
	}
	return strengths, improvements
}
