package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"cohort/internal/admission"
)

// StubScrubber is a deterministic local scrubber for dry runs and
// tests. Real deployments plug in the PII-redaction service; this one
// only masks the obvious patterns so nothing raw leaks into demo data.
type StubScrubber struct{}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// Scrub copies the merit fields under a fresh subject id. Repeated
// calls yield equivalent records with different ids, which is what the
// contract permits.
func (StubScrubber) Scrub(_ context.Context, app *admission.Application) (*admission.AnonymizedRecord, error) {
	return &admission.AnonymizedRecord{
		ApplicationID: app.ID,
		SubjectID:     uuid.NewString(),
		GPA:           app.GPA,
		TestScores:    app.TestScores,
		TestAverage:   app.TestAverage,
		AcademicScore: app.AcademicScore,
		Essay:         emailPattern.ReplaceAllString(app.Essay, "[redacted]"),
		Achievements:  emailPattern.ReplaceAllString(app.Achievements, "[redacted]"),
	}, nil
}

// StubEvaluator scores records from their precomputed metrics, so runs
// are reproducible without a model behind them.
type StubEvaluator struct{}

func (StubEvaluator) Evaluate(_ context.Context, rec *admission.AnonymizedRecord, attempt int, priorFeedback string) (*admission.EvaluationAttempt, error) {
	scores := admission.ComponentScores{
		Academic:    clamp(rec.AcademicScore),
		Test:        clamp(rec.TestAverage),
		Achievement: clamp(float64(len(strings.Fields(rec.Achievements))) * 2),
		Essay:       clamp(float64(len(strings.Fields(rec.Essay)))),
	}
	explanation := fmt.Sprintf("deterministic stub scoring, attempt %d", attempt)
	if priorFeedback != "" {
		explanation += "; addressed feedback: " + priorFeedback
	}
	return &admission.EvaluationAttempt{
		Scores:      scores,
		Explanation: explanation,
		Reasoning: map[string]string{
			"academic": "derived from GPA",
			"test":     "derived from test average",
		},
	}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// StubValidator approves everything with a fixed quality score.
type StubValidator struct{}

func (StubValidator) Validate(_ context.Context, _ *admission.AnonymizedRecord, att *admission.EvaluationAttempt) (*admission.ValidationVerdict, error) {
	return &admission.ValidationVerdict{
		Approved:     true,
		QualityScore: 90,
		Feedback:     fmt.Sprintf("attempt %d within rubric bounds", att.Attempt),
	}, nil
}
