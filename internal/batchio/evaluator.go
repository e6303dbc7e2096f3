package batchio

import (
	"context"
	"fmt"

	"cohort/internal/admission"
)

// Evaluator serves pre-scored batch results as pipeline evaluations.
// It satisfies the pipeline's Evaluator contract; a subject missing
// from the imported batch is a hard error, since retrying cannot
// produce a result that was never uploaded.
type Evaluator struct {
	results map[string]*ResultLine
}

// NewEvaluator wraps an imported result set.
func NewEvaluator(results map[string]*ResultLine) *Evaluator {
	return &Evaluator{results: results}
}

// Evaluate returns the batch score for the record's subject. Attempts
// past the first return the same scores with the feedback noted, which
// lets a validator rejection surface as a terminal failure instead of
// looping forever on identical output.
func (e *Evaluator) Evaluate(_ context.Context, rec *admission.AnonymizedRecord, attempt int, priorFeedback string) (*admission.EvaluationAttempt, error) {
	res, ok := e.results[rec.SubjectID]
	if !ok {
		return nil, fmt.Errorf("subject %s not present in batch results", rec.SubjectID)
	}
	explanation := res.Explanation
	if attempt > 1 && priorFeedback != "" {
		explanation = fmt.Sprintf("%s (resubmitted after: %s)", res.Explanation, priorFeedback)
	}
	return &admission.EvaluationAttempt{
		Scores:      res.Scores,
		Explanation: explanation,
	}, nil
}
