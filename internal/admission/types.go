// Package admission holds the domain model for the blind admissions
// workflow: cycles, applications, anonymized records, evaluation
// attempts and verdicts, final decisions, and ledger chain entries.
// It is a leaf package; the store and every engine build on it.
package admission

import "fmt"

// GenesisHash is the fixed previous-hash value for the first ledger entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Cycle is one admissions round: a bounded submission window and a
// seat count. Phase is mutated only through the cycle engine.
type Cycle struct {
	ID            int64
	Name          string
	Phase         Phase
	IsOpen        bool
	MaxSeats      int
	SelectedCount int
	StartDate     string // RFC 3339
	EndDate       string
	ResultDate    string
	ClosedBy      string
	ClosedAt      string
}

// Application is one applicant's submission within a cycle. Raw merit
// fields (essay, achievements) may contain PII and must never leave
// this record unscrubbed.
type Application struct {
	ID           int64
	CycleID      int64
	Status       Status
	GPA          float64
	TestScores   map[string]float64
	Essay        string
	Achievements string

	// Deterministic metrics computed during preprocessing.
	TestAverage   float64
	AcademicScore float64

	FailReason string
}

// AnonymizedRecord is the PII-free twin of an Application, produced
// exactly once by the scrubber. SubjectID is the blind identifier used
// everywhere downstream; nothing keyed by it can be traced back to the
// applicant without the store's application link.
type AnonymizedRecord struct {
	ID            int64
	ApplicationID int64
	SubjectID     string
	GPA           float64
	TestScores    map[string]float64
	TestAverage   float64
	AcademicScore float64
	Essay         string
	Achievements  string
	CreatedAt     string
}

// ComponentScores are the four rubric scores, each in [0,100].
type ComponentScores struct {
	Academic    float64 `json:"academic"`
	Test        float64 `json:"test"`
	Achievement float64 `json:"achievement"`
	Essay       float64 `json:"essay"`
}

// EvaluationAttempt is one evaluator pass over an anonymized record.
// Immutable once written; Attempt starts at 1.
type EvaluationAttempt struct {
	ID            int64
	SubjectID     string
	Attempt       int
	Scores        ComponentScores
	WeightedTotal float64
	Explanation   string
	Reasoning     map[string]string // per-category reasoning
	CreatedAt     string
}

// ValidationVerdict is the validator's ruling on one attempt.
// Feedback is threaded verbatim into the next attempt on rejection.
// Immutable once written.
type ValidationVerdict struct {
	ID           int64
	AttemptID    int64
	SubjectID    string
	Approved     bool
	BiasDetected bool
	QualityScore float64
	Feedback     string
	CreatedAt    string
}

// FinalDecision is the approved scoring outcome for one subject.
// Mutable only to attach the chain hash and to move Status during
// selection and publication.
type FinalDecision struct {
	ID            int64
	SubjectID     string
	ApplicationID int64
	CycleID       int64
	Scores        ComponentScores
	WeightedTotal float64
	Explanation   string
	Strengths     []string
	Improvements  []string
	Attempts      int
	ChainHash     string
	Status        Status
	CreatedAt     string
}

// ChainEntry is one immutable link in the decision ledger.
// For entry i>0, PreviousHash equals entry i-1's DataHash; entry 0
// carries GenesisHash.
type ChainEntry struct {
	ID           int64
	SubjectID    string
	DecisionType string
	Payload      string // canonical JSON snapshot
	DataHash     string
	PreviousHash string
	Timestamp    string
}

// Interview holds a human interview's sub-scores for one application.
// Only completed interviews feed final selection.
type Interview struct {
	ID            int64
	ApplicationID int64
	Scores        map[string]float64
	Completed     bool
	CompletedAt   string
}

// Mean returns the arithmetic mean of the interview sub-scores, or 0
// when there are none.
func (iv *Interview) Mean() float64 {
	if len(iv.Scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range iv.Scores {
		sum += v
	}
	return sum / float64(len(iv.Scores))
}

// SelectionLog is the immutable record of one selection pass.
type SelectionLog struct {
	ID          int64
	CycleID     int64
	Stage       string // "shortlist" or "final"
	Actor       string
	TargetCount int
	Considered  int
	Selected    int
	CutoffScore float64
	CreatedAt   string
}

// Weights are the rubric aggregation weights. They must sum to 1.0
// within WeightTolerance; loading fails otherwise, never renormalizes.
type Weights struct {
	Academic    float64 `yaml:"academic"`
	Test        float64 `yaml:"test"`
	Achievement float64 `yaml:"achievement"`
	Essay       float64 `yaml:"essay"`
}

// WeightTolerance is the permitted deviation of the weight sum from 1.0.
const WeightTolerance = 0.01

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.Academic + w.Test + w.Achievement + w.Essay
}

// Check validates the sum-to-one constraint.
func (w Weights) Check() error {
	s := w.Sum()
	if s < 1.0-WeightTolerance || s > 1.0+WeightTolerance {
		return fmt.Errorf("scoring weights sum to %.4f, must be within %.2f of 1.0", s, WeightTolerance)
	}
	return nil
}

// Total computes the weighted aggregate of the four component scores.
func (w Weights) Total(s ComponentScores) float64 {
	return w.Academic*s.Academic + w.Test*s.Test + w.Achievement*s.Achievement + w.Essay*s.Essay
}
