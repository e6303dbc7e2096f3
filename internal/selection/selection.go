// Package selection ranks finalized decisions and applies the top-K
// cutoffs: a wide shortlist before interviews and the seat-bounded
// final pick after them. Ordering is stable and deterministic; ties
// always break toward the earliest-scored decision.
package selection

import (
	"fmt"
	"log/slog"
	"sort"

	"cohort/internal/admission"
	"cohort/internal/logging"
	"cohort/internal/store"
)

// Engine applies selection over one cycle's scored decisions.
type Engine struct {
	st  store.Store
	log *slog.Logger
}

// New returns a selection engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{st: st, log: logging.New("selection")}
}

// Outcome summarizes one selection pass.
type Outcome struct {
	Stage       string
	Considered  int
	Selected    int
	Rejected    int
	CutoffScore float64
	LogID       int64
}

// candidate pairs a decision with its ranking score for one pass.
type candidate struct {
	decision *admission.FinalDecision
	score    float64
}

// rank sorts candidates by score descending, then earliest decision
// timestamp, then decision id. The sort is stable by construction of
// the key, never undefined.
func rank(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].decision.CreatedAt != cands[j].decision.CreatedAt {
			return cands[i].decision.CreatedAt < cands[j].decision.CreatedAt
		}
		return cands[i].decision.ID < cands[j].decision.ID
	})
}

// Shortlist marks the top targetCount decisions (by weighted total)
// Shortlisted and the rest NotSelected, then writes the immutable
// selection log with the cutoff score.
func (e *Engine) Shortlist(cycleID int64, targetCount int, actor string) (*Outcome, error) {
	if targetCount < 1 {
		return nil, fmt.Errorf("shortlist target must be positive, got %d", targetCount)
	}
	decisions, err := e.st.ListDecisions(cycleID)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("cycle #%d has no scored decisions", cycleID)
	}

	cands := make([]candidate, len(decisions))
	for i, d := range decisions {
		cands[i] = candidate{decision: d, score: d.WeightedTotal}
	}
	rank(cands)

	out := &Outcome{Stage: "shortlist", Considered: len(cands)}
	for i, c := range cands {
		taken := i < targetCount
		if err := e.mark(c.decision, taken, admission.StatusShortlisted); err != nil {
			return nil, err
		}
		if taken {
			out.Selected++
			out.CutoffScore = c.score
		} else {
			out.Rejected++
		}
	}

	return out, e.writeLog(cycleID, actor, targetCount, out)
}

// FinalSelect ranks only shortlisted decisions whose application has a
// completed interview, by the interview's mean sub-score. The top
// targetCount become Selected; everything else shortlisted, including
// applicants who never completed an interview, becomes NotSelected.
func (e *Engine) FinalSelect(cycleID int64, targetCount int, actor string) (*Outcome, error) {
	if targetCount < 1 {
		return nil, fmt.Errorf("final selection target must be positive, got %d", targetCount)
	}
	decisions, err := e.st.ListDecisions(cycleID)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}

	var eligible []candidate
	var noInterview []*admission.FinalDecision
	considered := 0
	for _, d := range decisions {
		if d.Status != admission.StatusShortlisted {
			continue
		}
		considered++
		iv, err := e.st.InterviewByApplication(d.ApplicationID)
		if err != nil {
			return nil, fmt.Errorf("load interview: %w", err)
		}
		if iv == nil || !iv.Completed {
			noInterview = append(noInterview, d)
			continue
		}
		eligible = append(eligible, candidate{decision: d, score: iv.Mean()})
	}
	if considered == 0 {
		return nil, fmt.Errorf("cycle #%d has no shortlisted decisions", cycleID)
	}
	rank(eligible)

	out := &Outcome{Stage: "final", Considered: considered}
	for i, c := range eligible {
		taken := i < targetCount
		if err := e.mark(c.decision, taken, admission.StatusSelected); err != nil {
			return nil, err
		}
		if taken {
			out.Selected++
			out.CutoffScore = c.score
		} else {
			out.Rejected++
		}
	}
	for _, d := range noInterview {
		if err := e.mark(d, false, admission.StatusSelected); err != nil {
			return nil, err
		}
		out.Rejected++
	}

	if err := e.st.SetSelectedCount(cycleID, out.Selected); err != nil {
		return nil, fmt.Errorf("record selected count: %w", err)
	}
	return out, e.writeLog(cycleID, actor, targetCount, out)
}

// mark moves one decision and its application to the taken status or
// to NotSelected.
func (e *Engine) mark(d *admission.FinalDecision, taken bool, takenStatus admission.Status) error {
	to := admission.StatusNotSelected
	if taken {
		to = takenStatus
	}
	if err := e.st.SetDecisionStatus(d.ID, to); err != nil {
		return fmt.Errorf("update decision #%d: %w", d.ID, err)
	}
	if err := e.st.SetApplicationStatus(d.ApplicationID, to); err != nil {
		return fmt.Errorf("update application #%d: %w", d.ApplicationID, err)
	}
	return nil
}

func (e *Engine) writeLog(cycleID int64, actor string, targetCount int, out *Outcome) error {
	id, err := e.st.SaveSelectionLog(&admission.SelectionLog{
		CycleID:     cycleID,
		Stage:       out.Stage,
		Actor:       actor,
		TargetCount: targetCount,
		Considered:  out.Considered,
		Selected:    out.Selected,
		CutoffScore: out.CutoffScore,
	})
	if err != nil {
		return fmt.Errorf("write selection log: %w", err)
	}
	out.LogID = id
	e.log.Info("selection pass recorded",
		"cycle_id", cycleID, "stage", out.Stage,
		"considered", out.Considered, "selected", out.Selected, "cutoff", out.CutoffScore)
	return nil
}
