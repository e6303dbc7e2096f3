package admission

import "fmt"

// Phase is the lifecycle phase of an admission cycle. Phases only move
// forward, one step at a time; there is no skipping and no regression.
type Phase string

const (
	PhaseSubmission    Phase = "submission"
	PhaseFrozen        Phase = "frozen"
	PhasePreprocessing Phase = "preprocessing"
	PhaseBatchPrep     Phase = "batch_prep"
	PhaseProcessing    Phase = "processing"
	PhaseScored        Phase = "scored"
	PhaseSelection     Phase = "selection"
	PhasePublished     Phase = "published"
	PhaseCompleted     Phase = "completed"
)

// phaseOrder defines the total order over phases. The successor of a
// phase is the phase with the next rank; the table below is the single
// source of truth for legal cycle transitions.
var phaseOrder = map[Phase]int{
	PhaseSubmission:    0,
	PhaseFrozen:        1,
	PhasePreprocessing: 2,
	PhaseBatchPrep:     3,
	PhaseProcessing:    4,
	PhaseScored:        5,
	PhaseSelection:     6,
	PhasePublished:     7,
	PhaseCompleted:     8,
}

// Valid reports whether p is one of the nine known phases.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Rank returns p's position in the phase order, or -1 for an unknown phase.
func (p Phase) Rank() int {
	r, ok := phaseOrder[p]
	if !ok {
		return -1
	}
	return r
}

// NextPhase returns the direct successor of p. ok is false when p is
// terminal (Completed) or unknown.
func NextPhase(p Phase) (next Phase, ok bool) {
	r, found := phaseOrder[p]
	if !found || p == PhaseCompleted {
		return "", false
	}
	for q, qr := range phaseOrder {
		if qr == r+1 {
			return q, true
		}
	}
	return "", false
}

// CanAdvance reports whether from -> to is a legal single-step phase
// transition.
func CanAdvance(from, to Phase) bool {
	next, ok := NextPhase(from)
	return ok && next == to
}

// PhaseError reports an operation attempted against a cycle in the
// wrong phase. It is surfaced verbatim to the operator.
type PhaseError struct {
	Op       string
	CycleID  int64
	Current  Phase
	Required Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: cycle #%d is in phase %q, requires %q", e.Op, e.CycleID, e.Current, e.Required)
}
