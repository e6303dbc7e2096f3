package pipeline

// State is the per-application pipeline position.
type State string

const (
	StateScrubIdentity    State = "scrub_identity"
	StateWorkerEvaluation State = "worker_evaluation"
	StateJudgeReview      State = "judge_review"
	StateFinalScoring     State = "final_scoring"
	StateHashGeneration   State = "hash_generation"
	StateNotification     State = "notification"
	StateCompleted        State = "completed"
	StateTerminal         State = "terminal"
)

// EventKind names what just happened.
type EventKind string

const (
	EventScrubbed     EventKind = "scrubbed"
	EventEvaluated    EventKind = "evaluated"
	EventApproved     EventKind = "approved"
	EventRejected     EventKind = "rejected"
	EventFinalized    EventKind = "finalized"
	EventChained      EventKind = "chained"
	EventNotified     EventKind = "notified"
	EventNotifyFailed EventKind = "notify_failed"
	EventError        EventKind = "error"
)

// Event is one completed step's outcome, fed back into Next.
type Event struct {
	Kind     EventKind
	Attempt  int    // evaluation round the event belongs to
	Feedback string // rejection feedback, threaded into the next round
	Err      error  // set for EventError
}

// Effect is work the runner must perform to leave the new state.
type Effect string

const (
	EffectEvaluate Effect = "evaluate"
	EffectValidate Effect = "validate"
	EffectFinalize Effect = "finalize"
	EffectChain    Effect = "chain"
	EffectNotify   Effect = "notify"
	EffectFail     Effect = "fail"
)

// Next is the pure transition function: given the current state and
// an event, it returns the next state and the effects to run there.
// It touches no storage and no collaborators, so the whole routing
// table is testable in isolation.
//
// The judge-review gate is the only branch point: approval moves to
// final scoring, rejection loops back to evaluation until the attempt
// cap, then fails terminally. An EventError from any state is routed
// to Terminal.
func Next(s State, ev Event, maxAttempts int) (State, []Effect) {
	if ev.Kind == EventError {
		return StateTerminal, []Effect{EffectFail}
	}

	switch s {
	case StateScrubIdentity:
		if ev.Kind == EventScrubbed {
			return StateWorkerEvaluation, []Effect{EffectEvaluate}
		}
	case StateWorkerEvaluation:
		if ev.Kind == EventEvaluated {
			return StateJudgeReview, []Effect{EffectValidate}
		}
	case StateJudgeReview:
		switch ev.Kind {
		case EventApproved:
			return StateFinalScoring, []Effect{EffectFinalize}
		case EventRejected:
			if ev.Attempt < maxAttempts {
				return StateWorkerEvaluation, []Effect{EffectEvaluate}
			}
			return StateTerminal, []Effect{EffectFail}
		}
	case StateFinalScoring:
		if ev.Kind == EventFinalized {
			return StateHashGeneration, []Effect{EffectChain}
		}
	case StateHashGeneration:
		if ev.Kind == EventChained {
			return StateNotification, []Effect{EffectNotify}
		}
	case StateNotification:
		// A failed notification still completes the run.
		if ev.Kind == EventNotified || ev.Kind == EventNotifyFailed {
			return StateCompleted, nil
		}
	}

	// Unknown state/event pairing: treat as a routing bug and stop.
	return StateTerminal, []Effect{EffectFail}
}
