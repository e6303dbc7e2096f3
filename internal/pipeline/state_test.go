package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNext_HappyPath(t *testing.T) {
	steps := []struct {
		state       State
		event       Event
		wantState   State
		wantEffects []Effect
	}{
		{StateScrubIdentity, Event{Kind: EventScrubbed}, StateWorkerEvaluation, []Effect{EffectEvaluate}},
		{StateWorkerEvaluation, Event{Kind: EventEvaluated, Attempt: 1}, StateJudgeReview, []Effect{EffectValidate}},
		{StateJudgeReview, Event{Kind: EventApproved, Attempt: 1}, StateFinalScoring, []Effect{EffectFinalize}},
		{StateFinalScoring, Event{Kind: EventFinalized}, StateHashGeneration, []Effect{EffectChain}},
		{StateHashGeneration, Event{Kind: EventChained}, StateNotification, []Effect{EffectNotify}},
		{StateNotification, Event{Kind: EventNotified}, StateCompleted, nil},
	}
	for _, s := range steps {
		gotState, gotEffects := Next(s.state, s.event, 3)
		if gotState != s.wantState {
			t.Errorf("Next(%s, %s) state = %s, want %s", s.state, s.event.Kind, gotState, s.wantState)
		}
		if diff := cmp.Diff(s.wantEffects, gotEffects); diff != "" {
			t.Errorf("Next(%s, %s) effects (-want +got):\n%s", s.state, s.event.Kind, diff)
		}
	}
}

func TestNext_RejectionLoop(t *testing.T) {
	// Below the cap: loop back to evaluation.
	state, effects := Next(StateJudgeReview, Event{Kind: EventRejected, Attempt: 2}, 3)
	if state != StateWorkerEvaluation || len(effects) != 1 || effects[0] != EffectEvaluate {
		t.Errorf("rejection below cap: got %s %v", state, effects)
	}

	// At the cap: terminal failure.
	state, effects = Next(StateJudgeReview, Event{Kind: EventRejected, Attempt: 3}, 3)
	if state != StateTerminal || len(effects) != 1 || effects[0] != EffectFail {
		t.Errorf("rejection at cap: got %s %v", state, effects)
	}

	// maxAttempts=1 fails on the first rejection.
	state, _ = Next(StateJudgeReview, Event{Kind: EventRejected, Attempt: 1}, 1)
	if state != StateTerminal {
		t.Errorf("single-attempt rejection: got %s", state)
	}
}

func TestNext_ErrorFromAnyState(t *testing.T) {
	ev := Event{Kind: EventError, Err: errors.New("boom")}
	for _, s := range []State{
		StateScrubIdentity, StateWorkerEvaluation, StateJudgeReview,
		StateFinalScoring, StateHashGeneration, StateNotification,
	} {
		state, effects := Next(s, ev, 3)
		if state != StateTerminal || len(effects) != 1 || effects[0] != EffectFail {
			t.Errorf("Next(%s, error) = %s %v, want terminal fail", s, state, effects)
		}
	}
}

func TestNext_NotifyFailureStillCompletes(t *testing.T) {
	state, effects := Next(StateNotification, Event{Kind: EventNotifyFailed}, 3)
	if state != StateCompleted || effects != nil {
		t.Errorf("notify failure: got %s %v, want completed with no effects", state, effects)
	}
}

func TestNext_BogusPairing(t *testing.T) {
	state, effects := Next(StateFinalScoring, Event{Kind: EventScrubbed}, 3)
	if state != StateTerminal || len(effects) != 1 || effects[0] != EffectFail {
		t.Errorf("bogus pairing: got %s %v", state, effects)
	}
}

func TestDeriveLists(t *testing.T) {
	cases := []struct {
		name             string
		scores           [4]float64 // academic, test, achievement, essay
		wantStrengths    []string
		wantImprovements []string
	}{
		{
			name:             "mixed",
			scores:           [4]float64{90, 85, 65, 75},
			wantStrengths:    []string{"academic", "test"},
			wantImprovements: []string{"achievement"},
		},
		{
			name:             "all middling falls back to extremes",
			scores:           [4]float64{75, 78, 72, 74},
			wantStrengths:    []string{"test"},
			wantImprovements: []string{"achievement"},
		},
		{
			name:             "all strong still names an improvement",
			scores:           [4]float64{95, 90, 88, 85},
			wantStrengths:    []string{"academic", "test", "achievement", "essay"},
			wantImprovements: []string{"essay"},
		},
		{
			name:             "all weak still names a strength",
			scores:           [4]float64{40, 55, 30, 45},
			wantStrengths:    []string{"test"},
			wantImprovements: []string{"academic", "test", "achievement", "essay"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, i := DeriveLists(componentScores(c.scores))
			if diff := cmp.Diff(c.wantStrengths, s); diff != "" {
				t.Errorf("strengths (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(c.wantImprovements, i); diff != "" {
				t.Errorf("improvements (-want +got):\n%s", diff)
			}
		})
	}
}
