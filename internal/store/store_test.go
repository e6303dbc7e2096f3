package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"cohort/internal/admission"
)

// eachStore runs fn against both implementations so their semantics
// cannot drift apart.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemStore())
	})
	t.Run("sql", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "cohort.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

func TestStore_CycleLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		id, err := s.CreateCycle(&admission.Cycle{Name: "Fall 2026", IsOpen: true, MaxSeats: 50})
		if err != nil {
			t.Fatalf("CreateCycle: %v", err)
		}

		c, err := s.GetCycle(id)
		if err != nil || c == nil || c.Phase != admission.PhaseSubmission || !c.IsOpen {
			t.Fatalf("GetCycle: got %+v err %v", c, err)
		}

		// Only one open cycle at a time.
		if _, err := s.CreateCycle(&admission.Cycle{Name: "Spring 2027", IsOpen: true, MaxSeats: 30}); err == nil {
			t.Fatal("second open cycle was accepted")
		}

		open, err := s.OpenCycle()
		if err != nil || open.ID != id {
			t.Fatalf("OpenCycle: got %+v err %v", open, err)
		}

		if err := s.AdvancePhase(id, admission.PhaseSubmission, admission.PhaseFrozen); err != nil {
			t.Fatalf("AdvancePhase: %v", err)
		}
		// The conditional update fails once the phase has moved on.
		err = s.AdvancePhase(id, admission.PhaseSubmission, admission.PhaseFrozen)
		if !errors.Is(err, admission.ErrVersionConflict) {
			t.Fatalf("stale AdvancePhase: got %v, want ErrVersionConflict", err)
		}
		// Skipping is rejected before touching the row.
		if err := s.AdvancePhase(id, admission.PhaseFrozen, admission.PhaseProcessing); err == nil {
			t.Fatal("phase skip was accepted")
		}

		if err := s.CloseCycle(id, "admin-7"); err != nil {
			t.Fatalf("CloseCycle: %v", err)
		}
		c, _ = s.GetCycle(id)
		if c.IsOpen || c.ClosedBy != "admin-7" || c.ClosedAt == "" {
			t.Errorf("close not recorded: %+v", c)
		}
	})
}

func TestStore_ActiveCycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		if _, err := s.ActiveCycle(); !errors.Is(err, admission.ErrNoActiveCycle) {
			t.Fatalf("empty store: got %v, want ErrNoActiveCycle", err)
		}

		first, err := s.CreateCycle(&admission.Cycle{Name: "first", IsOpen: true, MaxSeats: 5})
		if err != nil {
			t.Fatal(err)
		}
		if err := s.AdvancePhase(first, admission.PhaseSubmission, admission.PhaseFrozen); err != nil {
			t.Fatal(err)
		}
		if err := s.CloseCycle(first, "admin-7"); err != nil {
			t.Fatal(err)
		}

		// Closed but unfinished is still the active cycle.
		c, err := s.ActiveCycle()
		if err != nil || c.ID != first {
			t.Fatalf("ActiveCycle after close: got %+v err %v", c, err)
		}

		// An open window wins over an older in-progress cycle.
		second, err := s.CreateCycle(&admission.Cycle{Name: "second", IsOpen: true, MaxSeats: 5})
		if err != nil {
			t.Fatal(err)
		}
		c, err = s.ActiveCycle()
		if err != nil || c.ID != second {
			t.Fatalf("ActiveCycle with open window: got %+v err %v", c, err)
		}
	})
}

func TestStore_ConcurrentWriters(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, err := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		if err != nil {
			t.Fatal(err)
		}
		var ids []int64
		for i := 0; i < 8; i++ {
			id, err := s.CreateApplication(&admission.Application{CycleID: cid, GPA: 3.0})
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, id)
		}
		if _, err := s.BulkSetStatus(cid, admission.StatusSubmitted, admission.StatusFinalized); err != nil {
			t.Fatal(err)
		}

		// Parallel pipeline workers hammer the store with records,
		// attempts, and status changes at once. None of them may come
		// back with a locked database.
		var g errgroup.Group
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				subj := fmt.Sprintf("subj-%d", i)
				if _, err := s.SaveRecord(&admission.AnonymizedRecord{
					ApplicationID: id, SubjectID: subj, GPA: 3.0,
					TestScores: map[string]float64{"math": 70},
				}); err != nil {
					return err
				}
				if _, err := s.SaveAttempt(&admission.EvaluationAttempt{
					SubjectID: subj, Attempt: 1, WeightedTotal: 70,
				}); err != nil {
					return err
				}
				return s.SetApplicationStatus(id, admission.StatusPreprocessing)
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent writes: %v", err)
		}

		apps, err := s.ListApplications(cid, admission.StatusPreprocessing)
		if err != nil || len(apps) != len(ids) {
			t.Fatalf("preprocessing applications = %d err %v, want %d", len(apps), err, len(ids))
		}
	})
}

func TestStore_ApplicationStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, _ := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		id, err := s.CreateApplication(&admission.Application{
			CycleID:    cid,
			GPA:        3.6,
			TestScores: map[string]float64{"math": 88, "verbal": 92},
			Essay:      "why I apply",
		})
		if err != nil {
			t.Fatalf("CreateApplication: %v", err)
		}

		a, err := s.GetApplication(id)
		if err != nil || a == nil || a.Status != admission.StatusSubmitted {
			t.Fatalf("GetApplication: got %+v err %v", a, err)
		}
		if diff := cmp.Diff(map[string]float64{"math": 88, "verbal": 92}, a.TestScores); diff != "" {
			t.Errorf("test scores mismatch (-want +got):\n%s", diff)
		}

		if err := s.SetApplicationStatus(id, admission.StatusScored); err == nil {
			t.Fatal("status skip was accepted")
		}
		if err := s.SetApplicationStatus(id, admission.StatusFinalized); err != nil {
			t.Fatalf("SetApplicationStatus: %v", err)
		}

		if err := s.FailApplication(id, "exceeded max attempts"); err != nil {
			t.Fatalf("FailApplication: %v", err)
		}
		a, _ = s.GetApplication(id)
		if a.Status != admission.StatusFailed || a.FailReason != "exceeded max attempts" {
			t.Errorf("fail not recorded: %+v", a)
		}
		// Failed is absorbing.
		if err := s.SetApplicationStatus(id, admission.StatusFinalized); err == nil {
			t.Fatal("transition out of failed was accepted")
		}
	})
}

func TestStore_BulkSetStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, _ := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		for i := 0; i < 3; i++ {
			_, _ = s.CreateApplication(&admission.Application{CycleID: cid, GPA: 3.0})
		}

		n, err := s.BulkSetStatus(cid, admission.StatusSubmitted, admission.StatusFinalized)
		if err != nil || n != 3 {
			t.Fatalf("BulkSetStatus: n=%d err=%v", n, err)
		}
		apps, _ := s.ListApplications(cid, admission.StatusFinalized)
		if len(apps) != 3 {
			t.Errorf("want 3 finalized, got %d", len(apps))
		}

		if _, err := s.BulkSetStatus(cid, admission.StatusFinalized, admission.StatusScored); err == nil {
			t.Fatal("illegal bulk transition was accepted")
		}
	})
}

func TestStore_Records(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, _ := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		aid, _ := s.CreateApplication(&admission.Application{CycleID: cid, GPA: 3.2})

		rid, err := s.SaveRecord(&admission.AnonymizedRecord{
			ApplicationID: aid, SubjectID: "subj-1", GPA: 3.2,
			TestScores: map[string]float64{"math": 70}, TestAverage: 70, AcademicScore: 80,
		})
		if err != nil || rid == 0 {
			t.Fatalf("SaveRecord: id=%d err=%v", rid, err)
		}
		// One record per application.
		if _, err := s.SaveRecord(&admission.AnonymizedRecord{ApplicationID: aid, SubjectID: "subj-2"}); err == nil {
			t.Fatal("second record for same application was accepted")
		}

		byApp, err := s.RecordByApplication(aid)
		if err != nil || byApp == nil || byApp.SubjectID != "subj-1" {
			t.Fatalf("RecordByApplication: got %+v err %v", byApp, err)
		}
		bySubj, err := s.RecordBySubject("subj-1")
		if err != nil || bySubj == nil || bySubj.ApplicationID != aid {
			t.Fatalf("RecordBySubject: got %+v err %v", bySubj, err)
		}
		recs, err := s.ListRecords(cid)
		if err != nil || len(recs) != 1 {
			t.Fatalf("ListRecords: got %d err %v", len(recs), err)
		}
	})
}

func TestStore_AttemptsVerdictsDecision(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, _ := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		aid, _ := s.CreateApplication(&admission.Application{CycleID: cid, GPA: 3.9})

		attID, err := s.SaveAttempt(&admission.EvaluationAttempt{
			SubjectID: "subj-1", Attempt: 1,
			Scores:        admission.ComponentScores{Academic: 90, Test: 85, Achievement: 70, Essay: 75},
			WeightedTotal: 83.25,
			Explanation:   "strong academics",
			Reasoning:     map[string]string{"academic": "high GPA"},
		})
		if err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
		if _, err := s.SaveVerdict(&admission.ValidationVerdict{
			AttemptID: attID, SubjectID: "subj-1", Approved: false, QualityScore: 40,
			Feedback: "essay score unjustified",
		}); err != nil {
			t.Fatalf("SaveVerdict: %v", err)
		}

		atts, err := s.ListAttempts("subj-1")
		if err != nil || len(atts) != 1 || atts[0].Attempt != 1 {
			t.Fatalf("ListAttempts: got %d err %v", len(atts), err)
		}
		if atts[0].Reasoning["academic"] != "high GPA" {
			t.Errorf("reasoning not round-tripped: %+v", atts[0].Reasoning)
		}
		verds, err := s.ListVerdicts("subj-1")
		if err != nil || len(verds) != 1 || verds[0].Approved || verds[0].Feedback == "" {
			t.Fatalf("ListVerdicts: got %+v err %v", verds, err)
		}

		did, err := s.SaveDecision(&admission.FinalDecision{
			SubjectID: "subj-1", ApplicationID: aid, CycleID: cid,
			Scores:        atts[0].Scores,
			WeightedTotal: 83.25, Attempts: 2,
			Strengths: []string{"academic"}, Improvements: []string{"essay"},
		})
		if err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
		if _, err := s.SaveDecision(&admission.FinalDecision{SubjectID: "subj-1", ApplicationID: aid, CycleID: cid}); err == nil {
			t.Fatal("duplicate decision for subject was accepted")
		}

		if err := s.SetDecisionHash(did, "abc123"); err != nil {
			t.Fatalf("SetDecisionHash: %v", err)
		}
		d, err := s.DecisionBySubject("subj-1")
		if err != nil || d == nil || d.ChainHash != "abc123" || d.Status != admission.StatusScored {
			t.Fatalf("DecisionBySubject: got %+v err %v", d, err)
		}
	})
}

func TestStore_ListDecisionsOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, _ := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		// Same score, different timestamps: earliest wins; then score order.
		seed := []struct {
			subject string
			total   float64
			created string
		}{
			{"s-mid-late", 80, "2026-02-01T10:00:00Z"},
			{"s-top", 95, "2026-02-01T12:00:00Z"},
			{"s-mid-early", 80, "2026-02-01T09:00:00Z"},
		}
		for i, d := range seed {
			if _, err := s.SaveDecision(&admission.FinalDecision{
				SubjectID: d.subject, ApplicationID: int64(i + 1), CycleID: cid,
				WeightedTotal: d.total, CreatedAt: d.created,
			}); err != nil {
				t.Fatalf("SaveDecision %s: %v", d.subject, err)
			}
		}

		got, err := s.ListDecisions(cid)
		if err != nil {
			t.Fatalf("ListDecisions: %v", err)
		}
		var order []string
		for _, d := range got {
			order = append(order, d.SubjectID)
		}
		want := []string{"s-top", "s-mid-early", "s-mid-late"}
		if diff := cmp.Diff(want, order); diff != "" {
			t.Errorf("decision order (-want +got):\n%s", diff)
		}
	})
}

func TestStore_ChainTailGuard(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		if _, err := s.AppendChainEntry(&admission.ChainEntry{
			SubjectID: "s1", DecisionType: "score_decision", Payload: "{}",
			DataHash: "h1", PreviousHash: admission.GenesisHash,
		}); err != nil {
			t.Fatalf("first append: %v", err)
		}

		// A stale previous hash is refused.
		_, err := s.AppendChainEntry(&admission.ChainEntry{
			SubjectID: "s2", DecisionType: "score_decision", Payload: "{}",
			DataHash: "h2", PreviousHash: admission.GenesisHash,
		})
		if !errors.Is(err, admission.ErrChainIntegrity) {
			t.Fatalf("stale append: got %v, want ErrChainIntegrity", err)
		}

		if _, err := s.AppendChainEntry(&admission.ChainEntry{
			SubjectID: "s2", DecisionType: "score_decision", Payload: "{}",
			DataHash: "h2", PreviousHash: "h1",
		}); err != nil {
			t.Fatalf("linked append: %v", err)
		}

		tail, err := s.TailChainEntry()
		if err != nil || tail == nil || tail.DataHash != "h2" {
			t.Fatalf("TailChainEntry: got %+v err %v", tail, err)
		}
		bySubj, err := s.TailChainEntryBySubject("s1")
		if err != nil || bySubj == nil || bySubj.DataHash != "h1" {
			t.Fatalf("TailChainEntryBySubject: got %+v err %v", bySubj, err)
		}
		all, err := s.ListChainEntries()
		if err != nil || len(all) != 2 || all[0].DataHash != "h1" {
			t.Fatalf("ListChainEntries: got %d err %v", len(all), err)
		}
	})
}

func TestStore_InterviewsAndSelectionLogs(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		cid, _ := s.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
		aid, _ := s.CreateApplication(&admission.Application{CycleID: cid, GPA: 3.0})

		if _, err := s.SaveInterview(&admission.Interview{
			ApplicationID: aid, Scores: map[string]float64{"depth": 80}, Completed: false,
		}); err != nil {
			t.Fatalf("SaveInterview: %v", err)
		}
		// Upsert completes the same interview.
		if _, err := s.SaveInterview(&admission.Interview{
			ApplicationID: aid, Scores: map[string]float64{"depth": 80, "fit": 90},
			Completed: true, CompletedAt: "2026-03-01T10:00:00Z",
		}); err != nil {
			t.Fatalf("SaveInterview update: %v", err)
		}
		iv, err := s.InterviewByApplication(aid)
		if err != nil || iv == nil || !iv.Completed || len(iv.Scores) != 2 {
			t.Fatalf("InterviewByApplication: got %+v err %v", iv, err)
		}

		if _, err := s.SaveSelectionLog(&admission.SelectionLog{
			CycleID: cid, Stage: "shortlist", Actor: "admin-1",
			TargetCount: 20, Considered: 35, Selected: 20, CutoffScore: 71.5,
		}); err != nil {
			t.Fatalf("SaveSelectionLog: %v", err)
		}
		logs, err := s.ListSelectionLogs(cid)
		if err != nil || len(logs) != 1 || logs[0].Stage != "shortlist" || logs[0].CutoffScore != 71.5 {
			t.Fatalf("ListSelectionLogs: got %+v err %v", logs, err)
		}
	})
}
