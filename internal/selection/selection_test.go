package selection

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cohort/internal/admission"
	"cohort/internal/store"
)

// seedDecision creates an application in the given status plus a
// matching final decision.
func seedDecision(t *testing.T, st store.Store, cycleID int64, subject string, total float64, created string, status admission.Status) int64 {
	t.Helper()
	appID, err := st.CreateApplication(&admission.Application{
		CycleID: cycleID, Status: status, GPA: 3.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveDecision(&admission.FinalDecision{
		SubjectID: subject, ApplicationID: appID, CycleID: cycleID,
		WeightedTotal: total, CreatedAt: created, Status: status,
	}); err != nil {
		t.Fatal(err)
	}
	return appID
}

func decisionStatuses(t *testing.T, st store.Store, cycleID int64) map[string]admission.Status {
	t.Helper()
	decisions, err := st.ListDecisions(cycleID)
	if err != nil {
		t.Fatal(err)
	}
	out := map[string]admission.Status{}
	for _, d := range decisions {
		out[d.SubjectID] = d.Status
	}
	return out
}

func TestShortlist_TopKWithTieBreak(t *testing.T) {
	st := store.NewMemStore()
	cid, _ := st.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 2})

	seedDecision(t, st, cid, "high", 92, "2026-02-01T12:00:00Z", admission.StatusScored)
	// Two 85s: the earlier-scored one must win the last slot.
	seedDecision(t, st, cid, "tie-late", 85, "2026-02-01T11:00:00Z", admission.StatusScored)
	seedDecision(t, st, cid, "tie-early", 85, "2026-02-01T09:00:00Z", admission.StatusScored)
	seedDecision(t, st, cid, "low", 60, "2026-02-01T08:00:00Z", admission.StatusScored)

	out, err := New(st).Shortlist(cid, 2, "admin-1")
	if err != nil {
		t.Fatalf("Shortlist: %v", err)
	}
	if out.Selected != 2 || out.Rejected != 2 || out.Considered != 4 {
		t.Errorf("outcome: %+v", out)
	}
	if out.CutoffScore != 85 {
		t.Errorf("cutoff = %v, want 85", out.CutoffScore)
	}

	want := map[string]admission.Status{
		"high":      admission.StatusShortlisted,
		"tie-early": admission.StatusShortlisted,
		"tie-late":  admission.StatusNotSelected,
		"low":       admission.StatusNotSelected,
	}
	if diff := cmp.Diff(want, decisionStatuses(t, st, cid)); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}

	logs, _ := st.ListSelectionLogs(cid)
	if len(logs) != 1 || logs[0].Stage != "shortlist" || logs[0].CutoffScore != 85 || logs[0].Actor != "admin-1" {
		t.Errorf("selection log: %+v", logs)
	}
}

func TestShortlist_UnionCoversAllScored(t *testing.T) {
	st := store.NewMemStore()
	cid, _ := st.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 3})
	for i := 0; i < 7; i++ {
		seedDecision(t, st, cid, fmt.Sprintf("s%d", i), float64(50+i), fmt.Sprintf("2026-02-01T0%d:00:00Z", i), admission.StatusScored)
	}

	if _, err := New(st).Shortlist(cid, 3, "admin"); err != nil {
		t.Fatal(err)
	}
	shortlisted, notSelected := 0, 0
	for _, s := range decisionStatuses(t, st, cid) {
		switch s {
		case admission.StatusShortlisted:
			shortlisted++
		case admission.StatusNotSelected:
			notSelected++
		default:
			t.Errorf("decision left in status %s", s)
		}
	}
	if shortlisted != 3 || notSelected != 4 {
		t.Errorf("shortlisted=%d notSelected=%d, want 3 and 4", shortlisted, notSelected)
	}
}

func TestShortlist_TargetLargerThanPool(t *testing.T) {
	st := store.NewMemStore()
	cid, _ := st.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
	seedDecision(t, st, cid, "only", 70, "2026-02-01T09:00:00Z", admission.StatusScored)

	out, err := New(st).Shortlist(cid, 5, "admin")
	if err != nil || out.Selected != 1 || out.Rejected != 0 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestShortlist_EmptyCycle(t *testing.T) {
	st := store.NewMemStore()
	cid, _ := st.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 10})
	if _, err := New(st).Shortlist(cid, 5, "admin"); err == nil {
		t.Fatal("shortlist over empty cycle should fail")
	}
}

func TestFinalSelect_InterviewGate(t *testing.T) {
	st := store.NewMemStore()
	cid, _ := st.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 2})

	// Shortlisted with interviews of varying strength.
	strongApp := seedDecision(t, st, cid, "strong", 90, "2026-02-01T09:00:00Z", admission.StatusShortlisted)
	midApp := seedDecision(t, st, cid, "mid", 88, "2026-02-01T10:00:00Z", admission.StatusShortlisted)
	weakApp := seedDecision(t, st, cid, "weak", 95, "2026-02-01T08:00:00Z", admission.StatusShortlisted)
	// Shortlisted but never interviewed: ineligible regardless of score.
	seedDecision(t, st, cid, "ghost", 99, "2026-02-01T07:00:00Z", admission.StatusShortlisted)
	// Not shortlisted: out of scope for final selection.
	seedDecision(t, st, cid, "cut", 40, "2026-02-01T11:00:00Z", admission.StatusNotSelected)

	for app, scores := range map[int64]map[string]float64{
		strongApp: {"depth": 90, "fit": 80},
		midApp:    {"depth": 75, "fit": 85},
		weakApp:   {"depth": 50, "fit": 60},
	} {
		if _, err := st.SaveInterview(&admission.Interview{
			ApplicationID: app, Scores: scores, Completed: true, CompletedAt: "2026-03-01T10:00:00Z",
		}); err != nil {
			t.Fatal(err)
		}
	}

	out, err := New(st).FinalSelect(cid, 2, "admin-2")
	if err != nil {
		t.Fatalf("FinalSelect: %v", err)
	}
	if out.Selected != 2 || out.Rejected != 2 || out.Considered != 4 {
		t.Errorf("outcome: %+v", out)
	}
	if out.CutoffScore != 80 { // mid's interview mean
		t.Errorf("cutoff = %v, want 80", out.CutoffScore)
	}

	want := map[string]admission.Status{
		"strong": admission.StatusSelected,
		"mid":    admission.StatusSelected,
		"weak":   admission.StatusNotSelected,
		"ghost":  admission.StatusNotSelected,
		"cut":    admission.StatusNotSelected,
	}
	if diff := cmp.Diff(want, decisionStatuses(t, st, cid)); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}

	c, _ := st.GetCycle(cid)
	if c.SelectedCount != 2 {
		t.Errorf("cycle selected count = %d, want 2", c.SelectedCount)
	}
	logs, _ := st.ListSelectionLogs(cid)
	if len(logs) != 1 || logs[0].Stage != "final" {
		t.Errorf("selection log: %+v", logs)
	}
}

func TestFinalSelect_InterviewTieBreaksByDecisionTime(t *testing.T) {
	st := store.NewMemStore()
	cid, _ := st.CreateCycle(&admission.Cycle{Name: "c", MaxSeats: 1})

	early := seedDecision(t, st, cid, "early", 80, "2026-02-01T08:00:00Z", admission.StatusShortlisted)
	late := seedDecision(t, st, cid, "late", 90, "2026-02-01T09:00:00Z", admission.StatusShortlisted)
	for _, app := range []int64{early, late} {
		if _, err := st.SaveInterview(&admission.Interview{
			ApplicationID: app, Scores: map[string]float64{"depth": 85}, Completed: true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := New(st).FinalSelect(cid, 1, "admin"); err != nil {
		t.Fatal(err)
	}
	got := decisionStatuses(t, st, cid)
	if got["early"] != admission.StatusSelected || got["late"] != admission.StatusNotSelected {
		t.Errorf("tie-break by earliest decision failed: %v", got)
	}
}
