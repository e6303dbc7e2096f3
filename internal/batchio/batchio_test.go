package batchio

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cohort/internal/admission"
)

func sampleRecords() []*admission.AnonymizedRecord {
	return []*admission.AnonymizedRecord{
		{SubjectID: "b-subject", GPA: 3.8, TestScores: map[string]float64{"math": 92}, TestAverage: 92, AcademicScore: 95, Essay: "essay two", Achievements: "chess champion"},
		{SubjectID: "a-subject", GPA: 3.1, TestScores: map[string]float64{"math": 70}, TestAverage: 70, AcademicScore: 77.5, Essay: "essay one", Achievements: "debate club"},
	}
}

func TestExport_DeterministicOrder(t *testing.T) {
	var first, second bytes.Buffer
	if n, err := Export(&first, sampleRecords()); err != nil || n != 2 {
		t.Fatalf("export: n=%d err=%v", n, err)
	}
	recs := sampleRecords()
	recs[0], recs[1] = recs[1], recs[0]
	if _, err := Export(&second, recs); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Error("export order depends on input order")
	}

	lines := strings.Split(strings.TrimSpace(first.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"subject_id":"a-subject"`) {
		t.Errorf("first line not the lowest subject id: %s", lines[0])
	}
	if !strings.Contains(first.String(), "debate") {
		t.Error("merit fields missing from export")
	}
}

func TestImport_RoundTrip(t *testing.T) {
	in := `{"subject_id":"a-subject","scores":{"academic":80,"test":70,"achievement":60,"essay":75},"explanation":"solid","strengths":["academic"],"improvements":["achievement"]}

{"subject_id":"b-subject","scores":{"academic":95,"test":92,"achievement":85,"essay":88},"explanation":"excellent"}
`
	got, err := Import(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]*ResultLine{
		"a-subject": {
			SubjectID:    "a-subject",
			Scores:       admission.ComponentScores{Academic: 80, Test: 70, Achievement: 60, Essay: 75},
			Explanation:  "solid",
			Strengths:    []string{"academic"},
			Improvements: []string{"achievement"},
		},
		"b-subject": {
			SubjectID:   "b-subject",
			Scores:      admission.ComponentScores{Academic: 95, Test: 92, Achievement: 85, Essay: 88},
			Explanation: "excellent",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("imported results (-want +got):\n%s", diff)
	}
}

func TestImport_Rejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"malformed json", `{"subject_id":`},
		{"missing subject", `{"scores":{"academic":50}}`},
		{"duplicate subject", `{"subject_id":"x","scores":{}}` + "\n" + `{"subject_id":"x","scores":{}}`},
		{"score above range", `{"subject_id":"x","scores":{"academic":101}}`},
		{"score below range", `{"subject_id":"x","scores":{"test":-1}}`},
	}
	for _, tc := range cases {
		if _, err := Import(strings.NewReader(tc.in)); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}

func TestPrompt_NeverLeaksBeyondMerit(t *testing.T) {
	rec := sampleRecords()[0]
	p := Prompt(rec)
	for _, want := range []string{rec.SubjectID, "chess champion", "essay two"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEvaluator_ServesBatchResults(t *testing.T) {
	results := map[string]*ResultLine{
		"a-subject": {SubjectID: "a-subject", Scores: admission.ComponentScores{Academic: 80}, Explanation: "solid"},
	}
	ev := NewEvaluator(results)
	rec := &admission.AnonymizedRecord{SubjectID: "a-subject"}

	att, err := ev.Evaluate(context.Background(), rec, 1, "")
	if err != nil || att.Scores.Academic != 80 || att.Explanation != "solid" {
		t.Fatalf("att=%+v err=%v", att, err)
	}

	att, err = ev.Evaluate(context.Background(), rec, 2, "needs detail")
	if err != nil || !strings.Contains(att.Explanation, "needs detail") {
		t.Fatalf("retry att=%+v err=%v", att, err)
	}

	if _, err := ev.Evaluate(context.Background(), &admission.AnonymizedRecord{SubjectID: "ghost"}, 1, ""); err == nil {
		t.Error("unknown subject accepted")
	}
}
