// Package batchio moves anonymized records out to an external batch
// evaluator and results back in, one JSON object per line. Lines are
// keyed by subject id only; nothing in an export file can identify an
// applicant.
package batchio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"cohort/internal/admission"
)

// MeritFields is the evaluable slice of an anonymized record.
type MeritFields struct {
	GPA           float64            `json:"gpa"`
	TestScores    map[string]float64 `json:"test_scores"`
	TestAverage   float64            `json:"test_average"`
	AcademicScore float64            `json:"academic_score"`
	Essay         string             `json:"essay"`
	Achievements  string             `json:"achievements"`
}

// ExportLine is one record in an export file.
type ExportLine struct {
	SubjectID       string      `json:"subject_id"`
	MeritFields     MeritFields `json:"merit_fields"`
	GeneratedPrompt string      `json:"generated_prompt"`
}

// ResultLine is one scored record in an import file.
type ResultLine struct {
	SubjectID    string                    `json:"subject_id"`
	Scores       admission.ComponentScores `json:"scores"`
	Explanation  string                    `json:"explanation"`
	Strengths    []string                  `json:"strengths"`
	Improvements []string                  `json:"improvements"`
}

// Export writes one line per record, ordered by subject id so exports
// of the same pool are byte-identical.
func Export(w io.Writer, recs []*admission.AnonymizedRecord) (int, error) {
	sorted := make([]*admission.AnonymizedRecord, len(recs))
	copy(sorted, recs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubjectID < sorted[j].SubjectID })

	enc := json.NewEncoder(w)
	for i, rec := range sorted {
		line := ExportLine{
			SubjectID: rec.SubjectID,
			MeritFields: MeritFields{
				GPA:           rec.GPA,
				TestScores:    rec.TestScores,
				TestAverage:   rec.TestAverage,
				AcademicScore: rec.AcademicScore,
				Essay:         rec.Essay,
				Achievements:  rec.Achievements,
			},
			GeneratedPrompt: Prompt(rec),
		}
		if err := enc.Encode(line); err != nil {
			return i, fmt.Errorf("encode line %d: %w", i+1, err)
		}
	}
	return len(sorted), nil
}

// Prompt renders the rubric instruction for one record. The text
// never mentions identity; the evaluator sees merit fields only.
func Prompt(rec *admission.AnonymizedRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score candidate %s on four rubric categories (academic, test, achievement, essay), each 0-100.\n", rec.SubjectID)
	fmt.Fprintf(&b, "GPA %.2f of 4.0 (academic metric %.1f). Test average %.1f.\n", rec.GPA, rec.AcademicScore, rec.TestAverage)
	fmt.Fprintf(&b, "Achievements: %s\n", rec.Achievements)
	fmt.Fprintf(&b, "Essay: %s\n", rec.Essay)
	b.WriteString("Return scores with a short explanation for each category. Judge the material alone; do not infer identity, origin, or background.")
	return b.String()
}

// Import parses a result file into a map keyed by subject id. Blank
// lines are skipped; a duplicate subject id or a score outside [0,100]
// fails the whole import, since a partial batch cannot be told apart
// from a truncated one.
func Import(r io.Reader) (map[string]*ResultLine, error) {
	out := make(map[string]*ResultLine)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var line ResultLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.SubjectID == "" {
			return nil, fmt.Errorf("line %d: missing subject_id", lineNo)
		}
		if _, dup := out[line.SubjectID]; dup {
			return nil, fmt.Errorf("line %d: duplicate subject %s", lineNo, line.SubjectID)
		}
		if err := checkScores(line.Scores); err != nil {
			return nil, fmt.Errorf("line %d: subject %s: %w", lineNo, line.SubjectID, err)
		}
		out[line.SubjectID] = &line
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return out, nil
}

func checkScores(s admission.ComponentScores) error {
	for name, v := range map[string]float64{
		"academic": s.Academic, "test": s.Test,
		"achievement": s.Achievement, "essay": s.Essay,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s score %.2f out of range", name, v)
		}
	}
	return nil
}
