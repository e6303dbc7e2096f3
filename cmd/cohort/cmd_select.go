package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"cohort/internal/admission"
	"cohort/internal/selection"
)

var shortlistFlags struct {
	cycleID int64
	actor   string
}

var shortlistCmd = &cobra.Command{
	Use:   "shortlist",
	Short: "Shortlist the top scored applications for interviews",
	RunE:  runShortlist,
}

var finalSelectFlags struct {
	cycleID int64
	actor   string
}

var finalSelectCmd = &cobra.Command{
	Use:   "final-select",
	Short: "Fill the seats from the interviewed shortlist",
	RunE:  runFinalSelect,
}

var interviewFlags struct {
	applicationID int64
	scores        []string
}

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Record a completed interview for a shortlisted application",
	RunE:  runInterview,
}

func init() {
	shortlistCmd.Flags().Int64Var(&shortlistFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	shortlistCmd.Flags().StringVar(&shortlistFlags.actor, "actor", "", "Operator performing the pass (required)")
	_ = shortlistCmd.MarkFlagRequired("actor")

	finalSelectCmd.Flags().Int64Var(&finalSelectFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	finalSelectCmd.Flags().StringVar(&finalSelectFlags.actor, "actor", "", "Operator performing the pass (required)")
	_ = finalSelectCmd.MarkFlagRequired("actor")

	f := interviewCmd.Flags()
	f.Int64Var(&interviewFlags.applicationID, "application-id", 0, "Application DB ID (required)")
	f.StringArrayVar(&interviewFlags.scores, "score", nil, "Interview sub-score as name=value (repeatable, required)")
	_ = interviewCmd.MarkFlagRequired("application-id")
	_ = interviewCmd.MarkFlagRequired("score")
}

func printOutcome(cmd *cobra.Command, out *selection.Outcome) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Selection pass %q recorded (log #%d)\n", out.Stage, out.LogID)
	fmt.Fprintf(w, "  considered: %d\n", out.Considered)
	fmt.Fprintf(w, "  selected:   %d\n", out.Selected)
	fmt.Fprintf(w, "  rejected:   %d\n", out.Rejected)
	fmt.Fprintf(w, "  cutoff:     %.2f\n", out.CutoffScore)
}

func runShortlist(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, shortlistFlags.cycleID)
	if err != nil {
		return err
	}

	out, err := eng.PerformSelection(c.ID, shortlistFlags.actor)
	if err != nil {
		return err
	}
	printOutcome(cmd, out)
	return nil
}

func runFinalSelect(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, finalSelectFlags.cycleID)
	if err != nil {
		return err
	}

	out, err := eng.PerformFinalSelection(c.ID, finalSelectFlags.actor)
	if err != nil {
		return err
	}
	printOutcome(cmd, out)
	return nil
}

func runInterview(cmd *cobra.Command, _ []string) error {
	scores := make(map[string]float64, len(interviewFlags.scores))
	for _, pair := range interviewFlags.scores {
		parsed, err := parseTestScores([]string{pair})
		if err != nil {
			return err
		}
		for k, v := range parsed {
			if v < 0 || v > 100 {
				return fmt.Errorf("interview score %s=%.1f out of the 0-100 range", k, v)
			}
			scores[k] = v
		}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := st.GetApplication(interviewFlags.applicationID)
	if err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("application #%d not found", interviewFlags.applicationID)
	}
	if app.Status != admission.StatusShortlisted {
		return fmt.Errorf("application #%d is %s, only shortlisted applications are interviewed", app.ID, app.Status)
	}

	iv := &admission.Interview{
		ApplicationID: app.ID,
		Scores:        scores,
		Completed:     true,
	}
	if _, err := st.SaveInterview(iv); err != nil {
		return err
	}

	names := make([]string, 0, len(scores))
	for k := range scores {
		names = append(names, k)
	}
	sort.Strings(names)
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Interview recorded for application #%d (mean %.2f)\n", app.ID, iv.Mean())
	for _, k := range names {
		fmt.Fprintf(w, "  %s: %.1f\n", k, scores[k])
	}
	return nil
}
