package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cohort/internal/admission"
)

var submitFlags struct {
	cycleID      int64
	gpa          float64
	testScores   []string
	essayFile    string
	achievements string
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "File an application into the open cycle",
	RunE:  runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.Int64Var(&submitFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	f.Float64Var(&submitFlags.gpa, "gpa", 0, "GPA on a 4.0 scale (required)")
	f.StringArrayVar(&submitFlags.testScores, "test", nil, "Test score as name=value (repeatable)")
	f.StringVar(&submitFlags.essayFile, "essay-file", "", "Path to the essay text")
	f.StringVar(&submitFlags.achievements, "achievements", "", "Achievements summary")
	_ = submitCmd.MarkFlagRequired("gpa")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	if submitFlags.gpa < 0 || submitFlags.gpa > 4.0 {
		return fmt.Errorf("gpa %.2f out of the 0-4.0 range", submitFlags.gpa)
	}
	scores, err := parseTestScores(submitFlags.testScores)
	if err != nil {
		return err
	}
	var essay string
	if submitFlags.essayFile != "" {
		data, err := os.ReadFile(submitFlags.essayFile)
		if err != nil {
			return fmt.Errorf("read essay: %w", err)
		}
		essay = string(data)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, submitFlags.cycleID)
	if err != nil {
		return err
	}

	id, err := eng.Submit(c.ID, &admission.Application{
		GPA:          submitFlags.gpa,
		TestScores:   scores,
		Essay:        essay,
		Achievements: submitFlags.achievements,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Application #%d submitted to cycle #%d\n", id, c.ID)
	return nil
}
