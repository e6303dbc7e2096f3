package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cohort/internal/pipeline"
)

var preprocessFlags struct {
	cycleID int64
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Anonymize finalized applications and compute metrics",
	RunE:  runPreprocess,
}

var batchPrepFlags struct {
	cycleID int64
}

var batchPrepCmd = &cobra.Command{
	Use:   "batch-prep",
	Short: "Confirm the batch-ready pool and enter batch preparation",
	RunE:  runBatchPrep,
}

var processFlags struct {
	cycleID int64
	results string
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the evaluation pipeline over pending applications",
	Long: "Runs scrub, evaluate, validate, score, and ledger append for every\n" +
		"application awaiting processing. With --results the evaluator replays\n" +
		"an imported batch file instead of scoring locally.",
	RunE: runProcess,
}

var markScoredFlags struct {
	cycleID int64
}

var markScoredCmd = &cobra.Command{
	Use:   "mark-scored",
	Short: "Advance the cycle once no application is still processing",
	RunE:  runMarkScored,
}

func init() {
	preprocessCmd.Flags().Int64Var(&preprocessFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	batchPrepCmd.Flags().Int64Var(&batchPrepFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	markScoredCmd.Flags().Int64Var(&markScoredFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")

	f := processCmd.Flags()
	f.Int64Var(&processFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	f.StringVar(&processFlags.results, "results", "", "JSONL batch results to replay as evaluations")
}

func runPreprocess(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, preprocessFlags.cycleID)
	if err != nil {
		return err
	}

	n, err := eng.StartPreprocessing(cmd.Context(), c.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Preprocessed cycle #%d, %d applications batch-ready\n", c.ID, n)
	return nil
}

func runBatchPrep(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, batchPrepFlags.cycleID)
	if err != nil {
		return err
	}

	n, err := eng.StartBatchPrep(c.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cycle #%d in batch prep with %d applications\n", c.ID, n)
	fmt.Fprintf(cmd.OutOrStdout(), "Run 'cohort export' to produce the evaluation batch.\n")
	return nil
}

func runProcess(cmd *cobra.Command, _ []string) error {
	var eval pipeline.Evaluator
	if processFlags.results != "" {
		var err error
		eval, err = loadResults(processFlags.results)
		if err != nil {
			return err
		}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, eval)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, processFlags.cycleID)
	if err != nil {
		return err
	}

	report, err := eng.StartProcessing(cmd.Context(), c.ID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processed cycle #%d\n", report.CycleID)
	fmt.Fprintf(out, "  total:     %d\n", report.Total)
	fmt.Fprintf(out, "  completed: %d\n", report.Completed)
	fmt.Fprintf(out, "  failed:    %d\n", report.Failed)
	fmt.Fprintf(out, "  attempts:  %d\n", report.Attempts)
	return nil
}

func runMarkScored(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, markScoredFlags.cycleID)
	if err != nil {
		return err
	}

	if err := eng.MarkScored(c.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cycle #%d marked scored\n", c.ID)
	return nil
}
