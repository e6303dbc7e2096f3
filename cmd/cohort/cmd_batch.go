package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cohort/internal/admission"
	"cohort/internal/batchio"
)

var exportFlags struct {
	cycleID int64
	out     string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export anonymized records as a JSONL evaluation batch",
	RunE:  runExport,
}

var importFlags struct {
	in string
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Validate a JSONL batch result file",
	Long: "Parses a result file and reports what it covers. The results are\n" +
		"applied during 'cohort process --results <file>'.",
	RunE: runImport,
}

func init() {
	f := exportCmd.Flags()
	f.Int64Var(&exportFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the open cycle)")
	f.StringVar(&exportFlags.out, "out", "", "Output path (stdout when empty)")

	importCmd.Flags().StringVar(&importFlags.in, "in", "", "Result file path (required)")
	_ = importCmd.MarkFlagRequired("in")
}

func runExport(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	c, err := resolveCycle(st, exportFlags.cycleID)
	if err != nil {
		return err
	}
	if c.Phase != admission.PhaseBatchPrep {
		return &admission.PhaseError{Op: "export", CycleID: c.ID, Current: c.Phase, Required: admission.PhaseBatchPrep}
	}

	recs, err := st.ListRecords(c.ID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if exportFlags.out != "" {
		f, err := os.Create(exportFlags.out)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportFlags.out, err)
		}
		defer f.Close()
		w = f
	}
	n, err := batchio.Export(w, recs)
	if err != nil {
		return err
	}
	if exportFlags.out != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, exportFlags.out)
	}
	return nil
}

func runImport(cmd *cobra.Command, _ []string) error {
	f, err := os.Open(importFlags.in)
	if err != nil {
		return fmt.Errorf("open %s: %w", importFlags.in, err)
	}
	defer f.Close()

	results, err := batchio.Import(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Result file OK: %d subjects scored\n", len(results))
	return nil
}
