package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cohort/internal/admission"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Manage admission cycles",
}

var cycleCreateFlags struct {
	name       string
	maxSeats   int
	startDate  string
	endDate    string
	resultDate string
}

var cycleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new admission cycle",
	RunE:  runCycleCreate,
}

var cycleIDFlag int64

var cycleFreezeFlags struct {
	cycleID int64
	actor   string
}

var cycleFreezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Close the submission window and finalize applications",
	RunE:  runCycleFreeze,
}

var cycleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a cycle's phase and application counts",
	RunE:  runCycleStatus,
}

var cyclePublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish selection results to applicants",
	RunE:  runCyclePublish,
}

var cycleCompleteFlags struct {
	cycleID int64
	actor   string
}

var cycleCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Close the books on a published cycle",
	RunE:  runCycleComplete,
}

func init() {
	f := cycleCreateCmd.Flags()
	f.StringVar(&cycleCreateFlags.name, "name", "", "Cycle name (required)")
	f.IntVar(&cycleCreateFlags.maxSeats, "max-seats", 0, "Number of seats (required)")
	f.StringVar(&cycleCreateFlags.startDate, "start", "", "Submission window start (RFC 3339)")
	f.StringVar(&cycleCreateFlags.endDate, "end", "", "Submission window end (RFC 3339)")
	f.StringVar(&cycleCreateFlags.resultDate, "results", "", "Planned result date (RFC 3339)")
	_ = cycleCreateCmd.MarkFlagRequired("name")
	_ = cycleCreateCmd.MarkFlagRequired("max-seats")

	for _, c := range []*cobra.Command{cycleStatusCmd, cyclePublishCmd} {
		c.Flags().Int64Var(&cycleIDFlag, "cycle-id", 0, "Cycle DB ID (defaults to the active cycle)")
	}
	cycleFreezeCmd.Flags().Int64Var(&cycleFreezeFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the active cycle)")
	cycleFreezeCmd.Flags().StringVar(&cycleFreezeFlags.actor, "actor", "", "Operator closing the submission window (required)")
	_ = cycleFreezeCmd.MarkFlagRequired("actor")
	cycleCompleteCmd.Flags().Int64Var(&cycleCompleteFlags.cycleID, "cycle-id", 0, "Cycle DB ID (defaults to the active cycle)")
	cycleCompleteCmd.Flags().StringVar(&cycleCompleteFlags.actor, "actor", "", "Operator completing the cycle (required)")
	_ = cycleCompleteCmd.MarkFlagRequired("actor")

	cycleCmd.AddCommand(cycleCreateCmd)
	cycleCmd.AddCommand(cycleFreezeCmd)
	cycleCmd.AddCommand(cycleStatusCmd)
	cycleCmd.AddCommand(cyclePublishCmd)
	cycleCmd.AddCommand(cycleCompleteCmd)
}

func runCycleCreate(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}

	c, err := eng.Create(cycleCreateFlags.name, cycleCreateFlags.maxSeats,
		cycleCreateFlags.startDate, cycleCreateFlags.endDate, cycleCreateFlags.resultDate)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created cycle #%d %q with %d seats\n", c.ID, c.Name, c.MaxSeats)
	return nil
}

func runCycleFreeze(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, cycleFreezeFlags.cycleID)
	if err != nil {
		return err
	}

	n, err := eng.Freeze(c.ID, cycleFreezeFlags.actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cycle #%d frozen, %d applications finalized\n", c.ID, n)
	return nil
}

func runCycleStatus(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	c, err := resolveCycle(st, cycleIDFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cycle:   #%d %s\n", c.ID, c.Name)
	fmt.Fprintf(out, "Phase:   %s\n", c.Phase)
	fmt.Fprintf(out, "Seats:   %d (selected %d)\n", c.MaxSeats, c.SelectedCount)
	if !c.IsOpen {
		fmt.Fprintf(out, "Closed:  by %s at %s\n", c.ClosedBy, c.ClosedAt)
	}

	statuses := []admission.Status{
		admission.StatusSubmitted, admission.StatusFinalized,
		admission.StatusPreprocessing, admission.StatusBatchReady,
		admission.StatusProcessing, admission.StatusScored,
		admission.StatusShortlisted, admission.StatusSelected,
		admission.StatusNotSelected, admission.StatusPublished,
		admission.StatusFailed,
	}
	fmt.Fprintf(out, "Applications:\n")
	for _, s := range statuses {
		apps, err := st.ListApplications(c.ID, s)
		if err != nil {
			return err
		}
		if len(apps) > 0 {
			fmt.Fprintf(out, "  %-14s %d\n", s, len(apps))
		}
	}
	return nil
}

func runCyclePublish(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, cycleIDFlag)
	if err != nil {
		return err
	}

	n, err := eng.PublishResults(c.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %d results for cycle #%d\n", n, c.ID)
	return nil
}

func runCycleComplete(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, _, err := buildEngine(st, nil)
	if err != nil {
		return err
	}
	c, err := resolveCycle(st, cycleCompleteFlags.cycleID)
	if err != nil {
		return err
	}

	if err := eng.CompleteCycle(c.ID, cycleCompleteFlags.actor); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cycle #%d completed\n", c.ID)
	return nil
}
