package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cohort/internal/config"
	"cohort/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

// cfg is loaded once in the persistent pre-run and shared by every
// subcommand.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Blind admissions workflow engine",
	Long: "Cohort runs an admission cycle end to end: anonymized evaluation\n" +
		"with bounded retries, a hash-chained decision ledger, and\n" +
		"deterministic top-K selection.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logging.Init(level, cfg.Log.Format, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "Path to YAML config (defaults apply when empty)")

	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(preprocessCmd)
	rootCmd.AddCommand(batchPrepCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(markScoredCmd)
	rootCmd.AddCommand(shortlistCmd)
	rootCmd.AddCommand(finalSelectCmd)
	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
