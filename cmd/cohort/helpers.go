package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cohort/internal/admission"
	"cohort/internal/batchio"
	"cohort/internal/cycle"
	"cohort/internal/ledger"
	"cohort/internal/pipeline"
	"cohort/internal/selection"
	"cohort/internal/store"
)

// openStore opens the configured SQLite store. Callers own Close.
func openStore() (store.Store, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.StorePath, err)
	}
	return st, nil
}

// buildEngine wires the cycle engine over st. eval nil means the
// deterministic stub evaluator.
func buildEngine(st store.Store, eval pipeline.Evaluator) (*cycle.Engine, *ledger.Ledger, error) {
	chain := ledger.New(st)
	if eval == nil {
		eval = pipeline.StubEvaluator{}
	}
	runner, err := pipeline.NewRunner(st, chain,
		pipeline.StubScrubber{}, eval, pipeline.StubValidator{}, nil,
		pipeline.Config{
			MaxAttempts: cfg.MaxAttempts,
			Weights:     cfg.Weights,
			Retry: pipeline.RetryPolicy{
				MaxRetries: cfg.Retry.MaxRetries,
				BaseDelay:  cfg.Retry.BaseDelay(),
				MaxDelay:   cfg.Retry.MaxDelay(),
			},
		})
	if err != nil {
		return nil, nil, err
	}
	return cycle.New(st, cfg, runner, selection.New(st), pipeline.StubScrubber{}), chain, nil
}

// resolveCycle returns the cycle with the given id, or the active
// cycle (open, else most recent in progress) when id is zero.
func resolveCycle(st store.Store, id int64) (*admission.Cycle, error) {
	if id != 0 {
		c, err := st.GetCycle(id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("cycle #%d not found", id)
		}
		return c, nil
	}
	return st.ActiveCycle()
}

// parseTestScores parses repeated name=score flags.
func parseTestScores(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for _, pair := range raw {
		name, val, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("test score %q must be name=value", pair)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("test score %q: %w", pair, err)
		}
		out[name] = f
	}
	return out, nil
}

// loadResults reads a JSONL batch result file into an evaluator.
func loadResults(path string) (*batchio.Evaluator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results %s: %w", path, err)
	}
	defer f.Close()
	results, err := batchio.Import(f)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("results file %s is empty", path)
	}
	return batchio.NewEvaluator(results), nil
}
