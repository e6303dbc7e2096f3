// Package cycle drives an admission cycle through its phases:
// submission, freeze, preprocessing, batch prep, parallel processing,
// scoring, the two selection passes, publication, and closure. Every
// operation checks the cycle's phase before acting and advances it
// with a conditional update, so two operators racing the same step get
// one winner and one version conflict instead of a double run.
package cycle

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"cohort/internal/admission"
	"cohort/internal/config"
	"cohort/internal/logging"
	"cohort/internal/pipeline"
	"cohort/internal/selection"
	"cohort/internal/store"
)

// Engine owns cycle phase transitions and the work performed inside
// each phase.
type Engine struct {
	st       store.Store
	cfg      *config.Config
	runner   *pipeline.Runner
	sel      *selection.Engine
	scrubber pipeline.Scrubber
	log      *slog.Logger
}

// New wires the cycle engine. The scrubber is the same collaborator
// the pipeline uses; preprocessing invokes it ahead of time so batch
// prep only ever sees anonymized records.
func New(st store.Store, cfg *config.Config, runner *pipeline.Runner, sel *selection.Engine, scrubber pipeline.Scrubber) *Engine {
	return &Engine{
		st: st, cfg: cfg, runner: runner, sel: sel, scrubber: scrubber,
		log: logging.New("cycle"),
	}
}

// Create opens a new cycle in the submission phase. The store refuses
// a second open cycle.
func (e *Engine) Create(name string, maxSeats int, startDate, endDate, resultDate string) (*admission.Cycle, error) {
	if name == "" {
		return nil, fmt.Errorf("cycle name must not be empty")
	}
	if maxSeats < 1 {
		return nil, fmt.Errorf("max seats must be positive, got %d", maxSeats)
	}
	c := &admission.Cycle{
		Name:       name,
		Phase:      admission.PhaseSubmission,
		IsOpen:     true,
		MaxSeats:   maxSeats,
		StartDate:  startDate,
		EndDate:    endDate,
		ResultDate: resultDate,
	}
	id, err := e.st.CreateCycle(c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	e.log.Info("cycle created", "cycle_id", id, "name", name, "max_seats", maxSeats)
	return c, nil
}

// Submit files one application into a cycle still accepting
// submissions.
func (e *Engine) Submit(cycleID int64, app *admission.Application) (int64, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return 0, err
	}
	if c.Phase != admission.PhaseSubmission {
		return 0, &admission.PhaseError{Op: "submit", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseSubmission}
	}
	app.CycleID = cycleID
	app.Status = admission.StatusSubmitted
	id, err := e.st.CreateApplication(app)
	if err != nil {
		return 0, err
	}
	e.log.Info("application submitted", "cycle_id", cycleID, "application_id", id)
	return id, nil
}

// Freeze closes the submission window: the cycle is marked closed with
// the closing actor and time, every submitted application is finalized
// in one atomic move, and late submissions are rejected by the phase
// check from then on. Closing the window here frees the slot for the
// next cycle while this one is still being processed.
func (e *Engine) Freeze(cycleID int64, actor string) (int, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return 0, err
	}
	if c.Phase != admission.PhaseSubmission {
		return 0, &admission.PhaseError{Op: "freeze", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseSubmission}
	}
	if err := e.st.AdvancePhase(cycleID, admission.PhaseSubmission, admission.PhaseFrozen); err != nil {
		return 0, err
	}
	if err := e.st.CloseCycle(cycleID, actor); err != nil {
		return 0, err
	}
	n, err := e.st.BulkSetStatus(cycleID, admission.StatusSubmitted, admission.StatusFinalized)
	if err != nil {
		return 0, err
	}
	e.log.Info("cycle frozen", "cycle_id", cycleID, "closed_by", actor, "finalized", n)
	return n, nil
}

// StartPreprocessing anonymizes every finalized application and
// computes its deterministic metrics. The phase advances before any
// application is touched, so a concurrent second call fails fast on
// the version conflict. One bad application fails alone; the batch
// continues. At least one application must survive.
func (e *Engine) StartPreprocessing(ctx context.Context, cycleID int64) (int, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return 0, err
	}
	if c.Phase != admission.PhaseFrozen {
		return 0, &admission.PhaseError{Op: "preprocess", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseFrozen}
	}
	if err := e.st.AdvancePhase(cycleID, admission.PhaseFrozen, admission.PhasePreprocessing); err != nil {
		return 0, err
	}

	apps, err := e.st.ListApplications(cycleID, admission.StatusFinalized)
	if err != nil {
		return 0, err
	}
	ready := 0
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return ready, err
		}
		if err := e.preprocessOne(ctx, app); err != nil {
			e.log.Warn("preprocessing failed, application excluded",
				"application_id", app.ID, "error", err)
			if ferr := e.st.FailApplication(app.ID, err.Error()); ferr != nil {
				return ready, ferr
			}
			continue
		}
		ready++
	}
	if ready == 0 {
		return 0, fmt.Errorf("preprocessing cycle #%d: no applications survived", cycleID)
	}
	e.log.Info("preprocessing done", "cycle_id", cycleID, "ready", ready, "failed", len(apps)-ready)
	return ready, nil
}

// preprocessOne computes metrics, scrubs once, and moves the
// application to batch-ready.
func (e *Engine) preprocessOne(ctx context.Context, app *admission.Application) error {
	if err := e.st.SetApplicationStatus(app.ID, admission.StatusPreprocessing); err != nil {
		return err
	}

	app.TestAverage = testAverage(app.TestScores)
	app.AcademicScore = academicScore(app.GPA)
	if err := e.st.SetApplicationMetrics(app.ID, app.TestAverage, app.AcademicScore); err != nil {
		return err
	}

	existing, err := e.st.RecordByApplication(app.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		rec, err := e.scrubber.Scrub(ctx, app)
		if err != nil {
			return fmt.Errorf("scrub: %w", err)
		}
		rec.ApplicationID = app.ID
		rec.TestAverage = app.TestAverage
		rec.AcademicScore = app.AcademicScore
		if _, err := e.st.SaveRecord(rec); err != nil {
			return err
		}
	}

	return e.st.SetApplicationStatus(app.ID, admission.StatusBatchReady)
}

// testAverage is the arithmetic mean over the applicant's test scores,
// zero when none were reported.
func testAverage(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

// academicScore maps a 4.0-scale GPA onto the 0-100 rubric scale.
func academicScore(gpa float64) float64 {
	s := gpa / 4.0 * 100
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// StartBatchPrep confirms the batch-ready pool and advances the cycle
// into batch preparation, where records are exported for evaluation.
func (e *Engine) StartBatchPrep(cycleID int64) (int, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return 0, err
	}
	if c.Phase != admission.PhasePreprocessing {
		return 0, &admission.PhaseError{Op: "batch-prep", CycleID: cycleID, Current: c.Phase, Required: admission.PhasePreprocessing}
	}
	apps, err := e.st.ListApplications(cycleID, admission.StatusBatchReady)
	if err != nil {
		return 0, err
	}
	if len(apps) == 0 {
		return 0, fmt.Errorf("batch prep cycle #%d: no batch-ready applications", cycleID)
	}
	if err := e.st.AdvancePhase(cycleID, admission.PhasePreprocessing, admission.PhaseBatchPrep); err != nil {
		return 0, err
	}
	e.log.Info("batch prep started", "cycle_id", cycleID, "applications", len(apps))
	return len(apps), nil
}

// ProcessReport summarizes one processing run.
type ProcessReport struct {
	CycleID   int64
	Total     int
	Completed int
	Failed    int
	Attempts  int
}

// StartProcessing runs the evaluation pipeline over every application
// awaiting processing, bounded by the configured parallelism. It is
// re-enterable: a cycle already in the processing phase picks up the
// applications a previous interrupted run left behind.
func (e *Engine) StartProcessing(ctx context.Context, cycleID int64) (*ProcessReport, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return nil, err
	}
	switch c.Phase {
	case admission.PhaseBatchPrep:
		if err := e.st.AdvancePhase(cycleID, admission.PhaseBatchPrep, admission.PhaseProcessing); err != nil {
			return nil, err
		}
	case admission.PhaseProcessing:
		// Resuming an interrupted run.
	default:
		return nil, &admission.PhaseError{Op: "process", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseBatchPrep}
	}

	if _, err := e.st.BulkSetStatus(cycleID, admission.StatusBatchReady, admission.StatusProcessing); err != nil {
		return nil, err
	}
	apps, err := e.st.ListApplications(cycleID, admission.StatusProcessing)
	if err != nil {
		return nil, err
	}

	report := &ProcessReport{CycleID: cycleID, Total: len(apps)}
	results := make([]*pipeline.Result, len(apps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallel)
	for i, app := range apps {
		i, app := i, app
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.runner.Run(gctx, app)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, res := range results {
		report.Attempts += res.Attempts
		if res.Err != nil {
			report.Failed++
			continue
		}
		report.Completed++
	}
	e.log.Info("processing run finished",
		"cycle_id", cycleID, "total", report.Total,
		"completed", report.Completed, "failed", report.Failed)
	return report, nil
}

// MarkScored advances the cycle once nothing is left in flight. It
// refuses while any application still holds the processing status.
func (e *Engine) MarkScored(cycleID int64) error {
	c, err := e.cycle(cycleID)
	if err != nil {
		return err
	}
	if c.Phase != admission.PhaseProcessing {
		return &admission.PhaseError{Op: "mark-scored", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseProcessing}
	}
	inFlight, err := e.st.ListApplications(cycleID, admission.StatusProcessing)
	if err != nil {
		return err
	}
	if len(inFlight) > 0 {
		return fmt.Errorf("cycle #%d still has %d applications processing", cycleID, len(inFlight))
	}
	return e.st.AdvancePhase(cycleID, admission.PhaseProcessing, admission.PhaseScored)
}

// PerformSelection runs the shortlist pass. The shortlist is sized as
// a configured multiple of the seat count so interview attrition does
// not leave seats empty.
func (e *Engine) PerformSelection(cycleID int64, actor string) (*selection.Outcome, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return nil, err
	}
	if c.Phase != admission.PhaseScored {
		return nil, &admission.PhaseError{Op: "shortlist", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseScored}
	}
	target := c.MaxSeats * e.cfg.ShortlistMultiplier
	out, err := e.sel.Shortlist(cycleID, target, actor)
	if err != nil {
		return nil, err
	}
	if err := e.st.AdvancePhase(cycleID, admission.PhaseScored, admission.PhaseSelection); err != nil {
		return nil, err
	}
	return out, nil
}

// PerformFinalSelection runs the seat-bounded final pass over the
// interviewed shortlist. The cycle stays in the selection phase until
// publication.
func (e *Engine) PerformFinalSelection(cycleID int64, actor string) (*selection.Outcome, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return nil, err
	}
	if c.Phase != admission.PhaseSelection {
		return nil, &admission.PhaseError{Op: "final-select", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseSelection}
	}
	return e.sel.FinalSelect(cycleID, c.MaxSeats, actor)
}

// PublishResults moves every decided application and decision to
// published and advances the cycle. The ledger is untouched: the chain
// recorded the scoring, and publication adds no new facts about it.
func (e *Engine) PublishResults(cycleID int64) (int, error) {
	c, err := e.cycle(cycleID)
	if err != nil {
		return 0, err
	}
	if c.Phase != admission.PhaseSelection {
		return 0, &admission.PhaseError{Op: "publish", CycleID: cycleID, Current: c.Phase, Required: admission.PhaseSelection}
	}

	published := 0
	for _, from := range []admission.Status{admission.StatusSelected, admission.StatusNotSelected} {
		n, err := e.st.BulkSetStatus(cycleID, from, admission.StatusPublished)
		if err != nil {
			return published, err
		}
		published += n
	}
	if published == 0 {
		return 0, fmt.Errorf("publish cycle #%d: no decided applications", cycleID)
	}

	decisions, err := e.st.ListDecisions(cycleID)
	if err != nil {
		return published, err
	}
	for _, d := range decisions {
		if d.Status != admission.StatusSelected && d.Status != admission.StatusNotSelected {
			continue
		}
		if err := e.st.SetDecisionStatus(d.ID, admission.StatusPublished); err != nil {
			return published, err
		}
	}

	if err := e.st.AdvancePhase(cycleID, admission.PhaseSelection, admission.PhasePublished); err != nil {
		return published, err
	}
	e.log.Info("results published", "cycle_id", cycleID, "applications", published)
	return published, nil
}

// CompleteCycle closes the books. The submission window was already
// closed at freeze time; this only advances the phase. Calling it on
// an already completed cycle is a no-op.
func (e *Engine) CompleteCycle(cycleID int64, actor string) error {
	c, err := e.cycle(cycleID)
	if err != nil {
		return err
	}
	if c.Phase == admission.PhaseCompleted {
		return nil
	}
	if c.Phase != admission.PhasePublished {
		return &admission.PhaseError{Op: "complete", CycleID: cycleID, Current: c.Phase, Required: admission.PhasePublished}
	}
	if err := e.st.AdvancePhase(cycleID, admission.PhasePublished, admission.PhaseCompleted); err != nil {
		return err
	}
	e.log.Info("cycle completed", "cycle_id", cycleID, "completed_by", actor)
	return nil
}

func (e *Engine) cycle(id int64) (*admission.Cycle, error) {
	c, err := e.st.GetCycle(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("cycle #%d not found", id)
	}
	return c, nil
}
