// Package store is the persistence facade for the admissions engine.
// Engines and the CLI use only the Store interface; the implementation
// is SQLite or in-memory.
package store

import (
	"time"

	"cohort/internal/admission"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Store is the persistence contract. Lookups return (nil, nil) when
// the row does not exist; errors are reserved for real failures.
type Store interface {
	// Cycles. AdvancePhase is a conditional update: it only commits
	// when the stored phase still equals from, otherwise it returns
	// admission.ErrVersionConflict. CreateCycle refuses a second open
	// cycle; OpenCycle returns admission.ErrNoOpenCycle when none is.
	// ActiveCycle prefers the open cycle and falls back to the most
	// recent one that has not completed (the submission window closes
	// at freeze, well before the cycle is done); it returns
	// admission.ErrNoActiveCycle when neither exists.
	CreateCycle(c *admission.Cycle) (int64, error)
	GetCycle(id int64) (*admission.Cycle, error)
	OpenCycle() (*admission.Cycle, error)
	ActiveCycle() (*admission.Cycle, error)
	AdvancePhase(id int64, from, to admission.Phase) error
	CloseCycle(id int64, closedBy string) error
	SetSelectedCount(id int64, n int) error

	// Applications. SetApplicationStatus enforces the central status
	// transition table; BulkSetStatus moves every application in the
	// cycle from one status to another as a single atomic unit.
	CreateApplication(a *admission.Application) (int64, error)
	GetApplication(id int64) (*admission.Application, error)
	ListApplications(cycleID int64, status admission.Status) ([]*admission.Application, error)
	SetApplicationStatus(id int64, to admission.Status) error
	BulkSetStatus(cycleID int64, from, to admission.Status) (int, error)
	FailApplication(id int64, reason string) error
	SetApplicationMetrics(id int64, testAverage, academicScore float64) error

	// Anonymized records (one per application, produced once).
	SaveRecord(r *admission.AnonymizedRecord) (int64, error)
	RecordByApplication(applicationID int64) (*admission.AnonymizedRecord, error)
	RecordBySubject(subjectID string) (*admission.AnonymizedRecord, error)
	ListRecords(cycleID int64) ([]*admission.AnonymizedRecord, error)

	// Evaluation attempts and validation verdicts (immutable).
	SaveAttempt(a *admission.EvaluationAttempt) (int64, error)
	ListAttempts(subjectID string) ([]*admission.EvaluationAttempt, error)
	SaveVerdict(v *admission.ValidationVerdict) (int64, error)
	ListVerdicts(subjectID string) ([]*admission.ValidationVerdict, error)

	// Final decisions. ListDecisions orders by weighted total
	// descending, then created_at ascending, then id. This is the stable
	// selection order.
	SaveDecision(d *admission.FinalDecision) (int64, error)
	DecisionBySubject(subjectID string) (*admission.FinalDecision, error)
	ListDecisions(cycleID int64) ([]*admission.FinalDecision, error)
	SetDecisionHash(id int64, hash string) error
	SetDecisionStatus(id int64, to admission.Status) error

	// Chain entries. AppendChainEntry re-reads the tail inside its
	// critical section and refuses the insert when e.PreviousHash does
	// not match it (admission.ErrChainIntegrity). Entries are never
	// updated or deleted.
	AppendChainEntry(e *admission.ChainEntry) (int64, error)
	TailChainEntry() (*admission.ChainEntry, error)
	TailChainEntryBySubject(subjectID string) (*admission.ChainEntry, error)
	ListChainEntries() ([]*admission.ChainEntry, error)

	// Interviews.
	SaveInterview(iv *admission.Interview) (int64, error)
	InterviewByApplication(applicationID int64) (*admission.Interview, error)

	// Selection logs (immutable audit of each selection pass).
	SaveSelectionLog(l *admission.SelectionLog) (int64, error)
	ListSelectionLogs(cycleID int64) ([]*admission.SelectionLog, error)

	Close() error
}
