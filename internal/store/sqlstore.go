package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"cohort/internal/admission"
)

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .cohort) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite admits one writer at a time; a single pooled connection
	// serializes the parallel pipeline runs instead of surfacing
	// SQLITE_BUSY to them. The busy timeout covers other processes
	// holding the file.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error { return s.db.Close() }

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// toJSON marshals v for a TEXT column; nil maps and slices become
// empty containers so scans round-trip cleanly.
func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func fromJSON[T any](data string, out *T) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), out)
}

// --- Cycles ---

func (s *SqlStore) CreateCycle(c *admission.Cycle) (int64, error) {
	if c.Phase == "" {
		c.Phase = admission.PhaseSubmission
	}
	if !c.Phase.Valid() {
		return 0, fmt.Errorf("invalid phase %q", c.Phase)
	}
	if c.IsOpen {
		open, err := s.OpenCycle()
		if err != nil && !errors.Is(err, admission.ErrNoOpenCycle) {
			return 0, err
		}
		if open != nil {
			return 0, fmt.Errorf("cycle #%d (%s) is already open", open.ID, open.Name)
		}
	}
	res, err := s.db.Exec(`INSERT INTO cycles(name, phase, is_open, max_seats, selected_count, start_date, end_date, result_date)
		VALUES(?,?,?,?,?,?,?,?)`,
		c.Name, string(c.Phase), boolInt(c.IsOpen), c.MaxSeats, c.SelectedCount, c.StartDate, c.EndDate, c.ResultDate)
	if err != nil {
		return 0, fmt.Errorf("insert cycle: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) scanCycle(row *sql.Row) (*admission.Cycle, error) {
	var c admission.Cycle
	var phase string
	var isOpen int
	var start, end, result, closedBy, closedAt sql.NullString
	err := row.Scan(&c.ID, &c.Name, &phase, &isOpen, &c.MaxSeats, &c.SelectedCount,
		&start, &end, &result, &closedBy, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	c.Phase = admission.Phase(phase)
	c.IsOpen = isOpen != 0
	c.StartDate, c.EndDate, c.ResultDate = nullStr(start), nullStr(end), nullStr(result)
	c.ClosedBy, c.ClosedAt = nullStr(closedBy), nullStr(closedAt)
	return &c, nil
}

const cycleCols = "id, name, phase, is_open, max_seats, selected_count, start_date, end_date, result_date, closed_by, closed_at"

func (s *SqlStore) GetCycle(id int64) (*admission.Cycle, error) {
	return s.scanCycle(s.db.QueryRow("SELECT "+cycleCols+" FROM cycles WHERE id = ?", id))
}

func (s *SqlStore) OpenCycle() (*admission.Cycle, error) {
	c, err := s.scanCycle(s.db.QueryRow("SELECT " + cycleCols + " FROM cycles WHERE is_open = 1 LIMIT 1"))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, admission.ErrNoOpenCycle
	}
	return c, nil
}

func (s *SqlStore) ActiveCycle() (*admission.Cycle, error) {
	c, err := s.scanCycle(s.db.QueryRow(
		"SELECT "+cycleCols+" FROM cycles WHERE is_open = 1 OR phase != ? ORDER BY is_open DESC, id DESC LIMIT 1",
		string(admission.PhaseCompleted)))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, admission.ErrNoActiveCycle
	}
	return c, nil
}

// AdvancePhase moves the cycle from -> to only if the stored phase is
// still from. A lost race surfaces as ErrVersionConflict, never as a
// silent overwrite.
func (s *SqlStore) AdvancePhase(id int64, from, to admission.Phase) error {
	if !admission.CanAdvance(from, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	res, err := s.db.Exec("UPDATE cycles SET phase = ? WHERE id = ? AND phase = ?",
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("advance phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance phase: %w", err)
	}
	if n == 0 {
		return admission.ErrVersionConflict
	}
	return nil
}

func (s *SqlStore) CloseCycle(id int64, closedBy string) error {
	_, err := s.db.Exec("UPDATE cycles SET is_open = 0, closed_by = ?, closed_at = ? WHERE id = ?",
		closedBy, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("close cycle: %w", err)
	}
	return nil
}

func (s *SqlStore) SetSelectedCount(id int64, n int) error {
	_, err := s.db.Exec("UPDATE cycles SET selected_count = ? WHERE id = ?", n, id)
	if err != nil {
		return fmt.Errorf("set selected count: %w", err)
	}
	return nil
}

// --- Applications ---

func (s *SqlStore) CreateApplication(a *admission.Application) (int64, error) {
	if a.Status == "" {
		a.Status = admission.StatusSubmitted
	}
	if !a.Status.Valid() {
		return 0, fmt.Errorf("invalid status %q", a.Status)
	}
	res, err := s.db.Exec(`INSERT INTO applications(cycle_id, status, gpa, test_scores, essay, achievements, test_average, academic_score, fail_reason)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		a.CycleID, string(a.Status), a.GPA, toJSON(a.TestScores), a.Essay, a.Achievements,
		a.TestAverage, a.AcademicScore, a.FailReason)
	if err != nil {
		return 0, fmt.Errorf("insert application: %w", err)
	}
	return res.LastInsertId()
}

const appCols = "id, cycle_id, status, gpa, test_scores, essay, achievements, test_average, academic_score, fail_reason"

func scanApplication(sc interface{ Scan(...any) error }) (*admission.Application, error) {
	var a admission.Application
	var status, scores string
	var essay, achievements, failReason sql.NullString
	err := sc.Scan(&a.ID, &a.CycleID, &status, &a.GPA, &scores, &essay, &achievements,
		&a.TestAverage, &a.AcademicScore, &failReason)
	if err != nil {
		return nil, err
	}
	a.Status = admission.Status(status)
	a.TestScores = map[string]float64{}
	fromJSON(scores, &a.TestScores)
	a.Essay, a.Achievements, a.FailReason = nullStr(essay), nullStr(achievements), nullStr(failReason)
	return &a, nil
}

func (s *SqlStore) GetApplication(id int64) (*admission.Application, error) {
	a, err := scanApplication(s.db.QueryRow("SELECT "+appCols+" FROM applications WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return a, nil
}

func (s *SqlStore) ListApplications(cycleID int64, status admission.Status) ([]*admission.Application, error) {
	q := "SELECT " + appCols + " FROM applications WHERE cycle_id = ?"
	args := []any{cycleID}
	if status != "" {
		q += " AND status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY id"
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()
	var out []*admission.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SqlStore) SetApplicationStatus(id int64, to admission.Status) error {
	a, err := s.GetApplication(id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("application #%d not found", id)
	}
	if !admission.CanTransition(a.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for application #%d", a.Status, to, id)
	}
	_, err = s.db.Exec("UPDATE applications SET status = ? WHERE id = ?", string(to), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// BulkSetStatus is one UPDATE statement, so the whole batch commits or
// none of it does.
func (s *SqlStore) BulkSetStatus(cycleID int64, from, to admission.Status) (int, error) {
	if !admission.CanTransition(from, to) {
		return 0, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	res, err := s.db.Exec("UPDATE applications SET status = ? WHERE cycle_id = ? AND status = ?",
		string(to), cycleID, string(from))
	if err != nil {
		return 0, fmt.Errorf("bulk set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk set status: %w", err)
	}
	return int(n), nil
}

func (s *SqlStore) FailApplication(id int64, reason string) error {
	if err := s.SetApplicationStatus(id, admission.StatusFailed); err != nil {
		return err
	}
	_, err := s.db.Exec("UPDATE applications SET fail_reason = ? WHERE id = ?", reason, id)
	if err != nil {
		return fmt.Errorf("set fail reason: %w", err)
	}
	return nil
}

func (s *SqlStore) SetApplicationMetrics(id int64, testAverage, academicScore float64) error {
	_, err := s.db.Exec("UPDATE applications SET test_average = ?, academic_score = ? WHERE id = ?",
		testAverage, academicScore, id)
	if err != nil {
		return fmt.Errorf("set metrics: %w", err)
	}
	return nil
}

// --- Anonymized records ---

func (s *SqlStore) SaveRecord(r *admission.AnonymizedRecord) (int64, error) {
	if r.CreatedAt == "" {
		r.CreatedAt = nowUTC()
	}
	res, err := s.db.Exec(`INSERT INTO anonymized_records(application_id, subject_id, gpa, test_scores, test_average, academic_score, essay, achievements, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ApplicationID, r.SubjectID, r.GPA, toJSON(r.TestScores), r.TestAverage, r.AcademicScore,
		r.Essay, r.Achievements, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert anonymized record: %w", err)
	}
	return res.LastInsertId()
}

const recCols = "id, application_id, subject_id, gpa, test_scores, test_average, academic_score, essay, achievements, created_at"

func scanRecord(sc interface{ Scan(...any) error }) (*admission.AnonymizedRecord, error) {
	var r admission.AnonymizedRecord
	var scores string
	var essay, achievements sql.NullString
	err := sc.Scan(&r.ID, &r.ApplicationID, &r.SubjectID, &r.GPA, &scores,
		&r.TestAverage, &r.AcademicScore, &essay, &achievements, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.TestScores = map[string]float64{}
	fromJSON(scores, &r.TestScores)
	r.Essay, r.Achievements = nullStr(essay), nullStr(achievements)
	return &r, nil
}

func (s *SqlStore) recordWhere(where string, arg any) (*admission.AnonymizedRecord, error) {
	r, err := scanRecord(s.db.QueryRow("SELECT "+recCols+" FROM anonymized_records WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anonymized record: %w", err)
	}
	return r, nil
}

func (s *SqlStore) RecordByApplication(applicationID int64) (*admission.AnonymizedRecord, error) {
	return s.recordWhere("application_id = ?", applicationID)
}

func (s *SqlStore) RecordBySubject(subjectID string) (*admission.AnonymizedRecord, error) {
	return s.recordWhere("subject_id = ?", subjectID)
}

func (s *SqlStore) ListRecords(cycleID int64) ([]*admission.AnonymizedRecord, error) {
	rows, err := s.db.Query(`SELECT r.id, r.application_id, r.subject_id, r.gpa, r.test_scores, r.test_average, r.academic_score, r.essay, r.achievements, r.created_at
		FROM anonymized_records r JOIN applications a ON a.id = r.application_id
		WHERE a.cycle_id = ? ORDER BY r.id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list anonymized records: %w", err)
	}
	defer rows.Close()
	var out []*admission.AnonymizedRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anonymized record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Attempts and verdicts ---

func (s *SqlStore) SaveAttempt(a *admission.EvaluationAttempt) (int64, error) {
	if a.CreatedAt == "" {
		a.CreatedAt = nowUTC()
	}
	res, err := s.db.Exec(`INSERT INTO evaluation_attempts(subject_id, attempt, scores, weighted_total, explanation, reasoning, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		a.SubjectID, a.Attempt, toJSON(a.Scores), a.WeightedTotal, a.Explanation, toJSON(a.Reasoning), a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) ListAttempts(subjectID string) ([]*admission.EvaluationAttempt, error) {
	rows, err := s.db.Query(`SELECT id, subject_id, attempt, scores, weighted_total, explanation, reasoning, created_at
		FROM evaluation_attempts WHERE subject_id = ? ORDER BY attempt`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var out []*admission.EvaluationAttempt
	for rows.Next() {
		var a admission.EvaluationAttempt
		var scores, reasoning string
		var explanation sql.NullString
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.Attempt, &scores, &a.WeightedTotal, &explanation, &reasoning, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		fromJSON(scores, &a.Scores)
		a.Reasoning = map[string]string{}
		fromJSON(reasoning, &a.Reasoning)
		a.Explanation = nullStr(explanation)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SqlStore) SaveVerdict(v *admission.ValidationVerdict) (int64, error) {
	if v.CreatedAt == "" {
		v.CreatedAt = nowUTC()
	}
	res, err := s.db.Exec(`INSERT INTO validation_verdicts(attempt_id, subject_id, approved, bias_detected, quality_score, feedback, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		v.AttemptID, v.SubjectID, boolInt(v.Approved), boolInt(v.BiasDetected), v.QualityScore, v.Feedback, v.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert verdict: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) ListVerdicts(subjectID string) ([]*admission.ValidationVerdict, error) {
	rows, err := s.db.Query(`SELECT id, attempt_id, subject_id, approved, bias_detected, quality_score, feedback, created_at
		FROM validation_verdicts WHERE subject_id = ? ORDER BY id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()
	var out []*admission.ValidationVerdict
	for rows.Next() {
		var v admission.ValidationVerdict
		var approved, bias int
		if err := rows.Scan(&v.ID, &v.AttemptID, &v.SubjectID, &approved, &bias, &v.QualityScore, &v.Feedback, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.Approved, v.BiasDetected = approved != 0, bias != 0
		out = append(out, &v)
	}
	return out, rows.Err()
}

// --- Final decisions ---

func (s *SqlStore) SaveDecision(d *admission.FinalDecision) (int64, error) {
	if d.CreatedAt == "" {
		d.CreatedAt = nowUTC()
	}
	if d.Status == "" {
		d.Status = admission.StatusScored
	}
	res, err := s.db.Exec(`INSERT INTO final_decisions(subject_id, application_id, cycle_id, scores, weighted_total, explanation, strengths, improvements, attempts, chain_hash, status, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.SubjectID, d.ApplicationID, d.CycleID, toJSON(d.Scores), d.WeightedTotal, d.Explanation,
		toJSON(d.Strengths), toJSON(d.Improvements), d.Attempts, d.ChainHash, string(d.Status), d.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert decision: %w", err)
	}
	return res.LastInsertId()
}

const decCols = "id, subject_id, application_id, cycle_id, scores, weighted_total, explanation, strengths, improvements, attempts, chain_hash, status, created_at"

func scanDecision(sc interface{ Scan(...any) error }) (*admission.FinalDecision, error) {
	var d admission.FinalDecision
	var scores, strengths, improvements, status string
	var explanation, chainHash sql.NullString
	err := sc.Scan(&d.ID, &d.SubjectID, &d.ApplicationID, &d.CycleID, &scores, &d.WeightedTotal,
		&explanation, &strengths, &improvements, &d.Attempts, &chainHash, &status, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	fromJSON(scores, &d.Scores)
	fromJSON(strengths, &d.Strengths)
	fromJSON(improvements, &d.Improvements)
	d.Explanation, d.ChainHash = nullStr(explanation), nullStr(chainHash)
	d.Status = admission.Status(status)
	return &d, nil
}

func (s *SqlStore) DecisionBySubject(subjectID string) (*admission.FinalDecision, error) {
	d, err := scanDecision(s.db.QueryRow("SELECT "+decCols+" FROM final_decisions WHERE subject_id = ?", subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (s *SqlStore) ListDecisions(cycleID int64) ([]*admission.FinalDecision, error) {
	rows, err := s.db.Query("SELECT "+decCols+" FROM final_decisions WHERE cycle_id = ? ORDER BY weighted_total DESC, created_at ASC, id ASC", cycleID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []*admission.FinalDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SqlStore) SetDecisionHash(id int64, hash string) error {
	_, err := s.db.Exec("UPDATE final_decisions SET chain_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("set decision hash: %w", err)
	}
	return nil
}

func (s *SqlStore) SetDecisionStatus(id int64, to admission.Status) error {
	_, err := s.db.Exec("UPDATE final_decisions SET status = ? WHERE id = ?", string(to), id)
	if err != nil {
		return fmt.Errorf("set decision status: %w", err)
	}
	return nil
}

// --- Chain entries ---

// AppendChainEntry inserts an entry after confirming, inside one
// transaction, that the chain tail still matches e.PreviousHash. A
// stale previous hash means either a racing writer or tampering;
// either way the insert is refused.
func (s *SqlStore) AppendChainEntry(e *admission.ChainEntry) (int64, error) {
	if e.Timestamp == "" {
		e.Timestamp = nowUTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin chain tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tail := admission.GenesisHash
	var got string
	err = tx.QueryRow("SELECT data_hash FROM chain_entries ORDER BY id DESC LIMIT 1").Scan(&got)
	if err == nil {
		tail = got
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read chain tail: %w", err)
	}
	if e.PreviousHash != tail {
		return 0, fmt.Errorf("append against stale tail (have %.8s, chain at %.8s): %w",
			e.PreviousHash, tail, admission.ErrChainIntegrity)
	}

	res, err := tx.Exec(`INSERT INTO chain_entries(subject_id, decision_type, payload, data_hash, previous_hash, timestamp)
		VALUES(?,?,?,?,?,?)`,
		e.SubjectID, e.DecisionType, e.Payload, e.DataHash, e.PreviousHash, e.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("insert chain entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chain entry: %w", err)
	}
	return id, nil
}

const chainCols = "id, subject_id, decision_type, payload, data_hash, previous_hash, timestamp"

func scanChainEntry(sc interface{ Scan(...any) error }) (*admission.ChainEntry, error) {
	var e admission.ChainEntry
	err := sc.Scan(&e.ID, &e.SubjectID, &e.DecisionType, &e.Payload, &e.DataHash, &e.PreviousHash, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SqlStore) tailWhere(q string, args ...any) (*admission.ChainEntry, error) {
	e, err := scanChainEntry(s.db.QueryRow(q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chain tail: %w", err)
	}
	return e, nil
}

func (s *SqlStore) TailChainEntry() (*admission.ChainEntry, error) {
	return s.tailWhere("SELECT " + chainCols + " FROM chain_entries ORDER BY id DESC LIMIT 1")
}

func (s *SqlStore) TailChainEntryBySubject(subjectID string) (*admission.ChainEntry, error) {
	return s.tailWhere("SELECT "+chainCols+" FROM chain_entries WHERE subject_id = ? ORDER BY id DESC LIMIT 1", subjectID)
}

func (s *SqlStore) ListChainEntries() ([]*admission.ChainEntry, error) {
	rows, err := s.db.Query("SELECT " + chainCols + " FROM chain_entries ORDER BY timestamp ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list chain entries: %w", err)
	}
	defer rows.Close()
	var out []*admission.ChainEntry
	for rows.Next() {
		e, err := scanChainEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Interviews ---

func (s *SqlStore) SaveInterview(iv *admission.Interview) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO interviews(application_id, scores, completed, completed_at) VALUES(?,?,?,?)
		ON CONFLICT(application_id) DO UPDATE SET scores = excluded.scores, completed = excluded.completed, completed_at = excluded.completed_at`,
		iv.ApplicationID, toJSON(iv.Scores), boolInt(iv.Completed), iv.CompletedAt)
	if err != nil {
		return 0, fmt.Errorf("save interview: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) InterviewByApplication(applicationID int64) (*admission.Interview, error) {
	var iv admission.Interview
	var scores string
	var completed int
	var completedAt sql.NullString
	err := s.db.QueryRow("SELECT id, application_id, scores, completed, completed_at FROM interviews WHERE application_id = ?",
		applicationID).Scan(&iv.ID, &iv.ApplicationID, &scores, &completed, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get interview: %w", err)
	}
	iv.Scores = map[string]float64{}
	fromJSON(scores, &iv.Scores)
	iv.Completed = completed != 0
	iv.CompletedAt = nullStr(completedAt)
	return &iv, nil
}

// --- Selection logs ---

func (s *SqlStore) SaveSelectionLog(l *admission.SelectionLog) (int64, error) {
	if l.CreatedAt == "" {
		l.CreatedAt = nowUTC()
	}
	res, err := s.db.Exec(`INSERT INTO selection_logs(cycle_id, stage, actor, target_count, considered, selected, cutoff_score, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		l.CycleID, l.Stage, l.Actor, l.TargetCount, l.Considered, l.Selected, l.CutoffScore, l.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert selection log: %w", err)
	}
	return res.LastInsertId()
}

func (s *SqlStore) ListSelectionLogs(cycleID int64) ([]*admission.SelectionLog, error) {
	rows, err := s.db.Query(`SELECT id, cycle_id, stage, actor, target_count, considered, selected, cutoff_score, created_at
		FROM selection_logs WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list selection logs: %w", err)
	}
	defer rows.Close()
	var out []*admission.SelectionLog
	for rows.Next() {
		var l admission.SelectionLog
		var actor sql.NullString
		if err := rows.Scan(&l.ID, &l.CycleID, &l.Stage, &actor, &l.TargetCount, &l.Considered, &l.Selected, &l.CutoffScore, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan selection log: %w", err)
		}
		l.Actor = nullStr(actor)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
