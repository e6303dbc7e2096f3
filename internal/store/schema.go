package store

// schemaVersion is the target schema version for this build.
const schemaVersion = 1

// schema is the DDL for the admissions data model. Map- and
// slice-valued fields (test scores, reasoning, strengths) are stored
// as JSON text. Chain entries are append-only: no UPDATE or DELETE
// path exists for them anywhere in this package.
var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS cycles (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	phase          TEXT NOT NULL,
	is_open        INTEGER NOT NULL DEFAULT 0,
	max_seats      INTEGER NOT NULL,
	selected_count INTEGER NOT NULL DEFAULT 0,
	start_date     TEXT,
	end_date       TEXT,
	result_date    TEXT,
	closed_by      TEXT,
	closed_at      TEXT
);

CREATE TABLE IF NOT EXISTS applications (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id       INTEGER NOT NULL REFERENCES cycles(id),
	status         TEXT NOT NULL,
	gpa            REAL NOT NULL,
	test_scores    TEXT NOT NULL,
	essay          TEXT,
	achievements   TEXT,
	test_average   REAL NOT NULL DEFAULT 0,
	academic_score REAL NOT NULL DEFAULT 0,
	fail_reason    TEXT
);
CREATE INDEX IF NOT EXISTS idx_applications_cycle_status ON applications(cycle_id, status);

CREATE TABLE IF NOT EXISTS anonymized_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id INTEGER NOT NULL UNIQUE REFERENCES applications(id),
	subject_id     TEXT NOT NULL UNIQUE,
	gpa            REAL NOT NULL,
	test_scores    TEXT NOT NULL,
	test_average   REAL NOT NULL,
	academic_score REAL NOT NULL,
	essay          TEXT,
	achievements   TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluation_attempts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id     TEXT NOT NULL,
	attempt        INTEGER NOT NULL,
	scores         TEXT NOT NULL,
	weighted_total REAL NOT NULL,
	explanation    TEXT,
	reasoning      TEXT,
	created_at     TEXT NOT NULL,
	UNIQUE(subject_id, attempt)
);

CREATE TABLE IF NOT EXISTS validation_verdicts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id    INTEGER NOT NULL REFERENCES evaluation_attempts(id),
	subject_id    TEXT NOT NULL,
	approved      INTEGER NOT NULL,
	bias_detected INTEGER NOT NULL,
	quality_score REAL NOT NULL,
	feedback      TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS final_decisions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id     TEXT NOT NULL UNIQUE,
	application_id INTEGER NOT NULL REFERENCES applications(id),
	cycle_id       INTEGER NOT NULL REFERENCES cycles(id),
	scores         TEXT NOT NULL,
	weighted_total REAL NOT NULL,
	explanation    TEXT,
	strengths      TEXT NOT NULL,
	improvements   TEXT NOT NULL,
	attempts       INTEGER NOT NULL,
	chain_hash     TEXT,
	status         TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON final_decisions(cycle_id);

CREATE TABLE IF NOT EXISTS chain_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id    TEXT NOT NULL,
	decision_type TEXT NOT NULL,
	payload       TEXT NOT NULL,
	data_hash     TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chain_subject ON chain_entries(subject_id);

CREATE TABLE IF NOT EXISTS interviews (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id INTEGER NOT NULL UNIQUE REFERENCES applications(id),
	scores         TEXT NOT NULL,
	completed      INTEGER NOT NULL DEFAULT 0,
	completed_at   TEXT
);

CREATE TABLE IF NOT EXISTS selection_logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id     INTEGER NOT NULL REFERENCES cycles(id),
	stage        TEXT NOT NULL,
	actor        TEXT,
	target_count INTEGER NOT NULL,
	considered   INTEGER NOT NULL,
	selected     INTEGER NOT NULL,
	cutoff_score REAL NOT NULL,
	created_at   TEXT NOT NULL
);
`
