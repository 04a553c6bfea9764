package sqlite

const schemaVersion = 1

const migrationV1 = `
CREATE TABLE IF NOT EXISTS runs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	timestamp INTEGER NOT NULL,
	incremental INTEGER NOT NULL DEFAULT 0,
	passed INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	git_commit TEXT NOT NULL DEFAULT '',
	git_branch TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	total_errors INTEGER NOT NULL DEFAULT 0,
	total_warnings INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);

CREATE TABLE IF NOT EXISTS validator_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_seq INTEGER NOT NULL REFERENCES runs(seq) ON DELETE CASCADE,
	validator TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	passed INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	warning_count INTEGER NOT NULL DEFAULT 0,
	files_checked INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_validator_results_validator ON validator_results(validator, run_seq);

CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	result_id INTEGER NOT NULL REFERENCES validator_results(id) ON DELETE CASCADE,
	file TEXT NOT NULL DEFAULT '',
	line INTEGER NOT NULL DEFAULT 0,
	col INTEGER NOT NULL DEFAULT 0,
	severity TEXT NOT NULL,
	code TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	suggestion TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_issues_result ON issues(result_id);

CREATE TABLE IF NOT EXISTS test_case_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_seq INTEGER NOT NULL REFERENCES runs(seq) ON DELETE CASCADE,
	validator TEXT NOT NULL,
	test_id TEXT NOT NULL,
	suite TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_test_case_records_test ON test_case_records(test_id, run_seq);

CREATE TABLE IF NOT EXISTS file_validation_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_seq INTEGER NOT NULL REFERENCES runs(seq) ON DELETE CASCADE,
	validator TEXT NOT NULL,
	file_path TEXT NOT NULL,
	error_count INTEGER NOT NULL DEFAULT 0,
	warning_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_file_validation_records_file ON file_validation_records(validator, file_path, run_seq);

CREATE TABLE IF NOT EXISTS entity_statistics (
	entity_id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	total_runs INTEGER NOT NULL DEFAULT 0,
	passed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	errored INTEGER NOT NULL DEFAULT 0,
	failure_rate REAL NOT NULL DEFAULT 0,
	avg_duration_ms INTEGER NOT NULL DEFAULT 0,
	stats_window INTEGER NOT NULL DEFAULT 0,
	last_run INTEGER NOT NULL,
	last_failure INTEGER,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entity_statistics_type ON entity_statistics(entity_type);

CREATE TABLE IF NOT EXISTS execution_rules (
	name TEXT PRIMARY KEY,
	criterion TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT 'validator',
	groups TEXT NOT NULL DEFAULT '[]',
	threshold REAL,
	rule_window INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	description TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE VIEW IF NOT EXISTS entity_history AS
	SELECT vr.validator AS entity_id, 'validator' AS entity_type, vr.run_seq AS run_seq,
	       r.timestamp AS timestamp, vr.status AS status, vr.duration_ms AS duration_ms
	FROM validator_results vr JOIN runs r ON r.seq = vr.run_seq
	UNION ALL
	SELECT tc.test_id, 'test', tc.run_seq, r.timestamp, tc.status, tc.duration_ms
	FROM test_case_records tc JOIN runs r ON r.seq = tc.run_seq
	UNION ALL
	SELECT fv.validator || ':' || fv.file_path, 'file', fv.run_seq, r.timestamp,
	       CASE WHEN fv.error_count > 0 THEN 'FAILED' ELSE 'PASSED' END, 0
	FROM file_validation_records fv JOIN runs r ON r.seq = fv.run_seq;
`
