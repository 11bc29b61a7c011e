package store

// schema is applied on Open. It is idempotent (CREATE TABLE IF NOT EXISTS)
// so repeated opens against the same database file are safe.
//
// Foreign-key enforcement and WAL mode are set per-connection via DSN
// pragmas in Open. task_dependencies cascades on delete in
// both directions; parent/child task relationships (parent_task_id)
// intentionally do NOT cascade. A parent with children can only be removed
// via the prune engine's subtree deletion.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	summary TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL,
	agent_type TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	dependency_type TEXT NOT NULL,
	base_priority INTEGER NOT NULL DEFAULT 5,
	calculated_priority REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	input_data TEXT NOT NULL DEFAULT '{}',
	result_data TEXT,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	max_execution_timeout_seconds INTEGER NOT NULL DEFAULT 3600,
	submitted_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	last_updated_at TEXT NOT NULL,
	parent_task_id TEXT REFERENCES tasks(id),
	deadline TEXT,
	estimated_duration_seconds INTEGER,
	dependency_depth INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tasks_dequeue
	ON tasks(status, calculated_priority DESC, submitted_at ASC);

CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS task_dependencies (
	id TEXT PRIMARY KEY,
	dependent_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	prerequisite_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	dependency_type TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_deps_dependent ON task_dependencies(dependent_task_id);
CREATE INDEX IF NOT EXISTS idx_deps_prerequisite ON task_dependencies(prerequisite_task_id);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	specialization TEXT NOT NULL DEFAULT '',
	task_id TEXT REFERENCES tasks(id),
	state TEXT NOT NULL,
	spawned_at TEXT NOT NULL,
	terminated_at TEXT,
	resource_usage TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(state);
CREATE INDEX IF NOT EXISTS idx_agents_task ON agents(task_id);

CREATE TABLE IF NOT EXISTS audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	task_id TEXT,
	agent_id TEXT,
	action_type TEXT NOT NULL,
	action_data TEXT NOT NULL DEFAULT '{}',
	result TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_task ON audit(task_id);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit(timestamp);

CREATE TABLE IF NOT EXISTS state (
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (task_id, key)
);
`
