package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const migration = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS config_entries (
	key TEXT PRIMARY KEY NOT NULL,
	value_json TEXT NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY NOT NULL,
	title TEXT NOT NULL,
	tags_json TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at_ms DESC);

CREATE TABLE IF NOT EXISTS chat_messages (
	message_id TEXT PRIMARY KEY NOT NULL,
	session_key TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session_ts ON chat_messages(session_key, ts_ms ASC);

CREATE TABLE IF NOT EXISTS agent_runs (
	run_id TEXT PRIMARY KEY NOT NULL,
	agent_id TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL,
	status TEXT NOT NULL,
	session_key TEXT,
	metadata_json TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	completed_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_agent_runs_updated ON agent_runs(updated_at_ms DESC);

CREATE TABLE IF NOT EXISTS cron_jobs (
	job_id TEXT PRIMARY KEY NOT NULL,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	schedule_json TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	last_run_ms INTEGER,
	next_run_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_cron_jobs_next_run ON cron_jobs(next_run_ms ASC);

CREATE TABLE IF NOT EXISTS cron_runs (
	run_id TEXT PRIMARY KEY NOT NULL,
	job_id TEXT NOT NULL,
	status TEXT NOT NULL,
	output TEXT,
	error TEXT,
	manual INTEGER NOT NULL,
	started_at_ms INTEGER NOT NULL,
	finished_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cron_runs_job_started ON cron_runs(job_id, started_at_ms DESC);

CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY NOT NULL,
	display_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	device_family TEXT,
	commands_json TEXT NOT NULL,
	paired INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_seen_ms INTEGER NOT NULL,
	metadata_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen_ms DESC);

CREATE TABLE IF NOT EXISTS node_pair_requests (
	request_id TEXT PRIMARY KEY NOT NULL,
	node_id TEXT NOT NULL,
	display_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	device_family TEXT,
	commands_json TEXT NOT NULL,
	public_key TEXT,
	status TEXT NOT NULL,
	reason TEXT,
	created_at_ms INTEGER NOT NULL,
	resolved_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_node_pair_requests_created ON node_pair_requests(created_at_ms DESC);

CREATE TABLE IF NOT EXISTS node_invokes (
	invoke_id TEXT PRIMARY KEY NOT NULL,
	node_id TEXT NOT NULL,
	command TEXT NOT NULL,
	args_json TEXT NOT NULL,
	input_json TEXT,
	status TEXT NOT NULL,
	result_json TEXT,
	error TEXT,
	requested_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	completed_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_node_invokes_node_requested ON node_invokes(node_id, requested_at_ms DESC);

CREATE TABLE IF NOT EXISTS node_events (
	event_id TEXT PRIMARY KEY NOT NULL,
	node_id TEXT NOT NULL,
	event TEXT NOT NULL,
	payload_json TEXT,
	ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_node_events_node_ts ON node_events(node_id, ts_ms DESC);
`

// Store is the embedded SQL persistence layer. It exclusively owns every
// persisted row; callers hold only value copies.
type Store struct {
	db     *sql.DB
	path   string
	events *nodeEventCache
}

// Open creates the parent directory if needed, opens the database in WAL
// mode with foreign keys on, and applies the idempotent migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, path: path, events: newNodeEventCache()}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path, surfaced in the hello-ok snapshot.
func (s *Store) Path() string { return s.path }

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

func rawOrEmptyObject(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("{}")
	}
	return v
}

func rawOrEmptyArray(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("[]")
	}
	return v
}

// --- config doc ---

// LoadConfigDoc returns the single "root" config_entries value as a JSON
// object; missing entries default to {}.
func (s *Store) LoadConfigDoc(ctx context.Context) (json.RawMessage, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM config_entries WHERE key = 'root' LIMIT 1`).Scan(&text)
	if err == sql.ErrNoRows {
		return json.RawMessage("{}"), nil
	}
	if err != nil {
		return nil, Storage("load config doc: %v", err)
	}
	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, Storage("invalid config JSON: %v", err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(text), nil
}

// SaveConfigDoc replaces the root config doc wholesale; value must be a
// JSON object.
func (s *Store) SaveConfigDoc(ctx context.Context, value json.RawMessage) error {
	var probe any
	if err := json.Unmarshal(value, &probe); err != nil {
		return InvalidRequest("config payload must be valid JSON")
	}
	if _, ok := probe.(map[string]any); !ok {
		return InvalidRequest("config payload must be an object")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_entries(key, value_json, updated_at_ms) VALUES('root', ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at_ms = excluded.updated_at_ms`,
		string(value), nowMs())
	if err != nil {
		return Storage("persist config: %v", err)
	}
	return nil
}

// --- config entries ---

// GetConfigEntry returns the entry for key, or nil if it doesn't exist.
func (s *Store) GetConfigEntry(ctx context.Context, key string) (*ConfigEntry, error) {
	var value string
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT value_json, updated_at_ms FROM config_entries WHERE key = ? LIMIT 1`, key).Scan(&value, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get config entry: %v", err)
	}
	return &ConfigEntry{Key: key, Value: json.RawMessage(value), UpdatedAtMs: uint64(updated)}, nil
}

// SetConfigEntry upserts a key/value pair.
func (s *Store) SetConfigEntry(ctx context.Context, key string, value json.RawMessage) (*ConfigEntry, error) {
	now := nowMs()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_entries(key, value_json, updated_at_ms) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at_ms = excluded.updated_at_ms`,
		key, string(value), now)
	if err != nil {
		return nil, Storage("set config entry: %v", err)
	}
	return &ConfigEntry{Key: key, Value: value, UpdatedAtMs: now}, nil
}

// DeleteConfigEntry removes a key, returning whether it existed.
func (s *Store) DeleteConfigEntry(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_entries WHERE key = ?`, key)
	if err != nil {
		return false, Storage("delete config entry: %v", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListConfigEntries returns entries whose key starts with prefix, newest
// first, capped at limit (0 means default of 500, clamped to 5000).
func (s *Store) ListConfigEntries(ctx context.Context, prefix string, limit int) ([]ConfigEntry, error) {
	limit = clampLimit(limit, 500, 5000)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value_json, updated_at_ms FROM config_entries WHERE key LIKE ? ESCAPE '\' ORDER BY updated_at_ms DESC LIMIT ?`,
		likePrefix(prefix), limit)
	if err != nil {
		return nil, Storage("list config entries: %v", err)
	}
	defer rows.Close()

	var out []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		var value string
		var updated int64
		if err := rows.Scan(&e.Key, &value, &updated); err != nil {
			return nil, Storage("scan config entry: %v", err)
		}
		e.Value = json.RawMessage(value)
		e.UpdatedAtMs = uint64(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func likePrefix(prefix string) string {
	escaped := ""
	for _, r := range prefix {
		switch r {
		case '\\', '%', '_':
			escaped += "\\" + string(r)
		default:
			escaped += string(r)
		}
	}
	return escaped + "%"
}

func clampLimit(v, def, max int) int {
	if v <= 0 {
		v = def
	}
	if v > max {
		v = max
	}
	return v
}

// --- sessions ---

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, tags_json, metadata_json, created_at_ms, updated_at_ms FROM sessions ORDER BY updated_at_ms DESC`)
	if err != nil {
		return nil, Storage("list sessions: %v", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var tags, meta string
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.Title, &tags, &meta, &created, &updated); err != nil {
		return Session{}, Storage("scan session: %v", err)
	}
	if err := json.Unmarshal([]byte(tags), &sess.Tags); err != nil {
		return Session{}, Storage("decode session tags: %v", err)
	}
	sess.Metadata = json.RawMessage(meta)
	sess.CreatedAtMs = uint64(created)
	sess.UpdatedAtMs = uint64(updated)
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var tags, meta string
	var created, updated int64
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, tags_json, metadata_json, created_at_ms, updated_at_ms FROM sessions WHERE id = ? LIMIT 1`, id,
	).Scan(&sess.ID, &sess.Title, &tags, &meta, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get session: %v", err)
	}
	if err := json.Unmarshal([]byte(tags), &sess.Tags); err != nil {
		return nil, Storage("decode session tags: %v", err)
	}
	sess.Metadata = json.RawMessage(meta)
	sess.CreatedAtMs = uint64(created)
	sess.UpdatedAtMs = uint64(updated)
	return &sess, nil
}

func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	tagsJSON, err := json.Marshal(sess.Tags)
	if err != nil {
		return Storage("encode tags: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, title, tags_json, metadata_json, created_at_ms, updated_at_ms) VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, tags_json = excluded.tags_json,
		   metadata_json = excluded.metadata_json, updated_at_ms = excluded.updated_at_ms`,
		sess.ID, sess.Title, string(tagsJSON), string(rawOrEmptyObject(sess.Metadata)), sess.CreatedAtMs, sess.UpdatedAtMs)
	if err != nil {
		return Storage("upsert session: %v", err)
	}
	return nil
}

func (s *Store) RemoveSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, Storage("remove session: %v", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ClearSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, Storage("clear sessions: %v", err)
	}
	return res.RowsAffected()
}

func (s *Store) CompactSessions(ctx context.Context, maxAgeMs uint64) (int64, error) {
	now := nowMs()
	cutoff := int64(0)
	if now > maxAgeMs {
		cutoff = int64(now - maxAgeMs)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at_ms < ?`, cutoff)
	if err != nil {
		return 0, Storage("compact sessions: %v", err)
	}
	return res.RowsAffected()
}

// --- chat messages ---

func (s *Store) AppendChatMessages(ctx context.Context, sessionKey string, messages []ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Storage("begin tx: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chat_messages(message_id, session_key, role, text, status, metadata_json, ts_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Storage("prepare insert: %v", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		if _, err := stmt.ExecContext(ctx, m.ID, sessionKey, m.Role, m.Text, m.Status, string(rawOrEmptyObject(m.Metadata)), m.TS); err != nil {
			return Storage("insert chat message: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Storage("commit tx: %v", err)
	}
	return nil
}

func (s *Store) ListChatMessages(ctx context.Context, sessionKey string, limit int) ([]ChatMessage, error) {
	query := `SELECT message_id, role, text, status, metadata_json, ts_ms FROM chat_messages WHERE session_key = ? ORDER BY ts_ms DESC`
	args := []any{sessionKey}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Storage("list chat messages: %v", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var meta string
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Status, &meta, &m.TS); err != nil {
			return nil, Storage("scan chat message: %v", err)
		}
		m.Metadata = json.RawMessage(meta)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Storage("list chat messages: %v", err)
	}
	// rows arrive newest-first; callers see oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) CountChatMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&n); err != nil {
		return 0, Storage("count chat messages: %v", err)
	}
	return n, nil
}

// --- agent runs ---

func (s *Store) UpsertAgentRun(ctx context.Context, run *AgentRun) error {
	meta, err := agentRunMetaOrEmpty(run.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs(run_id, agent_id, input, output, status, session_key, metadata_json, created_at_ms, updated_at_ms, completed_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET output = excluded.output, status = excluded.status,
		   session_key = excluded.session_key, metadata_json = excluded.metadata_json,
		   updated_at_ms = excluded.updated_at_ms, completed_at_ms = excluded.completed_at_ms`,
		run.ID, run.AgentID, run.Input, run.Output, run.Status, run.SessionKey, meta,
		run.CreatedAtMs, run.UpdatedAtMs, run.CompletedAtMs)
	if err != nil {
		return Storage("upsert agent run: %v", err)
	}
	return nil
}

func agentRunMetaOrEmpty(v json.RawMessage) (string, error) {
	return string(rawOrEmptyObject(v)), nil
}

// TransitionStatus atomically sets status to `to` iff it currently equals
// `from`. Returns whether exactly one row was touched. Used to claim a
// queued run.
func (s *Store) TransitionStatus(ctx context.Context, runID, from, to string, updatedAtMs uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?, updated_at_ms = ? WHERE run_id = ? AND status = ?`,
		to, updatedAtMs, runID, from)
	if err != nil {
		return false, Storage("transition agent run status: %v", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FinalizeIfStatus atomically writes every mutable field iff the current
// status equals expected. Used so a concurrent abort wins over a late
// completion.
func (s *Store) FinalizeIfStatus(ctx context.Context, run *AgentRun, expected string) (bool, error) {
	meta, err := agentRunMetaOrEmpty(run.Metadata)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET output = ?, status = ?, session_key = ?, metadata_json = ?, updated_at_ms = ?, completed_at_ms = ?
		 WHERE run_id = ? AND status = ?`,
		run.Output, run.Status, run.SessionKey, meta, run.UpdatedAtMs, run.CompletedAtMs, run.ID, expected)
	if err != nil {
		return false, Storage("finalize agent run: %v", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func scanAgentRun(row scanner) (*AgentRun, error) {
	var run AgentRun
	var sessionKey sql.NullString
	var meta string
	var created, updated int64
	var completed sql.NullInt64
	if err := row.Scan(&run.ID, &run.AgentID, &run.Input, &run.Output, &run.Status, &sessionKey, &meta, &created, &updated, &completed); err != nil {
		return nil, err
	}
	if sessionKey.Valid {
		v := sessionKey.String
		run.SessionKey = &v
	}
	run.Metadata = json.RawMessage(meta)
	run.CreatedAtMs = uint64(created)
	run.UpdatedAtMs = uint64(updated)
	if completed.Valid {
		v := uint64(completed.Int64)
		run.CompletedAtMs = &v
	}
	return &run, nil
}

const agentRunCols = `run_id, agent_id, input, output, status, session_key, metadata_json, created_at_ms, updated_at_ms, completed_at_ms`

func (s *Store) GetAgentRun(ctx context.Context, runID string) (*AgentRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentRunCols+` FROM agent_runs WHERE run_id = ? LIMIT 1`, runID)
	run, err := scanAgentRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get agent run: %v", err)
	}
	return run, nil
}

func (s *Store) CountAgentRuns(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_runs`).Scan(&n); err != nil {
		return 0, Storage("count agent runs: %v", err)
	}
	return n, nil
}

func (s *Store) ListAgentRunsBySession(ctx context.Context, sessionKey string, limit int) ([]AgentRun, error) {
	limit = clampLimit(limit, 500, 5000)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentRunCols+` FROM agent_runs WHERE session_key = ? ORDER BY updated_at_ms DESC LIMIT ?`,
		sessionKey, limit)
	if err != nil {
		return nil, Storage("list agent runs by session: %v", err)
	}
	defer rows.Close()
	var out []AgentRun
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, Storage("scan agent run: %v", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// --- cron jobs / runs ---

func scanCronJob(row scanner) (*CronJob, error) {
	var job CronJob
	var enabled int64
	var scheduleJSON, payloadJSON, meta string
	var created, updated int64
	var lastRun, nextRun sql.NullInt64
	if err := row.Scan(&job.ID, &job.Name, &enabled, &scheduleJSON, &payloadJSON, &meta, &created, &updated, &lastRun, &nextRun); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &job.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &job.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	job.Enabled = enabled == 1
	job.Metadata = json.RawMessage(meta)
	job.CreatedAtMs = uint64(created)
	job.UpdatedAtMs = uint64(updated)
	if lastRun.Valid {
		v := uint64(lastRun.Int64)
		job.LastRunMs = &v
	}
	if nextRun.Valid {
		v := uint64(nextRun.Int64)
		job.NextRunMs = &v
	}
	return &job, nil
}

const cronJobCols = `job_id, name, enabled, schedule_json, payload_json, metadata_json, created_at_ms, updated_at_ms, last_run_ms, next_run_ms`

func (s *Store) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cronJobCols+` FROM cron_jobs ORDER BY name ASC`)
	if err != nil {
		return nil, Storage("list cron jobs: %v", err)
	}
	defer rows.Close()
	var out []CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, Storage("scan cron job: %v", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cronJobCols+` FROM cron_jobs WHERE job_id = ? LIMIT 1`, id)
	job, err := scanCronJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get cron job: %v", err)
	}
	return job, nil
}

func (s *Store) InsertCronJob(ctx context.Context, job *CronJob) error {
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return Storage("encode schedule: %v", err)
	}
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return Storage("encode payload: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs(`+cronJobCols+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, boolToInt(job.Enabled), string(scheduleJSON), string(payloadJSON),
		string(rawOrEmptyObject(job.Metadata)), job.CreatedAtMs, job.UpdatedAtMs, job.LastRunMs, job.NextRunMs)
	if err != nil {
		return Storage("insert cron job: %v", err)
	}
	return nil
}

func (s *Store) UpdateCronJob(ctx context.Context, id string, patch CronJobPatch) (*CronJob, error) {
	existing, err := s.GetCronJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, NotFound("cron job not found: %s", id)
	}
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.Schedule != nil {
		existing.Schedule = *patch.Schedule
	}
	if patch.Payload != nil {
		existing.Payload = *patch.Payload
	}
	if patch.Metadata != nil {
		existing.Metadata = patch.Metadata
	}
	if patch.NextRunMsSet {
		existing.NextRunMs = patch.NextRunMs
	}
	existing.UpdatedAtMs = nowMs()

	scheduleJSON, err := json.Marshal(existing.Schedule)
	if err != nil {
		return nil, Storage("encode schedule: %v", err)
	}
	payloadJSON, err := json.Marshal(existing.Payload)
	if err != nil {
		return nil, Storage("encode payload: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET name = ?, enabled = ?, schedule_json = ?, payload_json = ?, metadata_json = ?,
		   updated_at_ms = ?, last_run_ms = ?, next_run_ms = ? WHERE job_id = ?`,
		existing.Name, boolToInt(existing.Enabled), string(scheduleJSON), string(payloadJSON),
		string(rawOrEmptyObject(existing.Metadata)), existing.UpdatedAtMs, existing.LastRunMs, existing.NextRunMs, existing.ID)
	if err != nil {
		return nil, Storage("update cron job: %v", err)
	}
	return existing, nil
}

func (s *Store) RemoveCronJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE job_id = ?`, id)
	if err != nil {
		return false, Storage("remove cron job: %v", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) UpdateCronJobRuntime(ctx context.Context, jobID string, lastRunMs, nextRunMs *uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET last_run_ms = ?, next_run_ms = ?, updated_at_ms = ? WHERE job_id = ?`,
		lastRunMs, nextRunMs, nowMs(), jobID)
	if err != nil {
		return Storage("update cron job runtime: %v", err)
	}
	return nil
}

func (s *Store) AddCronRun(ctx context.Context, run *CronRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_runs(run_id, job_id, status, output, error, manual, started_at_ms, finished_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.Status, run.Output, run.Error, boolToInt(run.Manual), run.StartedAtMs, run.FinishedAtMs)
	if err != nil {
		return Storage("insert cron run: %v", err)
	}
	return nil
}

func (s *Store) ListCronRuns(ctx context.Context, jobID string, limit int) ([]CronRun, error) {
	query := `SELECT run_id, job_id, status, output, error, manual, started_at_ms, finished_at_ms FROM cron_runs`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at_ms DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Storage("list cron runs: %v", err)
	}
	defer rows.Close()
	var out []CronRun
	for rows.Next() {
		var r CronRun
		var output, errText sql.NullString
		var manual int64
		if err := rows.Scan(&r.ID, &r.JobID, &r.Status, &output, &errText, &manual, &r.StartedAtMs, &r.FinishedAtMs); err != nil {
			return nil, Storage("scan cron run: %v", err)
		}
		if output.Valid {
			r.Output = &output.String
		}
		if errText.Valid {
			r.Error = &errText.String
		}
		r.Manual = manual == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneCronRuns deletes every row beyond the newest `keep` by started_at_ms.
func (s *Store) PruneCronRuns(ctx context.Context, keep int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM cron_runs ORDER BY started_at_ms DESC LIMIT -1 OFFSET ?`, keep)
	if err != nil {
		return Storage("query prunable runs: %v", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Storage("scan prunable run: %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Storage("begin tx: %v", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cron_runs WHERE run_id = ?`, id); err != nil {
			return Storage("prune cron run: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Storage("commit tx: %v", err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// --- nodes ---

func scanNode(row scanner) (*Node, error) {
	var n Node
	var deviceFamily sql.NullString
	var commandsJSON string
	var paired int64
	var meta string
	if err := row.Scan(&n.ID, &n.DisplayName, &n.Platform, &deviceFamily, &commandsJSON, &paired, &n.Status, &n.LastSeenMs, &meta); err != nil {
		return nil, err
	}
	if deviceFamily.Valid {
		n.DeviceFamily = &deviceFamily.String
	}
	if err := json.Unmarshal([]byte(commandsJSON), &n.Commands); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	n.Paired = paired == 1
	n.Metadata = json.RawMessage(meta)
	return &n, nil
}

const nodeCols = `node_id, display_name, platform, device_family, commands_json, paired, status, last_seen_ms, metadata_json`

func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeCols+` FROM nodes ORDER BY last_seen_ms DESC`)
	if err != nil {
		return nil, Storage("list nodes: %v", err)
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, Storage("scan node: %v", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeCols+` FROM nodes WHERE node_id = ? LIMIT 1`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get node: %v", err)
	}
	return n, nil
}

func (s *Store) UpsertNode(ctx context.Context, n *Node) error {
	commandsJSON, err := json.Marshal(rawSliceOrEmpty(n.Commands))
	if err != nil {
		return Storage("encode commands: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes(`+nodeCols+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET display_name = excluded.display_name, platform = excluded.platform,
		   device_family = excluded.device_family, commands_json = excluded.commands_json, paired = excluded.paired,
		   status = excluded.status, last_seen_ms = excluded.last_seen_ms, metadata_json = excluded.metadata_json`,
		n.ID, n.DisplayName, n.Platform, n.DeviceFamily, string(commandsJSON), boolToInt(n.Paired),
		n.Status, n.LastSeenMs, string(rawOrEmptyObject(n.Metadata)))
	if err != nil {
		return Storage("upsert node: %v", err)
	}
	return nil
}

func rawSliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) RenameNode(ctx context.Context, id, displayName string) (*Node, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET display_name = ?, last_seen_ms = ? WHERE node_id = ?`,
		displayName, nowMs(), id)
	if err != nil {
		return nil, Storage("rename node: %v", err)
	}
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, NotFound("node not found: %s", id)
	}
	return n, nil
}

// --- node pair requests ---

func scanPairRequest(row scanner) (*NodePairRequest, error) {
	var p NodePairRequest
	var deviceFamily, publicKey, reason sql.NullString
	var commandsJSON string
	var resolvedAt sql.NullInt64
	if err := row.Scan(&p.RequestID, &p.NodeID, &p.DisplayName, &p.Platform, &deviceFamily, &commandsJSON,
		&publicKey, &p.Status, &reason, &p.CreatedAtMs, &resolvedAt); err != nil {
		return nil, err
	}
	if deviceFamily.Valid {
		p.DeviceFamily = &deviceFamily.String
	}
	if publicKey.Valid {
		p.PublicKey = &publicKey.String
	}
	if reason.Valid {
		p.Reason = &reason.String
	}
	if err := json.Unmarshal([]byte(commandsJSON), &p.Commands); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	if resolvedAt.Valid {
		v := uint64(resolvedAt.Int64)
		p.ResolvedAtMs = &v
	}
	return &p, nil
}

const pairRequestCols = `request_id, node_id, display_name, platform, device_family, commands_json, public_key, status, reason, created_at_ms, resolved_at_ms`

func (s *Store) AddNodePairRequest(ctx context.Context, req *NodePairRequest) error {
	req.RequestID = "pair-" + uuid.NewString()
	req.Status = "pending"
	req.CreatedAtMs = nowMs()
	commandsJSON, err := json.Marshal(rawSliceOrEmpty(req.Commands))
	if err != nil {
		return Storage("encode commands: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_pair_requests(`+pairRequestCols+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RequestID, req.NodeID, req.DisplayName, req.Platform, req.DeviceFamily, string(commandsJSON),
		req.PublicKey, req.Status, req.Reason, req.CreatedAtMs, req.ResolvedAtMs)
	if err != nil {
		return Storage("insert pair request: %v", err)
	}
	return nil
}

func (s *Store) ListNodePairRequests(ctx context.Context) ([]NodePairRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pairRequestCols+` FROM node_pair_requests ORDER BY created_at_ms DESC`)
	if err != nil {
		return nil, Storage("list pair requests: %v", err)
	}
	defer rows.Close()
	var out []NodePairRequest
	for rows.Next() {
		p, err := scanPairRequest(rows)
		if err != nil {
			return nil, Storage("scan pair request: %v", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) getNodePairRequest(ctx context.Context, requestID string) (*NodePairRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pairRequestCols+` FROM node_pair_requests WHERE request_id = ? LIMIT 1`, requestID)
	p, err := scanPairRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get pair request: %v", err)
	}
	return p, nil
}

// ResolveNodePairRequest resolves a pending request and, on approval,
// mirrors the commands/platform/display-name onto the target Node and
// flips its paired flag.
func (s *Store) ResolveNodePairRequest(ctx context.Context, requestID string, approved bool, reason *string) (*NodePairRequest, error) {
	req, err := s.getNodePairRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, NotFound("pair request not found: %s", requestID)
	}

	if approved {
		req.Status = "approved"
	} else {
		req.Status = "rejected"
	}
	req.Reason = reason
	now := nowMs()
	req.ResolvedAtMs = &now

	_, err = s.db.ExecContext(ctx,
		`UPDATE node_pair_requests SET status = ?, reason = ?, resolved_at_ms = ? WHERE request_id = ?`,
		req.Status, req.Reason, req.ResolvedAtMs, requestID)
	if err != nil {
		return nil, Storage("resolve pair request: %v", err)
	}

	node, err := s.GetNode(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		node = &Node{
			ID:          req.NodeID,
			DisplayName: req.DisplayName,
			Platform:    req.Platform,
			Status:      "offline",
			Metadata:    json.RawMessage("{}"),
		}
	}
	node.DisplayName = req.DisplayName
	node.Platform = req.Platform
	node.DeviceFamily = req.DeviceFamily
	node.Commands = req.Commands
	node.Paired = approved
	node.LastSeenMs = now
	if err := s.UpsertNode(ctx, node); err != nil {
		return nil, err
	}

	return req, nil
}

// --- node invokes ---

func scanInvoke(row scanner) (*NodeInvoke, error) {
	var inv NodeInvoke
	var argsJSON string
	var inputJSON, resultJSON, errText sql.NullString
	var completedAt sql.NullInt64
	if err := row.Scan(&inv.RequestID, &inv.NodeID, &inv.Command, &argsJSON, &inputJSON, &inv.Status,
		&resultJSON, &errText, &inv.RequestedAtMs, &inv.UpdatedAtMs, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &inv.Args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	if inputJSON.Valid {
		inv.Input = json.RawMessage(inputJSON.String)
	}
	if resultJSON.Valid {
		inv.Result = json.RawMessage(resultJSON.String)
	}
	if errText.Valid {
		inv.Error = &errText.String
	}
	if completedAt.Valid {
		v := uint64(completedAt.Int64)
		inv.CompletedAtMs = &v
	}
	return &inv, nil
}

const invokeCols = `invoke_id, node_id, command, args_json, input_json, status, result_json, error, requested_at_ms, updated_at_ms, completed_at_ms`

// CreateNodeInvoke requires the Node to exist and be paired, then
// synthesizes a simulated completed result (real routing is out of scope
// for the core runtime).
func (s *Store) CreateNodeInvoke(ctx context.Context, nodeID, command string, args []string, input json.RawMessage) (*NodeInvoke, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, NotFound("node not found: %s", nodeID)
	}
	if !node.Paired {
		return nil, NotPaired("node is not paired: %s", nodeID)
	}

	now := nowMs()
	inv := &NodeInvoke{
		RequestID:     "invoke-" + uuid.NewString(),
		NodeID:        nodeID,
		Command:       command,
		Args:          rawSliceOrEmpty(args),
		Input:         input,
		Status:        "completed",
		Result:        json.RawMessage(`{"ok":true,"message":"invoke simulated by gatewire runtime"}`),
		RequestedAtMs: now,
		UpdatedAtMs:   now,
		CompletedAtMs: &now,
	}

	argsJSON, err := json.Marshal(inv.Args)
	if err != nil {
		return nil, Storage("encode args: %v", err)
	}
	var inputText, resultText any
	if len(inv.Input) > 0 {
		inputText = string(inv.Input)
	}
	if len(inv.Result) > 0 {
		resultText = string(inv.Result)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_invokes(`+invokeCols+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.RequestID, inv.NodeID, inv.Command, string(argsJSON), inputText, inv.Status, resultText,
		inv.Error, inv.RequestedAtMs, inv.UpdatedAtMs, inv.CompletedAtMs)
	if err != nil {
		return nil, Storage("create node invoke: %v", err)
	}
	return inv, nil
}

func (s *Store) UpdateNodeInvokeResult(ctx context.Context, requestID, status string, payload json.RawMessage, errText *string) (*NodeInvoke, error) {
	inv, err := s.GetNodeInvoke(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, NotFound("invoke request not found: %s", requestID)
	}
	inv.Status = status
	inv.Result = payload
	inv.Error = errText
	inv.UpdatedAtMs = nowMs()
	if inv.Status == "completed" || inv.Status == "failed" {
		inv.CompletedAtMs = &inv.UpdatedAtMs
	}

	var resultText any
	if len(inv.Result) > 0 {
		resultText = string(inv.Result)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE node_invokes SET status = ?, result_json = ?, error = ?, updated_at_ms = ?, completed_at_ms = ? WHERE invoke_id = ?`,
		inv.Status, resultText, inv.Error, inv.UpdatedAtMs, inv.CompletedAtMs, requestID)
	if err != nil {
		return nil, Storage("update invoke result: %v", err)
	}
	return inv, nil
}

func (s *Store) GetNodeInvoke(ctx context.Context, requestID string) (*NodeInvoke, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invokeCols+` FROM node_invokes WHERE invoke_id = ? LIMIT 1`, requestID)
	inv, err := scanInvoke(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Storage("get invoke: %v", err)
	}
	return inv, nil
}

// --- node events ---

func (s *Store) AddNodeEvent(ctx context.Context, nodeID, event string, payload json.RawMessage) (*NodeEvent, error) {
	rec := &NodeEvent{
		ID:      "evt-" + uuid.NewString(),
		NodeID:  nodeID,
		Event:   event,
		Payload: payload,
		TS:      nowMs(),
	}
	var payloadText any
	if len(rec.Payload) > 0 {
		payloadText = string(rec.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_events(event_id, node_id, event, payload_json, ts_ms) VALUES(?, ?, ?, ?, ?)`,
		rec.ID, rec.NodeID, rec.Event, payloadText, rec.TS)
	if err != nil {
		return nil, Storage("insert node event: %v", err)
	}
	s.events.remember(nodeID, *rec)
	return rec, nil
}

// ListNodeEvents returns nodeID's events newest-first, capped at limit
// (0 means unbounded). A per-node query within the in-memory cache's
// capacity is served from there instead of hitting sqlite.
func (s *Store) ListNodeEvents(ctx context.Context, nodeID string, limit int) ([]NodeEvent, error) {
	if cached, ok := s.events.lookup(nodeID, limit); ok {
		return cached, nil
	}
	query := `SELECT event_id, node_id, event, payload_json, ts_ms FROM node_events`
	var args []any
	if nodeID != "" {
		query += ` WHERE node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY ts_ms DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Storage("list node events: %v", err)
	}
	defer rows.Close()
	var out []NodeEvent
	for rows.Next() {
		var e NodeEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Event, &payload, &e.TS); err != nil {
			return nil, Storage("scan node event: %v", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrimNodeEvents deletes every row beyond the newest `keep` by ts_ms.
func (s *Store) TrimNodeEvents(ctx context.Context, keep int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id FROM node_events ORDER BY ts_ms DESC LIMIT -1 OFFSET ?`, keep)
	if err != nil {
		return Storage("query old node events: %v", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Storage("scan old node event: %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Storage("begin tx: %v", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_events WHERE event_id = ?`, id); err != nil {
			return Storage("delete node event: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Storage("commit tx: %v", err)
	}
	return nil
}
