package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// NewInMemory opens an in-memory database. Used by tests.
func NewInMemory() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A second connection to :memory: would see a different database.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendMessage durably records a message and returns its generated ID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, rec *MessageRecord) (string, error) {
	id := uuid.New().String()

	var metadata any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, agent_id, agent_name, message_type, content, metadata, thread_id, reply_to_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.RoomID, rec.AgentID, rec.AgentName, rec.MessageType, rec.Content,
		metadata, nullable(rec.ThreadID), nullable(rec.ReplyToMessageID), now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// AppendLockEvent records a lock transition.
func (s *SQLiteStore) AppendLockEvent(ctx context.Context, roomID string, lock protocol.FileLock, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lock_events (room_id, file_path, agent_id, agent_name, lock_type, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		roomID, lock.FilePath, lock.AgentID, lock.AgentName, string(lock.LockType), status, now(),
	)
	if err != nil {
		return fmt.Errorf("insert lock event: %w", err)
	}
	return nil
}

// UpsertPresence records an agent's current presence for a room.
func (s *SQLiteStore) UpsertPresence(ctx context.Context, roomID, agentID, agentName, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (room_id, agent_id, agent_name, status, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(room_id, agent_id) DO UPDATE SET
		   agent_name = excluded.agent_name,
		   status = excluded.status,
		   last_seen = excluded.last_seen`,
		roomID, agentID, agentName, status, now(),
	)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// UpsertRoomSummary records aggregate counts for a room.
func (s *SQLiteStore) UpsertRoomSummary(ctx context.Context, sum RoomSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_summaries (room_id, name, description, message_count, active_agents, active_locks, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   message_count = excluded.message_count,
		   active_agents = excluded.active_agents,
		   active_locks = excluded.active_locks,
		   updated_at = excluded.updated_at`,
		sum.RoomID, sum.Name, sum.Description, sum.MessageCount, sum.ActiveAgents, sum.ActiveLocks, now(),
	)
	if err != nil {
		return fmt.Errorf("upsert room summary: %w", err)
	}
	return nil
}

// CreateThread opens a discussion thread and returns its ID.
func (s *SQLiteStore) CreateThread(ctx context.Context, roomID, subject, createdBy string) (string, error) {
	id := uuid.New().String()
	ts := now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, room_id, subject, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, roomID, subject, createdBy, ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("insert thread: %w", err)
	}
	return id, nil
}

// TouchThread bumps a thread's updated time.
func (s *SQLiteStore) TouchThread(ctx context.Context, roomID, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ? AND room_id = ?`,
		now(), threadID, roomID,
	)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	if affected == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// Query runs a read-only historical query scoped to roomID.
func (s *SQLiteStore) Query(ctx context.Context, roomID string, req protocol.QueryRequest) ([]Row, error) {
	if err := ValidateQuery(req); err != nil {
		return nil, err
	}

	limit := req.Filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	offset := req.Filters.Offset
	if offset < 0 {
		offset = 0
	}

	switch req.QueryType {
	case protocol.QueryHistory:
		return s.queryHistory(ctx, roomID, req.Filters, limit, offset)
	case protocol.QueryLocks:
		return s.queryLocks(ctx, roomID, req.Filters, limit, offset)
	case protocol.QueryAgents:
		return s.queryAgents(ctx, roomID, limit, offset)
	case protocol.QueryFileHistory:
		return s.queryFileHistory(ctx, roomID, req.Filters, limit, offset)
	case protocol.QueryRooms:
		return s.queryRooms(ctx, limit, offset)
	default:
		return nil, ErrUnknownQuery
	}
}

func (s *SQLiteStore) queryHistory(ctx context.Context, roomID string, f protocol.QueryFilters, limit, offset int) ([]Row, error) {
	query := `SELECT id, agent_id, agent_name, message_type, content, metadata, thread_id, reply_to_message_id, created_at
	          FROM messages WHERE room_id = ?`
	args := []any{roomID}

	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Since != "" {
		query += ` AND created_at > ?`
		args = append(args, sinceTimestamp(f.Since))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	results := make([]Row, 0, limit)
	for rows.Next() {
		var id, agentID, agentName, msgType, content, createdAt string
		var metadata, threadID, replyTo sql.NullString
		if err := rows.Scan(&id, &agentID, &agentName, &msgType, &content, &metadata, &threadID, &replyTo, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		row := Row{
			"messageId": id,
			"agentId":   agentID,
			"agentName": agentName,
			"type":      msgType,
			"content":   content,
			"createdAt": createdAt,
		}
		if metadata.Valid {
			var meta map[string]any
			if err := json.Unmarshal([]byte(metadata.String), &meta); err == nil {
				row["metadata"] = meta
			}
		}
		if threadID.Valid {
			row["threadId"] = threadID.String
		}
		if replyTo.Valid {
			row["replyToMessageId"] = replyTo.String
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// queryLocks reports currently-locked paths: the newest event per path,
// kept only when that event is a grant.
func (s *SQLiteStore) queryLocks(ctx context.Context, roomID string, f protocol.QueryFilters, limit, offset int) ([]Row, error) {
	query := `SELECT e.file_path, e.agent_id, e.agent_name, e.lock_type, e.created_at
	          FROM lock_events e
	          JOIN (SELECT file_path, MAX(id) AS max_id FROM lock_events WHERE room_id = ? GROUP BY file_path) latest
	            ON e.id = latest.max_id
	          WHERE e.status = ?`
	args := []any{roomID, LockStatusLocked}

	if f.FilePath != "" {
		query += ` AND e.file_path = ?`
		args = append(args, f.FilePath)
	}
	if f.AgentID != "" {
		query += ` AND e.agent_id = ?`
		args = append(args, f.AgentID)
	}
	query += ` ORDER BY e.file_path LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var filePath, agentID, agentName, lockType, createdAt string
		if err := rows.Scan(&filePath, &agentID, &agentName, &lockType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		results = append(results, Row{
			"filePath":  filePath,
			"agentId":   agentID,
			"agentName": agentName,
			"lockType":  lockType,
			"timestamp": createdAt,
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) queryAgents(ctx context.Context, roomID string, limit, offset int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, agent_name, status, last_seen FROM presence
		 WHERE room_id = ? AND status = ?
		 ORDER BY agent_name LIMIT ? OFFSET ?`,
		roomID, PresenceOnline, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var agentID, agentName, status, lastSeen string
		if err := rows.Scan(&agentID, &agentName, &status, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		results = append(results, Row{
			"agentId":   agentID,
			"agentName": agentName,
			"status":    status,
			"lastSeen":  lastSeen,
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) queryFileHistory(ctx context.Context, roomID string, f protocol.QueryFilters, limit, offset int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, agent_id, agent_name, lock_type, status, created_at FROM lock_events
		 WHERE room_id = ? AND file_path = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		roomID, f.FilePath, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query file history: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var filePath, agentID, agentName, lockType, status, createdAt string
		if err := rows.Scan(&filePath, &agentID, &agentName, &lockType, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lock event: %w", err)
		}
		results = append(results, Row{
			"filePath":  filePath,
			"agentId":   agentID,
			"agentName": agentName,
			"lockType":  lockType,
			"status":    status,
			"timestamp": createdAt,
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) queryRooms(ctx context.Context, limit, offset int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, name, description, message_count, active_agents, active_locks, updated_at
		 FROM room_summaries ORDER BY room_id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var roomID, name, description, updatedAt string
		var messageCount, activeAgents, activeLocks int
		if err := rows.Scan(&roomID, &name, &description, &messageCount, &activeAgents, &activeLocks, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan room summary: %w", err)
		}
		results = append(results, Row{
			"roomId":       roomID,
			"name":         name,
			"description":  description,
			"messageCount": messageCount,
			"activeAgents": activeAgents,
			"activeLocks":  activeLocks,
			"updatedAt":    updatedAt,
		})
	}
	return results, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sinceTimestamp rewrites a caller-supplied since value into timeLayout so it
// compares lexicographically against stored timestamps. A plain RFC3339 value
// like "2026-08-31T10:00:00Z" would otherwise sort after every fractional
// timestamp in its own second. Unparseable values pass through unchanged.
func sinceTimestamp(since string) string {
	t, err := time.Parse(time.RFC3339Nano, since)
	if err != nil {
		return since
	}
	return t.UTC().Format(timeLayout)
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
