// Package store persists completion records so a response is finalized at
// most once, even when the queue redelivers its message.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ResponseStatus is the lifecycle state of a response.
type ResponseStatus string

const (
	ResponseStreaming ResponseStatus = "streaming"
	ResponseCompleted ResponseStatus = "completed"
)

// ErrNotFound is returned when no record exists for a response id.
var ErrNotFound = errors.New("response not found")

// Response is the completion record of one response_uuid.
type Response struct {
	ResponseUUID string         `json:"responseUuid"`
	Channel      string         `json:"channel,omitempty"`
	Status       ResponseStatus `json:"status"`
	ChunksSent   int            `json:"chunksSent"`
	ChunksTotal  int            `json:"chunksTotal"`
	Truncated    bool           `json:"truncated"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Store wraps the SQL database used for the completion ledger.
type Store struct {
	db     *sql.DB
	driver string
	lease  time.Duration
}

// Open initializes the datastore using the supplied DSN/file path and driver
// (sqlite or postgres).
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
		db, err = sql.Open("sqlite", conn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite datastore: %w", err)
		}
		// One writer keeps sqlite from returning SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}

	s := &Store{db: db, driver: driver, lease: DefaultLease}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS responses (
			response_uuid TEXT PRIMARY KEY,
			channel TEXT,
			status TEXT NOT NULL,
			chunks_sent INTEGER DEFAULT 0,
			chunks_total INTEGER DEFAULT 0,
			truncated BOOLEAN DEFAULT FALSE,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_responses_updated ON responses(updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SetLease sets how long a streaming claim is honoured before another
// delivery may take the response over.
func (s *Store) SetLease(d time.Duration) {
	s.lease = leaseOrDefault(d)
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginResponse claims a response id for processing. It returns false when
// the response was already completed or another delivery holds a claim
// younger than the lease.
func (s *Store) BeginResponse(ctx context.Context, responseUUID, channel string) (bool, error) {
	if responseUUID == "" {
		return false, errors.New("response uuid required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO responses (response_uuid, channel, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (response_uuid) DO NOTHING`),
		responseUUID, channel, ResponseStreaming, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert response: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	// A streaming record past its lease belongs to a run that died; take it over.
	res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE responses SET status=?, updated_at=? WHERE response_uuid=? AND status<>? AND updated_at < ?`),
		ResponseStreaming, now, responseUUID, ResponseCompleted, now.Add(-s.lease),
	)
	if err != nil {
		return false, fmt.Errorf("reclaim response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishResponse marks a response completed with its delivery statistics.
func (s *Store) FinishResponse(ctx context.Context, r *Response) error {
	r.Status = ResponseCompleted
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE responses SET status=?, chunks_sent=?, chunks_total=?, truncated=?, error=?, updated_at=? WHERE response_uuid=?`),
		r.Status, r.ChunksSent, r.ChunksTotal, r.Truncated, r.Error, r.UpdatedAt, r.ResponseUUID,
	)
	if err != nil {
		return fmt.Errorf("finish response: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetResponse loads the completion record for a response id.
func (s *Store) GetResponse(ctx context.Context, responseUUID string) (*Response, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT response_uuid, channel, status, chunks_sent, chunks_total, truncated, error, created_at, updated_at
		FROM responses WHERE response_uuid=?`), responseUUID)
	var (
		r       Response
		channel sql.NullString
		errText sql.NullString
	)
	if err := row.Scan(&r.ResponseUUID, &channel, &r.Status, &r.ChunksSent, &r.ChunksTotal, &r.Truncated, &errText, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Channel = channel.String
	r.Error = errText.String
	return &r, nil
}

// PruneResponses deletes records last updated before cutoff and returns how many were removed.
func (s *Store) PruneResponses(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM responses WHERE updated_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune responses: %w", err)
	}
	return res.RowsAffected()
}
