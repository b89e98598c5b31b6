package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "mathduel/pkg/database"
	"mathduel/pkg/types"
)

// ErrNotFound is returned for lookups that match no row.
var ErrNotFound = sql.ErrNoRows

// Manager is the sqlite persistence collaborator: identity lookups for
// the resolver and an archive of evicted sessions for late joiners and
// lobby history. Live game state never touches it.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger

	// Writes funnel through a single goroutine; sqlite holds a single
	// write lock and concurrent writers just contend on busy timeouts.
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// NewManager opens the database, applies migrations and starts the
// write loop.
func NewManager(cfg *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbconfig.ApplyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	m := &Manager{
		db:       db,
		logger:   logger,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			err := op.fn(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying once", zap.Error(err))
				err = op.fn(m.db)
			}
			op.result <- err
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, fn func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	op := writeOp{fn: fn, result: make(chan error, 1)}
	select {
	case m.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveParticipant upserts a participant's display name.
func (m *Manager) SaveParticipant(ctx context.Context, key, displayName string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO participants (key, display_name, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`,
			key, displayName, time.Now())
		return err
	})
}

// GetParticipantName resolves a canonical key to its persisted display
// name.
func (m *Manager) GetParticipantName(ctx context.Context, key string) (string, error) {
	var name string
	err := m.db.QueryRowContext(ctx, `SELECT display_name FROM participants WHERE key = ?`, key).Scan(&name)
	if err != nil {
		return "", err
	}
	return name, nil
}

// ArchiveSession stores the final snapshot of an evicted session.
// Replaces any previous archive row for the same id, so re-created
// sessions with a reused id archive cleanly.
func (m *Manager) ArchiveSession(ctx context.Context, s *types.Session) error {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR REPLACE INTO session_archive
				(id, status, participants, stats, created_at, started_at, ended_at, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.Status, string(participants), string(stats),
			s.CreatedAt, nullableTime(s.StartedAt), nullableTime(s.EndedAt), time.Now())
		return err
	})
}

// GetArchivedSession returns the archived snapshot for a session id.
// Late joiners reconnecting after a restart use this to recover the
// roster.
func (m *Manager) GetArchivedSession(ctx context.Context, id string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, status, participants, stats, created_at, started_at, ended_at
		FROM session_archive WHERE id = ?`, id)
	return scanArchived(row)
}

// ListArchivedSessions returns the most recently archived sessions.
func (m *Manager) ListArchivedSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, status, participants, stats, created_at, started_at, ended_at
		FROM session_archive ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		s, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArchived(row rowScanner) (*types.Session, error) {
	var (
		s                  types.Session
		participants, stat string
		started, ended     sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Status, &participants, &stat, &s.CreatedAt, &started, &ended); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &s.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	if err := json.Unmarshal([]byte(stat), &s.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	if started.Valid {
		t := started.Time
		s.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close drains the write loop and closes the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}
