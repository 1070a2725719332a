// Package checkpoint persists work-item progress and batch history in SQLite.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
)

const schemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS work_items (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    platform TEXT NOT NULL,
    username TEXT NOT NULL,
    user_id TEXT NOT NULL,
    profile_url TEXT DEFAULT '',
    category TEXT DEFAULT '',
    priority INTEGER NOT NULL,
    notes TEXT DEFAULT '',
    tags TEXT DEFAULT '[]',
    status TEXT NOT NULL,
    retry_count INTEGER DEFAULT 0,
    assigned_device TEXT DEFAULT '',
    last_attempt INTEGER DEFAULT 0,
    last_error TEXT DEFAULT '',
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_items_seq ON work_items(seq);
CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);

CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER DEFAULT 0,
    stopped INTEGER DEFAULT 0,
    processed INTEGER DEFAULT 0,
    success_rate REAL DEFAULT 0,
    stats TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at DESC);
`

const upsertItemSQL = `
INSERT INTO work_items (id, seq, platform, username, user_id, profile_url, category, priority, notes, tags,
    status, retry_count, assigned_device, last_attempt, last_error, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    seq = excluded.seq, platform = excluded.platform, username = excluded.username, user_id = excluded.user_id,
    profile_url = excluded.profile_url, category = excluded.category, priority = excluded.priority,
    notes = excluded.notes, tags = excluded.tags, status = excluded.status, retry_count = excluded.retry_count,
    assigned_device = excluded.assigned_device, last_attempt = excluded.last_attempt,
    last_error = excluded.last_error, updated_at = excluded.updated_at`

const upsertBatchSQL = `
INSERT INTO batches (id, started_at, finished_at, stopped, processed, success_rate, stats)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    finished_at = excluded.finished_at, stopped = excluded.stopped, processed = excluded.processed,
    success_rate = excluded.success_rate, stats = excluded.stats`

// Store is safe for concurrent use; SQLite gets a single connection.
type Store struct {
	db     *sql.DB
	dbPath string

	mu              sync.Mutex
	stmtUpsertItem  *sql.Stmt
	stmtUpsertBatch *sql.Stmt
}

// Open creates (or reopens) <dataDir>/progress.db.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "progress.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if s.stmtUpsertItem, err = db.Prepare(upsertItemSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	if s.stmtUpsertBatch, err = db.Prepare(upsertBatchSQL); err != nil {
		s.stmtUpsertItem.Close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.Debug("checkpoint").Str("path", dbPath).Msg("progress store opened")
	return s, nil
}

func (s *Store) Path() string { return s.dbPath }

// SaveItems upserts items in one transaction.
func (s *Store) SaveItems(items []types.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt := tx.Stmt(s.stmtUpsertItem)
	now := time.Now().UnixMilli()
	for _, it := range items {
		tags, err := json.Marshal(it.Tags)
		if err != nil {
			tx.Rollback()
			return err
		}
		var lastAttempt int64
		if it.LastAttempt != nil {
			lastAttempt = it.LastAttempt.UnixMilli()
		}
		if _, err := stmt.Exec(it.ID, it.Seq, it.Platform, it.Username, it.UserID, it.ProfileURL, it.Category,
			it.Priority, it.Notes, string(tags), it.Status.String(), it.RetryCount, it.AssignedDevice,
			lastAttempt, it.LastError, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("save item %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// LoadItems returns every stored item in import order.
func (s *Store) LoadItems() ([]types.WorkItem, error) {
	rows, err := s.db.Query(`SELECT id, seq, platform, username, user_id, profile_url, category, priority, notes,
		tags, status, retry_count, assigned_device, last_attempt, last_error FROM work_items ORDER BY seq, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []types.WorkItem
	for rows.Next() {
		var (
			it          types.WorkItem
			tags        string
			status      string
			lastAttempt int64
		)
		if err := rows.Scan(&it.ID, &it.Seq, &it.Platform, &it.Username, &it.UserID, &it.ProfileURL, &it.Category,
			&it.Priority, &it.Notes, &tags, &status, &it.RetryCount, &it.AssignedDevice, &lastAttempt, &it.LastError); err != nil {
			return nil, err
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
				logger.Warn("checkpoint").Str("item", it.ID).Err(err).Msg("unreadable tags")
			}
		}
		if it.Status, err = types.ParseItemStatus(status); err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		if lastAttempt > 0 {
			t := time.UnixMilli(lastAttempt)
			it.LastAttempt = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SaveBatch records (or updates) a batch and its stats.
func (s *Store) SaveBatch(stats types.ExecutionStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	var finished int64
	if !stats.FinishedAt.IsZero() {
		finished = stats.FinishedAt.UnixMilli()
	}
	stopped := 0
	if stats.Stopped {
		stopped = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.stmtUpsertBatch.Exec(stats.BatchID, stats.StartedAt.UnixMilli(), finished, stopped,
		stats.Totals.Processed, stats.SuccessRate, string(data))
	if err != nil {
		return fmt.Errorf("save batch %s: %w", stats.BatchID, err)
	}
	return nil
}

// ListBatches returns the most recent batches first. limit <= 0 means all.
func (s *Store) ListBatches(limit int) ([]types.ExecutionStats, error) {
	query := `SELECT stats FROM batches ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []types.ExecutionStats
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var st types.ExecutionStats
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stmtUpsertItem != nil {
		s.stmtUpsertItem.Close()
	}
	if s.stmtUpsertBatch != nil {
		s.stmtUpsertBatch.Close()
	}
	return s.db.Close()
}
