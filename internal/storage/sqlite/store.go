// Package sqlite provides a SQLite-backed session store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/sqlite/migrations"
)

// Store persists session documents in SQLite.
type Store struct {
	sqlDB     *sql.DB
	validator *schema.Validator
	logger    *zap.Logger
	now       func() time.Time
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string, v *schema.Validator, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, validator: v, logger: logger, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load reads and validates one document.
func (s *Store) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := storage.CheckID(sessionID); err != nil {
		return nil, err
	}
	var doc string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT document FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	out, err := storage.Decode(s.validator, []byte(doc))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return out, nil
}

// Save validates doc and upserts it in one transaction, guarded by the
// stored revision.
func (s *Store) Save(ctx context.Context, doc *models.Session) error {
	id := doc.Session.SessionID
	if err := storage.CheckID(id); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT revision FROM sessions WHERE session_id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("read revision %s: %w", id, classify(err))
	}

	p, err := storage.Prepare(s.validator, doc, stored, exists, s.now())
	if err != nil {
		return err
	}

	if exists {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions
			    SET campaign_id = ?, revision = ?, document = ?, updated_at = ?
			  WHERE session_id = ? AND revision = ?`,
			p.CampaignID, p.Revision, string(p.Data), toMillis(p.UpdatedAt), id, stored,
		)
		if err != nil {
			return fmt.Errorf("update session %s: %w", id, classify(err))
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update session %s: %w", id, err)
		} else if n == 0 {
			return fmt.Errorf("update session %s: %w", id, storage.ErrStaleWrite)
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, campaign_id, revision, document, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, p.CampaignID, p.Revision, string(p.Data), toMillis(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", id, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", id, classify(err))
	}
	p.Commit(doc)
	s.logger.Debug("session saved", zap.String("session_id", id), zap.Int("revision", p.Revision))
	return nil
}

// List returns session ids ordered by id.
func (s *Store) List(ctx context.Context, campaignID string) ([]string, error) {
	query := `SELECT session_id FROM sessions ORDER BY session_id`
	args := []any{}
	if campaignID != "" {
		query = `SELECT session_id FROM sessions WHERE campaign_id = ? ORDER BY session_id`
		args = append(args, campaignID)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return ids, nil
}

// Delete removes one document.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	if err := storage.CheckID(sessionID); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// classify maps write races onto storage.ErrStaleWrite: a concurrent first
// insert trips the primary key, and a held write lock reports busy.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_BUSY_SNAPSHOT:
			return fmt.Errorf("%w: %v", storage.ErrStaleWrite, err)
		}
	}
	return err
}
