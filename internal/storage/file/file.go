// Package file stores one pretty-printed JSON document per session in a
// directory. Writes go to a temporary file that is renamed over the target.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
)

const ext = ".json"

// Store is a directory of session documents.
type Store struct {
	dir       string
	validator *schema.Validator
	logger    *zap.Logger
	now       func() time.Time

	// mu makes the revision check and the rename one step within the process.
	mu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Open creates dir if needed and returns a store over it.
func Open(dir string, v *schema.Validator, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("save directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	return &Store{dir: filepath.Clean(dir), validator: v, logger: logger, now: time.Now}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+ext)
}

// Load reads and validates a document.
func (s *Store) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckID(sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	doc, err := storage.Decode(s.validator, data)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return doc, nil
}

// Save validates doc and atomically replaces the stored copy.
func (s *Store) Save(ctx context.Context, doc *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.Session.SessionID
	stored, exists, err := s.storedRevision(id)
	if err != nil {
		return err
	}
	p, err := storage.Prepare(s.validator, doc, stored, exists, s.now())
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path(id), p.Data); err != nil {
		return fmt.Errorf("write session %s: %w", id, err)
	}
	p.Commit(doc)
	s.logger.Debug("session saved", zap.String("session_id", id), zap.Int("revision", p.Revision))
	return nil
}

func (s *Store) storedRevision(id string) (int, bool, error) {
	if err := storage.CheckID(id); err != nil {
		return 0, false, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read session %s: %w", id, err)
	}
	cur, err := models.Decode(data)
	if err != nil {
		return 0, false, fmt.Errorf("decode stored session %s: %w", id, err)
	}
	return cur.StateVersioning.Revision, true, nil
}

// List returns the ids of stored sessions in lexical order.
func (s *Store) List(ctx context.Context, campaignID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read save directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if storage.CheckID(id) != nil {
			continue
		}
		if campaignID != "" {
			data, err := os.ReadFile(filepath.Join(s.dir, name))
			if err != nil {
				return nil, fmt.Errorf("read session %s: %w", id, err)
			}
			doc, err := models.Decode(data)
			if err != nil {
				s.logger.Warn("skipping unreadable session", zap.String("session_id", id), zap.Error(err))
				continue
			}
			if doc.Session.CampaignID != campaignID {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a stored document. It reports false if none existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := storage.CheckID(sessionID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return true, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// writeAtomic writes data to a temporary file in the target directory, syncs
// it, and renames it into place.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
