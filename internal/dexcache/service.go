package dexcache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/sessionlock"
	"github.com/tatianab/trainer-tales/internal/storage"
)

// Service reads and writes the canon cache of stored sessions. Writes hold
// the session lock for the whole load, modify and save sequence, so they
// never interleave with a turn on the same session.
type Service struct {
	store  storage.Store
	locks  *sessionlock.Locker
	memory *Memory
	source Source
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewService wires a cache service. source may be nil, in which case Lookup
// only reports hits.
func NewService(store storage.Store, locks *sessionlock.Locker, memory *Memory, source Source, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		locks:  locks,
		memory: memory,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a fresh entry. A miss is (zero, false, nil); storage failures
// are returned as errors and never read as a miss.
func (s *Service) Get(ctx context.Context, sessionID string, kind models.CanonKind, key string) (models.CacheEntry, bool, error) {
	if !kind.Valid() {
		return models.CacheEntry{}, false, fmt.Errorf("unknown canon kind %q", kind)
	}
	now := s.now()
	if e, ok := s.memory.Get(sessionID, kind, key, now); ok {
		return e, true, nil
	}
	doc, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("canon get %s/%s: %w", kind, key, err)
	}
	e, ok := Get(doc, kind, key, now)
	if ok {
		s.memory.Set(sessionID, kind, key, e, e.CachedAt.Add(TTL(doc)))
	}
	return e, ok, nil
}

// Put writes an entry into the stored session. The memory front sees the
// entry only after the save succeeds.
func (s *Service) Put(ctx context.Context, sessionID string, kind models.CanonKind, key string, payload map[string]any) (models.CacheEntry, error) {
	if !kind.Valid() {
		return models.CacheEntry{}, fmt.Errorf("unknown canon kind %q", kind)
	}
	var (
		entry   models.CacheEntry
		expires time.Time
		evicted []string
	)
	err := s.mutate(ctx, sessionID, func(doc *models.Session) error {
		evicted = Put(doc, kind, key, payload, s.now())
		entry = doc.Dex.CanonCache[kind][key]
		expires = entry.CachedAt.Add(TTL(doc))
		return nil
	}, func() {
		for _, k := range evicted {
			s.memory.Delete(sessionID, kind, k)
		}
		if len(evicted) > 0 {
			s.logger.Debug("canon cache evicted", zap.String("session_id", sessionID), zap.String("kind", string(kind)), zap.Strings("keys", evicted))
		}
		s.memory.Set(sessionID, kind, key, entry, expires)
	})
	if err != nil {
		return models.CacheEntry{}, err
	}
	return entry, nil
}

// Invalidate drops a key, or the whole kind when key is empty.
func (s *Service) Invalidate(ctx context.Context, sessionID string, kind models.CanonKind, key string) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown canon kind %q", kind)
	}
	var n int
	err := s.mutate(ctx, sessionID, func(doc *models.Session) error {
		n = Invalidate(doc, kind, key)
		return nil
	}, func() {
		s.memory.Delete(sessionID, kind, key)
	})
	return n, err
}

// Lookup returns a cached entry, fetching and storing it on a miss.
// Concurrent lookups of the same entry share one fetch.
func (s *Service) Lookup(ctx context.Context, sessionID string, kind models.CanonKind, key string) (models.CacheEntry, error) {
	if e, ok, err := s.Get(ctx, sessionID, kind, key); err != nil || ok {
		return e, err
	}
	if s.source == nil {
		return models.CacheEntry{}, fmt.Errorf("%w: %s/%s (no source configured)", ErrUnknownEntry, kind, key)
	}
	v, err, _ := s.group.Do(sessionID+"\x00"+string(kind)+"\x00"+key, func() (any, error) {
		payload, err := s.source.Fetch(ctx, kind, key)
		if err != nil {
			return nil, err
		}
		return s.Put(ctx, sessionID, kind, key, payload)
	})
	if err != nil {
		return models.CacheEntry{}, err
	}
	return v.(models.CacheEntry), nil
}

// mutate loads, modifies and saves a session under its lock. saved runs after
// a successful save, still under the lock.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*models.Session) error, saved func()) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	saved()
	return nil
}
