package dexcache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tatianab/trainer-tales/internal/models"
)

// Resolver answers canon lookups against a document the caller already holds
// under the session lock, such as the one a turn is working on. Fetched
// entries are written into that document, not saved. The memory front is
// only filled through Remember, after the caller has saved the document.
type Resolver struct {
	memory *Memory
	source Source
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewResolver returns a resolver. source may be nil.
func NewResolver(memory *Memory, source Source, logger *zap.Logger) *Resolver {
	return &Resolver{memory: memory, source: source, logger: logger, now: time.Now}
}

// Resolve returns the payload for kind/key, trying memory, then the document,
// then the source. A failed fetch is logged and reported as a miss.
func (r *Resolver) Resolve(ctx context.Context, doc *models.Session, kind models.CanonKind, key string) (map[string]any, bool) {
	sessionID := doc.Session.SessionID
	now := r.now()
	if e, ok := r.memory.Get(sessionID, kind, key, now); ok {
		if _, held := Get(doc, kind, key, now); !held {
			r.store(doc, kind, key, e.Payload, e.CachedAt)
		}
		return e.Payload, true
	}
	if e, ok := Get(doc, kind, key, now); ok {
		return e.Payload, true
	}
	if r.source == nil {
		return nil, false
	}
	v, err, _ := r.group.Do(string(kind)+"\x00"+key, func() (any, error) {
		return r.source.Fetch(ctx, kind, key)
	})
	if err != nil {
		r.logger.Warn("canon fetch failed",
			zap.String("session_id", sessionID),
			zap.String("kind", string(kind)),
			zap.String("key", key),
			zap.Error(err))
		return nil, false
	}
	payload := v.(map[string]any)
	r.store(doc, kind, key, payload, now)
	return payload, true
}

func (r *Resolver) store(doc *models.Session, kind models.CanonKind, key string, payload map[string]any, at time.Time) {
	for _, k := range Put(doc, kind, key, payload, at) {
		r.memory.Delete(doc.Session.SessionID, kind, k)
	}
}

// Remember copies the fresh entries for keys from a saved document into the
// memory front.
func (r *Resolver) Remember(doc *models.Session, kind models.CanonKind, keys ...string) {
	now := r.now()
	for _, key := range keys {
		if e, ok := Get(doc, kind, key, now); ok {
			r.memory.Set(doc.Session.SessionID, kind, key, e, e.CachedAt.Add(TTL(doc)))
		}
	}
}

// SpeciesKeys lists the canon species slugs in the party of every character.
func SpeciesKeys(doc *models.Session) []string {
	seen := map[string]bool{}
	var keys []string
	for _, c := range doc.Characters {
		for _, p := range c.PokemonParty {
			if p.SpeciesRef.Kind != models.RefCanon || seen[p.SpeciesRef.ID] {
				continue
			}
			seen[p.SpeciesRef.ID] = true
			keys = append(keys, p.SpeciesRef.ID)
		}
	}
	return keys
}
