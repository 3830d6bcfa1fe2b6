// Package dexcache manages the canon reference cache kept inside each session
// document, plus an in-process memory layer in front of it.
//
// Entries are reference data only. They expire after the session's TTL and
// each kind holds at most max_entries_per_kind entries, evicting the oldest
// cached_at first.
package dexcache

import (
	"sort"
	"time"

	"github.com/tatianab/trainer-tales/internal/models"
)

// TTL returns the session's entry lifetime.
func TTL(doc *models.Session) time.Duration {
	h := doc.Dex.CachePolicy.TTLHours
	if h <= 0 {
		h = models.DefaultCacheTTLHours
	}
	return time.Duration(h) * time.Hour
}

func limit(doc *models.Session) int {
	if n := doc.Dex.CachePolicy.MaxEntriesPerKind; n > 0 {
		return n
	}
	return models.DefaultMaxEntriesPerKind
}

// Fresh reports whether an entry cached at cachedAt is still valid at now.
func Fresh(cachedAt time.Time, ttl time.Duration, now time.Time) bool {
	return now.Before(cachedAt.Add(ttl))
}

// Get returns a fresh entry. Expired entries read as absent.
func Get(doc *models.Session, kind models.CanonKind, key string, now time.Time) (models.CacheEntry, bool) {
	e, ok := doc.Dex.CanonCache[kind][key]
	if !ok || !Fresh(e.CachedAt, TTL(doc), now) {
		return models.CacheEntry{}, false
	}
	return e, true
}

// Put stores payload under kind/key and evicts the oldest entries beyond the
// per-kind bound. It returns the evicted keys.
func Put(doc *models.Session, kind models.CanonKind, key string, payload map[string]any, now time.Time) []string {
	if doc.Dex.CanonCache == nil {
		doc.Dex.CanonCache = models.CanonCache{}
	}
	bucket := doc.Dex.CanonCache[kind]
	if bucket == nil {
		bucket = map[string]models.CacheEntry{}
		doc.Dex.CanonCache[kind] = bucket
	}
	bucket[key] = models.CacheEntry{Payload: payload, CachedAt: now.UTC()}

	over := len(bucket) - limit(doc)
	if over <= 0 {
		return nil
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := bucket[keys[i]].CachedAt, bucket[keys[j]].CachedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	evicted := keys[:over]
	for _, k := range evicted {
		delete(bucket, k)
	}
	return evicted
}

// Invalidate drops one key, or the whole kind when key is empty. It reports
// how many entries were removed.
func Invalidate(doc *models.Session, kind models.CanonKind, key string) int {
	bucket := doc.Dex.CanonCache[kind]
	if key == "" {
		n := len(bucket)
		doc.Dex.CanonCache[kind] = map[string]models.CacheEntry{}
		return n
	}
	if _, ok := bucket[key]; !ok {
		return 0
	}
	delete(bucket, key)
	return 1
}

// Prune removes every expired entry and returns how many were dropped.
func Prune(doc *models.Session, now time.Time) int {
	ttl := TTL(doc)
	n := 0
	for _, bucket := range doc.Dex.CanonCache {
		for k, e := range bucket {
			if !Fresh(e.CachedAt, ttl, now) {
				delete(bucket, k)
				n++
			}
		}
	}
	return n
}
