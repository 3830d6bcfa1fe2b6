package dexcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/tatianab/trainer-tales/internal/models"
)

// Memory is a bounded in-process front for canon lookups. It is never the
// only copy of an entry and starts empty.
type Memory struct {
	mu    sync.Mutex
	max   int
	order *list.List // front is most recently used
	items map[memKey]*list.Element
}

type memKey struct {
	session string
	kind    models.CanonKind
	key     string
}

type memItem struct {
	k       memKey
	entry   models.CacheEntry
	expires time.Time
}

// NewMemory returns a cache holding at most size entries.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{max: size, order: list.New(), items: make(map[memKey]*list.Element)}
}

// Get returns a live entry.
func (m *Memory) Get(sessionID string, kind models.CanonKind, key string, now time.Time) (models.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[memKey{sessionID, kind, key}]
	if !ok {
		return models.CacheEntry{}, false
	}
	it := el.Value.(*memItem)
	if !now.Before(it.expires) {
		m.order.Remove(el)
		delete(m.items, it.k)
		return models.CacheEntry{}, false
	}
	m.order.MoveToFront(el)
	return it.entry, true
}

// Set stores an entry that expires at expires.
func (m *Memory) Set(sessionID string, kind models.CanonKind, key string, entry models.CacheEntry, expires time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{sessionID, kind, key}
	if el, ok := m.items[k]; ok {
		it := el.Value.(*memItem)
		it.entry, it.expires = entry, expires
		m.order.MoveToFront(el)
		return
	}
	m.items[k] = m.order.PushFront(&memItem{k: k, entry: entry, expires: expires})
	for m.order.Len() > m.max {
		last := m.order.Back()
		m.order.Remove(last)
		delete(m.items, last.Value.(*memItem).k)
	}
}

// Delete drops one key, or every key of the kind when key is empty.
func (m *Memory) Delete(sessionID string, kind models.CanonKind, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, el := range m.items {
		if k.session == sessionID && k.kind == kind && (key == "" || k.key == key) {
			m.order.Remove(el)
			delete(m.items, k)
		}
	}
}

// DropSession forgets everything cached for a session.
func (m *Memory) DropSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, el := range m.items {
		if k.session == sessionID {
			m.order.Remove(el)
			delete(m.items, k)
		}
	}
}

// Len reports the number of resident entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
