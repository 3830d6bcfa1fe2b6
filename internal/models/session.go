package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cache policy defaults for new sessions.
const (
	DefaultCacheTTLHours     = 24
	DefaultMaxEntriesPerKind = 50
)

// NewSession returns the all-empty skeleton for a freshly created session.
func NewSession(sessionID string, now time.Time) *Session {
	now = now.UTC()
	campaignID := uuid.NewString()
	cache := make(CanonCache, len(CanonKinds))
	for _, k := range CanonKinds {
		cache[k] = map[string]CacheEntry{}
	}
	s := &Session{
		SchemaVersion: SchemaVersion,
		StateVersioning: StateVersioning{
			Version:   SchemaVersion,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Dex: Dex{
			CanonCache: cache,
			CachePolicy: CachePolicy{
				TTLHours:          DefaultCacheTTLHours,
				MaxEntriesPerKind: DefaultMaxEntriesPerKind,
			},
		},
		Campaign: Campaign{CampaignID: campaignID},
		Session: PlayState{
			SessionID:  sessionID,
			CampaignID: campaignID,
		},
	}
	Normalize(s)
	return s
}

// IsEmpty reports whether nothing has been set up yet: no named trainer, no
// party, no scene description, no objectives and no events.
func (s *Session) IsEmpty() bool {
	for _, c := range s.Characters {
		if c.Trainer.Name != "" || len(c.PokemonParty) > 0 {
			return false
		}
	}
	return s.Session.Scene.Description == "" &&
		len(s.Session.CurrentObjectives) == 0 &&
		len(s.Session.EventLog) == 0
}

// PrimaryCharacter returns the first character, if any.
func (s *Session) PrimaryCharacter() (*Character, bool) {
	if len(s.Characters) == 0 {
		return nil, false
	}
	return &s.Characters[0], true
}

// Character returns the character with the given id.
func (s *Session) Character(id string) (*Character, bool) {
	for i := range s.Characters {
		if s.Characters[i].CharacterID == id {
			return &s.Characters[i], true
		}
	}
	return nil, false
}

// LeadPokemon returns the first party member of the first character that has one.
func (s *Session) LeadPokemon() (*PartyMember, bool) {
	for i := range s.Characters {
		if len(s.Characters[i].PokemonParty) > 0 {
			return &s.Characters[i].PokemonParty[0], true
		}
	}
	return nil, false
}

// PartySize counts party members across all characters.
func (s *Session) PartySize() int {
	n := 0
	for _, c := range s.Characters {
		n += len(c.PokemonParty)
	}
	return n
}

// Location returns the campaign location with the given id.
func (s *Session) Location(id string) (*Location, bool) {
	for i := range s.Campaign.Locations {
		if s.Campaign.Locations[i].LocationID == id {
			return &s.Campaign.Locations[i], true
		}
	}
	return nil, false
}

// AppendEvents appends to an event log, evicting the oldest entries beyond MaxEventLog.
// The input slice is never modified.
func AppendEvents(log []Event, events ...Event) []Event {
	out := make([]Event, 0, len(log)+len(events))
	out = append(out, log...)
	out = append(out, events...)
	if len(out) > MaxEventLog {
		out = out[len(out)-MaxEventLog:]
	}
	return out
}

// NewEvent builds an event with a fresh id.
func NewEvent(kind EventKind, summary string, at time.Time) Event {
	return Event{
		EventID: "evt_" + uuid.NewString(),
		Kind:    kind,
		Summary: summary,
		At:      at.UTC(),
	}
}

// ToMap converts the document to its generic JSON form.
func ToMap(s *Session) (map[string]any, error) {
	Normalize(s)
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal session map: %w", err)
	}
	return m, nil
}

// FromMap decodes a generic JSON form into a document, rejecting unknown fields.
func FromMap(m map[string]any) (*Session, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal session map: %w", err)
	}
	return Decode(raw)
}

// Decode strictly decodes a JSON document.
func Decode(raw []byte) (*Session, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Session
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	Normalize(&s)
	return &s, nil
}

// Clone returns a deep copy of the document.
func (s *Session) Clone() (*Session, error) {
	m, err := ToMap(s)
	if err != nil {
		return nil, err
	}
	return FromMap(m)
}
