// Package storage defines the session persistence contract shared by the
// file and SQLite backends.
//
// Every write validates the full document first. Each successful save bumps
// state_versioning.revision; a save whose revision no longer matches the stored
// one fails with ErrStaleWrite.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
)

var (
	// ErrNotFound is returned by Load when no document exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrStaleWrite is returned by Save when the document was saved by
	// someone else since it was loaded.
	ErrStaleWrite = errors.New("stale write: session changed since it was loaded")
)

// Store persists session documents.
type Store interface {
	Load(ctx context.Context, sessionID string) (*models.Session, error)
	// Save validates and persists doc. On success the document's revision
	// and updated_at are advanced in place to match what was stored.
	Save(ctx context.Context, doc *models.Session) error
	// List returns session ids, restricted to campaignID when it is set.
	List(ctx context.Context, campaignID string) ([]string, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// CheckID rejects ids that cannot be used as storage keys.
func CheckID(sessionID string) error {
	if !validID.MatchString(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}

// Prepared is a validated, encoded document ready to be written.
type Prepared struct {
	SessionID  string
	CampaignID string
	Revision   int
	UpdatedAt  time.Time
	Data       []byte
}

// Prepare checks the revision against the stored one, then validates and
// encodes doc as it will be stored. doc itself is not modified; call Commit
// once the write succeeded.
func Prepare(v *schema.Validator, doc *models.Session, stored int, exists bool, now time.Time) (*Prepared, error) {
	if err := CheckID(doc.Session.SessionID); err != nil {
		return nil, err
	}
	if exists && stored != doc.StateVersioning.Revision {
		return nil, fmt.Errorf("%w: have revision %d, stored %d", ErrStaleWrite, doc.StateVersioning.Revision, stored)
	}
	models.Normalize(doc)
	next := *doc
	next.StateVersioning.Revision = doc.StateVersioning.Revision + 1
	next.StateVersioning.UpdatedAt = now.UTC()
	if err := v.ValidateSession(&next); err != nil {
		return nil, fmt.Errorf("validate session %s: %w", doc.Session.SessionID, err)
	}
	data, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", doc.Session.SessionID, err)
	}
	return &Prepared{
		SessionID:  next.Session.SessionID,
		CampaignID: next.Session.CampaignID,
		Revision:   next.StateVersioning.Revision,
		UpdatedAt:  next.StateVersioning.UpdatedAt,
		Data:       append(data, '\n'),
	}, nil
}

// Commit records the stored revision on doc.
func (p *Prepared) Commit(doc *models.Session) {
	doc.StateVersioning.Revision = p.Revision
	doc.StateVersioning.UpdatedAt = p.UpdatedAt
}

// Decode parses and validates a stored document.
func Decode(v *schema.Validator, data []byte) (*models.Session, error) {
	doc, err := models.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateSession(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
