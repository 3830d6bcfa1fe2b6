// Package storagetest holds the behavior every storage.Store must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/trainer-tales/internal/merge"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
)

// Now is the fixed creation time of seeded sessions.
var Now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// Seeded returns a validated starter session with a fresh id.
func Seeded(t testing.TB) *models.Session {
	t.Helper()
	v, err := schema.Default()
	require.NoError(t, err)
	doc := models.NewSession(uuid.NewString(), Now)
	update, err := models.StarterUpdate(doc.Session.EventLog, Now)
	require.NoError(t, err)
	seeded, err := merge.Apply(v, doc, update)
	require.NoError(t, err)
	return seeded
}

// Run exercises a store created fresh for every subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := open(t)
		doc := Seeded(t)
		require.NoError(t, s.Save(ctx, doc))
		assert.Equal(t, 1, doc.StateVersioning.Revision)

		got, err := s.Load(ctx, doc.Session.SessionID)
		require.NoError(t, err)
		if diff := cmp.Diff(doc, got); diff != "" {
			t.Errorf("load after save mismatch (-saved +loaded):\n%s", diff)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		ok, err := s.Delete(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid document is never written", func(t *testing.T) {
		s := open(t)
		doc := Seeded(t)
		doc.Characters[0].PokemonParty[0].Level = 101
		err := s.Save(ctx, doc)
		require.Error(t, err)
		_, ok := schema.AsViolations(err)
		assert.True(t, ok)
		assert.Zero(t, doc.StateVersioning.Revision)
		_, err = s.Load(ctx, doc.Session.SessionID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("stale write", func(t *testing.T) {
		s := open(t)
		doc := Seeded(t)
		require.NoError(t, s.Save(ctx, doc))

		a, err := s.Load(ctx, doc.Session.SessionID)
		require.NoError(t, err)
		b, err := s.Load(ctx, doc.Session.SessionID)
		require.NoError(t, err)

		a.Session.Scene.Description = "turn A"
		require.NoError(t, s.Save(ctx, a))
		b.Session.Scene.Description = "turn B"
		err = s.Save(ctx, b)
		assert.True(t, errors.Is(err, storage.ErrStaleWrite), "got %v", err)

		got, err := s.Load(ctx, doc.Session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "turn A", got.Session.Scene.Description)
		assert.Equal(t, 2, got.StateVersioning.Revision)
	})

	t.Run("list and delete", func(t *testing.T) {
		s := open(t)
		a, b := Seeded(t), Seeded(t)
		require.NoError(t, s.Save(ctx, a))
		require.NoError(t, s.Save(ctx, b))

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.Session.SessionID, b.Session.SessionID}, all)

		only, err := s.List(ctx, a.Session.CampaignID)
		require.NoError(t, err)
		assert.Equal(t, []string{a.Session.SessionID}, only)

		ok, err := s.Delete(ctx, a.Session.SessionID)
		require.NoError(t, err)
		assert.True(t, ok)
		all, err = s.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{b.Session.SessionID}, all)
	})

	t.Run("rejects unsafe ids", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(ctx, "../etc/passwd")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrNotFound)
	})
}
