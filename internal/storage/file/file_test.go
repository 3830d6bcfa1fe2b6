package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/storagetest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	v, err := schema.Default()
	require.NoError(t, err)
	s, err := Open(t.TempDir(), v, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return openStore(t) })
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := openStore(t)
	doc := storagetest.Seeded(t)
	require.NoError(t, s.Save(context.Background(), doc))

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, doc.Session.SessionID+".json", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(s.dir, entries[0].Name()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \""), "document should be pretty-printed")
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	s := openStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "broken.json"), []byte(`{"schema_version":`), 0o644))
	_, err := s.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}
