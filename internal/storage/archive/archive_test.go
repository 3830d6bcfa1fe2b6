package archive

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/file"
	"github.com/tatianab/trainer-tales/internal/storage/storagetest"
)

func validator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.Default()
	require.NoError(t, err)
	return v
}

func TestExportImport(t *testing.T) {
	v := validator(t)
	doc := storagetest.Seeded(t)

	var buf bytes.Buffer
	require.NoError(t, Export(v, &buf, doc))
	got, err := Import(v, &buf)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("import mismatch (-want +got):\n%s", diff)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	_, err := Import(validator(t), strings.NewReader("not zstd"))
	assert.Error(t, err)
}

func TestDirArchive(t *testing.T) {
	v := validator(t)
	d, err := NewDir(t.TempDir(), v)
	require.NoError(t, err)
	doc := storagetest.Seeded(t)

	path, err := d.Archive(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, Ext))

	got, err := d.Open(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Session.SessionID, got.Session.SessionID)
}

func TestDeleteCampaignArchivesFirst(t *testing.T) {
	ctx := context.Background()
	v := validator(t)
	store, err := file.Open(t.TempDir(), v, zap.NewNop())
	require.NoError(t, err)
	archiveDir := t.TempDir()
	d, err := NewDir(archiveDir, v)
	require.NoError(t, err)

	a := storagetest.Seeded(t)
	b := storagetest.Seeded(t)
	b.Session.CampaignID = a.Session.CampaignID
	b.Campaign.CampaignID = a.Session.CampaignID
	other := storagetest.Seeded(t)
	for _, doc := range []*models.Session{a, b, other} {
		require.NoError(t, store.Save(ctx, doc))
	}

	n, err := storage.DeleteCampaign(ctx, store, d, a.Session.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{other.Session.SessionID}, left)

	archived, err := filepath.Glob(filepath.Join(archiveDir, "*"+Ext))
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}
