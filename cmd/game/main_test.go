package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage/archive"
)

func writeDoc(t *testing.T, dir, name string, doc *models.Session) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	good := writeDoc(t, dir, "good.json", models.NewSession("sess-1", now))

	bad := models.NewSession("sess-2", now)
	loc := "nowhere"
	bad.Session.Scene.LocationID = &loc
	badPath := writeDoc(t, dir, "bad.json", bad)

	v, err := schema.Default()
	require.NoError(t, err)
	archived := filepath.Join(dir, "sess-1"+archive.Ext)
	f, err := os.Create(archived)
	require.NoError(t, err)
	require.NoError(t, archive.Export(v, f, models.NewSession("sess-1", now)))
	require.NoError(t, f.Close())

	assert.NoError(t, validateFile(v, good))
	assert.NoError(t, validateFile(v, archived))
	err = validateFile(v, badPath)
	vs, ok := schema.AsViolations(err)
	require.True(t, ok, "want violations, got %v", err)
	assert.Equal(t, "/session/scene/location_id", vs[0].Path)

	assert.NoError(t, runValidate(validateCmd, []string{good, archived}))
	assert.ErrorContains(t, runValidate(validateCmd, []string{good, badPath}), "1 of 2 documents are invalid")
}

func TestTimeoutGenerator(t *testing.T) {
	slow := engine.GeneratorFunc(func(ctx context.Context, _ engine.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := timeoutGenerator(slow, 10*time.Millisecond).Generate(context.Background(), engine.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unbounded := engine.GeneratorFunc(func(ctx context.Context, _ engine.Request) (string, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok, "a zero timeout adds no deadline")
		return "ok", nil
	})
	text, err := timeoutGenerator(unbounded, 0).Generate(context.Background(), engine.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"play"}, {"serve"}, {"validate"},
		{"sessions", "list"}, {"sessions", "show"}, {"sessions", "delete"}, {"sessions", "export"}, {"sessions", "import"},
		{"campaign", "delete"}, {"dex", "get"}, {"dex", "invalidate"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
