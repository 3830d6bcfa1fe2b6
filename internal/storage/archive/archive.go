// Package archive writes zstd-compressed session snapshots for export and
// for keeping a copy of a session before it is deleted.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
)

// Ext is the file extension of archives.
const Ext = ".json.zst"

// Export writes doc to w as compressed, pretty-printed JSON after validating it.
func Export(v *schema.Validator, w io.Writer, doc *models.Session) error {
	if err := v.ValidateSession(doc); err != nil {
		return fmt.Errorf("export session %s: %w", doc.Session.SessionID, err)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	je := json.NewEncoder(bw)
	je.SetIndent("", "  ")
	if err := je.Encode(doc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode session %s: %w", doc.Session.SessionID, err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Import reads a compressed document and validates it.
func Import(v *schema.Validator, r io.Reader) (*models.Session, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	doc, err := storage.Decode(v, data)
	if err != nil {
		return nil, fmt.Errorf("import session: %w", err)
	}
	return doc, nil
}

// Dir keeps archives in a directory, one file per snapshot.
type Dir struct {
	dir       string
	validator *schema.Validator
	now       func() time.Time
}

var _ storage.Archiver = (*Dir)(nil)

// NewDir creates dir if needed.
func NewDir(dir string, v *schema.Validator) (*Dir, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Dir{dir: filepath.Clean(dir), validator: v, now: time.Now}, nil
}

// Archive writes a new snapshot of doc and returns its path. Existing
// archives are never overwritten.
func (d *Dir) Archive(ctx context.Context, doc *models.Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := storage.CheckID(doc.Session.SessionID); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-r%d-%d%s", doc.Session.SessionID, doc.StateVersioning.Revision, d.now().UTC().UnixNano(), Ext)
	path := filepath.Join(d.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := Export(d.validator, f, doc); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close archive: %w", err)
	}
	return path, nil
}

// Open reads one archive file.
func (d *Dir) Open(path string) (*models.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Import(d.validator, f)
}
