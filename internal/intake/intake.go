// Package intake validates untrusted archive uploads and hands them to the
// job repository.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/wsid"
)

// Validation sentinels. These reject an upload before any job exists, so
// they never enter the pipeline state machine.
var (
	ErrBadExtension   = errors.New("upload must be a .zip archive")
	ErrBadContentType = errors.New("unsupported archive content type")
	ErrBadSignature   = errors.New("file does not look like a zip archive")
	ErrTooLarge       = errors.New("upload exceeds the size limit")
)

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 100 << 20

var allowedContentTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/octet-stream":     true, // browsers fall back to this for drag-and-drop
	"":                             true,
}

// zipSignatures are the magic-byte prefixes accepted for an upload. The
// empty-archive marker is valid input.
var zipSignatures = [][]byte{
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06},
	{'P', 'K', 0x07, 0x08},
}

// Upload is one incoming artifact plus its optional descriptive fields.
type Upload struct {
	Filename    string
	ContentType string
	Title       string
	Owner       string
	Body        io.Reader
}

// Service validates uploads, stores the artifact and enqueues the job.
type Service struct {
	store store.Store
	root  string
}

func NewService(s store.Store, storageRoot string) *Service {
	return &Service{store: s, root: storageRoot}
}

// Accept validates the upload, writes it to a temp file under the storage
// root and enqueues a worksheet job. On success the fresh metadata record
// is returned for the caller to report.
func (s *Service) Accept(ctx context.Context, up Upload) (*models.WorksheetMetadata, error) {
	if !strings.EqualFold(filepath.Ext(up.Filename), ".zip") {
		return nil, ErrBadExtension
	}
	ctype, _, _ := strings.Cut(up.ContentType, ";")
	if !allowedContentTypes[strings.TrimSpace(strings.ToLower(ctype))] {
		return nil, ErrBadContentType
	}

	// Keep the temp file on the same volume as intake/ so the enqueue move
	// stays an atomic rename.
	tmp, err := os.CreateTemp(s.root, "upload_"+uuid.NewString()+"_*.zip")
	if err != nil {
		return nil, fmt.Errorf("creating temp upload: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	header := make([]byte, 4)
	n, err := io.ReadFull(up.Body, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		cleanup()
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if !validSignature(header[:n]) {
		cleanup()
		return nil, ErrBadSignature
	}

	// Read one byte past the inclusive bound so an upload of exactly
	// MaxUploadBytes is accepted and anything larger is detected.
	rest := io.LimitReader(up.Body, MaxUploadBytes+1-int64(n))
	written, err := io.Copy(tmp, io.MultiReader(bytes.NewReader(header[:n]), rest))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("storing upload: %w", err)
	}
	if written > MaxUploadBytes {
		cleanup()
		return nil, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	id := wsid.New()
	meta, err := s.store.Enqueue(ctx, store.EnqueueParams{
		ID:               id,
		Title:            up.Title,
		Owner:            up.Owner,
		OriginalFilename: filepath.Base(up.Filename),
		ArtifactTempPath: tmpName,
	})
	if err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("enqueueing %s: %w", id, err)
	}
	slog.Info("worksheet accepted", "id", id, "filename", meta.OriginalFilename, "bytes", written)
	return meta, nil
}

func validSignature(header []byte) bool {
	for _, sig := range zipSignatures {
		if bytes.HasPrefix(header, sig) {
			return true
		}
	}
	return false
}
