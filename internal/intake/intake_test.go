package intake_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/kwen1510/CODEX-HACKATHON/internal/intake"
	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/wsid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyZip is the 22-byte end-of-central-directory record: a valid archive
// with no entries.
var emptyZip = append([]byte{'P', 'K', 0x05, 0x06}, make([]byte, 18)...)

func newService(t *testing.T) (*intake.Service, *store.FSStore) {
	t.Helper()
	root := t.TempDir()
	fsStore := store.NewFSStore(root)
	require.NoError(t, fsStore.EnsureLayout(context.Background()))
	return intake.NewService(fsStore, root), fsStore
}

func TestAccept_ValidEmptyArchive(t *testing.T) {
	svc, fsStore := newService(t)

	meta, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "project.zip",
		ContentType: "application/zip",
		Body:        bytes.NewReader(emptyZip),
	})
	require.NoError(t, err)

	assert.True(t, wsid.Valid(meta.ID))
	assert.Equal(t, models.WorksheetQueued, meta.State)
	assert.Equal(t, "project.zip", meta.OriginalFilename)
	assert.Equal(t, "intake/"+meta.ID+"/original.zip", meta.ArtifactPath)
	assert.Empty(t, meta.Title)
	assert.Empty(t, meta.Owner)

	jobs, err := fsStore.PendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, meta.ID, jobs[0].WorksheetID)
	assert.Equal(t, models.JobQueued, jobs[0].State)
	assert.Equal(t, 0, jobs[0].Attempts)
}

// paddedArchive returns a zip header followed by zero padding up to size.
func paddedArchive(size int64) io.Reader {
	return io.MultiReader(
		bytes.NewReader([]byte{'P', 'K', 0x03, 0x04}),
		io.LimitReader(zeroReader{}, size-4),
	)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestAccept_SizeBoundIsInclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("writes MaxUploadBytes to disk")
	}
	svc, _ := newService(t)

	_, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "exact.zip",
		ContentType: "application/zip",
		Body:        paddedArchive(intake.MaxUploadBytes),
	})
	assert.NoError(t, err, "an upload of exactly the limit is accepted")

	_, err = svc.Accept(context.Background(), intake.Upload{
		Filename:    "over.zip",
		ContentType: "application/zip",
		Body:        paddedArchive(intake.MaxUploadBytes + 1),
	})
	assert.ErrorIs(t, err, intake.ErrTooLarge)
}

func TestAccept_BadExtension(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "project.tar.gz",
		ContentType: "application/zip",
		Body:        bytes.NewReader(emptyZip),
	})
	assert.ErrorIs(t, err, intake.ErrBadExtension)
}

func TestAccept_BadContentType(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "project.zip",
		ContentType: "text/html",
		Body:        bytes.NewReader(emptyZip),
	})
	assert.ErrorIs(t, err, intake.ErrBadContentType)
}

func TestAccept_BadMagicBytes(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "project.zip",
		ContentType: "application/zip",
		Body:        bytes.NewReader([]byte("<!doctype html>")),
	})
	assert.ErrorIs(t, err, intake.ErrBadSignature)
}

func TestAccept_ContentTypeWithCharsetParam(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "project.zip",
		ContentType: "application/zip; boundary=x",
		Body:        bytes.NewReader(emptyZip),
	})
	assert.NoError(t, err)
}

func TestAccept_TitleAndOwnerCarriedThrough(t *testing.T) {
	svc, _ := newService(t)
	meta, err := svc.Accept(context.Background(), intake.Upload{
		Filename:    "project.zip",
		ContentType: "application/zip",
		Title:       "Photosynthesis quiz",
		Owner:       "jlim@example.edu",
		Body:        bytes.NewReader(emptyZip),
	})
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis quiz", meta.Title)
	assert.Equal(t, "jlim@example.edu", meta.Owner)
}
