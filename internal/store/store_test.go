package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.FSStore {
	t.Helper()
	s := store.NewFSStore(t.TempDir())
	require.NoError(t, s.EnsureLayout(context.Background()))
	return s
}

// tempArtifact writes a throwaway artifact file and returns its path.
func tempArtifact(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, fmt.Sprintf("upload_%d.zip", time.Now().UnixNano()))
	require.NoError(t, os.WriteFile(path, []byte("PK\x05\x06"+string(make([]byte, 18))), 0o644))
	return path
}

func enqueue(t *testing.T, s *store.FSStore, id string) *models.WorksheetMetadata {
	t.Helper()
	meta, err := s.Enqueue(context.Background(), store.EnqueueParams{
		ID:               id,
		OriginalFilename: "upload.zip",
		ArtifactTempPath: tempArtifact(t, s.Root()),
	})
	require.NoError(t, err)
	return meta
}

func TestEnsureLayout_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureLayout(context.Background()))

	jobs, err := s.PendingJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestEnsureLayout_RacingEnqueueKeepsEntry(t *testing.T) {
	// A late EnsureLayout must not clobber a pending entry written by a
	// concurrent Enqueue on a fresh root.
	for i := 0; i < 10; i++ {
		s := store.NewFSStore(t.TempDir())
		require.NoError(t, s.EnsureLayout(context.Background()))
		require.NoError(t, os.Remove(filepath.Join(s.Root(), "queue", "pending.json")))
		artifact := tempArtifact(t, s.Root())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.EnsureLayout(context.Background())
		}()
		go func() {
			defer wg.Done()
			_, err := s.Enqueue(context.Background(), store.EnqueueParams{
				ID:               "ws_20260101_aaaaaa",
				OriginalFilename: "upload.zip",
				ArtifactTempPath: artifact,
			})
			assert.NoError(t, err)
		}()
		wg.Wait()

		jobs, err := s.PendingJobs(context.Background())
		require.NoError(t, err)
		require.Len(t, jobs, 1)
	}
}

func TestEnqueue_CreatesMetadataAndPendingEntry(t *testing.T) {
	s := newTestStore(t)
	meta := enqueue(t, s, "ws_20260101_aaaaaa")

	assert.Equal(t, models.WorksheetQueued, meta.State)
	assert.Equal(t, "intake/ws_20260101_aaaaaa/original.zip", meta.ArtifactPath)
	assert.FileExists(t, s.ArtifactPath("ws_20260101_aaaaaa"))

	jobs, err := s.PendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobQueued, jobs[0].State)
	assert.Equal(t, 0, jobs[0].Attempts)
	assert.Nil(t, jobs[0].StartedAt)
}

func TestEnqueue_SameIDTwiceKeepsOneEntry(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "ws_20260101_aaaaaa")
	enqueue(t, s, "ws_20260101_aaaaaa")

	jobs, err := s.PendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobQueued, jobs[0].State)
	assert.Equal(t, 0, jobs[0].Attempts)
}

func TestGetStatus_MetadataStateWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "ws_20260101_aaaaaa")

	// Drive the pending entry out of sync with metadata.
	require.NoError(t, s.UpdateJobState(ctx, "ws_20260101_aaaaaa", models.JobFailed))
	require.NoError(t, s.UpdateMetadata(ctx, "ws_20260101_aaaaaa", store.WithState(models.WorksheetIntegrated)))

	status, err := s.GetStatus(ctx, "ws_20260101_aaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.WorksheetIntegrated, status.State)
	assert.Equal(t, models.JobFailed, status.PendingState)
}

func TestGetStatus_UnknownID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetStatus(context.Background(), "ws_20260101_ffffff")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateJobState_ProcessingBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "ws_20260101_aaaaaa")

	require.NoError(t, s.UpdateJobState(ctx, "ws_20260101_aaaaaa", models.JobProcessing))
	jobs, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
	require.NotNil(t, jobs[0].StartedAt)

	require.NoError(t, s.UpdateJobState(ctx, "ws_20260101_aaaaaa", models.JobFailed))
	jobs, err = s.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, jobs[0].Attempts, "attempts only move on entry into processing")
	assert.Nil(t, jobs[0].StartedAt, "started_at cleared on leaving processing")
}

func TestUpdateJobState_SelfHealsMissingEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateJobState(ctx, "ws_20260101_bbbbbb", models.JobProcessing))
	jobs, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ws_20260101_bbbbbb", jobs[0].WorksheetID)
	assert.Equal(t, 1, jobs[0].Attempts)
}

func TestUpdateMetadata_Patch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "ws_20260101_aaaaaa")

	done := time.Now().UTC()
	require.NoError(t, s.UpdateMetadata(ctx, "ws_20260101_aaaaaa",
		store.WithState(models.WorksheetIntegrated),
		store.WithIntegratedAt(done),
		store.ClearLastError()))

	meta, err := s.GetMetadata(ctx, "ws_20260101_aaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.WorksheetIntegrated, meta.State)
	require.NotNil(t, meta.IntegratedAt)
	assert.Empty(t, meta.LastError)
}

func TestUpdateMetadata_UnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateMetadata(context.Background(), "ws_20260101_ffffff", store.WithState(models.WorksheetFailed))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Concurrent enqueues against the same root must each land in the pending
// list exactly once.
func TestEnqueue_ConcurrentWritersDoNotInterleave(t *testing.T) {
	s := newTestStore(t)
	const n = 16

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ws_20260101_%06x", i)
			_, err := s.Enqueue(context.Background(), store.EnqueueParams{
				ID:               id,
				OriginalFilename: "upload.zip",
				ArtifactTempPath: tempArtifact(t, s.Root()),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	jobs, err := s.PendingJobs(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, n)
}

func TestIntakeIDs_FiltersNonWorksheetDirs(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "ws_20260101_aaaaaa")
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "intake", "junk"), 0o755))

	ids, err := s.IntakeIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ws_20260101_aaaaaa"}, ids)
}
