package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/wsid"
)

// Storage layout under the configured root.
const (
	intakeDir    = "intake"
	metadataDir  = "metadata"
	queueDir     = "queue"
	workDir      = "work"
	shippableDir = "shippable"

	pendingFile  = "pending.json"
	artifactName = "original.zip"
)

// rootLocks serializes mutations per storage root. Every FSStore opened on
// the same root within this process shares one lock, so concurrent
// enqueue/update calls never interleave their read-modify-write cycles on
// the pending list. This orders writes from one process only; multi-process
// writers need an external advisory lock (documented constraint).
var (
	rootLocksMu sync.Mutex
	rootLocks   = map[string]*sync.Mutex{}
)

func lockFor(root string) *sync.Mutex {
	rootLocksMu.Lock()
	defer rootLocksMu.Unlock()
	if l, ok := rootLocks[root]; ok {
		return l
	}
	l := &sync.Mutex{}
	rootLocks[root] = l
	return l
}

// FSStore implements Store on top of a local filesystem root using atomic
// JSON document replacement.
type FSStore struct {
	root string
	mu   *sync.Mutex
}

// NewFSStore creates a store rooted at root. The root need not exist yet;
// EnsureLayout creates it.
func NewFSStore(root string) *FSStore {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &FSStore{root: abs, mu: lockFor(abs)}
}

func (s *FSStore) Root() string { return s.root }

// ArtifactPath returns the permanent artifact location for id.
func (s *FSStore) ArtifactPath(id string) string {
	return filepath.Join(s.root, intakeDir, id, artifactName)
}

// WorkDir returns the scratch extraction directory for id.
func (s *FSStore) WorkDir(id string) string {
	return filepath.Join(s.root, workDir, id)
}

// StagingDir returns the scratch output directory for id, kept as a sibling
// of the extraction dir so both are cleaned together.
func (s *FSStore) StagingDir(id string) string {
	return filepath.Join(s.root, workDir, id+".out")
}

// ShippableDir returns the published output location for id.
func (s *FSStore) ShippableDir(id string) string {
	return filepath.Join(s.root, shippableDir, id)
}

func (s *FSStore) metadataPath(id string) string {
	return filepath.Join(s.root, metadataDir, id+".json")
}

func (s *FSStore) pendingPath() string {
	return filepath.Join(s.root, queueDir, pendingFile)
}

func (s *FSStore) EnsureLayout(_ context.Context) error {
	for _, dir := range []string{intakeDir, metadataDir, queueDir, workDir, shippableDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	// The stat-then-write is a pending-list mutation like any other and
	// must not interleave with a concurrent Enqueue.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.pendingPath()); errors.Is(err, fs.ErrNotExist) {
		return WriteJSON(s.pendingPath(), models.PendingList{Jobs: []models.PendingJob{}})
	} else if err != nil {
		return err
	}
	return nil
}

func (s *FSStore) Enqueue(_ context.Context, params EnqueueParams) (*models.WorksheetMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.ArtifactPath(params.ID)), 0o755); err != nil {
		return nil, fmt.Errorf("creating intake dir for %s: %w", params.ID, err)
	}
	if err := MoveFile(params.ArtifactTempPath, s.ArtifactPath(params.ID)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta := &models.WorksheetMetadata{
		ID:               params.ID,
		Title:            params.Title,
		Owner:            params.Owner,
		OriginalFilename: params.OriginalFilename,
		ArtifactPath:     strings.Join([]string{intakeDir, params.ID, artifactName}, "/"),
		State:            models.WorksheetQueued,
		UploadedAt:       now,
	}
	if err := WriteJSON(s.metadataPath(params.ID), meta); err != nil {
		return nil, err
	}

	list, err := ReadJSON(s.pendingPath(), models.PendingList{})
	if err != nil {
		return nil, err
	}
	entry := models.PendingJob{
		WorksheetID: params.ID,
		State:       models.JobQueued,
		Attempts:    0,
		QueuedAt:    now,
	}
	replaced := false
	for i := range list.Jobs {
		if list.Jobs[i].WorksheetID == params.ID {
			list.Jobs[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		list.Jobs = append(list.Jobs, entry)
	}
	if err := WriteJSON(s.pendingPath(), list); err != nil {
		return nil, err
	}
	return meta, nil
}

// EnsureMetadata backfills a minimal metadata record for an artifact that
// was discovered without one (a partially failed enqueue). Existing records
// are returned untouched.
func (s *FSStore) EnsureMetadata(ctx context.Context, id string) (*models.WorksheetMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := ReadJSON[*models.WorksheetMetadata](s.metadataPath(id), nil)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		return meta, nil
	}
	meta = &models.WorksheetMetadata{
		ID:           id,
		ArtifactPath: strings.Join([]string{intakeDir, id, artifactName}, "/"),
		State:        models.WorksheetQueued,
		UploadedAt:   time.Now().UTC(),
	}
	if err := WriteJSON(s.metadataPath(id), meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *FSStore) GetMetadata(_ context.Context, id string) (*models.WorksheetMetadata, error) {
	meta, err := ReadJSON[*models.WorksheetMetadata](s.metadataPath(id), nil)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrNotFound
	}
	return meta, nil
}

func (s *FSStore) GetStatus(ctx context.Context, id string) (*WorksheetStatus, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	status := &WorksheetStatus{Metadata: *meta, State: meta.State}
	list, err := ReadJSON(s.pendingPath(), models.PendingList{})
	if err != nil {
		return nil, err
	}
	for _, j := range list.Jobs {
		if j.WorksheetID == id {
			status.PendingState = j.State
			status.Attempts = j.Attempts
			break
		}
	}
	return status, nil
}

func (s *FSStore) UpdateMetadata(_ context.Context, id string, opts ...MetadataOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var patch metadataPatch
	for _, opt := range opts {
		opt(&patch)
	}
	meta, err := ReadJSON[*models.WorksheetMetadata](s.metadataPath(id), nil)
	if err != nil {
		return err
	}
	if meta == nil {
		return ErrNotFound
	}
	if patch.State != nil {
		meta.State = *patch.State
	}
	if patch.LastError != nil {
		meta.LastError = *patch.LastError
	}
	if patch.ClearLastError {
		meta.LastError = ""
	}
	if patch.IntegratedAt != nil {
		meta.IntegratedAt = patch.IntegratedAt
	}
	if patch.Title != nil {
		meta.Title = *patch.Title
	}
	if patch.Owner != nil {
		meta.Owner = *patch.Owner
	}
	return WriteJSON(s.metadataPath(id), meta)
}

func (s *FSStore) UpdateJobState(_ context.Context, id string, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := ReadJSON(s.pendingPath(), models.PendingList{})
	if err != nil {
		return err
	}
	idx := -1
	for i := range list.Jobs {
		if list.Jobs[i].WorksheetID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Self-healed worksheets discovered outside the pending list gain an
		// entry on their first transition.
		list.Jobs = append(list.Jobs, models.PendingJob{
			WorksheetID: id,
			State:       models.JobQueued,
			QueuedAt:    time.Now().UTC(),
		})
		idx = len(list.Jobs) - 1
	}
	entry := &list.Jobs[idx]
	if state == models.JobProcessing {
		entry.Attempts++
		now := time.Now().UTC()
		entry.StartedAt = &now
	} else {
		entry.StartedAt = nil
	}
	entry.State = state
	return WriteJSON(s.pendingPath(), list)
}

func (s *FSStore) PendingJobs(_ context.Context) ([]models.PendingJob, error) {
	list, err := ReadJSON(s.pendingPath(), models.PendingList{})
	if err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

func (s *FSStore) ListWorksheets(_ context.Context) ([]*models.WorksheetMetadata, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, metadataDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []*models.WorksheetMetadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if !wsid.Valid(id) {
			continue
		}
		meta, err := ReadJSON[*models.WorksheetMetadata](s.metadataPath(id), nil)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			out = append(out, meta)
		}
	}
	return out, nil
}

func (s *FSStore) IntakeIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, intakeDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && wsid.Valid(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

var _ Store = (*FSStore)(nil)
