package store

import (
	"context"
	"errors"
	"time"

	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
)

var ErrNotFound = errors.New("worksheet not found")

// Store is the job repository. It exclusively owns all writes to the
// per-worksheet metadata documents and the shared pending list; every
// other component reads through it or calls its mutation operations.
type Store interface {
	// EnsureLayout idempotently creates the storage subdirectories and an
	// empty pending list if absent.
	EnsureLayout(ctx context.Context) error

	// Enqueue moves the temp artifact into permanent per-worksheet storage,
	// writes fresh metadata in state queued and upserts a matching pending
	// entry with attempts=0.
	Enqueue(ctx context.Context, params EnqueueParams) (*models.WorksheetMetadata, error)

	// GetStatus returns the merged view for one worksheet. Metadata state is
	// authoritative; a missing metadata record yields ErrNotFound.
	GetStatus(ctx context.Context, id string) (*WorksheetStatus, error)

	GetMetadata(ctx context.Context, id string) (*models.WorksheetMetadata, error)
	UpdateMetadata(ctx context.Context, id string, opts ...MetadataOption) error

	// UpdateJobState moves the pending entry for id into state, managing the
	// attempts / started_at bookkeeping: attempts increments and started_at
	// is stamped only on entry into processing; started_at is cleared on
	// leaving it.
	UpdateJobState(ctx context.Context, id string, state string) error

	PendingJobs(ctx context.Context) ([]models.PendingJob, error)
	ListWorksheets(ctx context.Context) ([]*models.WorksheetMetadata, error)

	// IntakeIDs lists worksheet IDs discoverable from raw artifact storage,
	// whether or not they appear in the pending list or metadata store.
	IntakeIDs(ctx context.Context) ([]string, error)
}

// EnqueueParams carries a validated upload into the repository.
type EnqueueParams struct {
	ID               string
	Title            string
	Owner            string
	OriginalFilename string
	ArtifactTempPath string
}

// WorksheetStatus merges metadata with the pending-list entry for the same
// ID. State carries the metadata state, which wins over PendingState when
// the two disagree.
type WorksheetStatus struct {
	Metadata     models.WorksheetMetadata `json:"metadata"`
	State        string                   `json:"state"`
	PendingState string                   `json:"pending_state,omitempty"`
	Attempts     int                      `json:"attempts"`
}

type metadataPatch struct {
	State          *string
	LastError      *string
	ClearLastError bool
	IntegratedAt   *time.Time
	Title          *string
	Owner          *string
}

type MetadataOption func(*metadataPatch)

func WithState(state string) MetadataOption {
	return func(p *metadataPatch) { p.State = &state }
}

func WithLastError(msg string) MetadataOption {
	return func(p *metadataPatch) { p.LastError = &msg }
}

func ClearLastError() MetadataOption {
	return func(p *metadataPatch) { p.ClearLastError = true }
}

func WithIntegratedAt(ts time.Time) MetadataOption {
	return func(p *metadataPatch) { p.IntegratedAt = &ts }
}

func WithTitle(title string) MetadataOption {
	return func(p *metadataPatch) { p.Title = &title }
}

func WithOwner(owner string) MetadataOption {
	return func(p *metadataPatch) { p.Owner = &owner }
}
