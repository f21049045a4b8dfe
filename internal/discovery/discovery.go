// Package discovery computes the set of worksheet IDs eligible for a
// pipeline run: fresh queued jobs, jobs orphaned mid-processing by a
// crashed worker, and transiently failed jobs under the retry cap.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
)

// transientPatterns is the closed set of failure categories eligible for
// automatic retry, matched against the persisted last_error text. Matching
// free text is a best-effort heuristic; failure sites should keep their
// messages inside this vocabulary.
var transientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)getaddrinfo|no such host|EAI_AGAIN|ENOTFOUND|dns`),
	regexp.MustCompile(`(?i)ECONNRESET|connection reset|ECONNREFUSED|connection refused|socket hang up`),
	regexp.MustCompile(`(?i)ETIMEDOUT|timed? ?out|deadline exceeded`),
}

// Transient reports whether an error message falls into a known transient
// failure category.
func Transient(lastError string) bool {
	if lastError == "" {
		return false
	}
	for _, p := range transientPatterns {
		if p.MatchString(lastError) {
			return true
		}
	}
	return false
}

// Options tune the discovery policy.
type Options struct {
	StaleThreshold time.Duration
	RetryEnabled   bool
	MaxAttempts    int
}

// Discovery scans the pending list and metadata store for runnable work.
type Discovery struct {
	store store.Store
	opts  Options
}

func New(s store.Store, opts Options) *Discovery {
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 20 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	return &Discovery{store: s, opts: opts}
}

// Eligible returns the ordered, deduplicated set of worksheet IDs for this
// run. A non-empty target short-circuits the scan and is returned as-is.
// Otherwise order follows discovery source: pending list first, then the
// metadata scan, then raw artifact storage.
func (d *Discovery) Eligible(ctx context.Context, target string) ([]string, error) {
	if target != "" {
		return []string{target}, nil
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	jobs, err := d.store.PendingJobs(ctx)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		tracked[j.WorksheetID] = true
		switch j.State {
		case models.JobQueued:
			add(j.WorksheetID)
		case models.JobProcessing:
			if j.StartedAt == nil || now.Sub(*j.StartedAt) > d.opts.StaleThreshold {
				slog.Info("reclaiming stale job", "id", j.WorksheetID, "started_at", j.StartedAt)
				add(j.WorksheetID)
			}
		case models.JobFailed:
			if !d.opts.RetryEnabled || j.Attempts >= d.opts.MaxAttempts {
				continue
			}
			meta, err := d.store.GetMetadata(ctx, j.WorksheetID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if Transient(meta.LastError) {
				slog.Info("retrying transient failure", "id", j.WorksheetID, "attempts", j.Attempts)
				add(j.WorksheetID)
			}
		}
	}

	// Self-healing: worksheets visible in the metadata store or raw artifact
	// storage but missing from the pending list (a partially failed enqueue).
	metas, err := d.store.ListWorksheets(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		if !tracked[m.ID] && m.State == models.WorksheetQueued {
			slog.Warn("worksheet missing from pending list", "id", m.ID)
			add(m.ID)
		}
	}
	intakeIDs, err := d.store.IntakeIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range intakeIDs {
		if tracked[id] || seen[id] {
			continue
		}
		if _, err := d.store.GetMetadata(ctx, id); errors.Is(err, store.ErrNotFound) {
			// No metadata yet: treat the bare artifact as queued work.
			slog.Warn("artifact without metadata or pending entry", "id", id)
			add(id)
		} else if err != nil {
			return nil, err
		}
	}

	return ids, nil
}
