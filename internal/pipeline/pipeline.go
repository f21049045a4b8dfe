// Package pipeline drives the per-worksheet state machine: extract,
// transform, build, verify and publish, with every failure converted into
// persisted job state.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kwen1510/CODEX-HACKATHON/internal/cache"
	"github.com/kwen1510/CODEX-HACKATHON/internal/config"
	"github.com/kwen1510/CODEX-HACKATHON/internal/discovery"
	"github.com/kwen1510/CODEX-HACKATHON/internal/runtime"
	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/internal/supervisor"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/wsid"
)

const (
	installAttempts = 2
	cacheTTL        = 30 * time.Minute
)

// Result is the terminal record for one processed worksheet.
type Result struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	OutputPath string `json:"output_path,omitempty"`
	Err        string `json:"error,omitempty"`
}

// Worker processes discovered worksheets sequentially, one at a time.
// Per-job failures become persisted state; only store-level errors abort
// a batch.
type Worker struct {
	store        *store.FSStore
	disc         *discovery.Discovery
	runner       supervisor.Runner
	rt           runtime.Client
	cache        cache.Cache // optional, may be nil
	cfg          config.PipelineConfig
	verify       verifier
	instructions string
}

func NewWorker(s *store.FSStore, d *discovery.Discovery, runner supervisor.Runner, rt runtime.Client, ca cache.Cache, cfg config.PipelineConfig, endpointPath string) (*Worker, error) {
	instr, err := loadInstructions(cfg.InstructionsPath, endpointPath, rt.Model())
	if err != nil {
		return nil, err
	}
	return &Worker{
		store:        s,
		disc:         d,
		runner:       runner,
		rt:           rt,
		cache:        ca,
		cfg:          cfg,
		verify:       verifier{endpointPath: endpointPath, model: rt.Model()},
		instructions: instr,
	}, nil
}

// ProcessBatch runs the pipeline over every eligible worksheet, or over the
// explicit target when given. The returned error is reserved for
// infrastructure failures (unreadable store, failed state writes); per-job
// failures are reported inside the results.
func (w *Worker) ProcessBatch(ctx context.Context, target string) ([]Result, error) {
	if target != "" {
		if err := w.checkTarget(ctx, target); err != nil {
			return nil, err
		}
	}
	ids, err := w.disc.Eligible(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("discovering eligible worksheets: %w", err)
	}
	slog.Info("batch starting", "jobs", len(ids), "mode", w.cfg.Mode)

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		res, err := w.processOne(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// checkTarget rejects an explicit target that refers to nothing on disk,
// before processOne would backfill state for it. A mistyped -id must not
// leave a permanent failed record behind.
func (w *Worker) checkTarget(ctx context.Context, target string) error {
	if !wsid.Valid(target) {
		return fmt.Errorf("invalid worksheet id %q", target)
	}
	if _, err := os.Stat(w.store.ArtifactPath(target)); err == nil {
		return nil
	}
	if _, err := w.store.GetMetadata(ctx, target); err != nil {
		return fmt.Errorf("unknown worksheet %s: no artifact or metadata", target)
	}
	return nil
}

func (w *Worker) processOne(ctx context.Context, id string) (Result, error) {
	if _, err := w.store.EnsureMetadata(ctx, id); err != nil {
		return Result{}, err
	}
	// Claim: processing state, attempts bump, started_at stamp, prior error
	// cleared. These writes must land before any work begins.
	if err := w.store.UpdateMetadata(ctx, id, store.WithState(models.WorksheetProcessing), store.ClearLastError()); err != nil {
		return Result{}, err
	}
	if err := w.store.UpdateJobState(ctx, id, models.JobProcessing); err != nil {
		return Result{}, err
	}
	w.cacheState(ctx, id, models.WorksheetProcessing)
	slog.Info("worksheet claimed", "id", id)

	if err := w.runSteps(ctx, id); err != nil {
		slog.Error("worksheet failed", "id", id, "error", err)
		if serr := w.store.UpdateMetadata(ctx, id, store.WithState(models.WorksheetFailed), store.WithLastError(concise(err))); serr != nil {
			return Result{}, serr
		}
		if serr := w.store.UpdateJobState(ctx, id, models.JobFailed); serr != nil {
			return Result{}, serr
		}
		w.cacheState(ctx, id, models.WorksheetFailed)
		return Result{ID: id, State: models.WorksheetFailed, Err: concise(err)}, nil
	}

	now := time.Now().UTC()
	if err := w.store.UpdateMetadata(ctx, id,
		store.WithState(models.WorksheetIntegrated),
		store.WithIntegratedAt(now),
		store.ClearLastError()); err != nil {
		return Result{}, err
	}
	if err := w.store.UpdateJobState(ctx, id, models.JobCompleted); err != nil {
		return Result{}, err
	}
	w.cacheState(ctx, id, models.WorksheetIntegrated)
	slog.Info("worksheet integrated", "id", id, "output", w.store.ShippableDir(id))
	return Result{ID: id, State: models.WorksheetIntegrated, OutputPath: w.store.ShippableDir(id)}, nil
}

// runSteps executes steps 2-10 of the pipeline for a claimed worksheet.
// Any error aborts the remaining steps and is recorded by the caller.
func (w *Worker) runSteps(ctx context.Context, id string) error {
	workDir := w.store.WorkDir(id)
	stagingDir := w.store.StagingDir(id)

	// Scratch dirs are recreated from zero so a crashed previous run leaves
	// no residue.
	for _, dir := range []string{workDir, stagingDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clearing scratch dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating scratch dir: %w", err)
		}
	}

	if _, err := w.runner.Run(ctx, supervisor.Spec{
		Name:    "unzip",
		Args:    []string{"-o", w.store.ArtifactPath(id), "-d", workDir},
		Timeout: w.cfg.ExtractTimeout,
	}); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}

	projectRoot, err := findProjectRoot(workDir)
	if err != nil {
		return err
	}

	if w.cfg.Mode == config.ModeCodex {
		if _, err := w.runner.Run(ctx, supervisor.Spec{
			Name:    w.cfg.CodexBin,
			Args:    []string{"exec", "--cd", projectRoot, w.instructions},
			Timeout: w.cfg.RewriteTimeout,
		}); err != nil {
			return fmt.Errorf("rewrite agent: %w", err)
		}
	}

	if _, err := sanitizeManifest(projectRoot); err != nil {
		return err
	}

	if err := w.installAndBuild(ctx, id, projectRoot, stagingDir); err != nil {
		return err
	}

	if err := w.verify.verifyOutput(ctx, stagingDir); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if err := w.rt.Check(ctx); err != nil {
		return fmt.Errorf("runtime connectivity: %w", err)
	}

	return w.publish(id, stagingDir, workDir)
}

func (w *Worker) installAndBuild(ctx context.Context, id, projectRoot, stagingDir string) error {
	var installErr error
	for attempt := 1; attempt <= installAttempts; attempt++ {
		_, installErr = w.runner.Run(ctx, supervisor.Spec{
			Name:    "npm",
			Args:    []string{"install", "--no-audit", "--no-fund"},
			Dir:     projectRoot,
			Timeout: w.cfg.InstallTimeout,
		})
		if installErr == nil {
			break
		}
		slog.Warn("npm install failed", "id", id, "attempt", attempt, "error", installErr)
	}
	if installErr != nil {
		return fmt.Errorf("installing dependencies: %w", installErr)
	}

	hasBuild, err := hasBuildScript(projectRoot)
	if err != nil {
		return err
	}
	if !hasBuild {
		// No build step declared: ship the sanitized project tree itself.
		return copyTree(projectRoot, stagingDir, func(name string) bool {
			return name == "node_modules" || name == ".git"
		})
	}

	if _, err := w.runner.Run(ctx, supervisor.Spec{
		Name:    "npm",
		Args:    []string{"run", "build"},
		Dir:     projectRoot,
		Timeout: w.cfg.BuildTimeout,
	}); err != nil {
		return fmt.Errorf("build script: %w", err)
	}

	for _, candidate := range []string{"dist", "build"} {
		outDir := filepath.Join(projectRoot, candidate)
		if info, err := os.Stat(outDir); err == nil && info.IsDir() {
			return copyTree(outDir, stagingDir, nil)
		}
	}
	return fmt.Errorf("build script produced no dist/ or build/ directory")
}

// publish replaces the shippable directory with the staged output and
// removes the scratch extraction dir.
func (w *Worker) publish(id, stagingDir, workDir string) error {
	dst := w.store.ShippableDir(id)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clearing published output: %w", err)
	}
	if err := os.Rename(stagingDir, dst); err != nil {
		// Cross-volume roots fall back to a copy.
		if cerr := copyTree(stagingDir, dst, nil); cerr != nil {
			return fmt.Errorf("publishing output: %w", cerr)
		}
		os.RemoveAll(stagingDir)
	}
	os.RemoveAll(workDir)
	return nil
}

func (w *Worker) cacheState(ctx context.Context, id, state string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetWorksheetState(ctx, id, state, cacheTTL); err != nil {
		slog.Warn("status cache write failed", "id", id, "error", err)
	}
}

// findProjectRoot searches the extracted tree for package.json: root first,
// then one level of subdirectories (archives commonly wrap the project in a
// single folder).
func findProjectRoot(workDir string) (string, error) {
	if _, err := os.Stat(filepath.Join(workDir, "package.json")); err == nil {
		return workDir, nil
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		candidate := filepath.Join(workDir, name)
		if _, err := os.Stat(filepath.Join(candidate, "package.json")); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no package.json found in extracted archive")
}

func hasBuildScript(projectRoot string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(projectRoot, "package.json"))
	if err != nil {
		return false, fmt.Errorf("reading package.json: %w", err)
	}
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false, fmt.Errorf("parsing package.json: %w", err)
	}
	return manifest.Scripts["build"] != "", nil
}

// copyTree copies src into dst recursively. skip, when non-nil, filters
// top-level and nested entry names.
func copyTree(src, dst string, skip func(name string) bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if skip != nil && skip(d.Name()) && d.IsDir() {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFileContents(path, target)
	})
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// concise reduces an error to a single bounded line suitable for the
// persisted last_error field.
func concise(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
