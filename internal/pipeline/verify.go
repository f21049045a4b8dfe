package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// forbiddenSignatures are the disallowed provider's fingerprints. Any
// occurrence in published output is a hard verification failure, never
// auto-corrected.
var forbiddenSignatures = []string{
	"api.openai.com",
	"OPENAI_API_KEY",
	"sk-proj-",
}

// textExtensions bounds the signature scan to text, markup and script files.
var textExtensions = map[string]bool{
	".html": true, ".htm": true, ".js": true, ".mjs": true, ".cjs": true,
	".css": true, ".json": true, ".txt": true, ".svg": true, ".md": true,
}

var (
	// Self-contained tags that carry an asset reference; a dangling one is
	// dropped during normalization.
	droppableTag = regexp.MustCompile(`(?i)<(?:link|script)\b[^>]*?(?:src|href)="([^"]*)"[^>]*>(?:\s*</script>)?`)
	attrRef      = regexp.MustCompile(`(?i)\b(src|href)="([^"]*)"`)
	absoluteRef  = regexp.MustCompile(`(?i)\b(src|href)="/([^/"][^"]*)"`)
)

// verifier is the publication gate: it normalizes markup asset references
// and then asserts the output is self-contained and routed through the
// sanctioned runtime.
type verifier struct {
	endpointPath string
	model        string
}

func (v verifier) verifyOutput(ctx context.Context, outDir string) error {
	htmlFiles, textFiles, err := collectFiles(outDir)
	if err != nil {
		return err
	}

	for _, path := range htmlFiles {
		if err := normalizeMarkup(outDir, path); err != nil {
			return err
		}
	}
	for _, path := range htmlFiles {
		if err := checkReferences(outDir, path); err != nil {
			return err
		}
	}
	return v.scanSignatures(ctx, outDir, textFiles)
}

func collectFiles(outDir string) (htmlFiles, textFiles []string, err error) {
	err = filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".html" || ext == ".htm" {
			htmlFiles = append(htmlFiles, path)
		}
		if textExtensions[ext] {
			textFiles = append(textFiles, path)
		}
		return nil
	})
	return htmlFiles, textFiles, err
}

// normalizeMarkup makes asset references resolvable from the published
// location: dangling link/script tags are dropped, and root-absolute
// references are rewritten relative to the markup file.
func normalizeMarkup(outDir, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := string(data)
	orig := content

	content = droppableTag.ReplaceAllStringFunc(content, func(tag string) string {
		ref := droppableTag.FindStringSubmatch(tag)[1]
		if !localRef(ref) {
			return tag
		}
		if _, err := os.Stat(resolveRef(outDir, path, ref)); err != nil {
			slog.Warn("dropping reference to missing asset", "file", filepath.Base(path), "ref", ref)
			return ""
		}
		return tag
	})

	prefix := relPrefix(outDir, path)
	content = absoluteRef.ReplaceAllString(content, `$1="`+prefix+`$2"`)

	if content != orig {
		return os.WriteFile(path, []byte(content), 0o644)
	}
	return nil
}

// checkReferences confirms every remaining local reference in a markup file
// resolves inside the output directory.
func checkReferences(outDir, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, m := range attrRef.FindAllStringSubmatch(string(data), -1) {
		ref := m[2]
		if !localRef(ref) {
			continue
		}
		if _, err := os.Stat(resolveRef(outDir, path, ref)); err != nil {
			rel, _ := filepath.Rel(outDir, path)
			return fmt.Errorf("unresolvable reference %q in %s", ref, rel)
		}
	}
	return nil
}

// scanSignatures asserts no disallowed-provider signature survives and that
// the sanctioned endpoint path and model identifier are both referenced
// somewhere in the output. Files are scanned concurrently; the scan is
// read-only.
func (v verifier) scanSignatures(ctx context.Context, outDir string, textFiles []string) error {
	var endpointSeen, modelSeen atomic.Bool

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, path := range textFiles {
		path := path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			content := string(data)
			for _, sig := range forbiddenSignatures {
				if strings.Contains(content, sig) {
					rel, _ := filepath.Rel(outDir, path)
					return fmt.Errorf("forbidden provider signature %q in %s", sig, rel)
				}
			}
			if strings.Contains(content, v.endpointPath) {
				endpointSeen.Store(true)
			}
			if strings.Contains(content, v.model) {
				modelSeen.Store(true)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if !endpointSeen.Load() {
		return fmt.Errorf("output never references the sanctioned runtime endpoint %s", v.endpointPath)
	}
	if !modelSeen.Load() {
		return fmt.Errorf("output never references the sanctioned model %s", v.model)
	}
	return nil
}

func localRef(ref string) bool {
	if ref == "" {
		return false
	}
	for _, prefix := range []string{"http://", "https://", "//", "data:", "mailto:", "javascript:", "#"} {
		if strings.HasPrefix(ref, prefix) {
			return false
		}
	}
	return true
}

// resolveRef maps a reference to its on-disk target, ignoring query strings
// and fragments.
func resolveRef(outDir, fromFile, ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if strings.HasPrefix(ref, "/") {
		return filepath.Join(outDir, filepath.FromSlash(ref))
	}
	return filepath.Join(filepath.Dir(fromFile), filepath.FromSlash(ref))
}

// relPrefix is the path from the markup file's directory back to the output
// root, with a trailing slash, or empty at the root itself.
func relPrefix(outDir, fromFile string) string {
	rel, err := filepath.Rel(filepath.Dir(fromFile), outDir)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel) + "/"
}
