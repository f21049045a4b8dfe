package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// disallowedDep reports whether a package.json dependency name belongs to
// the disallowed AI provider's client libraries.
func disallowedDep(name string) bool {
	return name == "openai" || strings.HasPrefix(name, "@openai/")
}

// sanitizeManifest deterministically strips any still-declared dependency
// on the disallowed provider from the project's package.json. It runs after
// the rewrite agent as a guardrail, so it never trusts the agent to have
// done this. Returns the removed dependency names.
func sanitizeManifest(projectRoot string) ([]string, error) {
	path := filepath.Join(projectRoot, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading package.json: %w", err)
	}
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}

	var removed []string
	for _, section := range []string{"dependencies", "devDependencies"} {
		raw, ok := manifest[section]
		if !ok {
			continue
		}
		var deps map[string]string
		if err := json.Unmarshal(raw, &deps); err != nil {
			return nil, fmt.Errorf("parsing package.json %s: %w", section, err)
		}
		changed := false
		for name := range deps {
			if disallowedDep(name) {
				delete(deps, name)
				removed = append(removed, name)
				changed = true
			}
		}
		if changed {
			encoded, err := json.Marshal(deps)
			if err != nil {
				return nil, err
			}
			manifest[section] = encoded
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return nil, err
	}
	slog.Info("guardrail stripped disallowed dependencies", "removed", removed)
	return removed, nil
}
