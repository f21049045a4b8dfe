package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644))
	return dir
}

func readDeps(t *testing.T, dir, section string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	var manifest map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &manifest))
	var deps map[string]string
	require.NoError(t, json.Unmarshal(manifest[section], &deps))
	return deps
}

func TestSanitizeManifest_StripsDisallowedDeps(t *testing.T) {
	dir := writeManifest(t, `{
		"name": "worksheet",
		"dependencies": {"openai": "^4.0.0", "react": "^18.0.0"},
		"devDependencies": {"@openai/codex": "^1.0.0", "vite": "^5.0.0"}
	}`)

	removed, err := sanitizeManifest(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openai", "@openai/codex"}, removed)

	assert.Equal(t, map[string]string{"react": "^18.0.0"}, readDeps(t, dir, "dependencies"))
	assert.Equal(t, map[string]string{"vite": "^5.0.0"}, readDeps(t, dir, "devDependencies"))
}

func TestSanitizeManifest_CleanManifestUntouched(t *testing.T) {
	content := `{"name": "worksheet", "dependencies": {"react": "^18.0.0"}}`
	dir := writeManifest(t, content)

	removed, err := sanitizeManifest(dir)
	require.NoError(t, err)
	assert.Empty(t, removed)

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data), "clean manifests are not rewritten")
}

func TestSanitizeManifest_MalformedManifest(t *testing.T) {
	dir := writeManifest(t, `{"dependencies": [`)
	_, err := sanitizeManifest(dir)
	assert.Error(t, err)
}

func TestDisallowedDep(t *testing.T) {
	assert.True(t, disallowedDep("openai"))
	assert.True(t, disallowedDep("@openai/codex"))
	assert.False(t, disallowedDep("openai-tokenizer-fork"))
	assert.False(t, disallowedDep("react"))
}
