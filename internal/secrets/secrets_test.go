// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) string
		want   map[string]string
		errMsg string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "openai-api-key", "  ok_abc123  \n")
				writeFile(t, dir, "semantic-scholar-api-key", "sk_xyz789")
				writeFile(t, dir, "unpaywall-email", "user@example.com\n")
				return dir
			},
			want: map[string]string{
				"openai-api-key":           "ok_abc123",
				"semantic-scholar-api-key": "sk_xyz789",
				"unpaywall-email":          "user@example.com",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "anthropic-api-key", "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: map[string]string{
				"anthropic-api-key": "valid-key",
			},
		},
		{
			name: "skips dotfiles",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, "gemini-api-key", "gk_real")
				return dir
			},
			want: map[string]string{
				"gemini-api-key": "gk_real",
			},
		},
		{
			name: "skips subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "anthropic-api-key", "ak_123")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: map[string]string{
				"anthropic-api-key": "ak_123",
			},
		},
		{
			name: "returns empty map for empty directory",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			got, err := Load(dir)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission bits")
	}
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	// Create a file then remove read permission.
	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir)
	require.NoError(t, err)
	// The good file should still be returned; the bad file is skipped with a warning.
	assert.Equal(t, "value123", got["good-key"])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestKeysAPIKey(t *testing.T) {
	env := map[string]string{
		"CLAUDE_API_KEY": "from-claude-var",
		"OPENAI_API_KEY": "  from-env  ",
	}
	k := NewKeys(map[string]string{
		"openai-api-key":           "from-file",
		"semantic-scholar-api-key": "s2-file",
		"anthropic-api-key":        "anthropic-file",
	})
	k.getenv = func(name string) string { return env[name] }

	tests := []struct {
		service string
		want    string
	}{
		{"openai", "from-env"},
		{"claude", "from-claude-var"},
		{"semantic_scholar", "s2-file"},
		{"gemini", ""},
		{"unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			assert.Equal(t, tt.want, k.APIKey(tt.service))
		})
	}
}

func TestKeysAPIKeyPrefersFirstEnvName(t *testing.T) {
	env := map[string]string{
		"ANTHROPIC_API_KEY": "primary",
		"CLAUDE_API_KEY":    "secondary",
	}
	k := NewKeys(nil)
	k.getenv = func(name string) string { return env[name] }
	assert.Equal(t, "primary", k.APIKey("claude"))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, dir, ".env", "EXTRACTION_ENGINE_TEST_SECRET=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("EXTRACTION_ENGINE_TEST_SECRET") })

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-dotenv", os.Getenv("EXTRACTION_ENGINE_TEST_SECRET"))
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "EXTRACTION_ENGINE_TEST_KEEP=file\n")
	t.Setenv("EXTRACTION_ENGINE_TEST_KEEP", "process")

	require.NoError(t, LoadEnv(filepath.Join(dir, ".env")))
	assert.Equal(t, "process", os.Getenv("EXTRACTION_ENGINE_TEST_KEEP"))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
