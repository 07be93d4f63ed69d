// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from the environment, a
// .env file, and a directory of plain-text files. Each file in the directory
// represents one secret: the filename is the key name and the file contents
// (trimmed) are the value.
//
// Supported key files: anthropic-api-key, openai-api-key, gemini-api-key,
// semantic-scholar-api-key, unpaywall-email.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// LoadEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// envNames lists the environment variables checked per service, in order.
var envNames = map[string][]string{
	"claude":           {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
	"openai":           {"OPENAI_API_KEY"},
	"gemini":           {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"semantic_scholar": {"SEMANTIC_SCHOLAR_API_KEY"},
	"unpaywall":        {"UNPAYWALL_EMAIL"},
}

// fileNames maps a service to its key file under the secrets directory.
var fileNames = map[string]string{
	"claude":           "anthropic-api-key",
	"openai":           "openai-api-key",
	"gemini":           "gemini-api-key",
	"semantic_scholar": "semantic-scholar-api-key",
	"unpaywall":        "unpaywall-email",
}

// Keys resolves credentials for a service name.
type Keys struct {
	files  map[string]string
	getenv func(string) string
}

// NewKeys returns a resolver over files loaded with Load and the process
// environment.
func NewKeys(files map[string]string) *Keys {
	return &Keys{files: files, getenv: os.Getenv}
}

// APIKey returns the credential for service ("claude", "openai", "gemini",
// "semantic_scholar", "unpaywall"). Environment variables take precedence
// over key files. It returns "" when nothing is configured.
func (k *Keys) APIKey(service string) string {
	for _, name := range envNames[service] {
		if v := strings.TrimSpace(k.getenv(name)); v != "" {
			return v
		}
	}
	if f, ok := fileNames[service]; ok {
		return k.files[f]
	}
	return ""
}
