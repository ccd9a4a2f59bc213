package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "git", cfg.Project.Backend)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
log_level: warn
server:
  port: 9090
project:
  path: /data/project
  backend: git
  active_user: alice
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/data/project", cfg.Project.Path)
	assert.Equal(t, "alice", cfg.Project.ActiveUser)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
project:
  path: /data/project
  backend: git
  active_user: alice
`)
	t.Setenv("PRISM_SERVER_PORT", "7000")
	t.Setenv("PRISM_ACTIVE_USER", "bob")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "bob", cfg.Project.ActiveUser)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
project:
  path: /data/project
  backend: dynamodb
  active_user: alice
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSupabaseBackendRequiresConnectionParams(t *testing.T) {
	path := writeConfig(t, `
project:
  path: /data/project
  backend: supabase
  active_user: alice
`)
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, `
project:
  path: /data/project
  backend: supabase
  active_user: alice
supabase:
  url: https://abc.supabase.co
  key: anon-key
  project_slug: my-project
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-project", cfg.Supabase.ProjectSlug)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "{not yaml")
	_, err := Load(path)
	assert.Error(t, err)
}
