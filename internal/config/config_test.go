package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	storageDir := t.TempDir()
	path := writeConfig(t, `
address: "0.0.0.0:2023"
tmp_dir: /tmp/creditdrop-staging
auth_dir: /etc/creditdrop/tokens
storage:
  dropboxes:
    - regexp: "^lab1-.*"
      path: `+storageDir+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:2023", cfg.Address)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "/var/run/creditdrop.pid", cfg.Options.Pidfile)
	require.Len(t, cfg.Storage.Dropboxes, 1)
}

func TestLoadRejectsMissingAddress(t *testing.T) {
	path := writeConfig(t, `
tmp_dir: /tmp/creditdrop-staging
auth_dir: /etc/creditdrop/tokens
storage:
  manual: /tmp/manual
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsStorageWithNoRules(t *testing.T) {
	path := writeConfig(t, `
address: "0.0.0.0:2023"
tmp_dir: /tmp/creditdrop-staging
auth_dir: /etc/creditdrop/tokens
storage: {}
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvironmentOverridesAddress(t *testing.T) {
	storageDir := t.TempDir()
	path := writeConfig(t, `
address: "0.0.0.0:2023"
tmp_dir: /tmp/creditdrop-staging
auth_dir: /etc/creditdrop/tokens
storage:
  dropboxes:
    - regexp: "^lab1-.*"
      path: `+storageDir+`
`)

	t.Setenv("CREDITDROP_ADDRESS", "127.0.0.1:9999")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Address)
}

func TestSaveRoundTrips(t *testing.T) {
	storageDir := t.TempDir()
	cfg := &Config{
		Address: "0.0.0.0:2023",
		TmpDir:  "/tmp/creditdrop-staging",
		AuthDir: "/etc/creditdrop/tokens",
		Storage: StorageConfig{Manual: storageDir},
		Logging: LoggingConfig{Level: "debug"},
	}
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Address, loaded.Address)
	require.Equal(t, "debug", loaded.Logging.Level)
}
