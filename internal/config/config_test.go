package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "models", cfg.ModelsDir)
	assert.EqualValues(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 10, cfg.DBMaxConns)
	assert.Equal(t, "accounts.Role", cfg.Seed[0].Entity)
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
dbUrl: postgres://file
autoMigrate: true
defaultLimit: 20
seed:
  - catalog: roles
    entity: accounts.Role
    codeField: code
    nameField: title
`), 0o644))

	t.Setenv("ACCOUNTS_DB_URL", "postgres://env")
	t.Setenv("ACCOUNTS_AUTO_MIGRATE", "no")

	cfg, err := Load([]string{"-config", path, "-log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres://env", cfg.DBURL)
	assert.False(t, cfg.AutoMigrate)
	assert.EqualValues(t, 20, cfg.DefaultLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Seed, 1)
	assert.Equal(t, "title", cfg.Seed[0].NameField)

	cfg, err = Load([]string{"-config", path, "-db", "postgres://flag", "-port", "7000"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag", cfg.DBURL)
	assert.Equal(t, "7000", cfg.Port)
}

func TestLoadJSONAndLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"defaultLimit": 1000, "maxLimit": 100}`), 0o644))
	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.EqualValues(t, 100, cfg.DefaultLimit)
}

func TestLoadBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1"), 0o644))
	_, err := Load([]string{"-config", path})
	assert.Error(t, err)
}
