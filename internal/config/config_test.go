package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.json"))
	t.Setenv("MEDIA_ROOT", filepath.Join(dir, "media"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DEFAULT_STORY", "")
	t.Setenv("THUMBNAIL_SIZE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "media"), cfg.Storage.Root)
	assert.DirExists(t, cfg.Storage.Root)
	assert.Equal(t, "default", cfg.DefaultStory)
	assert.Equal(t, 256, cfg.Thumbnail.Size)
	assert.Equal(t, 2048, cfg.Thumbnail.MaxWidth)
	assert.False(t, cfg.UsePostgres())
	assert.Positive(t, cfg.Workers.Decode)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"defaultStory": "holiday",
		"storage": {"root": "`+filepath.ToSlash(filepath.Join(dir, "from-file"))+`", "maxFileSizeMB": 64},
		"database": {"maxOpenConns": 3, "acquireTimeoutMs": 250}
	}`), 0644))

	t.Setenv("CONFIG_PATH", configPath)
	t.Setenv("MEDIA_ROOT", "")
	t.Setenv("DEFAULT_STORY", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/media")
	t.Setenv("THUMBNAIL_SIZE", "128")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "holiday", cfg.DefaultStory)
	assert.Equal(t, int64(64), cfg.Storage.MaxFileSizeMB)
	assert.Equal(t, filepath.Join(dir, "from-file"), cfg.Storage.Root)
	assert.Equal(t, 128, cfg.Thumbnail.Size)
	assert.Equal(t, 3, cfg.Database.MaxOpenConns)
	assert.Equal(t, int64(250), cfg.Database.AcquireTimeout().Milliseconds())
	assert.True(t, cfg.UsePostgres())
}

func TestLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{"), 0644))
	t.Setenv("CONFIG_PATH", configPath)

	_, err := Load()
	assert.Error(t, err)
}
