package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultScheme, cfg.Scheme)
	assert.Equal(t, DefaultLockFile, cfg.LockFile)
	assert.Equal(t, DefaultDocSuffix, cfg.DocSuffix)
	assert.True(t, cfg.ShouldScaffold())
	assert.True(t, cfg.UseParallel())
}

func TestLoad_StitcherToml(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "stitcher.toml", `
lock_file = "tool.lock"
exclude = ["build/**"]
scaffold_init = false
workers = 2
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "tool.lock", cfg.LockFile)
	assert.Equal(t, "py", cfg.Scheme)
	assert.False(t, cfg.ShouldScaffold())
	assert.Equal(t, 2, cfg.Workers)
	assert.True(t, cfg.Excluded("build/lib/x.py"))
	assert.False(t, cfg.Excluded("src/x.py"))
}

func TestLoad_PyprojectTable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", `
[project]
name = "demo"

[tool.stitcher]
source_roots = ["packages/*/lib"]
parallel = false
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.UseParallel())
	assert.True(t, cfg.IsSourceRoot("packages/core/lib"))
	assert.False(t, cfg.IsSourceRoot("packages/core"))
}

func TestLoad_PyprojectWithoutTable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", "[project]\nname = \"demo\"\n")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultLockFile, cfg.LockFile)
}

func TestLoad_InvalidToml(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "stitcher.toml", "lock_file = [")
	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty scheme", func(c *Config) { c.Scheme = "" }},
		{"numeric scheme", func(c *Config) { c.Scheme = "py3" }},
		{"empty lock", func(c *Config) { c.LockFile = "" }},
		{"empty suffix", func(c *Config) { c.DocSuffix = "" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"bad glob", func(c *Config) { c.Exclude = []string{"[abc"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
