// Package config loads stitcher settings from stitcher.toml or the
// [tool.stitcher] table of pyproject.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// Defaults
const (
	DefaultScheme    = "py"
	DefaultLockFile  = "stitcher.lock"
	DefaultDocSuffix = ".stitcher.yaml"
	DefaultStateDir  = ".stitcher"
)

type Config struct {
	Scheme       string   `toml:"scheme"`
	LockFile     string   `toml:"lock_file"`
	DocSuffix    string   `toml:"doc_suffix"`
	StateDir     string   `toml:"state_dir"`
	SourceRoots  []string `toml:"source_roots"` // doublestar patterns of import-root directories
	Exclude      []string `toml:"exclude"`      // doublestar patterns of workspace paths to skip
	ScaffoldInit *bool    `toml:"scaffold_init"`
	Parallel     *bool    `toml:"parallel"`
	Workers      int      `toml:"workers"` // 0 = NumCPU
}

// Default returns a Config with every field populated.
func Default() *Config {
	t := true
	p := true
	return &Config{
		Scheme:       DefaultScheme,
		LockFile:     DefaultLockFile,
		DocSuffix:    DefaultDocSuffix,
		StateDir:     DefaultStateDir,
		ScaffoldInit: &t,
		Parallel:     &p,
	}
}

// ShouldScaffold reports whether missing package init files are created on moves.
func (c *Config) ShouldScaffold() bool {
	return c.ScaffoldInit == nil || *c.ScaffoldInit
}

// UseParallel reports whether indexing parses files concurrently.
func (c *Config) UseParallel() bool {
	return c.Parallel == nil || *c.Parallel
}

type pyproject struct {
	Tool struct {
		Stitcher *Config `toml:"stitcher"`
	} `toml:"tool"`
}

// Load reads configuration for the workspace at root. stitcher.toml wins
// over pyproject.toml; when neither exists the defaults are returned.
func Load(root string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(root, "stitcher.toml"))
	switch {
	case err == nil:
		var fc Config
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("config: parse stitcher.toml: %w", err)
		}
		cfg.merge(&fc)
	case errors.Is(err, os.ErrNotExist):
		data, err = os.ReadFile(filepath.Join(root, "pyproject.toml"))
		if err == nil {
			var pp pyproject
			if err := toml.Unmarshal(data, &pp); err != nil {
				return nil, fmt.Errorf("config: parse pyproject.toml: %w", err)
			}
			if pp.Tool.Stitcher != nil {
				cfg.merge(pp.Tool.Stitcher)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read pyproject.toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: read stitcher.toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays the non-zero fields of o onto c.
func (c *Config) merge(o *Config) {
	if o.Scheme != "" {
		c.Scheme = o.Scheme
	}
	if o.LockFile != "" {
		c.LockFile = o.LockFile
	}
	if o.DocSuffix != "" {
		c.DocSuffix = o.DocSuffix
	}
	if o.StateDir != "" {
		c.StateDir = o.StateDir
	}
	if len(o.SourceRoots) > 0 {
		c.SourceRoots = o.SourceRoots
	}
	if len(o.Exclude) > 0 {
		c.Exclude = o.Exclude
	}
	if o.ScaffoldInit != nil {
		c.ScaffoldInit = o.ScaffoldInit
	}
	if o.Parallel != nil {
		c.Parallel = o.Parallel
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
}

// Validate checks that required values are present and glob patterns compile.
func (c *Config) Validate() error {
	if c.Scheme == "" {
		return errors.New("config: scheme must not be empty")
	}
	for _, r := range c.Scheme {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return fmt.Errorf("config: scheme %q must be alphabetic", c.Scheme)
		}
	}
	if c.LockFile == "" {
		return errors.New("config: lock_file must not be empty")
	}
	if c.DocSuffix == "" {
		return errors.New("config: doc_suffix must not be empty")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	for _, p := range append(append([]string{}, c.SourceRoots...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("config: invalid glob pattern %q", p)
		}
	}
	return nil
}

// Excluded reports whether the workspace-relative path matches an exclude pattern.
func (c *Config) Excluded(rel string) bool {
	for _, p := range c.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// IsSourceRoot reports whether the workspace-relative directory matches a
// configured source root pattern.
func (c *Config) IsSourceRoot(dir string) bool {
	for _, p := range c.SourceRoots {
		if ok, _ := doublestar.Match(p, dir); ok {
			return true
		}
	}
	return false
}
