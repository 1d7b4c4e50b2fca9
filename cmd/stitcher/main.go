package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jward/stitcher"
	"github.com/jward/stitcher/internal/config"
	"github.com/spf13/cobra"
)

// cli holds the flag values shared by every command.
type cli struct {
	root    string
	db      string
	format  string
	verbose bool

	limit  int
	offset int
	sort   string
	order  string

	// errorHandled is set by outputError so main() doesn't double-print.
	errorHandled bool
}

func main() {
	c := &cli{}
	if err := c.command().Execute(); err != nil {
		if !c.errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "stitcher",
		Short:         "Incremental code intelligence and refactoring for Python workspaces",
		Long:          "Stitcher indexes a Python workspace and its documentation sidecars into SQLite, answers usage and dependency queries, and applies rename and move refactors as one transaction.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(c.format)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.root, "root", "", "workspace root (default: nearest ancestor with stitcher.toml or .git)")
	pf.StringVar(&c.db, "db", "", "database path (default: .stitcher/index.db under the workspace root)")
	pf.StringVar(&c.format, "format", "json", "output format: json|text")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log progress to stderr")

	root.AddCommand(c.indexCmd())
	c.addQueryCommands(root)
	c.addRefactorCommands(root)
	return root
}

func (c *cli) indexCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the workspace",
		Long:  "Scans the workspace and re-parses every file whose content changed since the last run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runIndex(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete the database and reindex from scratch")
	return cmd
}

func (c *cli) runIndex(cmd *cobra.Command, force bool) error {
	start := time.Now()

	if force {
		root, err := c.resolveRoot()
		if err != nil {
			return c.outputError(cmd, "index", err)
		}
		dbPath := c.resolveDBPath(root)
		if dbPath == "" {
			cfg, err := config.Load(root)
			if err != nil {
				return c.outputError(cmd, "index", err)
			}
			dbPath = filepath.Join(root, cfg.StateDir, "index.db")
		}
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return c.outputError(cmd, "index", fmt.Errorf("removing database for --force: %w", err))
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Cleared database: %s\n", dbPath)
	}

	engine, err := c.openEngine(cmd)
	if err != nil {
		return c.outputError(cmd, "index", err)
	}
	defer engine.Close()

	stats, err := engine.IndexWorkspace(cmd.Context())
	if err != nil {
		return c.outputError(cmd, "index", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Indexed %s in %s\n",
		engine.Workspace().Root, time.Since(start).Round(time.Millisecond))
	return c.outputResult(cmd, CLIResult{Command: "index", Results: *stats})
}

// openEngine opens the Engine for the selected workspace. The index is not
// refreshed; callers decide when to index.
func (c *cli) openEngine(cmd *cobra.Command) (*stitcher.Engine, error) {
	root, err := c.resolveRoot()
	if err != nil {
		return nil, err
	}
	opts := []stitcher.Option{stitcher.WithLogger(c.logger(cmd.ErrOrStderr()))}
	if dbPath := c.resolveDBPath(root); dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
		}
		opts = append(opts, stitcher.WithDBPath(dbPath))
	}
	return stitcher.New(root, opts...)
}

// openIndexed opens the Engine and brings the index up to date.
func (c *cli) openIndexed(cmd *cobra.Command) (*stitcher.Engine, error) {
	engine, err := c.openEngine(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := engine.IndexWorkspace(cmd.Context()); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func (c *cli) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// resolveRoot returns the absolute workspace root from --root, or the
// nearest enclosing workspace of the current directory.
func (c *cli) resolveRoot() (string, error) {
	if c.root != "" {
		abs, err := filepath.Abs(c.root)
		if err != nil {
			return "", fmt.Errorf("resolving path %q: %w", c.root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("directory not found: %s", abs)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("not a directory: %s", abs)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	return findRepoRoot(cwd), nil
}

// findRepoRoot walks up from startDir looking for a stitcher.toml file or
// a .git directory. Returns startDir if neither is found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, "stitcher.toml")); err == nil && !info.IsDir() {
			return dir
		}
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, relative
// paths taken from the workspace root. Empty means the Engine default.
func (c *cli) resolveDBPath(root string) string {
	if c.db == "" {
		return ""
	}
	if filepath.IsAbs(c.db) {
		return c.db
	}
	return filepath.Join(root, c.db)
}
