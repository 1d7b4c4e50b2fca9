package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jward/stitcher"
	"github.com/jward/stitcher/internal/workspace"
	"github.com/spf13/cobra"
)

// --- Refactor Commands ---
//
// Each command plans against a fresh index and commits one transaction.
// With --dry-run the planned operations are printed and nothing changes.

func (c *cli) addRefactorCommands(root *cobra.Command) {
	cmds := []*cobra.Command{
		c.refactorCmd("rename <old-fqn> <new-fqn>", "Rename a symbol and every reference to it",
			func(_ *stitcher.Engine, args []string) (stitcher.Operation, error) {
				return stitcher.RenameSymbol(args[0], args[1]), nil
			}),
		c.refactorCmd("move <src> <dest>", "Move a Python file and rewrite its importers",
			func(e *stitcher.Engine, args []string) (stitcher.Operation, error) {
				src, dest, err := workspacePaths(e, args)
				return stitcher.MoveFile(src, dest), err
			}),
		c.refactorCmd("move-dir <src> <dest>", "Move a directory and rewrite its importers",
			func(e *stitcher.Engine, args []string) (stitcher.Operation, error) {
				src, dest, err := workspacePaths(e, args)
				return stitcher.MoveDirectory(src, dest), err
			}),
		c.refactorCmd("rename-ns <old-prefix> <new-prefix>", "Rename every FQN under a namespace prefix",
			func(_ *stitcher.Engine, args []string) (stitcher.Operation, error) {
				return stitcher.RenameNamespace(args[0], args[1]), nil
			}),
		c.applyCmd(),
		c.migrateCmd(),
		c.lockCmd(),
	}
	root.AddCommand(cmds...)
}

type buildOp func(e *stitcher.Engine, args []string) (stitcher.Operation, error)

func (c *cli) refactorCmd(use, short string, build buildOp) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openEngine(cmd)
			if err != nil {
				return c.outputError(cmd, cmd.Name(), err)
			}
			defer engine.Close()

			op, err := build(engine, args)
			if err != nil {
				return c.outputError(cmd, cmd.Name(), err)
			}
			res, err := engine.Apply(cmd.Context(), stitcher.MigrationSpec{op}, dryRun)
			if err != nil {
				return c.outputError(cmd, cmd.Name(), err)
			}
			return c.outputApply(cmd, cmd.Name(), res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned operations without touching files")
	return cmd
}

func (c *cli) applyCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "apply <spec.json>",
		Short: "Apply a JSON list of refactor operations as one transaction",
		Long: `Reads a JSON array of operations, for example:

  [{"op": "rename_symbol", "from": "pkg.Old", "to": "pkg.New"},
   {"op": "move_file", "from": "pkg/a.py", "to": "pkg/b.py"}]

All operations are planned against the same index and merged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return c.outputError(cmd, "apply", err)
			}
			spec, err := stitcher.ParseSpec(data)
			if err != nil {
				return c.outputError(cmd, "apply", err)
			}
			engine, err := c.openEngine(cmd)
			if err != nil {
				return c.outputError(cmd, "apply", err)
			}
			defer engine.Close()

			res, err := engine.Apply(cmd.Context(), spec, dryRun)
			if err != nil {
				return c.outputError(cmd, "apply", err)
			}
			return c.outputApply(cmd, "apply", res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned operations without touching files")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate <script.risor>",
		Short: "Run a Risor migration script and apply the operations it emits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := filepath.Abs(args[0])
			if err != nil {
				return c.outputError(cmd, "migrate", err)
			}
			engine, err := c.openEngine(cmd)
			if err != nil {
				return c.outputError(cmd, "migrate", err)
			}
			defer engine.Close()

			res, err := engine.RunMigration(cmd.Context(), script, dryRun)
			if err != nil {
				return c.outputError(cmd, "migrate", err)
			}
			return c.outputApply(cmd, "migrate", res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned operations without touching files")
	return cmd
}

func (c *cli) lockCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Record the current fingerprint of every symbol in the lock files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openEngine(cmd)
			if err != nil {
				return c.outputError(cmd, "lock", err)
			}
			defer engine.Close()

			res, err := engine.RecordBaselines(cmd.Context(), dryRun)
			if err != nil {
				return c.outputError(cmd, "lock", err)
			}
			return c.outputApply(cmd, "lock", res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned lock writes without touching files")
	return cmd
}

func (c *cli) outputApply(cmd *cobra.Command, command string, res *stitcher.ApplyResult) error {
	out := CLIApply{TxID: res.TxID, DryRun: res.DryRun, Ops: make([]CLIOp, len(res.Ops))}
	for i, op := range res.Ops {
		out.Ops[i] = CLIOp{Kind: string(op.Kind), Path: op.Path, Dest: op.Dest, Content: op.Content}
	}
	if res.Index != nil {
		out.Indexed = &CLIStat{
			Added:   res.Index.Added,
			Updated: res.Index.Updated,
			Deleted: res.Index.Deleted,
			Errors:  res.Index.Errors,
		}
	}
	count := len(out.Ops)
	return c.outputResult(cmd, CLIResult{Command: command, Results: out, TotalCount: &count})
}

// workspacePaths converts two path arguments to workspace paths. Relative
// arguments are taken as already relative to the workspace root.
func workspacePaths(e *stitcher.Engine, args []string) (string, string, error) {
	out := make([]string, 2)
	for i, p := range args[:2] {
		if !filepath.IsAbs(p) {
			out[i] = workspace.Normalize(p)
			continue
		}
		rel, err := e.Workspace().Rel(p)
		if err != nil {
			return "", "", fmt.Errorf("path %s: %w", p, err)
		}
		out[i] = rel
	}
	return out[0], out[1], nil
}
