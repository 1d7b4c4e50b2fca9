package main

import (
	"encoding/json"
	"fmt"

	"github.com/jward/stitcher"
	"github.com/spf13/cobra"
)

// --- Query Commands ---
//
// Every query refreshes the index first, so results never lag the tree.

func (c *cli) addQueryCommands(root *cobra.Command) {
	paged := []*cobra.Command{c.symbolsCmd(), c.filesCmd(), c.unusedCmd()}
	for _, cmd := range paged {
		cmd.Flags().IntVar(&c.limit, "limit", 50, "pagination limit (max 500)")
		cmd.Flags().IntVar(&c.offset, "offset", 0, "pagination offset")
		cmd.Flags().StringVar(&c.sort, "sort", "", "sort field: name|kind|file|fqn|ref_count")
		cmd.Flags().StringVar(&c.order, "order", "asc", "sort order: asc|desc")
		root.AddCommand(cmd)
	}
	root.AddCommand(c.usagesCmd(), c.definitionCmd(), c.depsCmd(), c.summaryCmd())
}

func (c *cli) usagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usages <fqn>",
		Short: "List every reference to a symbol or anything beneath it",
		Long:  "Lists references whose target resolves to the FQN, following re-exports. Lines are 1-based, columns 0-based.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "usages", err)
			}
			defer engine.Close()

			usages, err := engine.Graph().FindUsages(args[0])
			if err != nil {
				return c.outputError(cmd, "usages", err)
			}
			count := len(usages)
			return c.outputResult(cmd, CLIResult{Command: "usages", Results: usages, TotalCount: &count})
		},
	}
}

func (c *cli) definitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "definition <fqn>",
		Short: "Show where a name is declared, following aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "definition", err)
			}
			defer engine.Close()

			loc, err := engine.Graph().Definition(args[0])
			if err != nil {
				return c.outputError(cmd, "definition", err)
			}
			if loc == nil {
				return c.outputError(cmd, "definition", fmt.Errorf("no definition found for %s", args[0]))
			}
			return c.outputResult(cmd, CLIResult{Command: "definition", Results: locationToCLI(*loc)})
		},
	}
}

func (c *cli) symbolsCmd() *cobra.Command {
	var kinds []string
	var pathPrefix, fqnPrefix string
	cmd := &cobra.Command{
		Use:   "symbols [pattern]",
		Short: "List or search symbols",
		Long:  "Lists symbols with optional filters. With a pattern, matches FQNs by glob where each dotted segment is a path element (e.g. 'shop.*.Order', 'shop.**').",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "symbols", err)
			}
			defer engine.Close()

			filter := stitcher.SymbolFilter{Kinds: kinds, FQNPrefix: fqnPrefix}
			if pathPrefix != "" {
				filter.PathPrefix = &pathPrefix
			}
			var result *stitcher.PagedResult[stitcher.SymbolResult]
			if len(args) == 1 {
				result, err = engine.Graph().SearchSymbols(args[0], filter, c.buildSort(), c.buildPagination())
			} else {
				result, err = engine.Graph().Symbols(filter, c.buildSort(), c.buildPagination())
			}
			if err != nil {
				return c.outputError(cmd, "symbols", err)
			}
			return c.outputResult(cmd, CLIResult{
				Command:    "symbols",
				Results:    symbolResultsToCLI(result.Items),
				TotalCount: &result.TotalCount,
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by kind: module|class|function|attribute|alias|doc_fragment")
	cmd.Flags().StringVar(&pathPrefix, "path-prefix", "", "filter by file path prefix")
	cmd.Flags().StringVar(&fqnPrefix, "fqn-prefix", "", "restrict to an FQN and everything beneath it")
	return cmd
}

func (c *cli) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files [path-prefix]",
		Short: "List indexed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "files", err)
			}
			defer engine.Close()

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			result, err := engine.Graph().Files(prefix, c.buildSort(), c.buildPagination())
			if err != nil {
				return c.outputError(cmd, "files", err)
			}
			files := make([]CLIFile, len(result.Items))
			for i, f := range result.Items {
				files[i] = CLIFile{ID: f.ID, Path: f.Path, Hash: f.ContentHash, Status: f.IndexingStatus}
			}
			return c.outputResult(cmd, CLIResult{Command: "files", Results: files, TotalCount: &result.TotalCount})
		},
	}
}

func (c *cli) unusedCmd() *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "unused",
		Short: "List declarations nothing references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "unused", err)
			}
			defer engine.Close()

			result, err := engine.Graph().UnusedSymbols(stitcher.SymbolFilter{Kinds: kinds}, c.buildSort(), c.buildPagination())
			if err != nil {
				return c.outputError(cmd, "unused", err)
			}
			return c.outputResult(cmd, CLIResult{
				Command:    "unused",
				Results:    symbolResultsToCLI(result.Items),
				TotalCount: &result.TotalCount,
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "filter by kind")
	return cmd
}

func (c *cli) depsCmd() *cobra.Command {
	var cycles, packages bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Show the import dependency graph",
		Long:  "Shows file-level import edges, or package-level edges with --packages. With --cycles, reports import cycles instead.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "deps", err)
			}
			defer engine.Close()
			g := engine.Graph()

			if cycles {
				var found [][]string
				if packages {
					found, err = g.PackageCycles()
				} else {
					found, err = g.Cycles()
				}
				if err != nil {
					return c.outputError(cmd, "deps", err)
				}
				out := make([]CLICycle, len(found))
				for i, cyc := range found {
					out[i] = CLICycle{Nodes: cyc}
				}
				count := len(out)
				return c.outputResult(cmd, CLIResult{Command: "deps", Results: out, TotalCount: &count})
			}

			if packages {
				pg, err := g.PackageDependencyGraph()
				if err != nil {
					return c.outputError(cmd, "deps", err)
				}
				return c.outputResult(cmd, CLIResult{Command: "deps", Results: *pg})
			}
			dg, err := g.DependencyGraph()
			if err != nil {
				return c.outputError(cmd, "deps", err)
			}
			return c.outputResult(cmd, CLIResult{Command: "deps", Results: *dg})
		},
	}
	cmd.Flags().BoolVar(&cycles, "cycles", false, "report import cycles")
	cmd.Flags().BoolVar(&packages, "packages", false, "aggregate by package root")
	return cmd
}

func (c *cli) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show index totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.openIndexed(cmd)
			if err != nil {
				return c.outputError(cmd, "summary", err)
			}
			defer engine.Close()

			summary, err := engine.Graph().Summary()
			if err != nil {
				return c.outputError(cmd, "summary", err)
			}
			return c.outputResult(cmd, CLIResult{Command: "summary", Results: *summary})
		},
	}
}

// --- Helpers ---

// outputResult writes a CLIResult to the command's stdout in the selected
// format.
func (c *cli) outputResult(cmd *cobra.Command, result CLIResult) error {
	if c.format == "text" {
		return outputResultText(cmd.OutOrStdout(), result)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func (c *cli) outputError(cmd *cobra.Command, command string, err error) error {
	c.errorHandled = true
	if c.format == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func (c *cli) buildPagination() stitcher.Pagination {
	return stitcher.Pagination{Limit: c.limit, Offset: c.offset}
}

func (c *cli) buildSort() stitcher.Sort {
	var field stitcher.SortField
	switch c.sort {
	case "name":
		field = stitcher.SortByName
	case "kind":
		field = stitcher.SortByKind
	case "file":
		field = stitcher.SortByFile
	case "ref_count":
		field = stitcher.SortByRefCount
	default:
		field = stitcher.SortByFQN
	}
	order := stitcher.Asc
	if c.order == "desc" {
		order = stitcher.Desc
	}
	return stitcher.Sort{Field: field, Order: order}
}

func symbolResultsToCLI(items []stitcher.SymbolResult) []CLISymbol {
	out := make([]CLISymbol, len(items))
	for i, sr := range items {
		out[i] = CLISymbol{
			ID:               sr.ID,
			Name:             sr.Name,
			Kind:             sr.Kind,
			FQN:              sr.CanonicalFQN,
			AliasTarget:      sr.AliasTargetFQN,
			File:             sr.FilePath,
			StartLine:        sr.Lineno,
			StartCol:         sr.ColOffset,
			EndLine:          sr.EndLineno,
			EndCol:           sr.EndColOffset,
			RefCount:         sr.RefCount,
			ExternalRefCount: sr.ExternalRefCount,
			InternalRefCount: sr.InternalRefCount,
		}
	}
	return out
}

func locationToCLI(loc stitcher.Location) CLILocation {
	return CLILocation{
		File:      loc.File,
		StartLine: loc.StartLine,
		StartCol:  loc.StartCol,
		EndLine:   loc.EndLine,
		EndCol:    loc.EndCol,
	}
}
