package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/jward/stitcher"
)

// formatUsagesText formats usages as "file:line:col kind target" lines.
func formatUsagesText(w io.Writer, usages []stitcher.UsageLocation) {
	for _, u := range usages {
		fmt.Fprintf(w, "%s:%d:%d\t%s\t%s\n", u.FilePath, u.Lineno, u.ColOffset, u.RefType, u.TargetFQN)
	}
}

// formatSymbolsText formats CLISymbol results as aligned columns.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FQN\tKIND\tFILE\tLINE\tREFS")
	for _, s := range syms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.FQN, s.Kind, s.File, s.StartLine, s.RefCount)
	}
	tw.Flush()
}

// formatFilesText formats CLIFile results as aligned columns.
func formatFilesText(w io.Writer, files []CLIFile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tSTATUS")
	for _, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ID, f.Path, f.Status)
	}
	tw.Flush()
}

func formatDependencyGraphText(w io.Writer, g stitcher.DependencyGraph) {
	for _, e := range g.Edges {
		fmt.Fprintf(w, "%s -> %s\n", e.From, e.To)
		for _, r := range e.Reasons {
			fmt.Fprintf(w, "  %d: %s\n", r.Lineno, r.FQN)
		}
	}
}

func formatPackageGraphText(w io.Writer, g stitcher.PackageGraph) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tFILES")
	for _, p := range g.Packages {
		fmt.Fprintf(tw, "%s\t%d\n", p.Name, p.FileCount)
	}
	tw.Flush()
	if len(g.Edges) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range g.Edges {
		fmt.Fprintf(w, "%s -> %s (%d)\n", e.FromPackage, e.ToPackage, e.ImportCount)
	}
}

func formatCyclesText(w io.Writer, cycles []CLICycle) {
	for _, c := range cycles {
		fmt.Fprintln(w, strings.Join(c.Nodes, " -> "))
	}
}

// formatSummaryText formats a Summary as readable text.
func formatSummaryText(w io.Writer, s stitcher.Summary) {
	fmt.Fprintln(w, "Index Summary")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Files:      %d\n", s.Files)
	fmt.Fprintf(w, "Symbols:    %d\n", s.Symbols)
	fmt.Fprintf(w, "References: %d (%d unresolved)\n", s.References, s.Unresolved)

	if len(s.SymbolsByKind) > 0 {
		fmt.Fprintln(w)
		kinds := make([]string, 0, len(s.SymbolsByKind))
		for k := range s.SymbolsByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", k, s.SymbolsByKind[k])
		}
	}
}

func formatIndexStatsText(w io.Writer, st stitcher.IndexStats) {
	fmt.Fprintf(w, "added %d, updated %d, deleted %d, skipped %d, errors %d\n",
		st.Added, st.Updated, st.Deleted, st.Skipped, st.Errors)
	for _, d := range st.ErrorDetails {
		fmt.Fprintf(w, "  %s\n", d)
	}
	if st.Links.Unresolved > 0 {
		fmt.Fprintf(w, "%d references unresolved\n", st.Links.Unresolved)
	}
}

// formatApplyText lists a transaction's operations. Write contents are
// omitted; use --format json to see them.
func formatApplyText(w io.Writer, a CLIApply) {
	verb := "committed"
	if a.DryRun {
		verb = "planned"
	}
	fmt.Fprintf(w, "transaction %s (%s)\n", a.TxID, verb)
	for _, op := range a.Ops {
		switch op.Kind {
		case "write":
			fmt.Fprintf(w, "  write %s (%d bytes)\n", op.Path, len(op.Content))
		case "move":
			fmt.Fprintf(w, "  move %s -> %s\n", op.Path, op.Dest)
		default:
			fmt.Fprintf(w, "  %s %s\n", op.Kind, op.Path)
		}
	}
	if len(a.Ops) == 0 {
		fmt.Fprintln(w, "  nothing to do")
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []stitcher.UsageLocation:
		formatUsagesText(w, v)
	case CLILocation:
		fmt.Fprintf(w, "%s:%d:%d\n", v.File, v.StartLine, v.StartCol)
	case []CLISymbol:
		formatSymbolsText(w, v)
	case []CLIFile:
		formatFilesText(w, v)
	case stitcher.DependencyGraph:
		formatDependencyGraphText(w, v)
	case stitcher.PackageGraph:
		formatPackageGraphText(w, v)
	case []CLICycle:
		formatCyclesText(w, v)
	case stitcher.Summary:
		formatSummaryText(w, v)
	case stitcher.IndexStats:
		formatIndexStatsText(w, v)
	case CLIApply:
		formatApplyText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []stitcher.UsageLocation:
		return len(r)
	case []CLISymbol:
		return len(r)
	case []CLIFile:
		return len(r)
	case []CLICycle:
		return len(r)
	case CLIApply:
		return len(r.Ops)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
