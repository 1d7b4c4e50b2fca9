// Package stitcher is an incremental code-intelligence and refactor engine
// for Python workspaces. It indexes declarations, imports and usages into
// SQLite, keeps per-file documentation sidecars and per-package lock files
// addressed by stable SURIs, and plans cross-file refactors as ordered file
// operations that commit atomically.
//
// # Pipeline
//
//  1. Index: [Engine.IndexWorkspace] discovers files, skips the unchanged
//     ones by mtime/size and content hash, extracts the rest with tree-sitter
//     adapters, and links references to their definitions through alias
//     chains.
//
//  2. Plan: [Engine.Plan] turns a [MigrationSpec] (rename_symbol, move_file,
//     move_dir, rename_namespace) into [FileOp]s. Code, doc sidecars and lock
//     files are planned together, and edits to the same file are merged.
//
//  3. Apply: [Engine.Apply] commits the operations and re-indexes.
//
// # Usage
//
//	e, err := stitcher.New("path/to/workspace")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	res, err := e.Apply(ctx, stitcher.MigrationSpec{
//		stitcher.RenameSymbol("pkg.core.Old", "pkg.core.New"),
//	}, false)
//
// Migration scripts written in Risor build the same spec programmatically;
// see [Engine.RunMigration].
//
// # Queries
//
// [Engine.Graph] returns a read façade: usages of an FQN, package members,
// symbol discovery with pagination, file and package dependency graphs,
// import cycles, and unused declarations.
package stitcher
