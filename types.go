package stitcher

import (
	"github.com/jward/stitcher/internal/refactor"
	"github.com/jward/stitcher/internal/store"
	"github.com/jward/stitcher/internal/transaction"
)

// Public aliases for internal types used in the Engine and Graph API.

type Store = store.Store
type Symbol = store.Symbol
type File = store.File
type Reference = store.Reference

type FileOp = transaction.FileOp
type Operation = refactor.Operation
type MigrationSpec = refactor.MigrationSpec

// Operation constructors, re-exported for callers building a spec in Go.
var (
	RenameSymbol    = refactor.RenameSymbol
	MoveFile        = refactor.MoveFile
	MoveDirectory   = refactor.MoveDirectory
	RenameNamespace = refactor.RenameNamespace

	// ParseSpec decodes a JSON array of operations.
	ParseSpec = refactor.ParseSpec
)
