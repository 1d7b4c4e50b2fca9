// Package refactor turns logical refactor operations into an ordered list of
// file operations: source rewrites merged per file, sidecar and lock updates,
// moves and directory deletes.
package refactor

import (
	"encoding/json"
	"fmt"
)

// OpKind tags an Operation variant.
type OpKind string

const (
	OpRenameSymbol    OpKind = "rename_symbol"
	OpMoveFile        OpKind = "move_file"
	OpMoveDirectory   OpKind = "move_dir"
	OpRenameNamespace OpKind = "rename_namespace"
)

// Operation is one logical refactor step. From and To hold FQNs for
// renames and workspace paths for moves.
type Operation struct {
	Kind OpKind `json:"op"`
	From string `json:"from"`
	To   string `json:"to"`
}

func RenameSymbol(oldFQN, newFQN string) Operation {
	return Operation{Kind: OpRenameSymbol, From: oldFQN, To: newFQN}
}

func MoveFile(src, dest string) Operation {
	return Operation{Kind: OpMoveFile, From: src, To: dest}
}

func MoveDirectory(srcDir, destDir string) Operation {
	return Operation{Kind: OpMoveDirectory, From: srcDir, To: destDir}
}

func RenameNamespace(oldPrefix, newPrefix string) Operation {
	return Operation{Kind: OpRenameNamespace, From: oldPrefix, To: newPrefix}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s, %s)", o.Kind, o.From, o.To)
}

// Validate checks the shape of the operation, not whether its targets exist.
func (o Operation) Validate() error {
	switch o.Kind {
	case OpRenameSymbol, OpRenameNamespace:
		if !validFQN(o.From) || !validFQN(o.To) {
			return &InvalidArgumentError{Op: o, Reason: "names must be dotted identifiers"}
		}
	case OpMoveFile, OpMoveDirectory:
		if o.From == "" || o.To == "" {
			return &InvalidArgumentError{Op: o, Reason: "source and destination are required"}
		}
	default:
		return &InvalidArgumentError{Op: o, Reason: "unknown operation"}
	}
	return nil
}

// MigrationSpec is an ordered list of operations planned as one unit.
type MigrationSpec []Operation

// ParseSpec decodes a JSON array of operations.
func ParseSpec(data []byte) (MigrationSpec, error) {
	var spec MigrationSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse migration spec: %w", err)
	}
	for _, op := range spec {
		if err := op.Validate(); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func validFQN(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range splitFQN(s) {
		if !isIdent(seg) {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r > 0x7f:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
