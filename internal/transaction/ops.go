// Package transaction buffers filesystem effects, rebases their paths
// across moves, and previews or commits them.
package transaction

import "fmt"

// Kind tags a FileOp variant.
type Kind string

const (
	KindWrite           Kind = "write"
	KindMove            Kind = "move"
	KindDelete          Kind = "delete"
	KindDeleteDirectory Kind = "delete_dir"
)

// FileOp is one primitive filesystem effect. Dest is set for moves and
// Content for writes. Paths are workspace-relative.
type FileOp struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`
	Dest    string `json:"dest,omitempty"`
	Content string `json:"content,omitempty"`
}

func WriteFileOp(path, content string) FileOp {
	return FileOp{Kind: KindWrite, Path: path, Content: content}
}

func MoveFileOp(path, dest string) FileOp {
	return FileOp{Kind: KindMove, Path: path, Dest: dest}
}

func DeleteFileOp(path string) FileOp {
	return FileOp{Kind: KindDelete, Path: path}
}

func DeleteDirectoryOp(path string) FileOp {
	return FileOp{Kind: KindDeleteDirectory, Path: path}
}

func (op FileOp) String() string {
	switch op.Kind {
	case KindWrite:
		return fmt.Sprintf("write %s (%d bytes)", op.Path, len(op.Content))
	case KindMove:
		return fmt.Sprintf("move %s -> %s", op.Path, op.Dest)
	case KindDelete:
		return "delete " + op.Path
	case KindDeleteDirectory:
		return "delete dir " + op.Path
	}
	return fmt.Sprintf("%s %s", op.Kind, op.Path)
}

// Sink accepts file ops. A Manager is a Sink.
type Sink interface {
	Add(op FileOp)
}

// Rebase rewrites op paths so that every op addressing a logical path that
// an earlier op moved lands on the physical destination. Chains such as
// A->B then B->C resolve A to C. The input is not modified.
func Rebase(ops []FileOp) []FileOp {
	pathMap := make(map[string]string)
	out := make([]FileOp, 0, len(ops))
	for _, op := range ops {
		if p, ok := pathMap[op.Path]; ok {
			op.Path = p
		}
		if op.Kind == KindMove {
			src := op.Path
			for k, v := range pathMap {
				if v == src {
					pathMap[k] = op.Dest
				}
			}
			pathMap[src] = op.Dest
		}
		out = append(out, op)
	}
	return out
}

// OpList is a Sink that collects ops in order.
type OpList []FileOp

func (l *OpList) Add(op FileOp) {
	*l = append(*l, op)
}
