// Package lang defines the language adapter contract and its registry.
// An adapter turns one file's bytes into symbols and late-bound references.
package lang

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/jward/stitcher/internal/store"
)

// ErrDecode reports content that is not valid UTF-8.
var ErrDecode = errors.New("content is not valid UTF-8")

// Result is an adapter's output for one file.
type Result struct {
	Symbols    []store.Symbol
	References []store.Reference
}

// Adapter extracts symbols and references from a file. Parse must be
// deterministic and safe for concurrent use.
type Adapter interface {
	Name() string
	// Version changes whenever extraction output would change for the same input.
	Version() string
	Handles(path string) bool
	Parse(ctx context.Context, path string, content []byte) (*Result, error)
}

// Layout maps workspace paths onto module names.
type Layout interface {
	ModuleFQN(rel string) string
}

// ParseError wraps an adapter failure for a single file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Registry dispatches files to the first adapter that handles them.
type Registry struct {
	adapters []Adapter
}

// NewRegistry returns a registry over adapters, consulted in order.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Register appends an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// For returns the adapter handling path, or nil.
func (r *Registry) For(path string) Adapter {
	for _, a := range r.adapters {
		if a.Handles(path) {
			return a
		}
	}
	return nil
}

// Adapters returns the registered adapters.
func (r *Registry) Adapters() []Adapter {
	return r.adapters
}

// Hash fingerprints the registered adapter names and versions. A change
// means previously indexed output is stale.
func (r *Registry) Hash() string {
	ids := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		ids[i] = a.Name() + "@" + a.Version()
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		fmt.Fprintln(h, id)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
