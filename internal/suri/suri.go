// Package suri implements Symbol URIs: globally unique identifiers of the
// form <scheme>://<path>#<fragment>, e.g. py://pkg/mod.py#Class.method.
package suri

import (
	"fmt"
	"strings"
)

// SURI is a parsed symbol URI. An empty Fragment denotes the module itself.
type SURI struct {
	Scheme   string
	Path     string
	Fragment string
}

// String formats the SURI in its canonical wire form.
func (s SURI) String() string {
	return s.Scheme + "://" + s.Path + "#" + s.Fragment
}

// Parse splits a SURI string into its parts. The scheme must be alphabetic
// and the "#" separator is mandatory, even when the fragment is empty.
func Parse(raw string) (SURI, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return SURI{}, fmt.Errorf("suri: missing scheme separator in %q", raw)
	}
	if scheme == "" {
		return SURI{}, fmt.Errorf("suri: empty scheme in %q", raw)
	}
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return SURI{}, fmt.Errorf("suri: non-alphabetic scheme %q", scheme)
		}
	}
	idx := strings.LastIndex(rest, "#")
	if idx < 0 {
		return SURI{}, fmt.Errorf("suri: missing fragment separator in %q", raw)
	}
	return SURI{Scheme: scheme, Path: rest[:idx], Fragment: rest[idx+1:]}, nil
}

// Generator mints SURIs for a single scheme.
type Generator struct {
	Scheme string
}

// NewGenerator returns a Generator for scheme.
func NewGenerator(scheme string) *Generator {
	return &Generator{Scheme: scheme}
}

// ForSymbol returns the SURI of the declaration at fragment inside path.
func (g *Generator) ForSymbol(path, fragment string) string {
	return SURI{Scheme: g.Scheme, Path: path, Fragment: fragment}.String()
}

// ForModule returns the SURI of the module defined by path.
func (g *Generator) ForModule(path string) string {
	return g.ForSymbol(path, "")
}

// WithPath returns raw with its path replaced. Unparseable input is
// returned unchanged.
func WithPath(raw, path string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	s.Path = path
	return s.String()
}

// RebaseFragment rewrites the fragment of raw when it equals oldFrag or
// lies under it (oldFrag + "."). It reports whether a rewrite happened.
func RebaseFragment(raw, oldFrag, newFrag string) (string, bool) {
	s, err := Parse(raw)
	if err != nil {
		return raw, false
	}
	switch {
	case s.Fragment == oldFrag:
		s.Fragment = newFrag
	case oldFrag != "" && strings.HasPrefix(s.Fragment, oldFrag+"."):
		s.Fragment = newFrag + strings.TrimPrefix(s.Fragment, oldFrag)
	default:
		return raw, false
	}
	return s.String(), true
}
