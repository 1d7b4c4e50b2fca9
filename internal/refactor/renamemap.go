package refactor

import (
	"sort"
	"strings"
)

// RenameMap is the merged set of FQN renames of a migration. Setting the
// same old FQN twice keeps the later value.
type RenameMap struct {
	entries map[string]string
}

func NewRenameMap() *RenameMap {
	return &RenameMap{entries: make(map[string]string)}
}

func (m *RenameMap) Set(oldFQN, newFQN string) {
	m.entries[oldFQN] = newFQN
}

func (m *RenameMap) Get(oldFQN string) (string, bool) {
	v, ok := m.entries[oldFQN]
	return v, ok
}

func (m *RenameMap) Len() int { return len(m.entries) }

// Keys returns the old FQNs in sorted order.
func (m *RenameMap) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply maps fqn through every entry that equals it or is a dotted prefix
// of it. Entries apply deepest first, each replacing only the segments its
// old and new names disagree on, so a class rename and a move of its
// module compose: with a.core.Old -> a.core.New and a.core -> a.lib,
// a.core.Old.run becomes a.lib.New.run.
func (m *RenameMap) Apply(fqn string) (string, bool) {
	var keys []string
	for k := range m.entries {
		if k == fqn || strings.HasPrefix(fqn, k+".") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return fqn, false
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	segs := splitFQN(fqn)
	for _, k := range keys {
		old, nw := splitFQN(k), splitFQN(m.entries[k])
		pre, suf := commonAffixes(old, nw)
		if !hasSegs(segs, pre, old[pre:len(old)-suf]) {
			// a deeper entry already rewrote this span
			continue
		}
		rest := append([]string(nil), segs[len(old)-suf:]...)
		segs = append(append(segs[:pre:pre], nw[pre:len(nw)-suf]...), rest...)
	}
	out := strings.Join(segs, ".")
	return out, out != fqn
}

func splitFQN(fqn string) []string {
	if fqn == "" {
		return nil
	}
	return strings.Split(fqn, ".")
}

func hasSegs(segs []string, at int, want []string) bool {
	if at+len(want) > len(segs) {
		return false
	}
	for i, w := range want {
		if segs[at+i] != w {
			return false
		}
	}
	return true
}

// commonAffixes returns the lengths of the shared leading and trailing
// segment runs of a and b. They never overlap.
func commonAffixes(a, b []string) (pre, suf int) {
	n := min(len(a), len(b))
	for pre < n && a[pre] == b[pre] {
		pre++
	}
	for suf < n-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}
	return pre, suf
}
