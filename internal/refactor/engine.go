package refactor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/stitcher/internal/store"
)

// Transformer rewrites the source text of one usage whose resolved FQN
// changes from oldFQN to newFQN. It reports false when the text should be
// left alone.
type Transformer interface {
	Rewrite(text, oldFQN, newFQN string) (string, bool)
}

// DottedNames rewrites dotted-name usages such as "Old", "a.core" or
// "core.Old.run". The text is aligned with the tail of the old FQN and only
// the segments that differ between old and new are replaced, so a local
// alias standing in for a prefix ("X" for mypkg.old.A) is kept as written.
type DottedNames struct{}

type segment struct {
	text       string
	start, end int
}

func (DottedNames) Rewrite(text, oldFQN, newFQN string) (string, bool) {
	segs, ok := tokenize(text)
	if !ok {
		return text, false
	}
	old, nw := splitFQN(oldFQN), splitFQN(newFQN)
	pre, suf := commonAffixes(old, nw)
	offset := len(old) - len(segs) // old index of segs[0]

	if len(old)-suf-pre == len(nw)-suf-pre {
		var b strings.Builder
		last := 0
		changed := false
		for j, s := range segs {
			p := offset + j
			if p < pre || p >= len(old)-suf || s.text != old[p] {
				continue
			}
			b.WriteString(text[last:s.start])
			b.WriteString(nw[p])
			last = s.end
			changed = true
		}
		if !changed {
			return text, false
		}
		b.WriteString(text[last:])
		return b.String(), true
	}

	// The changed span differs in length: the text must cover all of it.
	js, je := pre-offset, len(old)-suf-offset
	if js < 0 || je > len(segs) || js >= len(segs) {
		return text, false
	}
	for j := js; j < je; j++ {
		if segs[j].text != old[offset+j] {
			return text, false
		}
	}
	repl := strings.Join(nw[pre:len(nw)-suf], ".")
	switch {
	case je < len(segs):
		if repl != "" {
			repl += "."
		}
		return text[:segs[js].start] + repl + text[segs[je].start:], true
	case repl != "":
		return text[:segs[js].start] + repl + text[segs[je-1].end:], true
	case js > 0:
		return text[:segs[js-1].end] + text[segs[je-1].end:], true
	}
	return text, false
}

// tokenize splits a dotted name into identifier segments with their byte
// ranges, tolerating whitespace around the dots.
func tokenize(text string) ([]segment, bool) {
	var segs []segment
	start := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != '.' {
			continue
		}
		s, e := start, i
		for s < e && isSpace(text[s]) {
			s++
		}
		for e > s && isSpace(text[e-1]) {
			e--
		}
		if !isIdent(text[s:e]) {
			return nil, false
		}
		segs = append(segs, segment{text: text[s:e], start: s, end: e})
		start = i + 1
	}
	return segs, len(segs) > 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\\'
}

// Edit replaces content[Start:End] with Text.
type Edit struct {
	Start, End int
	Text       string
}

// ApplyEdits applies edits from the highest offset down so earlier offsets
// stay valid. Overlapping edits are an error.
func ApplyEdits(content string, edits []Edit) (string, error) {
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })
	limit := len(content)
	for _, e := range sorted {
		if e.Start < 0 || e.End < e.Start || e.End > limit {
			return "", fmt.Errorf("edit [%d:%d] overlaps or is out of range", e.Start, e.End)
		}
		content = content[:e.Start] + e.Text + content[e.End:]
		limit = e.Start
	}
	return content, nil
}

// RenameEngine rewrites one file's usages under a rename map.
type RenameEngine struct {
	tr Transformer
}

func NewRenameEngine(tr Transformer) *RenameEngine {
	if tr == nil {
		tr = DottedNames{}
	}
	return &RenameEngine{tr: tr}
}

// Rename returns content with every usage whose resolved FQN is affected by
// m rewritten. Positions are 1-based lines and 0-based byte columns.
func (e *RenameEngine) Rename(content string, usages []*store.Usage, m *RenameMap) (string, error) {
	lines := lineStarts(content)
	var edits []Edit
	seen := make(map[[2]int]bool)
	for _, u := range usages {
		newFQN, ok := m.Apply(u.ResolvedFQN)
		if !ok {
			continue
		}
		start, err := offset(content, lines, u.Lineno, u.ColOffset)
		if err != nil {
			return "", err
		}
		end, err := offset(content, lines, u.EndLineno, u.EndColOffset)
		if err != nil {
			return "", err
		}
		if end < start || seen[[2]int{start, end}] {
			continue
		}
		seen[[2]int{start, end}] = true
		text := content[start:end]
		if out, ok := e.tr.Rewrite(text, u.ResolvedFQN, newFQN); ok && out != text {
			edits = append(edits, Edit{Start: start, End: end, Text: out})
		}
	}
	return ApplyEdits(content, edits)
}

func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func offset(content string, lines []int, line, col int) (int, error) {
	if line < 1 || line > len(lines) {
		return 0, fmt.Errorf("line %d out of range", line)
	}
	off := lines[line-1] + col
	if off > len(content) {
		return 0, fmt.Errorf("position %d:%d out of range", line, col)
	}
	return off, nil
}
