package sidecar

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DocEntry is one top-level key of a doc sidecar. Line is 1-based; Col and
// EndCol are 0-based byte columns of the key token.
type DocEntry struct {
	Key    string
	Value  string
	Line   int
	Col    int
	EndCol int
}

type docEntry struct {
	DocEntry
	style     yaml.Style
	keyStart  int // byte offset of the key token
	keyEnd    int
	colonEnd  int // byte offset just past the key's ':'
	lineStart int // byte offset of the key's line
	end       int // byte offset past the entry's last content line, newline excluded

	// Pending edits against the original spans. Each is replaced, never
	// stacked, so repeated edits of one entry render once.
	key     *string
	value   *string
	deleted bool
}

type edit struct {
	start, end int
	text       string
}

// Doc is a doc sidecar opened for fidelity-preserving edits. Edits touch
// only the bytes of changed keys and values; everything else, comments and
// blank lines included, is emitted verbatim. New keys are appended in
// insertion order.
type Doc struct {
	src     []byte
	entries []*docEntry
	index   map[string]*docEntry
	appends []*yaml.Node
	dirty   bool
}

// ParseDoc opens a doc sidecar. Empty content is an empty document.
func ParseDoc(content []byte) (*Doc, error) {
	d := &Doc{src: content, index: make(map[string]*docEntry)}
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("doc sidecar: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return d, nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, errors.New("doc sidecar: top level must be a mapping")
	}

	lines := lineOffsets(content)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		e := &docEntry{style: k.Style}
		e.Key = k.Value
		e.Value = nodeValue(v)
		e.Line = k.Line
		e.lineStart = lines[k.Line-1]
		e.keyStart = e.lineStart + runeOffset(content[e.lineStart:], k.Column-1)
		e.keyEnd = keyTokenEnd(content, e.keyStart, k.Style)
		e.colonEnd = e.keyEnd
		if idx := bytes.IndexByte(content[e.keyEnd:], ':'); idx >= 0 {
			e.colonEnd = e.keyEnd + idx + 1
		}
		e.Col = e.keyStart - e.lineStart
		e.EndCol = e.keyEnd - e.lineStart
		d.entries = append(d.entries, e)
		d.index[e.Key] = e
	}
	for i, e := range d.entries {
		limitLine := len(lines) + 1
		if i+1 < len(d.entries) {
			limitLine = d.entries[i+1].Line
		}
		e.end = entryEnd(content, lines, e, limitLine)
	}
	return d, nil
}

func nodeValue(v *yaml.Node) string {
	if v.Kind == yaml.ScalarNode {
		return v.Value
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\n")
}

// lineOffsets returns the byte offset of every line start.
func lineOffsets(src []byte) []int {
	offs := []int{0}
	for i, b := range src {
		if b == '\n' {
			offs = append(offs, i+1)
		}
	}
	return offs
}

func runeOffset(line []byte, runes int) int {
	off := 0
	for i := 0; i < runes && off < len(line); i++ {
		_, size := utf8.DecodeRune(line[off:])
		off += size
	}
	return off
}

func keyTokenEnd(src []byte, start int, style yaml.Style) int {
	if start >= len(src) {
		return start
	}
	switch {
	case style&yaml.DoubleQuotedStyle != 0:
		for i := start + 1; i < len(src); i++ {
			switch src[i] {
			case '\\':
				i++
			case '"':
				return i + 1
			}
		}
	case style&yaml.SingleQuotedStyle != 0:
		for i := start + 1; i < len(src); i++ {
			if src[i] == '\'' {
				if i+1 < len(src) && src[i+1] == '\'' {
					i++
					continue
				}
				return i + 1
			}
		}
	default:
		for i := start; i < len(src); i++ {
			if src[i] == '\n' {
				return i
			}
			if src[i] == ':' && (i+1 == len(src) || src[i+1] == ' ' || src[i+1] == '\t' || src[i+1] == '\n' || src[i+1] == '\r') {
				end := i
				for end > start && (src[end-1] == ' ' || src[end-1] == '\t') {
					end--
				}
				return end
			}
		}
	}
	return len(src)
}

// entryEnd finds the end of the entry's last content line before limitLine,
// skipping trailing blank lines and comments indented no deeper than the key.
func entryEnd(src []byte, lines []int, e *docEntry, limitLine int) int {
	keyIndent := e.keyStart - e.lineStart
	for ln := limitLine - 1; ln > e.Line; ln-- {
		start := lines[ln-1]
		stop := len(src)
		if ln < len(lines) {
			stop = lines[ln] - 1
		}
		line := string(src[start:stop])
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)
		trimmed = strings.TrimRight(trimmed, " \t\r")
		if trimmed == "" || (strings.HasPrefix(trimmed, "#") && indent <= keyIndent) {
			continue
		}
		return stop
	}
	stop := len(src)
	if e.Line < len(lines) {
		stop = lines[e.Line] - 1
	}
	return stop
}

// Entries returns the document's original entries in file order.
func (d *Doc) Entries() []DocEntry {
	out := make([]DocEntry, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.DocEntry
	}
	return out
}

// Get returns the value stored under key.
func (d *Doc) Get(key string) (string, bool) {
	if e, ok := d.index[key]; ok {
		return e.Value, true
	}
	for _, n := range d.appends {
		if n.Content[0].Value == key {
			return nodeValue(n.Content[1]), true
		}
	}
	return "", false
}

// Dirty reports whether any edit is pending.
func (d *Doc) Dirty() bool { return d.dirty }

// RenameKeys rewrites every key for which fn reports a new name. Renaming
// onto a key that already exists and is not itself renamed is an error.
func (d *Doc) RenameKeys(fn func(key string) (string, bool)) error {
	renames := make(map[*docEntry]string)
	final := make(map[string]bool, len(d.entries))
	for _, e := range d.entries {
		if e.deleted {
			continue
		}
		name := e.Key
		if nk, ok := fn(e.Key); ok && nk != e.Key {
			renames[e] = nk
			name = nk
		}
		if final[name] {
			return fmt.Errorf("doc sidecar: rename collides on key %q", name)
		}
		final[name] = true
	}
	for e := range renames {
		delete(d.index, e.Key)
	}
	for e, nk := range renames {
		text := formatKey(nk, e.style)
		e.key = &text
		e.Key = nk
		d.index[nk] = e
		d.dirty = true
	}
	return nil
}

// Set stores value under key: existing values are replaced in place, new
// keys are appended.
func (d *Doc) Set(key, value string) error {
	if e, ok := d.index[key]; ok {
		if e.Value == value {
			return nil
		}
		text, err := encodeValue(value)
		if err != nil {
			return err
		}
		e.value = &text
		e.Value = value
		d.dirty = true
		return nil
	}
	for _, n := range d.appends {
		if n.Content[0].Value == key {
			n.Content[1] = scalar(value)
			d.dirty = true
			return nil
		}
	}
	d.appends = append(d.appends, &yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{scalar(key), scalar(value)},
	})
	d.dirty = true
	return nil
}

// Delete removes key and its value lines.
func (d *Doc) Delete(key string) {
	e, ok := d.index[key]
	if !ok {
		return
	}
	e.deleted = true
	delete(d.index, key)
	d.dirty = true
}

// Len returns the number of live keys.
func (d *Doc) Len() int {
	return len(d.index) + len(d.appends)
}

// Bytes renders the document with all pending edits applied.
func (d *Doc) Bytes() ([]byte, error) {
	out := append([]byte(nil), d.src...)
	edits := d.pending()
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	for _, ed := range edits {
		out = append(out[:ed.start], append([]byte(ed.text), out[ed.end:]...)...)
	}
	if len(d.appends) == 0 {
		return out, nil
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, n := range d.appends {
		m.Content = append(m.Content, n.Content...)
	}
	tail, err := encodeNode(m)
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

func (d *Doc) pending() []edit {
	var edits []edit
	for _, e := range d.entries {
		if e.deleted {
			end := e.end
			if end < len(d.src) {
				end++
			}
			edits = append(edits, edit{start: e.lineStart, end: end})
			continue
		}
		if e.key != nil {
			edits = append(edits, edit{start: e.keyStart, end: e.keyEnd, text: *e.key})
		}
		if e.value != nil {
			edits = append(edits, edit{start: e.colonEnd, end: e.end, text: *e.value})
		}
	}
	return edits
}

// CreateDoc renders a new doc sidecar with keys in alphabetical order.
func CreateDoc(values map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		m.Content = append(m.Content, scalar(k), scalar(values[k]))
	}
	return encodeNode(m)
}

func scalar(v string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
	if strings.Contains(v, "\n") {
		n.Style = yaml.LiteralStyle
	}
	return n
}

func encodeNode(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("doc sidecar: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("doc sidecar: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeValue renders value as the text following a top-level "key:".
func encodeValue(value string) (string, error) {
	out, err := encodeNode(&yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{scalar("k"), scalar(value)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimPrefix(string(out), "k:"), "\n"), nil
}

var plainKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func formatKey(key string, style yaml.Style) string {
	switch {
	case style&yaml.SingleQuotedStyle != 0:
		return "'" + strings.ReplaceAll(key, "'", "''") + "'"
	case style&yaml.DoubleQuotedStyle != 0 || !plainKey.MatchString(key):
		return strconv.Quote(key)
	}
	return key
}
