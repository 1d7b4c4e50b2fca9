package sidecar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `# module docs
Old: |
  The old class.
  Second line.

# methods
Old.run: 'Runs it.'
helper: "Helps."   # trailing comment
`

func TestParseDoc_Entries(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte(sampleDoc))
	require.NoError(t, err)

	entries := d.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "Old", entries[0].Key)
	assert.Equal(t, "The old class.\nSecond line.\n", entries[0].Value)
	assert.Equal(t, 2, entries[0].Line)
	assert.Equal(t, 0, entries[0].Col)
	assert.Equal(t, 3, entries[0].EndCol)
	assert.Equal(t, "Old.run", entries[1].Key)
	assert.Equal(t, 7, entries[1].Line)
	assert.Equal(t, 7, entries[1].EndCol)
	assert.Equal(t, "Helps.", entries[2].Value)
}

func TestParseDoc_Empty(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc(nil)
	require.NoError(t, err)
	assert.Zero(t, d.Len())

	require.NoError(t, d.Set("A", "doc"))
	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "A: doc\n", string(out))
}

func TestParseDoc_RejectsNonMapping(t *testing.T) {
	t.Parallel()
	_, err := ParseDoc([]byte("- a\n- b\n"))
	assert.Error(t, err)
}

func TestRenameKeys_PreservesEverythingElse(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte(sampleDoc))
	require.NoError(t, err)

	require.NoError(t, d.RenameKeys(func(k string) (string, bool) {
		switch {
		case k == "Old":
			return "New", true
		case len(k) > 4 && k[:4] == "Old.":
			return "New." + k[4:], true
		}
		return "", false
	}))
	assert.True(t, d.Dirty())

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `# module docs
New: |
  The old class.
  Second line.

# methods
New.run: 'Runs it.'
helper: "Helps."   # trailing comment
`, string(out))
}

func TestRenameKeys_QuotedKeyKeepsStyle(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("'Old': x\n\"Old.f\": y\n"))
	require.NoError(t, err)
	require.NoError(t, d.RenameKeys(func(k string) (string, bool) {
		if k == "Old" {
			return "New", true
		}
		if k == "Old.f" {
			return "New.f", true
		}
		return "", false
	}))
	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "'New': x\n\"New.f\": y\n", string(out))
}

func TestRenameKeys_Collision(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("A: x\nB: y\n"))
	require.NoError(t, err)
	err = d.RenameKeys(func(k string) (string, bool) { return "B", k == "A" })
	assert.Error(t, err)
}

func TestRenameKeys_RepeatedRenameRendersOnce(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("Old: C.\nOld.go: R.\n"))
	require.NoError(t, err)
	require.NoError(t, d.RenameKeys(func(k string) (string, bool) { return "Mid", k == "Old" }))
	require.NoError(t, d.RenameKeys(func(k string) (string, bool) { return "New", k == "Mid" }))
	require.NoError(t, d.RenameKeys(func(k string) (string, bool) { return "New.go", k == "Old.go" }))

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "New: C.\nNew.go: R.\n", string(out))
	_, ok := d.Get("Mid")
	assert.False(t, ok)
}

func TestRenameKeys_SwapIsNotACollision(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("A: x\nB: y\n"))
	require.NoError(t, err)
	swap := map[string]string{"A": "B", "B": "A"}
	require.NoError(t, d.RenameKeys(func(k string) (string, bool) {
		next, ok := swap[k]
		return next, ok
	}))

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "B: x\nA: y\n", string(out))
	v, _ := d.Get("A")
	assert.Equal(t, "y", v)
}

func TestSet_AppendsInInsertionOrder(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("# header\nZeta: z\n"))
	require.NoError(t, err)
	require.NoError(t, d.Set("beta", "b"))
	require.NoError(t, d.Set("alpha", "two\nlines"))

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "# header\nZeta: z\nbeta: b\nalpha: |-\n  two\n  lines\n", string(out))
}

func TestSet_ReplacesExistingValue(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte(sampleDoc))
	require.NoError(t, err)
	require.NoError(t, d.Set("Old", "Short."))

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `# module docs
Old: Short.

# methods
Old.run: 'Runs it.'
helper: "Helps."   # trailing comment
`, string(out))
}

func TestSet_RepeatedReplaceRendersOnce(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("A: x\nB: y\n"))
	require.NoError(t, err)
	require.NoError(t, d.Set("A", "one"))
	require.NoError(t, d.Set("A", "two"))

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "A: two\nB: y\n", string(out))
}

func TestSet_UnchangedValueIsNoop(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("A: x\n"))
	require.NoError(t, err)
	require.NoError(t, d.Set("A", "x"))
	assert.False(t, d.Dirty())
}

func TestDelete(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("A: x\nB: |\n  multi\n  line\nC: z\n"))
	require.NoError(t, err)
	d.Delete("B")
	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "A: x\nC: z\n", string(out))
	assert.Equal(t, 2, d.Len())
}

func TestDelete_AfterRenameAndSet(t *testing.T) {
	t.Parallel()
	d, err := ParseDoc([]byte("A: x\nB: y\n"))
	require.NoError(t, err)
	require.NoError(t, d.RenameKeys(func(k string) (string, bool) { return "Z", k == "A" }))
	require.NoError(t, d.Set("Z", "changed"))
	d.Delete("Z")

	out, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "B: y\n", string(out))
	assert.Equal(t, 1, d.Len())
}

func TestCreateDoc_SortedKeys(t *testing.T) {
	t.Parallel()
	out, err := CreateDoc(map[string]string{"b": "B doc", "a": "A doc", "C": "multi\nline"})
	require.NoError(t, err)
	assert.Equal(t, "C: |-\n  multi\n  line\na: A doc\nb: B doc\n", string(out))
}
