package suri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want SURI
	}{
		{"py://src/a.py#C.method", SURI{"py", "src/a.py", "C.method"}},
		{"py://pkg/mod.py#", SURI{"py", "pkg/mod.py", ""}},
		{"py://a.b/c.d.py#X", SURI{"py", "a.b/c.d.py", "X"}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.raw, got.String())
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"src/a.py#C", "py://src/a.py", "://a#b", "p1://a#b"} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestGenerator(t *testing.T) {
	t.Parallel()
	g := NewGenerator("py")
	assert.Equal(t, "py://a/core.py#Old", g.ForSymbol("a/core.py", "Old"))
	assert.Equal(t, "py://a/core.py#", g.ForModule("a/core.py"))
}

func TestWithPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "py://rt/src/r/core/x.py#X", WithPath("py://eng/src/e/core/x.py#X", "rt/src/r/core/x.py"))
	assert.Equal(t, "garbage", WithPath("garbage", "x.py"))
}

func TestRebaseFragment(t *testing.T) {
	t.Parallel()
	got, ok := RebaseFragment("py://a.py#Old.method", "Old", "New")
	assert.True(t, ok)
	assert.Equal(t, "py://a.py#New.method", got)

	got, ok = RebaseFragment("py://a.py#Old", "Old", "New")
	assert.True(t, ok)
	assert.Equal(t, "py://a.py#New", got)

	got, ok = RebaseFragment("py://a.py#Older", "Old", "New")
	assert.False(t, ok)
	assert.Equal(t, "py://a.py#Older", got)
}
