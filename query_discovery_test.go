package stitcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fqnsOf(items []SymbolResult) []string {
	out := make([]string, len(items))
	for i, sr := range items {
		out[i] = sr.CanonicalFQN
	}
	return out
}

// =============================================================================
// Pagination
// =============================================================================

func TestPagination_Normalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Pagination
		want Pagination
	}{
		{"zero value", Pagination{}, Pagination{Offset: 0, Limit: defaultLimit}},
		{"negative offset", Pagination{Offset: -3, Limit: 10}, Pagination{Offset: 0, Limit: 10}},
		{"limit capped", Pagination{Limit: 10_000}, Pagination{Limit: maxLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalize())
		})
	}
}

func TestPaginate_PastEnd(t *testing.T) {
	t.Parallel()
	page := paginate([]int{1, 2, 3}, Pagination{Offset: 5, Limit: 2})
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.TotalCount)
}

// =============================================================================
// Symbols
// =============================================================================

func TestSymbols_FilterByKind(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)

	res, err := g.Symbols(SymbolFilter{Kinds: []string{"class"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, []string{"shop.models.Order", "shop.models.Unused"}, fqnsOf(res.Items))

	order, unused := res.Items[0], res.Items[1]
	assert.Equal(t, "shop/models.py", order.FilePath)
	assert.Positive(t, order.RefCount)
	assert.Equal(t, order.RefCount, order.ExternalRefCount)
	assert.Zero(t, order.InternalRefCount)
	assert.Zero(t, unused.RefCount)
}

func TestSymbols_SortAndPage(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)
	classes := SymbolFilter{Kinds: []string{"class"}}

	res, err := g.Symbols(classes, Sort{Field: SortByName, Order: Desc}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.models.Unused", "shop.models.Order"}, fqnsOf(res.Items))

	res, err = g.Symbols(classes, Sort{}, Pagination{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, []string{"shop.models.Unused"}, fqnsOf(res.Items))
}

func TestSymbols_FQNAndPathPrefix(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)

	res, err := g.Symbols(SymbolFilter{Kinds: []string{"function"}, FQNPrefix: "shop.models"}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.models.Order.total"}, fqnsOf(res.Items))

	prefix := "shop"
	res, err = g.Symbols(SymbolFilter{PathPrefix: &prefix}, Sort{}, Pagination{Limit: maxLimit})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	for _, sr := range res.Items {
		assert.NotEqual(t, "app.py", sr.FilePath)
	}
}

// =============================================================================
// SearchSymbols
// =============================================================================

func TestSearchSymbols_GlobOverFQNSegments(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)

	res, err := g.SearchSymbols("shop.**", SymbolFilter{Kinds: []string{"function"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.models.Order.total", "shop.service.checkout"}, fqnsOf(res.Items))

	res, err = g.SearchSymbols("shop.*.Order", SymbolFilter{Kinds: []string{"class"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.models.Order"}, fqnsOf(res.Items))

	res, err = g.SearchSymbols("*.Order", SymbolFilter{Kinds: []string{"class"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestSearchSymbols_InvalidPattern(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)
	_, err := g.SearchSymbols("shop.[", SymbolFilter{}, Sort{}, Pagination{})
	require.Error(t, err)
}

// =============================================================================
// Files & Summary
// =============================================================================

func TestFiles_PrefixAndPaging(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)

	res, err := g.Files("shop", Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	var paths []string
	for _, f := range res.Items {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"shop/__init__.py", "shop/models.py", "shop/service.py"}, paths)

	res, err = g.Files("", Sort{Order: Desc}, Pagination{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalCount)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "shop/service.py", res.Items[0].Path)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	g := newShopGraph(t)

	sum, err := g.Summary()
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Files)
	assert.Equal(t, 4, sum.SymbolsByKind["module"])
	assert.Equal(t, 2, sum.SymbolsByKind["class"])
	assert.Equal(t, 2, sum.SymbolsByKind["function"])

	total := 0
	for _, n := range sum.SymbolsByKind {
		total += n
	}
	assert.Equal(t, total, sum.Symbols)
	assert.Positive(t, sum.References)
}
