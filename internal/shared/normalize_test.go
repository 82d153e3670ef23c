package shared

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLogin(t *testing.T) {
	require.Equal(t, "anna.k", NormalizeLogin("  Anna.K "))
	require.Equal(t, NormalizeLogin("ANNA@example.com"), NormalizeLogin("anna@EXAMPLE.com"))
	// Fullwidth letters collapse to their ASCII forms under NFKC.
	require.Equal(t, "anna", NormalizeLogin("ＡＮＮＡ"))
}

func TestNormalizeLoginConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = NormalizeLogin("Straße@Example.COM")
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		require.Equal(t, "strasse@example.com", got)
	}
}

func TestPrincipalFromContext(t *testing.T) {
	_, ok := PrincipalFromContext(t.Context())
	require.False(t, ok)

	ctx := ContextWithPrincipal(t.Context(), Principal{UserID: 7, Role: RoleAdmin})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	require.True(t, p.IsAdmin())
	require.EqualValues(t, 7, p.UserID)
}

func TestListFiltersNormalize(t *testing.T) {
	f := ListFilters{Page: 0, Limit: 1000, SortDir: "DESC", Search: "  berlin "}.Normalize()
	require.Equal(t, 1, f.Page)
	require.Equal(t, MaxLimit, f.Limit)
	require.Equal(t, "desc", f.SortDir)
	require.Equal(t, "berlin", f.Search)
	require.Equal(t, 0, f.Offset())

	f = ListFilters{Page: 3, Limit: 10}.Normalize()
	require.Equal(t, 20, f.Offset())
	require.Equal(t, "asc", f.SortDir)

	p := NewPagination(3, 10, 41)
	require.Equal(t, 5, p.TotalPages)
}
