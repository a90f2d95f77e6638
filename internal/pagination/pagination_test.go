package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct{ name string }

func (i item) Key() string { return i.name }

func TestPageSortsAndPaginatesDeterministically(t *testing.T) {
	items := []item{{"charlie"}, {"alice"}, {"bob"}}

	page1, token1, err := Page(items, "", 2)
	require.NoError(t, err)
	require.Equal(t, []item{{"alice"}, {"bob"}}, page1)
	require.NotEmpty(t, token1)

	page2, token2, err := Page(items, token1, 2)
	require.NoError(t, err)
	require.Equal(t, []item{{"charlie"}}, page2)
	require.Empty(t, token2)
}

func TestPageWithNoLimitReturnsEverything(t *testing.T) {
	items := []item{{"b"}, {"a"}}
	page, token, err := Page(items, "", 0)
	require.NoError(t, err)
	require.Equal(t, []item{{"a"}, {"b"}}, page)
	require.Empty(t, token)
}

func TestPageRejectsMalformedToken(t *testing.T) {
	_, _, err := Page([]item{{"a"}}, "not-base64-!!!", 1)
	require.Error(t, err)
}
