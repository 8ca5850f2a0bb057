package paging_test

import (
	"net/url"
	"testing"

	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sortable = paging.Sortable{"lastName": "last_name"}

func TestParse_Defaults(t *testing.T) {
	p, err := paging.Parse(url.Values{}, sortable)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, paging.DefaultLimit, p.Limit)
	assert.Equal(t, "created_at DESC, id DESC", p.Order())
	assert.Equal(t, 0, p.Offset())
}

func TestParse_LimitIsCapped(t *testing.T) {
	p, err := paging.Parse(url.Values{"limit": {"500"}, "page": {"3"}}, sortable)
	require.NoError(t, err)
	assert.Equal(t, paging.MaxLimit, p.Limit)
	assert.Equal(t, 200, p.Offset())
}

func TestParse_SortWhitelist(t *testing.T) {
	p, err := paging.Parse(url.Values{"sortBy": {"lastName"}, "sortOrder": {"asc"}}, sortable)
	require.NoError(t, err)
	assert.Equal(t, "last_name ASC, id ASC", p.Order())

	_, err = paging.Parse(url.Values{"sortBy": {"password_hash"}}, sortable)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "sortBy", e.Fields[0].Field)
}

func TestParse_RejectsBadNumbers(t *testing.T) {
	_, err := paging.Parse(url.Values{"page": {"0"}, "limit": {"x"}}, sortable)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Len(t, e.Fields, 2)
}

func TestNewMeta(t *testing.T) {
	m := paging.NewMeta(paging.Params{Page: 2, Limit: 10}, 21)
	assert.Equal(t, 3, m.TotalPages)
	assert.Equal(t, int64(21), m.Total)

	m = paging.NewMeta(paging.Params{Page: 1, Limit: 10}, 0)
	assert.Equal(t, 0, m.TotalPages)
}
