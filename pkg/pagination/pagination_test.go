package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextWithQuery(query string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit}},
		{"?limit=10&offset=20", Params{Limit: 10, Offset: 20}},
		{"?limit=0&offset=-5", Params{Limit: DefaultLimit}},
		{"?limit=100000", Params{Limit: MaxLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := FromContext(contextWithQuery(tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromContext_Malformed(t *testing.T) {
	_, err := FromContext(contextWithQuery("?limit=ten"))
	assert.Error(t, err)
	_, err = FromContext(contextWithQuery("?offset=x"))
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	first := Page(items, Params{Limit: 2})
	assert.Equal(t, []int{1, 2}, first.Data)
	assert.Equal(t, 5, first.Total)
	assert.True(t, first.HasMore)

	last := Page(items, Params{Limit: 2, Offset: 4})
	assert.Equal(t, []int{5}, last.Data)
	assert.False(t, last.HasMore)

	past := Page(items, Params{Limit: 2, Offset: 10})
	assert.NotNil(t, past.Data)
	assert.Empty(t, past.Data)
	assert.False(t, past.HasMore)

	empty := Page([]int(nil), Params{Limit: 2})
	assert.NotNil(t, empty.Data)
}
