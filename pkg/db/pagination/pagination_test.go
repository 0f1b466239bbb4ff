package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	p := Pagination{Page: 0, PageSize: 5000}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxPageSize, p.PageSize)

	p = Pagination{Page: 3, PageSize: 10}
	assert.Equal(t, 20, p.Offset())
	assert.Equal(t, 10, p.Limit())
}

func TestTrim(t *testing.T) {
	items := []int{1, 2, 3, 4}
	out, info := Trim(items, Pagination{Page: 1, PageSize: 3})
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.True(t, info.HasMore)

	out, info = Trim(items[:2], Pagination{Page: 1, PageSize: 3})
	assert.Len(t, out, 2)
	assert.False(t, info.HasMore)
}
