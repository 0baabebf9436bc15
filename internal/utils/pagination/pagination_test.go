package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMeta(t *testing.T) {
	tests := []struct {
		name  string
		page  int
		limit int
		total int64
		want  Meta
	}{
		{"empty", 1, 20, 0, Meta{Total: 0, Page: 1, Limit: 20}},
		{"single page", 1, 20, 5, Meta{Total: 5, Page: 1, Limit: 20, TotalPages: 1}},
		{"middle page", 2, 10, 25, Meta{Total: 25, Page: 2, Limit: 10, TotalPages: 3, HasNext: true, HasPrevious: true}},
		{"last page", 3, 10, 25, Meta{Total: 25, Page: 3, Limit: 10, TotalPages: 3, HasPrevious: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewMeta(tt.page, tt.limit, tt.total))
		})
	}
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Offset(1, 20))
	assert.Equal(t, 40, Offset(3, 20))
	assert.Equal(t, 0, Offset(0, 20))
}
