package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/examlab"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, 20, c.Len())

	seen := make(map[int]bool)
	for i, ex := range c.All() {
		assert.Equal(t, i+1, ex.ID, "exercises must be ordered by id")
		assert.False(t, seen[ex.ID], "duplicate id %d", ex.ID)
		seen[ex.ID] = true
		assert.True(t, ex.Group.Valid(), "exercise %d group %q", ex.ID, ex.Group)
		assert.NotEmpty(t, ex.Title)
		assert.NotEmpty(t, ex.Instructions)
	}

	ex, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, examlab.GroupNode1, ex.Group)

	ex, ok = c.Get(20)
	require.True(t, ok)
	assert.Equal(t, examlab.GroupNode2, ex.Group)

	assert.False(t, c.Has(21))
}

func TestAllReturnsCopy(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	all := c.All()
	all[0].Title = "changed"

	ex, _ := c.Get(1)
	assert.NotEqual(t, "changed", ex.Title)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "exercises: []", "catalog is empty"},
		{"range", "exercises:\n  - {id: 21, group: NODE1, title: x}", "out of range"},
		{"zero", "exercises:\n  - {id: 0, group: NODE1, title: x}", "out of range"},
		{"duplicate", "exercises:\n  - {id: 2, group: NODE1, title: x}\n  - {id: 2, group: NODE2, title: y}", "duplicate exercise id 2"},
		{"group", "exercises:\n  - {id: 2, group: NODE9, title: x}", "invalid group"},
		{"title", "exercises:\n  - {id: 2, group: NODE2}", "missing title"},
		{"yaml", "exercises: [", "parsing catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exercises.yaml")
	doc := "exercises:\n  - {id: 3, group: NODE2, title: Three}\n  - {id: 1, group: NODE1, title: One}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, c.IDs())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
