package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileIDsWithWithout(t *testing.T) {
	ids := FileIDs{"a", "b"}

	added := ids.With("c")
	assert.Equal(t, FileIDs{"a", "b", "c"}, added)
	assert.Equal(t, FileIDs{"a", "b"}, ids, "receiver untouched")

	assert.Equal(t, FileIDs{"a", "b"}, ids.With("a"), "no duplicates")
	assert.Equal(t, FileIDs{"b"}, ids.Without("a"))
	assert.Equal(t, FileIDs{}, FileIDs(nil).Without("a"))
}

func TestFileIDsColumn(t *testing.T) {
	v, err := FileIDs(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = FileIDs{"x", "y"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["x","y"]`, v)

	var ids FileIDs
	require.NoError(t, ids.Scan([]byte(`["x","y"]`)))
	assert.Equal(t, FileIDs{"x", "y"}, ids)

	require.NoError(t, ids.Scan(nil))
	assert.Equal(t, FileIDs{}, ids)

	require.NoError(t, ids.Scan("null"))
	assert.Equal(t, FileIDs{}, ids)

	assert.Error(t, ids.Scan(42))
	assert.Error(t, ids.Scan("{"))
}
