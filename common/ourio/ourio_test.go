package ourio

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileIfDifferent(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "layout.yaml")

	res, err := WriteFileIfDifferent(fname, []byte("a"), 0644)
	require.NoError(t, err)
	require.Equal(t, Created, res)
	require.True(t, res.Written())

	res, err = WriteFileIfDifferent(fname, []byte("a"), 0644)
	require.NoError(t, err)
	require.Equal(t, Unchanged, res)
	require.False(t, res.Written())

	res, err = WriteFileIfDifferent(fname, []byte("b"), 0644)
	require.NoError(t, err)
	require.Equal(t, Updated, res)

	data, err := ioutil.ReadFile(fname)
	require.NoError(t, err)
	require.Equal(t, "b", string(data))
}

func TestWriteYAMLFileIfDifferent(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "plan.yaml")
	v := map[string]int{"start": 8}

	res, err := WriteYAMLFileIfDifferent(fname, v, 0644)
	require.NoError(t, err)
	require.Equal(t, "created", res.String())

	res, err = WriteYAMLFileIfDifferent(fname, v, 0644)
	require.NoError(t, err)
	require.Equal(t, "unchanged", res.String())
}

func TestWriteFileIfDifferentBadPath(t *testing.T) {
	// Reading a directory fails with something other than "not exist".
	_, err := WriteFileIfDifferent(t.TempDir(), []byte("x"), 0644)
	require.Error(t, err)
}
