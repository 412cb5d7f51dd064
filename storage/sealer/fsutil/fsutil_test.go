package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSize(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 4096), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("hello"), 0644))

	// sparse file: logical length without allocated blocks
	f, err := os.Create(filepath.Join(dir, "sparse"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(1<<20))
	require.NoError(t, f.Close())

	si, err := FileSize(dir)
	require.NoError(t, err)
	require.Equal(t, int64(4096+5+1<<20), si.Logical)
	require.Less(t, si.OnDisk, int64(1<<20))
	require.GreaterOrEqual(t, si.OnDisk, int64(4096))

	_, err = FileSize(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatfs(t *testing.T) {
	st, err := Statfs(t.TempDir())
	require.NoError(t, err)
	require.Positive(t, st.Capacity)
	require.LessOrEqual(t, st.Available, st.Capacity)

	_, err = Statfs(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
