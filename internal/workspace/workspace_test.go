package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "work")
	ws, err := Open(dir)
	require.NoError(t, err)

	info, err := os.Stat(ws.Root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(ws.Root))
	assert.Equal(t, filepath.Join(ws.Root, "exported"), ws.ExportDir())
	assert.Equal(t, filepath.Join(ws.Root, "table.qza"), ws.Path("table.qza"))
}

func TestStaging_PromoteAllOrNothing(t *testing.T) {
	ws, err := Open(t.TempDir())
	require.NoError(t, err)

	st, err := ws.NewStaging("denoise")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(st.Dir), "denoise-"))

	require.NoError(t, os.WriteFile(st.Path("table.qza"), []byte("t"), 0644))
	require.NoError(t, os.WriteFile(st.Path("rep-seqs.qza"), []byte("r"), 0644))

	_, err = st.Promote(ws.Root, "table.qza", "rep-seqs.qza", "denoising-stats.qza")
	var missing *MissingOutputsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"denoising-stats.qza"}, missing.Names)

	// Nothing was moved.
	_, err = os.Stat(ws.Path("table.qza"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(st.Path("denoising-stats.qza"), []byte("s"), 0644))
	paths, err := st.Promote(ws.Root, "table.qza", "rep-seqs.qza", "denoising-stats.qza")
	require.NoError(t, err)
	assert.Equal(t, []string{ws.Path("table.qza"), ws.Path("rep-seqs.qza"), ws.Path("denoising-stats.qza")}, paths)

	data, err := os.ReadFile(ws.Path("rep-seqs.qza"))
	require.NoError(t, err)
	assert.Equal(t, "r", string(data))

	require.NoError(t, st.Discard())
	_, err = os.Stat(st.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStaging_DirectoryIsNotAnOutput(t *testing.T) {
	ws, err := Open(t.TempDir())
	require.NoError(t, err)
	st, err := ws.NewStaging("export")
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(st.Path("tree.nwk"), 0755))

	_, err = st.Promote(ws.Root, "tree.nwk")
	assert.Error(t, err)
}

func TestCheckCollisions(t *testing.T) {
	assert.NoError(t, CheckCollisions([]string{"/w/demux.qza"}, []string{"/w/table.qza"}))

	err := CheckCollisions([]string{"/w/demux.qza"}, []string{"/w/./demux.qza"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would overwrite an input")
}

func TestLock(t *testing.T) {
	ws, err := Open(t.TempDir())
	require.NoError(t, err)

	lock, err := ws.Acquire("run-1")
	require.NoError(t, err)

	_, err = ws.Acquire("run-2")
	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, "run-1", locked.RunID)
	assert.Equal(t, os.Getpid(), locked.PID)

	require.NoError(t, lock.Release())
	lock2, err := ws.Acquire("run-2")
	require.NoError(t, err)

	require.NoError(t, ws.ForceUnlock())
	require.NoError(t, lock2.Release())
}
