package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestRevision_NotARepository(t *testing.T) {
	requireGit(t)
	c := NewChecker(t.TempDir())

	isRepo, err := c.IsGitRepository()
	require.NoError(t, err)
	assert.False(t, isRepo)

	rev, err := c.Revision()
	require.NoError(t, err)
	assert.Empty(t, rev)
}

func TestRevision_NoCommits(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	run(t, dir, "init", "-q")

	rev, err := NewChecker(dir).Revision()
	require.NoError(t, err)
	assert.Empty(t, rev)
}

func TestRevision_CleanAndDirty(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	run(t, dir, "init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ampli.yml"), []byte("version: \"1.0\"\n"), 0644))
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "init")

	c := NewChecker(dir)
	clean, err := c.IsWorkspaceClean()
	require.NoError(t, err)
	assert.True(t, clean)

	rev, err := c.Revision()
	require.NoError(t, err)
	assert.Len(t, rev, 40)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	dirty, err := c.Revision()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dirty, "-dirty"))
	assert.Equal(t, rev, strings.TrimSuffix(dirty, "-dirty"))
}
