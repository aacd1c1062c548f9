package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Success(t *testing.T) {
	dir := t.TempDir()
	var echo bytes.Buffer
	r := NewLocal(0, &echo)

	res, err := r.Run(context.Background(), Invocation{
		Stage: "test",
		Args:  []string{"sh", "-c", "pwd; echo warn >&2; echo $AMPLI_TEST"},
		Dir:   dir,
		Env:   []string{"AMPLI_TEST=set"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, dir)
	assert.Contains(t, res.Stdout, "set")
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Contains(t, echo.String(), "warn")
}

func TestLocal_NonZeroExit(t *testing.T) {
	r := NewLocal(0, nil)
	res, err := r.Run(context.Background(), Invocation{
		Stage: "denoise",
		Args:  []string{"sh", "-c", "echo 'Plugin error from dada2' >&2; exit 1"},
	})
	require.Error(t, err)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.ExitCode)
	assert.Equal(t, "Plugin error from dada2\n", te.Stderr)
	assert.Equal(t, "sh exited with code 1", te.Error())
	assert.Equal(t, 1, res.ExitCode)
}

func TestLocal_MissingTool(t *testing.T) {
	_, err := NewLocal(0, nil).Run(context.Background(), Invocation{Args: []string{"ampli-no-such-tool"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tool "ampli-no-such-tool" not found`)

	var te *ToolError
	assert.False(t, errors.As(err, &te))

	_, err = NewLocal(0, nil).Run(context.Background(), Invocation{})
	assert.Error(t, err)
}

func TestLocal_Timeout(t *testing.T) {
	r := NewLocal(100*time.Millisecond, nil)
	start := time.Now()
	res, err := r.Run(context.Background(), Invocation{Args: []string{"sleep", "5"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestLocal_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := NewLocal(0, nil).Run(ctx, Invocation{Args: []string{"sleep", "5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", Tail("short", 10))

	long := strings.Repeat("x", 20) + "\nlast line\n"
	got := Tail(long, 12)
	assert.True(t, strings.HasSuffix(got, "last line\n"))
	assert.True(t, strings.HasPrefix(got, "...\n"))
}

func TestLimitedWriter(t *testing.T) {
	var buf strings.Builder
	lw := &limitedWriter{w: &buf, limit: 4}
	n, err := lw.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", buf.String())
	assert.True(t, lw.truncated())
}
