// Package testutil holds Redis fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// StartMiniredis starts an in-memory Redis for the duration of t and
// returns it with a redis:// URL pointing at it.
func StartMiniredis(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	return mr, fmt.Sprintf("redis://%s", mr.Addr())
}
