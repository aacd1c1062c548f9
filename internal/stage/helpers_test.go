package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dyluth/ampli/internal/runner/runnertest"
	"github.com/stretchr/testify/require"
)

// writeReads creates paired FASTQ files for ids plus a manifest listing them.
func writeReads(t *testing.T, dir string, ids ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("sample-id\tforward-absolute-filepath\treverse-absolute-filepath\n")
	for _, id := range ids {
		fwd := filepath.Join(dir, id+"_R1.fastq")
		rev := filepath.Join(dir, id+"_R2.fastq")
		for _, p := range []string{fwd, rev} {
			require.NoError(t, os.WriteFile(p, []byte("@r1\nACGTACGT\n+\nIIIIIIII\n"), 0644))
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\n", id, fwd, rev)
	}
	p := filepath.Join(dir, "manifest.tsv")
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0644))
	return p
}

// execute checks s, runs its invocations through fake and finishes it,
// leaving the outputs in the returned staging directory.
func execute(t *testing.T, fake *runnertest.Fake, s Stage) (string, error) {
	t.Helper()
	ctx := context.Background()
	if err := s.Check(ctx); err != nil {
		return "", err
	}
	staging := t.TempDir()
	for _, inv := range s.Invocations(staging) {
		if _, err := fake.Run(ctx, inv); err != nil {
			return staging, err
		}
	}
	return staging, s.Finish(staging)
}

// promote moves staged outputs into the stage's destination.
func promote(t *testing.T, s Stage, staging string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.Dest(), 0755))
	for _, name := range s.Outputs() {
		require.NoError(t, os.Rename(filepath.Join(staging, name), filepath.Join(s.Dest(), name)))
	}
}
