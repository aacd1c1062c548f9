package manifest

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/dyluth/ampli/internal/seqio"
	"golang.org/x/sync/errgroup"
)

// ReadLengths holds the longest raw read observed per direction.
type ReadLengths struct {
	Forward int
	Reverse int
}

// ProbeOptions bounds the read-length probe.
type ProbeOptions struct {
	// Reads is the number of records sampled from each file (<= 0 reads all).
	Reads int
	// Workers caps concurrent file reads; <= 0 uses GOMAXPROCS.
	Workers int
}

// ProbeReadLengths samples every forward and reverse FASTQ in m concurrently
// and returns the maximum raw read length per direction.
func ProbeReadLengths(ctx context.Context, m *Manifest, opts ProbeOptions) (ReadLengths, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu  sync.Mutex
		out ReadLengths
	)
	for _, row := range m.Rows {
		for _, job := range []struct {
			path    string
			forward bool
		}{{row.Forward, true}, {row.Reverse, false}} {
			job := job
			sampleID := row.SampleID
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, reads, err := seqio.MaxReadLength(job.path, opts.Reads)
				if err != nil {
					return fmt.Errorf("sample %q: %w", sampleID, err)
				}
				if reads == 0 {
					return fmt.Errorf("sample %q: %s contains no reads", sampleID, job.path)
				}
				mu.Lock()
				defer mu.Unlock()
				if job.forward && n > out.Forward {
					out.Forward = n
				}
				if !job.forward && n > out.Reverse {
					out.Reverse = n
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return ReadLengths{}, err
	}
	return out, nil
}
