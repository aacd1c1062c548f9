// Package artifacts queries the provenance ledger for the `ampli artifacts`
// command: filtered listing, short-ID lookup and output formatting.
package artifacts

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dyluth/ampli/pkg/ledger"
)

// Criteria defines filtering criteria for artifacts.
// All filters are ANDed together; zero values match everything.
type Criteria struct {
	SinceTimestampMs int64
	UntilTimestampMs int64
	TypeGlob         string // glob over the semantic type, e.g. "Phylogeny[*]"
	Stage            string
	RunID            string
}

// Matches returns true if the artifact matches all filter criteria.
func (c *Criteria) Matches(a *ledger.Artifact) bool {
	if c.SinceTimestampMs > 0 && a.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && a.CreatedAtMs > c.UntilTimestampMs {
		return false
	}
	if c.TypeGlob != "" {
		// Semantic types contain brackets, which are glob character classes.
		// An exact match always counts.
		if a.Type != c.TypeGlob {
			matched, err := filepath.Match(c.TypeGlob, a.Type)
			if err != nil || !matched {
				return false
			}
		}
	}
	if c.Stage != "" && a.Stage != c.Stage {
		return false
	}
	if c.RunID != "" && a.RunID != c.RunID {
		return false
	}
	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.TypeGlob != "" ||
		c.Stage != "" ||
		c.RunID != ""
}

// ParseTime parses a time specification into a Unix timestamp (milliseconds).
// Accepts a Go duration relative to now ("1h30m" means 90 minutes ago) or an
// RFC3339 timestamp.
func ParseTime(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseRange parses the --since and --until flags. Zero means unbounded.
func ParseRange(since, until string) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = ParseTime(since)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		untilMS, err = ParseTime(until)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMS, untilMS, nil
}
