package artifacts

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/dyluth/ampli/pkg/ledger"
)

// List returns every artifact matching c, oldest first. Records that fail to
// decode are skipped with a warning.
func List(ctx context.Context, client *ledger.Client, c *Criteria) ([]*ledger.Artifact, error) {
	var ids []string
	var err error
	if c != nil && c.RunID != "" {
		ids, err = client.RunArtifactIDs(ctx, c.RunID)
	} else {
		ids, err = client.ScanArtifactIDs(ctx, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}

	var out []*ledger.Artifact
	for _, id := range ids {
		a, err := client.GetArtifact(ctx, id)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			log.Printf("[WARN] Skipping malformed artifact %s: %v", id, err)
			continue
		}
		if c != nil && !c.Matches(a) {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get resolves id (full or short) and fetches the artifact.
func Get(ctx context.Context, client *ledger.Client, id string) (*ledger.Artifact, error) {
	full, err := Resolve(ctx, client, id)
	if err != nil {
		return nil, err
	}
	a, err := client.GetArtifact(ctx, full)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, &NotFoundError{ShortID: id}
		}
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}
	return a, nil
}

// Lineage walks source artifacts from a back to the pipeline inputs,
// breadth first, each artifact once.
func Lineage(ctx context.Context, client *ledger.Client, a *ledger.Artifact) ([]*ledger.Artifact, error) {
	seen := map[string]bool{a.ID: true}
	queue := append([]string(nil), a.SourceArtifacts...)
	var out []*ledger.Artifact
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		src, err := client.GetArtifact(ctx, id)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch source artifact %s: %w", id, err)
		}
		out = append(out, src)
		queue = append(queue, src.SourceArtifacts...)
	}
	return out, nil
}
