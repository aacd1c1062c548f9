package artifacts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/google/uuid"
)

// MinShortIDLength is the shortest prefix accepted for lookups.
const MinShortIDLength = 6

// Resolve expands a full id or a unique prefix of at least
// MinShortIDLength characters to a full artifact id.
func Resolve(ctx context.Context, client *ledger.Client, id string) (string, error) {
	if _, err := uuid.Parse(id); err == nil && len(id) == 36 {
		exists, err := client.ArtifactExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to verify artifact existence: %w", err)
		}
		if !exists {
			return "", &NotFoundError{ShortID: id}
		}
		return id, nil
	}

	if strings.Trim(strings.ToLower(id), "0123456789abcdef-") != "" {
		return "", &NotFoundError{ShortID: id}
	}
	if len(id) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(id))
	}

	matches, err := client.ScanArtifactIDs(ctx, strings.ToLower(id))
	if err != nil {
		return "", fmt.Errorf("failed to search for artifact: %w", err)
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: id}
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", &AmbiguousError{ShortID: id, Matches: matches}
	}
}

// NotFoundError indicates no artifact matched the id.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no artifacts found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several artifacts share the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d artifacts", e.ShortID, len(e.Matches))
}

// Candidates lists up to ten matches, then "...and N more".
func (e *AmbiguousError) Candidates() []string {
	if len(e.Matches) <= 10 {
		return e.Matches
	}
	out := append([]string(nil), e.Matches[:10]...)
	return append(out, fmt.Sprintf("...and %d more", len(e.Matches)-10))
}
