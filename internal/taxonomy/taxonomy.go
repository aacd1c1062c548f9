// Package taxonomy parses RDP classifier allrank output and renders the
// thresholded per-rank classification table.
package taxonomy

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Ranks are the columns of the classification table, highest first.
var Ranks = []string{"domain", "phylum", "class", "order", "family", "genus"}

// Call is one rank assignment reported by the classifier.
type Call struct {
	Rank       string
	Name       string
	Confidence float64
	// Raw is the confidence exactly as the classifier printed it.
	Raw string
}

// Assignment is the full classifier result for one sequence.
type Assignment struct {
	SequenceID string
	Reversed   bool
	Calls      []Call
}

// Call returns the assignment at rank, if any.
func (a *Assignment) Call(rank string) (Call, bool) {
	for _, c := range a.Calls {
		if c.Rank == rank {
			return c, true
		}
	}
	return Call{}, false
}

// ParseAllRank reads `classify -f allrank` output: sequence id, an
// orientation flag ("-" when reverse complemented, else empty), then
// name/rank/confidence triples from the root down.
func ParseAllRank(r io.Reader) ([]Assignment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []Assignment
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("classifier output line %d: missing orientation field", lineNo)
		}
		a := Assignment{SequenceID: fields[0]}
		if a.SequenceID == "" {
			return nil, fmt.Errorf("classifier output line %d: empty sequence id", lineNo)
		}
		switch fields[1] {
		case "":
		case "-":
			a.Reversed = true
		default:
			return nil, fmt.Errorf("classifier output line %d: unexpected orientation %q", lineNo, fields[1])
		}

		rest := fields[2:]
		if len(rest)%3 != 0 {
			return nil, fmt.Errorf("classifier output line %d: %d fields after the id do not form name/rank/confidence triples", lineNo, len(rest))
		}
		for i := 0; i < len(rest); i += 3 {
			conf, err := strconv.ParseFloat(rest[i+2], 64)
			if err != nil || conf < 0 || conf > 1 {
				return nil, fmt.Errorf("classifier output line %d: invalid confidence %q for rank %s", lineNo, rest[i+2], rest[i+1])
			}
			a.Calls = append(a.Calls, Call{Name: rest[i], Rank: rest[i+1], Confidence: conf, Raw: rest[i+2]})
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read classifier output: %w", err)
	}
	return out, nil
}

// CheckCoverage verifies every sequence id appears exactly once and that no
// unknown ids were classified.
func CheckCoverage(assignments []Assignment, sequenceIDs []string) error {
	want := make(map[string]bool, len(sequenceIDs))
	for _, id := range sequenceIDs {
		want[id] = true
	}

	got := make(map[string]int, len(assignments))
	var unknown, dup []string
	for _, a := range assignments {
		got[a.SequenceID]++
		switch {
		case !want[a.SequenceID]:
			unknown = append(unknown, a.SequenceID)
		case got[a.SequenceID] == 2:
			dup = append(dup, a.SequenceID)
		}
	}
	var missing []string
	for _, id := range sequenceIDs {
		if got[id] == 0 {
			missing = append(missing, id)
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("%d sequences not classified (%s)", len(missing), preview(missing)))
	}
	if len(dup) > 0 {
		problems = append(problems, fmt.Sprintf("%d sequences classified more than once (%s)", len(dup), preview(dup)))
	}
	if len(unknown) > 0 {
		problems = append(problems, fmt.Sprintf("%d unknown sequence ids in output (%s)", len(unknown), preview(unknown)))
	}
	if len(problems) > 0 {
		return fmt.Errorf("classifier output does not match input: %s", strings.Join(problems, "; "))
	}
	return nil
}

func preview(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	if len(sorted) > 5 {
		return strings.Join(sorted[:5], ", ") + ", ..."
	}
	return strings.Join(sorted, ", ")
}

// Header returns the classification table header columns.
func Header() []string {
	cols := []string{"sequence-id"}
	for _, r := range Ranks {
		cols = append(cols, r, r+"-confidence")
	}
	return cols
}

// Row renders one assignment as table cells. Once a rank falls below
// threshold it and every lower rank are left empty.
func Row(a Assignment, threshold float64) []string {
	cells := []string{a.SequenceID}
	blank := false
	for _, r := range Ranks {
		c, ok := a.Call(r)
		if ok && c.Confidence < threshold {
			blank = true
		}
		if blank || !ok {
			cells = append(cells, "", "")
			continue
		}
		cells = append(cells, c.Name, c.Raw)
	}
	return cells
}

// WriteTable writes the thresholded table in input order.
func WriteTable(w io.Writer, assignments []Assignment, threshold float64) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(Header(), "\t") + "\n")
	for _, a := range assignments {
		bw.WriteString(strings.Join(Row(a, threshold), "\t") + "\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write classification table: %w", err)
	}
	return nil
}
