// Package featuretable converts the BIOM tab-separated dump into the
// exported feature table and reads it back.
package featuretable

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	biomComment = "# Constructed from biom file"
	otuLabel    = "#OTU ID"
)

// Table is a dense variant-by-sample count matrix.
type Table struct {
	Samples  []string
	Features []string
	Counts   [][]int64 // Counts[feature][sample]
}

// Triple is one non-zero cell of the table.
type Triple struct {
	Sample  string
	Feature string
	Count   int64
}

// Triples returns every non-zero (sample, feature, count) cell in row order.
func (t *Table) Triples() []Triple {
	var out []Triple
	for i, f := range t.Features {
		for j, s := range t.Samples {
			if c := t.Counts[i][j]; c != 0 {
				out = append(out, Triple{Sample: s, Feature: f, Count: c})
			}
		}
	}
	return out
}

// ParseBIOM reads the output of `biom convert --to-tsv`: an optional
// "# Constructed from biom file" line, a "#OTU ID" header, then one row per
// feature. Counts written as floats must be whole numbers.
func ParseBIOM(r io.Reader) (*Table, error) {
	return parse(r, true)
}

// Parse reads an exported feature table (header row with an empty label cell).
func Parse(r io.Reader) (*Table, error) {
	return parse(r, false)
}

func parse(r io.Reader, biom bool) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	t := &Table{}
	lineNo := 0
	sawHeader := false
	seen := make(map[string]int)

	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")

		if !sawHeader {
			if biom {
				if line == biomComment {
					continue
				}
				if cols[0] != otuLabel {
					return nil, fmt.Errorf("feature table line %d: expected %q header, got %q", lineNo, otuLabel, cols[0])
				}
			} else if cols[0] != "" {
				return nil, fmt.Errorf("feature table line %d: header must start with an empty cell, got %q", lineNo, cols[0])
			}
			t.Samples = cols[1:]
			if err := checkUnique(t.Samples, "sample"); err != nil {
				return nil, fmt.Errorf("feature table line %d: %w", lineNo, err)
			}
			sawHeader = true
			continue
		}

		if len(cols) != len(t.Samples)+1 {
			return nil, fmt.Errorf("feature table line %d: expected %d columns, got %d", lineNo, len(t.Samples)+1, len(cols))
		}
		id := cols[0]
		if id == "" {
			return nil, fmt.Errorf("feature table line %d: empty feature id", lineNo)
		}
		if first, dup := seen[id]; dup {
			return nil, fmt.Errorf("feature table line %d: duplicate feature id %q (first seen on line %d)", lineNo, id, first)
		}
		seen[id] = lineNo

		row := make([]int64, len(t.Samples))
		for j, v := range cols[1:] {
			n, err := parseCount(v)
			if err != nil {
				return nil, fmt.Errorf("feature table line %d, sample %q: %w", lineNo, t.Samples[j], err)
			}
			row[j] = n
		}
		t.Features = append(t.Features, id)
		t.Counts = append(t.Counts, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feature table: %w", err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("feature table has no header")
	}
	return t, nil
}

func parseCount(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative count %q", s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if f < 0 || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("count %q is not a non-negative integer", s)
	}
	return int64(f), nil
}

func checkUnique(ids []string, what string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("empty %s id", what)
		}
		if seen[id] {
			return fmt.Errorf("duplicate %s id %q", what, id)
		}
		seen[id] = true
	}
	return nil
}

// Write encodes t in the exported layout: an empty label cell followed by
// the sample ids, then one row per feature with integer counts.
func Write(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("\t" + strings.Join(t.Samples, "\t") + "\n")
	for i, f := range t.Features {
		bw.WriteString(f)
		for _, c := range t.Counts[i] {
			bw.WriteByte('\t')
			bw.WriteString(strconv.FormatInt(c, 10))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write feature table: %w", err)
	}
	return nil
}

// Normalize converts a BIOM TSV dump into the exported layout.
func Normalize(in io.Reader, out io.Writer) (*Table, error) {
	t, err := ParseBIOM(in)
	if err != nil {
		return nil, err
	}
	if err := Write(out, t); err != nil {
		return nil, err
	}
	return t, nil
}
