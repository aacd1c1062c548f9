// Package manifest reads, writes and validates the tab-separated sample
// manifest consumed by the paired-end importer.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Header is the literal first line of every manifest, columns tab-separated.
const Header = "sample-id\tforward-absolute-filepath\treverse-absolute-filepath"

// LineEnding selects the terminator written after each manifest line.
type LineEnding string

const (
	LF     LineEnding = "lf"
	CRLF   LineEnding = "crlf"
	Native LineEnding = "native"
)

// Terminator returns the byte sequence for the line ending.
func (le LineEnding) Terminator() string {
	switch le {
	case CRLF:
		return "\r\n"
	case Native:
		if runtime.GOOS == "windows" {
			return "\r\n"
		}
		return "\n"
	default:
		return "\n"
	}
}

// ParseLineEnding converts a config value into a LineEnding.
func ParseLineEnding(s string) (LineEnding, error) {
	switch LineEnding(strings.ToLower(s)) {
	case "", LF:
		return LF, nil
	case CRLF:
		return CRLF, nil
	case Native:
		return Native, nil
	}
	return "", fmt.Errorf("unknown line ending %q (must be lf, crlf or native)", s)
}

// Row maps one sample to its forward and reverse read files.
type Row struct {
	SampleID string
	Forward  string
	Reverse  string
}

// Manifest is an ordered, duplicate-free list of sample rows.
type Manifest struct {
	Rows []Row
}

// SampleIDs returns the sample ids in manifest order.
func (m *Manifest) SampleIDs() []string {
	ids := make([]string, len(m.Rows))
	for i, r := range m.Rows {
		ids[i] = r.SampleID
	}
	return ids
}

// Dirs returns the distinct directories holding read files, in first-seen order.
func (m *Manifest) Dirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, r := range m.Rows {
		for _, p := range []string{r.Forward, r.Reverse} {
			d := filepath.Dir(p)
			if !seen[d] {
				seen[d] = true
				dirs = append(dirs, d)
			}
		}
	}
	return dirs
}

// ParseError reports a schema violation at a specific manifest line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("manifest: %s", e.Msg)
	}
	return fmt.Sprintf("manifest line %d: %s", e.Line, e.Msg)
}

// Parse reads a manifest, accepting LF or CRLF line endings.
// It fails on the first schema violation instead of skipping the row.
func Parse(r io.Reader) (*Manifest, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	m := &Manifest{}
	seen := make(map[string]int)
	lineNo := 0
	sawHeader := false
	var pendingBlank int

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if !sawHeader {
			if line != Header {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("header must be %q, got %q", Header, line)}
			}
			sawHeader = true
			continue
		}

		// Blank lines are tolerated only at the end of the file.
		if strings.TrimSpace(line) == "" {
			pendingBlank = lineNo
			continue
		}
		if pendingBlank != 0 {
			return nil, &ParseError{Line: pendingBlank, Msg: "blank line between sample rows"}
		}

		row, err := parseRow(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		if first, dup := seen[row.SampleID]; dup {
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate sample id %q (first seen on line %d)", row.SampleID, first)}
		}
		seen[row.SampleID] = lineNo
		m.Rows = append(m.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if !sawHeader {
		return nil, &ParseError{Msg: "empty manifest (missing header)"}
	}
	if len(m.Rows) == 0 {
		return nil, &ParseError{Msg: "manifest has no sample rows"}
	}

	return m, nil
}

func parseRow(line string) (Row, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != 3 {
		return Row{}, fmt.Errorf("expected 3 tab-separated columns, got %d", len(cols))
	}

	row := Row{SampleID: cols[0], Forward: cols[1], Reverse: cols[2]}
	if err := checkSampleID(row.SampleID); err != nil {
		return Row{}, err
	}
	for _, p := range []struct{ name, path string }{{"forward", row.Forward}, {"reverse", row.Reverse}} {
		if p.path == "" {
			return Row{}, fmt.Errorf("sample %q: empty %s path", row.SampleID, p.name)
		}
		if !filepath.IsAbs(p.path) {
			return Row{}, fmt.Errorf("sample %q: %s path %q is not absolute", row.SampleID, p.name, p.path)
		}
	}
	return row, nil
}

// checkSampleID applies the identifier rules the importer enforces.
func checkSampleID(id string) error {
	if id == "" {
		return fmt.Errorf("empty sample id")
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("sample id %q has leading or trailing whitespace", id)
	}
	if strings.HasPrefix(id, "#") {
		return fmt.Errorf("sample id %q must not start with '#'", id)
	}
	return nil
}

// ParseFile opens and parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ValidateOptions controls the checks Validate performs beyond the schema.
type ValidateOptions struct {
	CheckPaths bool
}

// Validate re-checks an in-memory manifest (for manifests built in code or by
// Scan) and optionally verifies every read file exists and is a regular file.
func Validate(m *Manifest, opts ValidateOptions) error {
	if m == nil || len(m.Rows) == 0 {
		return &ParseError{Msg: "manifest has no sample rows"}
	}

	seen := make(map[string]bool, len(m.Rows))
	for i, row := range m.Rows {
		line := i + 2 // header is line 1
		if strings.ContainsAny(row.SampleID+row.Forward+row.Reverse, "\t\r\n") {
			return &ParseError{Line: line, Msg: fmt.Sprintf("sample %q: fields must not contain tabs or newlines", row.SampleID)}
		}
		if _, err := parseRow(row.SampleID + "\t" + row.Forward + "\t" + row.Reverse); err != nil {
			return &ParseError{Line: line, Msg: err.Error()}
		}
		if seen[row.SampleID] {
			return &ParseError{Line: line, Msg: fmt.Sprintf("duplicate sample id %q", row.SampleID)}
		}
		seen[row.SampleID] = true

		if row.Forward == row.Reverse {
			return &ParseError{Line: line, Msg: fmt.Sprintf("sample %q: forward and reverse paths are identical", row.SampleID)}
		}

		if !opts.CheckPaths {
			continue
		}
		for _, p := range []string{row.Forward, row.Reverse} {
			info, err := os.Stat(p)
			if err != nil {
				if os.IsNotExist(err) {
					return &ParseError{Line: line, Msg: fmt.Sprintf("sample %q: file not found: %s", row.SampleID, p)}
				}
				return fmt.Errorf("failed to stat %s: %w", p, err)
			}
			if !info.Mode().IsRegular() {
				return &ParseError{Line: line, Msg: fmt.Sprintf("sample %q: not a regular file: %s", row.SampleID, p)}
			}
		}
	}
	return nil
}

// Write encodes m with the header line first, each line ended by le.
func Write(w io.Writer, m *Manifest, le LineEnding) error {
	term := le.Terminator()
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + term); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	for _, row := range m.Rows {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s%s", row.SampleID, row.Forward, row.Reverse, term); err != nil {
			return fmt.Errorf("failed to write manifest row %q: %w", row.SampleID, err)
		}
	}
	return bw.Flush()
}

// WriteFile validates m and writes it to path through a temporary file,
// so a failed write never leaves a truncated manifest behind.
func WriteFile(path string, m *Manifest, le LineEnding, opts ValidateOptions) error {
	if err := Validate(m, opts); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set manifest permissions: %w", err)
	}
	if err := Write(tmp, m, le); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}
