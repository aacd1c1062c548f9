package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// FastaRecord is one FASTA entry. ID is the header up to the first
// whitespace, exactly as written upstream.
type FastaRecord struct {
	ID  string
	Seq []byte
}

// ReadFasta parses every record from r.
func ReadFasta(r io.Reader) ([]FastaRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		records []FastaRecord
		cur     *FastaRecord
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		line := bytes.TrimRight(sc.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			id := headerID(line[1:])
			if id == "" {
				return nil, fmt.Errorf("fasta line %d: empty sequence id", lineNo)
			}
			records = append(records, FastaRecord{ID: id})
			cur = &records[len(records)-1]
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("fasta line %d: sequence data before first header", lineNo)
		}
		cur.Seq = append(cur.Seq, line...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fasta: %w", err)
	}
	return records, nil
}

// ReadFastaFile parses the FASTA at path.
func ReadFastaFile(path string) ([]FastaRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFasta(f)
}

// FastaIDs returns the record ids and fails on a duplicate id.
func FastaIDs(records []FastaRecord) ([]string, error) {
	seen := make(map[string]bool, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate sequence id %q", r.ID)
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	return ids, nil
}
