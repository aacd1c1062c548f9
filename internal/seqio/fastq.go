package seqio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// FastqRecord is one four-line FASTQ entry.
type FastqRecord struct {
	ID   string
	Seq  []byte
	Qual []byte
}

// FastqReader iterates over FASTQ records.
type FastqReader struct {
	r    *bufio.Reader
	line int
}

// NewFastqReader wraps r.
func NewFastqReader(r io.Reader) *FastqReader {
	return &FastqReader{r: bufio.NewReader(r)}
}

func (fr *FastqReader) readLine() ([]byte, error) {
	line, err := fr.r.ReadBytes('\n')
	if err != nil && (err != io.EOF || len(line) == 0) {
		return nil, err
	}
	fr.line++
	line = bytes.TrimRight(line, "\r\n")
	return line, nil
}

// Next returns the next record, or io.EOF after the last one.
func (fr *FastqReader) Next() (*FastqRecord, error) {
	header, err := fr.readLine()
	if err != nil {
		return nil, err
	}
	// Skip blank lines between records.
	for len(header) == 0 {
		if header, err = fr.readLine(); err != nil {
			return nil, err
		}
	}
	if header[0] != '@' {
		return nil, fmt.Errorf("fastq line %d: header must start with '@'", fr.line)
	}

	seq, err := fr.readLine()
	if err != nil {
		return nil, fmt.Errorf("fastq line %d: truncated record: %w", fr.line, unexpected(err))
	}
	plus, err := fr.readLine()
	if err != nil {
		return nil, fmt.Errorf("fastq line %d: truncated record: %w", fr.line, unexpected(err))
	}
	if len(plus) == 0 || plus[0] != '+' {
		return nil, fmt.Errorf("fastq line %d: separator must start with '+'", fr.line)
	}
	qual, err := fr.readLine()
	if err != nil {
		return nil, fmt.Errorf("fastq line %d: truncated record: %w", fr.line, unexpected(err))
	}
	if len(qual) != len(seq) {
		return nil, fmt.Errorf("fastq line %d: quality length %d does not match sequence length %d", fr.line, len(qual), len(seq))
	}

	return &FastqRecord{
		ID:   headerID(header[1:]),
		Seq:  append([]byte(nil), seq...),
		Qual: append([]byte(nil), qual...),
	}, nil
}

// MaxReadLength returns the longest sequence among the first limit records
// of the FASTQ at path (all records when limit <= 0) and how many were read.
func MaxReadLength(path string, limit int) (maxLen, reads int, err error) {
	rc, err := Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer rc.Close()

	fr := NewFastqReader(rc)
	for limit <= 0 || reads < limit {
		rec, err := fr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, reads, fmt.Errorf("%s: %w", path, err)
		}
		reads++
		if len(rec.Seq) > maxLen {
			maxLen = len(rec.Seq)
		}
	}
	return maxLen, reads, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// headerID returns the identifier token of a FASTA/FASTQ header line.
func headerID(header []byte) string {
	if i := bytes.IndexAny(header, " \t"); i >= 0 {
		return string(header[:i])
	}
	return string(header)
}
