package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// readNamePatterns recognise paired read files, most specific first.
// Group 1 is the sample id, group 2 the read direction (1 or 2).
var readNamePatterns = []*regexp.Regexp{
	// Illumina bcl2fastq: Sample_S1_L001_R1_001.fastq.gz
	regexp.MustCompile(`^(.+?)_S\d+_L\d{3}_R([12])_001\.(?:fastq|fq)(?:\.gz)?$`),
	// Sample_R1.fastq, Sample.R2_001.fq.gz
	regexp.MustCompile(`^(.+?)[_.]R([12])(?:_001)?\.(?:fastq|fq)(?:\.gz)?$`),
	// Sample_1.fastq.gz (SRA style)
	regexp.MustCompile(`^(.+?)_([12])\.(?:fastq|fq)(?:\.gz)?$`),
}

// ScanOptions controls directory-based manifest generation.
type ScanOptions struct {
	// Glob restricts candidate file names (matched against the base name).
	// Empty means every FASTQ file.
	Glob string
	// Recursive descends into sub-directories.
	Recursive bool
}

// ScanError lists every problem found while pairing files so the operator
// can fix the directory in one pass.
type ScanError struct {
	Dir      string
	Problems []string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("cannot build manifest from %s:\n  %s", e.Dir, strings.Join(e.Problems, "\n  "))
}

// Scan builds a manifest from the paired FASTQ files found in dir.
// Rows are sorted by sample id so repeated scans yield identical manifests.
func Scan(dir string, opts ScanOptions) (*Manifest, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if opts.Glob != "" {
		if _, err := filepath.Match(opts.Glob, ""); err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", opts.Glob, err)
		}
	}

	type pair struct{ fwd, rev string }
	pairs := make(map[string]*pair)
	var problems []string

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if opts.Glob != "" {
			if ok, _ := filepath.Match(opts.Glob, name); !ok {
				return nil
			}
		}

		sampleID, direction, ok := classify(name)
		if !ok {
			return nil
		}

		p := pairs[sampleID]
		if p == nil {
			p = &pair{}
			pairs[sampleID] = p
		}
		slot := &p.fwd
		if direction == "2" {
			slot = &p.rev
		}
		if *slot != "" {
			problems = append(problems, fmt.Sprintf("sample %q: two R%s files (%s, %s)", sampleID, direction, *slot, path))
			return nil
		}
		*slot = path
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, walkErr)
	}

	ids := make([]string, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	m := &Manifest{}
	for _, id := range ids {
		p := pairs[id]
		switch {
		case p.fwd == "":
			problems = append(problems, fmt.Sprintf("sample %q: reverse file %s has no forward mate", id, p.rev))
		case p.rev == "":
			problems = append(problems, fmt.Sprintf("sample %q: forward file %s has no reverse mate", id, p.fwd))
		default:
			m.Rows = append(m.Rows, Row{SampleID: id, Forward: p.fwd, Reverse: p.rev})
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ScanError{Dir: root, Problems: problems}
	}
	if len(m.Rows) == 0 {
		return nil, &ScanError{Dir: root, Problems: []string{"no paired FASTQ files found"}}
	}
	return m, nil
}

// classify extracts the sample id and read direction from a file name.
func classify(name string) (sampleID, direction string, ok bool) {
	for _, re := range readNamePatterns {
		if m := re.FindStringSubmatch(name); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}
