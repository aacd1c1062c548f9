// Package qza reads QIIME 2 archives (.qza/.qzv): a zip holding
// <uuid>/metadata.yaml and the payload under <uuid>/data/.
package qza

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/dyluth/ampli/internal/newick"
	"github.com/dyluth/ampli/internal/seqio"
	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

// Semantic types produced by the pipeline stages.
const (
	TypePairedEndDemux  = "SampleData[PairedEndSequencesWithQuality]"
	TypeFeatureTable    = "FeatureTable[Frequency]"
	TypeRepSeqs         = "FeatureData[Sequence]"
	TypeDenoisingStats  = "SampleData[DADA2Stats]"
	TypeAlignedSeqs     = "FeatureData[AlignedSequence]"
	TypeUnrootedTree    = "Phylogeny[Unrooted]"
	TypeRootedTree      = "Phylogeny[Rooted]"
	TypeVisualization   = "Visualization"
	manifestName        = "MANIFEST"
	repSeqsName         = "dna-sequences.fasta"
	treeName            = "tree.nwk"
	metadataName        = "metadata.yaml"
	dataDir             = "data"
	maxMetadataFileSize = 1 << 20
)

// ErrNotArchive is returned for files that are not QIIME 2 archives.
var ErrNotArchive = errors.New("not a QIIME 2 archive")

// Metadata mirrors metadata.yaml at the archive root.
type Metadata struct {
	UUID   string `yaml:"uuid"`
	Type   string `yaml:"type"`
	Format string `yaml:"format"`
}

// Archive is an open .qza/.qzv file.
type Archive struct {
	Path string
	Metadata

	zr   *zip.ReadCloser
	data map[string]*zip.File // keyed by path relative to data/
}

// Open opens the archive at p and decodes its metadata.
func Open(p string) (*Archive, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotArchive)
		}
		return nil, fmt.Errorf("failed to open archive %s: %w", p, err)
	}

	a := &Archive{Path: p, zr: zr, data: make(map[string]*zip.File)}
	if err := a.index(); err != nil {
		zr.Close()
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return a, nil
}

func (a *Archive) index() error {
	var root string
	var meta *zip.File
	for _, f := range a.zr.File {
		name := strings.TrimPrefix(f.Name, "./")
		parts := strings.SplitN(name, "/", 2)
		if len(parts) != 2 {
			continue
		}
		if root == "" {
			root = parts[0]
		} else if parts[0] != root {
			return fmt.Errorf("%w: multiple root directories (%s, %s)", ErrNotArchive, root, parts[0])
		}
		rest := parts[1]
		switch {
		case rest == metadataName:
			meta = f
		case strings.HasPrefix(rest, dataDir+"/") && !strings.HasSuffix(rest, "/"):
			a.data[strings.TrimPrefix(rest, dataDir+"/")] = f
		}
	}
	if meta == nil {
		return fmt.Errorf("%w: missing %s", ErrNotArchive, metadataName)
	}

	raw, err := readAll(meta, maxMetadataFileSize)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", metadataName, err)
	}
	if err := yaml.Unmarshal(raw, &a.Metadata); err != nil {
		return fmt.Errorf("failed to parse %s: %w", metadataName, err)
	}
	if a.UUID == "" || a.Type == "" {
		return fmt.Errorf("%w: %s lacks uuid or type", ErrNotArchive, metadataName)
	}
	if a.UUID != root {
		return fmt.Errorf("%w: root directory %s does not match uuid %s", ErrNotArchive, root, a.UUID)
	}
	return nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	return a.zr.Close()
}

// Files lists the payload files relative to data/, sorted.
func (a *Archive) Files() []string {
	names := make([]string, 0, len(a.data))
	for n := range a.data {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenFile opens a payload file by its path relative to data/.
func (a *Archive) OpenFile(name string) (io.ReadCloser, error) {
	f, ok := a.data[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("%s: no data file %q", a.Path, name)
	}
	return f.Open()
}

// ExpectType fails unless the archive carries the given semantic type.
func (a *Archive) ExpectType(want string) error {
	if a.Type != want {
		return &TypeError{Path: a.Path, Want: want, Got: a.Type}
	}
	return nil
}

// TypeError reports an archive of the wrong semantic type.
type TypeError struct {
	Path string
	Want string
	Got  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s has semantic type %s, expected %s", e.Path, e.Got, e.Want)
}

// SampleIDs returns the distinct sample ids listed in data/MANIFEST of a
// demultiplexed sequence archive, in first-seen order.
func (a *Archive) SampleIDs() ([]string, error) {
	rc, err := a.OpenFile(manifestName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var body bytes.Buffer
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifestName, err)
	}

	records, err := csv.NewReader(&body).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", manifestName, err)
	}
	if len(records) == 0 || len(records[0]) == 0 || records[0][0] != "sample-id" {
		return nil, fmt.Errorf("%s: %s has no sample-id header", a.Path, manifestName)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, rec := range records[1:] {
		if !seen[rec[0]] {
			seen[rec[0]] = true
			ids = append(ids, rec[0])
		}
	}
	return ids, nil
}

// SequenceIDs returns the ids of the representative sequences.
func (a *Archive) SequenceIDs() ([]string, error) {
	rc, err := a.OpenFile(repSeqsName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	records, err := seqio.ReadFasta(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Path, err)
	}
	return seqio.FastaIDs(records)
}

// TreeLeaves returns the tip labels of a phylogeny archive.
func (a *Archive) TreeLeaves() ([]string, error) {
	rc, err := a.OpenFile(treeName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	leaves, err := newick.ReadLeaves(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Path, err)
	}
	return leaves, nil
}

// Peek returns the metadata of the archive at p without keeping it open.
func Peek(p string) (Metadata, error) {
	a, err := Open(p)
	if err != nil {
		return Metadata{}, err
	}
	defer a.Close()
	return a.Metadata, nil
}

func readAll(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}
