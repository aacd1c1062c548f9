package qza

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

// Create writes an archive with the given metadata and payload files (keyed
// by path relative to data/). Used to build fixtures and by tool doubles.
func Create(p string, meta Metadata, files map[string][]byte) error {
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	write := func(name string, data []byte) error {
		w, err := zw.Create(path.Join(meta.UUID, name))
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	raw, err := yaml.Marshal(meta)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := write(metadataName, raw); err != nil {
		f.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := write("VERSION", []byte("QIIME 2\narchive: 5\nframework: 2024.5.0\n")); err != nil {
		f.Close()
		return fmt.Errorf("failed to write VERSION: %w", err)
	}

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := write(path.Join(dataDir, n), files[n]); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", n, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return f.Close()
}
