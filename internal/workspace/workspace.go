// Package workspace manages the pipeline work directory: fixed output
// locations, per-stage staging directories and the run lock.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	stagingDirName = ".staging"
	exportDirName  = "exported"
	lockFileName   = "ampli.lock"
)

// Workspace is an absolute, existing work directory.
type Workspace struct {
	Root string
}

// Open resolves dir to a canonical absolute path and creates it if needed.
func Open(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	// Resolve symlinks so bind mounts and collision checks see one path.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve symlinks: %w", err)
	}
	return &Workspace{Root: real}, nil
}

// Path returns the location of a promoted output.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Root, name)
}

// ExportDir returns the directory holding exported plain-text files.
func (w *Workspace) ExportDir() string {
	return filepath.Join(w.Root, exportDirName)
}

// Staging is a private directory a stage writes into before promotion.
type Staging struct {
	Dir string
}

// NewStaging creates a fresh staging directory for stage.
func (w *Workspace) NewStaging(stage string) (*Staging, error) {
	parent := filepath.Join(w.Root, stagingDirName)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}
	dir := filepath.Join(parent, fmt.Sprintf("%s-%s", stage, uuid.New().String()[:8]))
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Staging{Dir: dir}, nil
}

// Path returns a file location inside the staging directory.
func (s *Staging) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Promote moves the named files into dest once every one of them exists.
// When any is missing nothing is moved and a *MissingOutputsError is returned.
// Returns the promoted paths in the order given.
func (s *Staging) Promote(dest string, names ...string) ([]string, error) {
	var missing []string
	for _, name := range names {
		info, err := os.Stat(s.Path(name))
		if err != nil || !info.Mode().IsRegular() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingOutputsError{Names: missing}
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	paths := make([]string, 0, len(names))
	for _, name := range names {
		target := filepath.Join(dest, name)
		if err := os.Rename(s.Path(name), target); err != nil {
			return nil, fmt.Errorf("failed to promote %s: %w", name, err)
		}
		paths = append(paths, target)
	}
	return paths, nil
}

// Discard removes the staging directory and anything left in it.
func (s *Staging) Discard() error {
	return os.RemoveAll(s.Dir)
}

// MissingOutputsError reports declared outputs a tool did not produce.
type MissingOutputsError struct {
	Names []string
}

func (e *MissingOutputsError) Error() string {
	return fmt.Sprintf("tool did not produce declared outputs: %s", strings.Join(e.Names, ", "))
}

// CheckCollisions fails when any output path equals an input path.
func CheckCollisions(inputs, outputs []string) error {
	in := make(map[string]bool, len(inputs))
	for _, p := range inputs {
		in[filepath.Clean(p)] = true
	}
	for _, p := range outputs {
		if in[filepath.Clean(p)] {
			return fmt.Errorf("output %s would overwrite an input", p)
		}
	}
	return nil
}

// Lock marks the workspace as used by one run. Stages never run concurrently
// against the same work directory.
type Lock struct {
	path string
}

// LockedError is returned when another run holds the workspace.
type LockedError struct {
	Path  string
	PID   int
	RunID string
	Since time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("work directory is in use by run %s (pid %d, since %s)", e.RunID, e.PID, e.Since.Format(time.RFC3339))
}

// Acquire takes the workspace lock for runID.
func (w *Workspace) Acquire(runID string) (*Lock, error) {
	path := filepath.Join(w.Root, lockFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, readLock(path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n%s\n%d\n", os.Getpid(), runID, time.Now().Unix())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %v", errors.Join(werr, cerr))
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ForceUnlock removes a lock left behind by a run that was killed.
func (w *Workspace) ForceUnlock() error {
	return (&Lock{path: filepath.Join(w.Root, lockFileName)}).Release()
}

func readLock(path string) error {
	e := &LockedError{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return e
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) > 0 {
		e.PID, _ = strconv.Atoi(lines[0])
	}
	if len(lines) > 1 {
		e.RunID = lines[1]
	}
	if len(lines) > 2 {
		if ts, err := strconv.ParseInt(lines[2], 10, 64); err == nil {
			e.Since = time.Unix(ts, 0)
		}
	}
	return e
}
