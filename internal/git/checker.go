// Package git records which analysis revision produced a run.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Checker inspects the Git repository containing Dir.
type Checker struct {
	Dir string
}

// NewChecker creates a checker rooted at dir ("" means the current directory).
func NewChecker(dir string) *Checker {
	return &Checker{Dir: dir}
}

func (c *Checker) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.Dir
	out, err := cmd.Output()
	return strings.TrimSpace(string(out)), err
}

// IsGitRepository checks if Dir is within a Git repository
func (c *Checker) IsGitRepository() (bool, error) {
	if _, err := c.git("rev-parse", "--git-dir"); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return false, fmt.Errorf("git not found in PATH")
		}
		return false, nil
	}
	return true, nil
}

// IsWorkspaceClean returns true if the working tree has no uncommitted changes,
// untracked files included.
func (c *Checker) IsWorkspaceClean() (bool, error) {
	out, err := c.git("status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check Git status: %w", err)
	}
	return out == "", nil
}

// Revision returns the HEAD commit, suffixed with "-dirty" when the working
// tree has changes. Outside a repository (or without git) it returns "".
func (c *Checker) Revision() (string, error) {
	isRepo, err := c.IsGitRepository()
	if err != nil || !isRepo {
		return "", nil
	}
	head, err := c.git("rev-parse", "HEAD")
	if err != nil {
		// Repository without commits.
		return "", nil
	}
	clean, err := c.IsWorkspaceClean()
	if err != nil {
		return "", err
	}
	if !clean {
		return head + "-dirty", nil
	}
	return head, nil
}
