package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/ampli/internal/runner"
)

// stagingPlaceholder stands in for the staging directory when hashing, so
// the same stage over the same inputs always hashes the same.
const stagingPlaceholder = "$STAGING"

// fileDigest returns the hex sha256 and size of the file at p.
func fileDigest(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// invocationHash covers the stage name, every argv with work-dir paths made
// relative, and the digest of every input file.
func invocationHash(stageName, workDir string, invs []runner.Invocation, inputs []string) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "stage\x00%s\n", stageName)
	for _, inv := range invs {
		args := make([]string, len(inv.Args))
		for i, a := range inv.Args {
			args[i] = relativize(workDir, a)
		}
		fmt.Fprintf(h, "argv\x00%s\n", strings.Join(args, "\x00"))
	}
	for _, in := range inputs {
		digest, _, err := fileDigest(in)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "input\x00%s\x00%s\n", relativize(workDir, in), digest)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func relativize(workDir, arg string) string {
	if arg == workDir {
		return "$WORK"
	}
	prefix := workDir + string(filepath.Separator)
	if strings.HasPrefix(arg, prefix) {
		return "$WORK/" + filepath.ToSlash(strings.TrimPrefix(arg, prefix))
	}
	return arg
}
