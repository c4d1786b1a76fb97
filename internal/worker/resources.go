package worker

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed runtime/*.py
var runtimeFS embed.FS

// RunnerFile is the entry script inside the resource directory.
const RunnerFile = "runner.py"

// EnsureResources writes the embedded runtime scripts into dir and returns
// its absolute path. Files already holding the same bytes are left alone.
func EnsureResources(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resource dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create resource dir: %w", err)
	}

	entries, err := fs.ReadDir(runtimeFS, "runtime")
	if err != nil {
		return "", fmt.Errorf("read embedded runtime: %w", err)
	}
	for _, e := range entries {
		want, err := runtimeFS.ReadFile("runtime/" + e.Name())
		if err != nil {
			return "", err
		}
		dst := filepath.Join(abs, e.Name())
		if have, err := os.ReadFile(dst); err == nil && bytes.Equal(have, want) {
			continue
		}
		if err := os.WriteFile(dst, want, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", dst, err)
		}
	}
	return abs, nil
}
