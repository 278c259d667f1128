package file

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// EnsureDir creates dir (and parents) when it does not exist yet.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("directory path is empty")
	}
	return os.MkdirAll(dir, 0o755)
}

// WriteAtomic writes data to path via a temporary sibling file and rename,
// so readers never observe a partially written file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeName converts an arbitrary title into a filesystem-safe file name
// fragment. Consecutive unsafe characters collapse into a single dash.
func SafeName(title string) string {
	name := unsafePathChars.ReplaceAllString(strings.TrimSpace(title), "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "untitled"
	}
	if len(name) > 120 {
		name = name[:120]
	}
	return name
}
