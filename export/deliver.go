package export

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileWriter delivers artifacts to a directory on disk
type FileWriter struct {
	dir string
}

// NewFileWriter creates a delivery target rooted at dir, creating it if needed
func NewFileWriter(dir string) (*FileWriter, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir %s: %w", dir, err)
	}
	return &FileWriter{dir: dir}, nil
}

// Dir returns the delivery directory
func (w *FileWriter) Dir() string {
	return w.dir
}

// Deliver writes the artifact to disk under its own name
func (w *FileWriter) Deliver(a Artifact) error {
	if a.Name == "" {
		return fmt.Errorf("artifact has no name")
	}
	path := filepath.Join(w.dir, a.Name)
	if err := os.WriteFile(path, a.Payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
