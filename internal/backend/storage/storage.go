package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a file or directory does not exist in the store.
var ErrNotFound = errors.New("not found")

// File is a single file to be written, addressed by a slash separated path.
type File struct {
	Path    string
	Content []byte
}

// Entry describes one child of a listed directory.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
}

// Changeset groups files that are written together. Backends with history
// (git) record all files in one commit carrying Message.
type Changeset struct {
	Message string
	Files   []File
}

// FileStore is where uploaded order files and the order document live.
type FileStore interface {
	// ListDir returns the direct children of dir or ErrNotFound.
	ListDir(ctx context.Context, dir string) ([]Entry, error)
	// ReadFile returns the content of a file or ErrNotFound.
	ReadFile(ctx context.Context, filePath string) ([]byte, error)
	// Apply writes all files of the changeset.
	Apply(ctx context.Context, changes Changeset) error
	// URL returns the reference stored in order records for filePath.
	URL(ctx context.Context, filePath string) (string, error)
	// Type names the backend for logging.
	Type() string
}

// CleanPath normalizes a slash separated store path and rejects paths that
// would leave the store root.
func CleanPath(p string) (string, error) {
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid path %q", p)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" {
		return "", fmt.Errorf("empty path")
	}
	return cleaned, nil
}
