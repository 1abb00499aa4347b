package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
)

// LocalStore keeps files below a root directory on the local filesystem.
// Stored files are referenced by root relative URLs ("/img/...").
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Type() string {
	return "local"
}

// Root returns the directory files are stored in.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(s.fullPath(cleaned))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory %s: %w", cleaned, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", cleaned, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, e := range dirEntries {
		entries = append(entries, Entry{
			Name:  e.Name(),
			Path:  path.Join(cleaned, e.Name()),
			IsDir: e.IsDir(),
		})
	}
	return entries, nil
}

func (s *LocalStore) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.fullPath(cleaned))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", cleaned, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", cleaned, err)
	}
	return data, nil
}

// Apply writes each file through a temporary sibling and a rename so readers
// never observe a partially written order document.
func (s *LocalStore) Apply(ctx context.Context, changes Changeset) error {
	for _, file := range changes.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		cleaned, err := CleanPath(file.Path)
		if err != nil {
			return err
		}
		if err := s.writeFile(cleaned, file.Content); err != nil {
			return err
		}
	}
	slog.Debug("local store applied changes", "message", changes.Message, "file_count", len(changes.Files))
	return nil
}

func (s *LocalStore) URL(ctx context.Context, filePath string) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	return "/" + cleaned, nil
}

func (s *LocalStore) writeFile(cleaned string, content []byte) error {
	target := s.fullPath(cleaned)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", cleaned, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", cleaned, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", cleaned, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", cleaned, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", cleaned, err)
	}
	return nil
}

func (s *LocalStore) fullPath(cleaned string) string {
	return filepath.Join(s.root, filepath.FromSlash(cleaned))
}
