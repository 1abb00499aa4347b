package core

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/jo-hoe/goprint/internal/backend/storage"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

var folderSegment = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// FolderArchive holds the files of one order folder, read up front so a
// missing folder is reported before any response is written.
type FolderArchive struct {
	Name  string
	files []storage.File
}

func (s *CoreService) FolderArchive(ctx context.Context, category, folder string) (*FolderArchive, error) {
	if !folderSegment.MatchString(category) || !folderSegment.MatchString(folder) {
		return nil, invalidf("invalid folder %s/%s", category, folder)
	}

	entries, err := s.files.ListDir(ctx, folderPath(category, folder))
	if err != nil {
		return nil, err
	}

	archive := &FolderArchive{Name: folder + ".zip"}
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		content, err := s.files.ReadFile(ctx, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Path, err)
		}
		archive.files = append(archive.files, storage.File{Path: entry.Name, Content: content})
	}
	return archive, nil
}

// Len returns the number of files in the archive.
func (a *FolderArchive) Len() int {
	return len(a.files)
}

// Write streams the archive as a ZIP compressed at the highest deflate level.
func (a *FolderArchive) Write(w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	modified := time.Now()
	for _, file := range a.files {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     file.Path,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", file.Path, err)
		}
		if _, err := entry.Write(file.Content); err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", file.Path, err)
		}
	}
	return zw.Close()
}
