package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "orders".
	Prefix string
	// PublicBaseURL overrides the virtual-hosted bucket URL in order records.
	PublicBaseURL string
}

// S3Store keeps files as objects in a bucket; directories are key prefixes.
type S3Store struct {
	client  S3API
	options S3Options
}

func NewS3Store(client S3API, options S3Options) (*S3Store, error) {
	if options.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}
	options.Prefix = strings.Trim(options.Prefix, "/")
	return &S3Store{client: client, options: options}, nil
}

func (s *S3Store) Type() string {
	return "s3"
}

func (s *S3Store) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}
	prefix := s.key(cleaned) + "/"

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    sdkaws.String(s.options.Bucket),
		Prefix:    sdkaws.String(prefix),
		Delimiter: sdkaws.String("/"),
	})

	var entries []Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", cleaned, err)
		}
		for _, commonPrefix := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(sdkaws.ToString(commonPrefix.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, Entry{Name: name, Path: path.Join(cleaned, name), IsDir: true})
		}
		for _, object := range page.Contents {
			name := strings.TrimPrefix(sdkaws.ToString(object.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			entries = append(entries, Entry{Name: name, Path: path.Join(cleaned, name)})
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("directory %s: %w", cleaned, ErrNotFound)
	}
	return entries, nil
}

func (s *S3Store) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(s.options.Bucket),
		Key:    sdkaws.String(s.key(cleaned)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("file %s: %w", cleaned, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", cleaned, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cleaned, err)
	}
	return data, nil
}

// Apply puts every file as its own object. S3 has no multi-object commit, so
// callers list the order document last.
func (s *S3Store) Apply(ctx context.Context, changes Changeset) error {
	for _, file := range changes.Files {
		cleaned, err := CleanPath(file.Path)
		if err != nil {
			return err
		}

		input := &s3.PutObjectInput{
			Bucket: sdkaws.String(s.options.Bucket),
			Key:    sdkaws.String(s.key(cleaned)),
			Body:   bytes.NewReader(file.Content),
		}
		if contentType := mime.TypeByExtension(path.Ext(cleaned)); contentType != "" {
			input.ContentType = sdkaws.String(contentType)
		}
		if _, err := s.client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("failed to put %s: %w", cleaned, err)
		}
	}
	slog.Debug("s3 store applied changes", "message", changes.Message, "file_count", len(changes.Files))
	return nil
}

func (s *S3Store) URL(ctx context.Context, filePath string) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	if s.options.PublicBaseURL != "" {
		return strings.TrimSuffix(s.options.PublicBaseURL, "/") + "/" + s.key(cleaned), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.options.Bucket, s.key(cleaned)), nil
}

func (s *S3Store) key(cleaned string) string {
	if s.options.Prefix == "" {
		return cleaned
	}
	return s.options.Prefix + "/" + cleaned
}
