package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jo-hoe/goprint/internal/backend/commandstructure"
	"github.com/jo-hoe/goprint/internal/backend/database"
	"github.com/jo-hoe/goprint/internal/backend/storage"

	// registers the image commands in the default registry
	_ "github.com/jo-hoe/goprint/internal/backend/commands"
)

type CoreService struct {
	config          *ServiceConfig
	files           storage.FileStore
	databaseService database.DatabaseService
	users           *UserDirectory
	sessions        *SessionManager
	thumbnails      *commandstructure.CommandInvoker
	location        *time.Location

	// mu serialises folder numbering with the write of the order, and status updates
	mu sync.Mutex
}

func NewCoreService(config *ServiceConfig) *CoreService {
	service, err := newCoreService(context.Background(), config)
	if err != nil {
		slog.Error("failed to initialize core service", "error", err)
		panic(err)
	}
	return service
}

func newCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	files, err := getFileStore(ctx, config)
	if err != nil {
		return nil, err
	}
	databaseService, err := getDatabaseService(config, files)
	if err != nil {
		return nil, err
	}
	users, err := getUserDirectory(ctx, config)
	if err != nil {
		_ = databaseService.Close()
		return nil, err
	}
	thumbnails, err := commandstructure.NewCommandInvokerFromConfig(commandstructure.DefaultRegistry, thumbnailCommands(config))
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to build thumbnail pipeline: %w", err)
	}
	slog.Debug("thumbnail pipeline ready", "command_count", thumbnails.Len())

	return &CoreService{
		config:          config,
		files:           files,
		databaseService: databaseService,
		users:           users,
		sessions:        NewSessionManager(config.SessionTTL),
		thumbnails:      thumbnails,
		location:        config.Location(),
	}, nil
}

func (s *CoreService) Close() error {
	return s.databaseService.Close()
}

// Files exposes the file store, e.g. to serve local uploads.
func (s *CoreService) Files() storage.FileStore {
	return s.files
}

func (s *CoreService) Users() *UserDirectory {
	return s.users
}

func (s *CoreService) Sessions() *SessionManager {
	return s.sessions
}

// Thumbnail renders a preview of a stored image through the configured command pipeline.
func (s *CoreService) Thumbnail(ctx context.Context, filePath string) ([]byte, error) {
	cleaned, err := storage.CleanPath(filePath)
	if err != nil || !strings.HasPrefix(cleaned, imageRoot+"/") {
		return nil, invalidf("invalid image path %q", filePath)
	}
	content, err := s.files.ReadFile(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	thumbnail, err := s.thumbnails.Execute(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return thumbnail, nil
}

func thumbnailCommands(config *ServiceConfig) []commandstructure.CommandConfig {
	if len(config.Commands) > 0 {
		commands := make([]commandstructure.CommandConfig, 0, len(config.Commands))
		for _, command := range config.Commands {
			commands = append(commands, commandstructure.CommandConfig{Name: command.Name, Params: command.Params})
		}
		return commands
	}
	return []commandstructure.CommandConfig{
		{Name: "PngConverterCommand", Params: map[string]any{
			"svgFallbackWidth":  config.ThumbnailWidth,
			"svgFallbackHeight": config.ThumbnailWidth,
		}},
		{Name: "ThumbnailCommand", Params: map[string]any{"maxWidth": config.ThumbnailWidth}},
	}
}

func getFileStore(ctx context.Context, config *ServiceConfig) (storage.FileStore, error) {
	var files storage.FileStore
	var err error

	switch config.Storage.Type {
	case "local":
		files, err = storage.NewLocalStore(config.Storage.Root)
	case "github":
		files, err = newGitHubStore(config.Storage.GitHub)
	case "s3":
		files, err = newS3Store(ctx, config.Storage.S3)
	default:
		err = fmt.Errorf("unsupported storage type: %s", config.Storage.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}
	slog.Info("file store initialized successfully", "type", files.Type())
	return files, nil
}

func newGitHubStore(config GitHubConfig) (storage.FileStore, error) {
	token := os.Getenv(config.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("github storage requires a token in %s", config.TokenEnv)
	}
	return storage.NewGitHubStore(storage.GitHubOptions{
		Owner:        config.Owner,
		Repo:         config.Repo,
		Branch:       config.Branch,
		Token:        token,
		APIBaseURL:   config.APIBaseURL,
		RawBaseURL:   config.RawBaseURL,
		RequestDelay: config.RequestDelay,
		AuthorName:   config.AuthorName,
		AuthorEmail:  config.AuthorEmail,
	}, nil)
}

func newS3Store(ctx context.Context, config S3Config) (storage.FileStore, error) {
	var options []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		options = append(options, awsconfig.WithRegion(config.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3Store(client, storage.S3Options{
		Bucket:        config.Bucket,
		Prefix:        config.Prefix,
		PublicBaseURL: config.PublicBaseURL,
	})
}

func getDatabaseService(config *ServiceConfig, files storage.FileStore) (database.DatabaseService, error) {
	connectionString := config.Database.ConnectionString
	if config.Database.Type == "json" {
		connectionString = config.OrdersDocument
	}
	databaseService, err := database.NewDatabase(config.Database.Type, connectionString, files)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

// getUserDirectory reads the users file from local disk regardless of the
// file store, so credentials never land in the order repository.
func getUserDirectory(ctx context.Context, config *ServiceConfig) (*UserDirectory, error) {
	dir, name := filepath.Split(config.UsersFile)
	if dir == "" {
		dir = "."
	}
	files, err := storage.NewLocalStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open users directory: %w", err)
	}
	users, err := NewUserDirectory(ctx, files, name, config.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

// IsNotFound reports whether err means a missing order, file or folder.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, database.ErrOrderNotFound)
}
