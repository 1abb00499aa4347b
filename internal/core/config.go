package core

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jo-hoe/goprint/internal/backend/commandstructure"
	"gopkg.in/yaml.v3"
)

const (
	PolicyExact   = "exact"
	PolicyBounded = "bounded"

	defaultPort           = 3000
	defaultOrdersDocument = "pedidos.json"
	defaultUsersFile      = "usuarios.json"
	DefaultInitialStatus  = "Revisión del cliente"
	defaultFallback       = "otros"
	defaultMaxUploadSize  = "200M"
	defaultThumbnailWidth = 320
	defaultSessionTTL     = 12 * time.Hour
	defaultSQLitePath     = "goprint.db"
	defaultRedisURL       = "redis://localhost:6379/0"
)

// CommandConfig represents a generic command configuration
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type GitHubConfig struct {
	Owner        string        `yaml:"owner"`
	Repo         string        `yaml:"repo"`
	Branch       string        `yaml:"branch"`
	TokenEnv     string        `yaml:"tokenEnv"`
	APIBaseURL   string        `yaml:"apiBaseURL"`
	RawBaseURL   string        `yaml:"rawBaseURL"`
	RequestDelay time.Duration `yaml:"requestDelay"`
	CommitSuffix string        `yaml:"commitSuffix"`
	AuthorName   string        `yaml:"authorName"`
	AuthorEmail  string        `yaml:"authorEmail"`
}

type S3Config struct {
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	PublicBaseURL string `yaml:"publicBaseURL"`
}

type Storage struct {
	Type   string       `yaml:"type"`
	Root   string       `yaml:"root"`
	GitHub GitHubConfig `yaml:"github"`
	S3     S3Config     `yaml:"s3"`
}

// CategoryConfig describes a product category and the image policy applied to it.
type CategoryConfig struct {
	Name      string `yaml:"name"`
	Keyword   string `yaml:"keyword"`
	Policy    string `yaml:"policy"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Tolerance int    `yaml:"tolerance"`
}

type UserConfig struct {
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	Email       string `yaml:"email" json:"email"`
	RedirectURL string `yaml:"redirectUrl" json:"redirectUrl,omitempty"`
}

type ModelsConfig struct {
	Men   string `yaml:"hombre"`
	Women string `yaml:"mujer"`
}

type ServiceConfig struct {
	Port             int              `yaml:"port"`
	Database         Database         `yaml:"database"`
	Storage          Storage          `yaml:"storage"`
	OrdersDocument   string           `yaml:"ordersDocument"`
	UsersFile        string           `yaml:"usersFile"`
	Users            []UserConfig     `yaml:"users"`
	DefaultEmail     string           `yaml:"defaultAdminEmail"`
	NotifyExclude    []string         `yaml:"notifyExclude"`
	InitialStatus    string           `yaml:"initialStatus"`
	TimeZone         string           `yaml:"timeZone"`
	MaxUploadSize    string           `yaml:"maxUploadSize"`
	AllowOrigins     []string         `yaml:"allowOrigins"`
	SessionTTL       time.Duration    `yaml:"sessionTTL"`
	FallbackCategory string           `yaml:"fallbackCategory"`
	Categories       []CategoryConfig `yaml:"categories"`
	ThumbnailWidth   int              `yaml:"thumbnailWidth"`
	Commands         []CommandConfig  `yaml:"commands"`
	Models           ModelsConfig     `yaml:"models"`
}

// DefaultCategories returns the mug and shirt categories with their print boxes.
func DefaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{Name: "mug", Keyword: "mug", Policy: PolicyExact, Width: 2304, Height: 934, Tolerance: 50},
		{Name: "camiseta", Keyword: "camiseta", Policy: PolicyBounded, Width: 2482, Height: 3510, Tolerance: 20},
	}
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML config data, applies defaults and validates the result.
func ParseConfig(data []byte) (*ServiceConfig, error) {
	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := validateCategories(config.Categories); err != nil {
		return nil, fmt.Errorf("invalid category configuration: %w", err)
	}
	if err := validateCommands(config.Commands); err != nil {
		return nil, fmt.Errorf("invalid command configuration: %w", err)
	}
	if err := validateBackends(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Database.Type == "" {
		c.Database.Type = "json"
	}
	if c.Database.ConnectionString == "" {
		switch c.Database.Type {
		case "sqlite":
			c.Database.ConnectionString = defaultSQLitePath
		case "redis":
			c.Database.ConnectionString = defaultRedisURL
		}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "."
	}
	if c.Storage.GitHub.TokenEnv == "" {
		c.Storage.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if c.OrdersDocument == "" {
		c.OrdersDocument = defaultOrdersDocument
	}
	if c.UsersFile == "" {
		c.UsersFile = defaultUsersFile
	}
	if c.InitialStatus == "" {
		c.InitialStatus = DefaultInitialStatus
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = defaultMaxUploadSize
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.FallbackCategory == "" {
		c.FallbackCategory = defaultFallback
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories()
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = defaultThumbnailWidth
	}
}

// Location returns the configured time zone, falling back to local time.
func (c *ServiceConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		slog.Warn("unknown time zone, using local time", "timeZone", c.TimeZone, "error", err)
		return time.Local
	}
	return loc
}

// validateCategories ensures all categories have a name, a known policy and a box
func validateCategories(categories []CategoryConfig) error {
	seenNames := make(map[string]bool)

	for i, cat := range categories {
		if cat.Name == "" {
			return fmt.Errorf("category at index %d has empty name", i)
		}
		if seenNames[cat.Name] {
			return fmt.Errorf("duplicate category name: %s", cat.Name)
		}
		seenNames[cat.Name] = true

		if cat.Policy != PolicyExact && cat.Policy != PolicyBounded {
			return fmt.Errorf("category %s has unknown policy %q", cat.Name, cat.Policy)
		}
		if cat.Width <= 0 || cat.Height <= 0 {
			return fmt.Errorf("category %s needs a positive width and height", cat.Name)
		}
		if cat.Tolerance < 0 {
			return fmt.Errorf("category %s has negative tolerance", cat.Name)
		}
	}

	return nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		// Validate name is not empty
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}

		if !commandstructure.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command %q at index %d, available: %s",
				cmd.Name, i, strings.Join(commandstructure.DefaultRegistry.GetRegisteredNames(), ", "))
		}

		// Validate name is unique
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}

	return nil
}

func validateBackends(c *ServiceConfig) error {
	switch c.Storage.Type {
	case "local":
	case "github":
		if c.Storage.GitHub.Owner == "" || c.Storage.GitHub.Repo == "" {
			return fmt.Errorf("github storage requires owner and repo")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires a bucket")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.Database.Type {
	case "json", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}
