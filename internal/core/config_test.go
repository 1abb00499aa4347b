package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `port: 8080
database:
  type: sqlite
  connectionString: ":memory:"
storage:
  type: github
  github:
    owner: printshop
    repo: orders
    requestDelay: 500ms
    commitSuffix: "[skip render]"
timeZone: UTC
commands:
  - name: PngConverterCommand
  - name: ThumbnailCommand
    maxWidth: 200`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != 8080 {
		t.Errorf("Expected port to be 8080, got %d", config.Port)
	}
	if config.Database.Type != "sqlite" {
		t.Errorf("Expected database type sqlite, got %q", config.Database.Type)
	}
	if config.Storage.GitHub.RequestDelay != 500*time.Millisecond {
		t.Errorf("Expected request delay 500ms, got %v", config.Storage.GitHub.RequestDelay)
	}
	if config.Storage.GitHub.TokenEnv != "GITHUB_TOKEN" {
		t.Errorf("Expected default token env GITHUB_TOKEN, got %q", config.Storage.GitHub.TokenEnv)
	}
	if len(config.Commands) != 2 || config.Commands[1].Params["maxWidth"] != 200 {
		t.Errorf("Expected inline command params to be parsed, got %+v", config.Commands)
	}
	if config.Location().String() != "UTC" {
		t.Errorf("Expected UTC location, got %s", config.Location())
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	config, err := LoadConfig("/path/that/does/not/exist/config.yaml")
	if err == nil {
		t.Fatal("Expected error for non-existent file, got nil")
	}
	if config != nil {
		t.Error("Expected config to be nil when file doesn't exist")
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	config, err := ParseConfig([]byte("{}"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if config.Port != defaultPort {
		t.Errorf("Expected default port %d, got %d", defaultPort, config.Port)
	}
	if config.Storage.Type != "local" || config.Database.Type != "json" {
		t.Errorf("Expected local/json backends, got %s/%s", config.Storage.Type, config.Database.Type)
	}
	if config.OrdersDocument != "pedidos.json" {
		t.Errorf("Expected pedidos.json, got %q", config.OrdersDocument)
	}
	if config.InitialStatus != "Revisión del cliente" {
		t.Errorf("Unexpected initial status %q", config.InitialStatus)
	}
	if len(config.Categories) != 2 {
		t.Fatalf("Expected 2 default categories, got %d", len(config.Categories))
	}
	if config.Categories[0].Width != 2304 || config.Categories[0].Height != 934 || config.Categories[0].Tolerance != 50 {
		t.Errorf("Unexpected mug box %+v", config.Categories[0])
	}
	if config.Categories[1].Policy != PolicyBounded {
		t.Errorf("Expected shirt category to be bounded, got %q", config.Categories[1].Policy)
	}
}

func TestParseConfig_DuplicateCategory(t *testing.T) {
	data := `categories:
  - {name: mug, keyword: mug, policy: exact, width: 10, height: 10}
  - {name: mug, keyword: taza, policy: exact, width: 10, height: 10}`
	if _, err := ParseConfig([]byte(data)); err == nil {
		t.Fatal("Expected error for duplicate category name")
	}
}

func TestParseConfig_UnknownPolicy(t *testing.T) {
	data := `categories:
  - {name: mug, keyword: mug, policy: stretch, width: 10, height: 10}`
	if _, err := ParseConfig([]byte(data)); err == nil {
		t.Fatal("Expected error for unknown policy")
	}
}

func TestParseConfig_GitHubRequiresRepo(t *testing.T) {
	data := `storage:
  type: github
  github:
    owner: printshop`
	if _, err := ParseConfig([]byte(data)); err == nil {
		t.Fatal("Expected error when github repo is missing")
	}
}

func TestParseConfig_UnsupportedDatabase(t *testing.T) {
	if _, err := ParseConfig([]byte("database:\n  type: postgres")); err == nil {
		t.Fatal("Expected error for unsupported database type")
	}
}

func TestParseConfig_UnknownCommand(t *testing.T) {
	_, err := ParseConfig([]byte("commands:\n  - name: DoesNotExist\n"))
	if err == nil {
		t.Fatal("Expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `"DoesNotExist"`) || !strings.Contains(err.Error(), "PngConverterCommand, ThumbnailCommand") {
		t.Errorf("Expected error to name the command and the registered ones, got %v", err)
	}
}

func TestParseConfig_DuplicateCommand(t *testing.T) {
	data := `commands:
  - name: ThumbnailCommand
  - name: ThumbnailCommand`
	if _, err := ParseConfig([]byte(data)); err == nil {
		t.Fatal("Expected error for duplicate command")
	}
}
