package core

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/jo-hoe/goprint/internal/backend/storage"
	"golang.org/x/crypto/bcrypt"
)

const (
	envPrefix          = "ENV:"
	defaultRedirectURL = "/admin.html"
	usersEnvVariable   = "USERS_JSON"
)

// UserCheck is the public view of a username lookup.
type UserCheck struct {
	IsAdmin         bool   `json:"isAdmin"`
	IsSetupRequired bool   `json:"isSetupRequired,omitempty"`
	Email           string `json:"email,omitempty"`
	RedirectURL     string `json:"redirectUrl,omitempty"`
}

// SetupRequest creates a new admin account on behalf of a user whose password
// has not been set yet.
type SetupRequest struct {
	CurrentUsername string `json:"currentUsername" validate:"required"`
	NewUsername     string `json:"newUsername" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
	NewEmail        string `json:"newEmail" validate:"required,email"`
}

type userRecord struct {
	UserConfig
	persisted bool
}

// UserDirectory holds admin accounts from the users file, the service config
// and the USERS_JSON environment variable, in that priority. Only users from
// the file or created by the setup flow are written back.
type UserDirectory struct {
	mu       sync.RWMutex
	users    []*userRecord
	files    storage.FileStore
	fileName string
}

func NewUserDirectory(ctx context.Context, files storage.FileStore, fileName string, configured []UserConfig) (*UserDirectory, error) {
	directory := &UserDirectory{files: files, fileName: fileName}

	fromFile, err := directory.readFile(ctx)
	if err != nil {
		return nil, err
	}
	for _, user := range fromFile {
		directory.add(user, true)
	}
	for _, user := range configured {
		directory.add(user, false)
	}
	if raw := os.Getenv(usersEnvVariable); raw != "" {
		var fromEnv []UserConfig
		if err := json.Unmarshal([]byte(raw), &fromEnv); err != nil {
			slog.Warn("ignoring invalid users from environment", "variable", usersEnvVariable, "error", err)
		}
		for _, user := range fromEnv {
			directory.add(user, false)
		}
	}

	slog.Info("user directory loaded", "user_count", len(directory.users), "file_user_count", len(fromFile))
	return directory, nil
}

func (d *UserDirectory) readFile(ctx context.Context) ([]UserConfig, error) {
	data, err := d.files.ReadFile(ctx, d.fileName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var users []UserConfig
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse users file %s: %w", d.fileName, err)
	}
	return users, nil
}

// add keeps the first user registered under a username.
func (d *UserDirectory) add(user UserConfig, persisted bool) {
	if user.Username == "" || d.find(user.Username) != nil {
		return
	}
	d.users = append(d.users, &userRecord{UserConfig: user, persisted: persisted})
}

func (d *UserDirectory) find(username string) *userRecord {
	for _, user := range d.users {
		if user.Username == username {
			return user
		}
	}
	return nil
}

func (d *UserDirectory) Check(username string) UserCheck {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user := d.find(username)
	if user == nil {
		return UserCheck{IsAdmin: false}
	}
	if user.Password == "" {
		return UserCheck{IsAdmin: true, IsSetupRequired: true, RedirectURL: user.RedirectURL}
	}
	return UserCheck{IsAdmin: true, Email: ResolveEnvValue(user.Email)}
}

// Authenticate returns the user with its email resolved, or ErrUnauthorized.
// Users that still need setup cannot log in.
func (d *UserDirectory) Authenticate(username, password string) (UserConfig, error) {
	d.mu.RLock()
	user := d.find(username)
	var stored UserConfig
	if user != nil {
		stored = user.UserConfig
	}
	d.mu.RUnlock()

	if user == nil || stored.Password == "" || !passwordMatches(stored.Password, password) {
		return UserConfig{}, ErrUnauthorized
	}

	stored.Email = ResolveEnvValue(stored.Email)
	stored.Password = ""
	if stored.RedirectURL == "" {
		stored.RedirectURL = defaultRedirectURL
	}
	return stored, nil
}

// CompleteSetup adds the new account, copies its email to the user that
// triggered the setup and writes the users file.
func (d *UserDirectory) CompleteSetup(ctx context.Context, request SetupRequest) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(request.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.find(request.CurrentUsername)
	if current == nil || current.Password != "" {
		return invalidf("user %s does not require setup", request.CurrentUsername)
	}
	for _, user := range d.users {
		if strings.EqualFold(user.Username, request.NewUsername) {
			return invalidf("username %s is already taken", request.NewUsername)
		}
	}

	previousEmail, previousPersisted := current.Email, current.persisted
	current.Email = request.NewEmail
	current.persisted = true
	d.users = append(d.users, &userRecord{
		UserConfig: UserConfig{
			Username:    request.NewUsername,
			Password:    string(hash),
			Email:       request.NewEmail,
			RedirectURL: defaultRedirectURL,
		},
		persisted: true,
	})

	if err := d.writeFile(ctx); err != nil {
		d.users = d.users[:len(d.users)-1]
		current.Email, current.persisted = previousEmail, previousPersisted
		return err
	}
	slog.Info("admin setup completed", "username", request.NewUsername)
	return nil
}

func (d *UserDirectory) writeFile(ctx context.Context) error {
	persisted := []UserConfig{}
	for _, user := range d.users {
		if user.persisted {
			persisted = append(persisted, user.UserConfig)
		}
	}

	data, err := json.MarshalIndent(persisted, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}
	err = d.files.Apply(ctx, storage.Changeset{
		Message: "Update users",
		Files:   []storage.File{{Path: d.fileName, Content: data}},
	})
	if err != nil {
		return fmt.Errorf("failed to write users file: %w", err)
	}
	return nil
}

// AdminEmail returns the first configured email of a user not named in
// exclude, or fallback. Usernames are compared case-insensitively and
// exclude entries may use the ENV: prefix.
func (d *UserDirectory) AdminEmail(fallback string, exclude []string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, user := range d.users {
		if slices.ContainsFunc(exclude, func(name string) bool { return strings.EqualFold(ResolveEnvValue(name), user.Username) }) {
			continue
		}
		if email := ResolveEnvValue(user.Email); email != "" {
			return email
		}
	}
	return ResolveEnvValue(fallback)
}

func passwordMatches(stored, given string) bool {
	switch {
	case strings.HasPrefix(stored, envPrefix):
		expected := os.Getenv(strings.TrimPrefix(stored, envPrefix))
		return expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
	case isBcryptHash(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	default:
		return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
	}
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

// ResolveEnvValue replaces "ENV:NAME" by the value of the NAME environment variable.
func ResolveEnvValue(value string) string {
	if name, ok := strings.CutPrefix(value, envPrefix); ok {
		return os.Getenv(name)
	}
	return value
}
