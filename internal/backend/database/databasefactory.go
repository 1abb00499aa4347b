package database

import (
	"fmt"
	"log/slog"

	"github.com/jo-hoe/goprint/internal/backend/storage"
)

// NewDatabase opens the order store. The json store keeps the order document
// at connectionString inside files; sqlite and redis keep records themselves
// and only write attachments to files.
func NewDatabase(databaseType, connectionString string, files storage.FileStore) (database DatabaseService, err error) {
	switch databaseType {
	case "json":
		database, err = NewJSONDatabase(connectionString, files)
	case "sqlite":
		database, err = NewSQLiteDatabase(connectionString, files)
	case "redis":
		database, err = NewRedisDatabase(connectionString, files)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
	if err != nil {
		return nil, err
	}

	// Ensure database schema exists (idempotent), important for in-memory SQLite
	slog.Info("initializing database schema", "type", databaseType)
	if err = database.CreateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
