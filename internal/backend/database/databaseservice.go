package database

import (
	"context"
	"errors"

	"github.com/jo-hoe/goprint/internal/backend/storage"
)

// ErrOrderNotFound is returned when no order references the given image URL.
var ErrOrderNotFound = errors.New("order not found")

type DatabaseService interface {
	CreateDatabase() error
	DoesDatabaseExist() bool
	Close() error

	// AppendOrder persists the order record together with its files. Backends
	// that keep orders in the file store write both in one changeset.
	AppendOrder(ctx context.Context, order Order, changes storage.Changeset) error
	GetOrders(ctx context.Context) ([]Order, error)
	// UpdateStatus sets the status of every order whose ImageURL matches and
	// returns ErrOrderNotFound when none does.
	UpdateStatus(ctx context.Context, imageURL, status, message string) error
}
