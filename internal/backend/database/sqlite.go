package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jo-hoe/goprint/internal/backend/storage"
	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
	files            storage.FileStore
}

func NewSQLiteDatabase(connectionString string, files storage.FileStore) (DatabaseService, error) {
	if files == nil {
		return nil, fmt.Errorf("sqlite database requires a file store")
	}
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writes
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
		files:            files,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		phone TEXT NOT NULL,
		product TEXT NOT NULL,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL,
		image_url TEXT NOT NULL,
		front_url TEXT,
		back_url TEXT,
		design_photo_url TEXT,
		folder TEXT
	)`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_orders_image_url ON orders (image_url)`)
	return err
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) AppendOrder(ctx context.Context, order Order, changes storage.Changeset) error {
	if err := s.files.Apply(ctx, changes); err != nil {
		return fmt.Errorf("failed to store order files: %w", err)
	}

	var front, back *string
	if order.Images != nil {
		front, back = order.Images.Front, order.Images.Back
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO orders
		(phone, product, created_at, status, image_url, front_url, back_url, design_photo_url, folder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.Phone, order.Product, order.CreatedAt, order.Status, order.ImageURL,
		nullString(front), nullString(back), nullString(order.DesignPhotoURL), order.Folder)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) GetOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phone, product, created_at, status, image_url,
		front_url, back_url, design_photo_url, folder FROM orders ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	orders := []Order{}
	for rows.Next() {
		var order Order
		var front, back, designPhoto, folder sql.NullString
		if err := rows.Scan(&order.Phone, &order.Product, &order.CreatedAt, &order.Status, &order.ImageURL,
			&front, &back, &designPhoto, &folder); err != nil {
			return nil, err
		}
		if front.Valid || back.Valid {
			order.Images = &SheetImages{Front: stringPointer(front), Back: stringPointer(back)}
		}
		order.DesignPhotoURL = stringPointer(designPhoto)
		order.Folder = folder.String
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *SQLiteDatabase) UpdateStatus(ctx context.Context, imageURL, status, message string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE orders SET status = ? WHERE image_url = ?", status, imageURL)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPointer(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
