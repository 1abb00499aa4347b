package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/goprint/internal/backend/storage"
	"github.com/redis/go-redis/v9"
)

const (
	ordersKey          = "goprint:orders"
	maxWatchRetryCount = 3
)

// RedisDatabase keeps orders as JSON values in a redis list, in arrival order.
type RedisDatabase struct {
	client *redis.Client
	files  storage.FileStore
}

func NewRedisDatabase(connectionString string, files storage.FileStore) (DatabaseService, error) {
	if files == nil {
		return nil, fmt.Errorf("redis database requires a file store")
	}
	options, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisDatabase{
		client: redis.NewClient(options),
		files:  files,
	}, nil
}

func (s *RedisDatabase) CreateDatabase() error {
	return s.client.Ping(context.Background()).Err()
}

func (s *RedisDatabase) DoesDatabaseExist() bool {
	return s.client.Ping(context.Background()).Err() == nil
}

func (s *RedisDatabase) Close() error {
	return s.client.Close()
}

func (s *RedisDatabase) AppendOrder(ctx context.Context, order Order, changes storage.Changeset) error {
	if err := s.files.Apply(ctx, changes); err != nil {
		return fmt.Errorf("failed to store order files: %w", err)
	}

	value, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	if err := s.client.RPush(ctx, ordersKey, value).Err(); err != nil {
		return fmt.Errorf("failed to append order: %w", err)
	}
	return nil
}

func (s *RedisDatabase) GetOrders(ctx context.Context) ([]Order, error) {
	values, err := s.client.LRange(ctx, ordersKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return decodeOrders(values)
}

// UpdateStatus rewrites matching list items inside a WATCH transaction so a
// concurrent append or update from another instance forces a retry.
func (s *RedisDatabase) UpdateStatus(ctx context.Context, imageURL, status, message string) error {
	update := func(tx *redis.Tx) error {
		values, err := tx.LRange(ctx, ordersKey, 0, -1).Result()
		if err != nil {
			return err
		}
		orders, err := decodeOrders(values)
		if err != nil {
			return err
		}

		changed := map[int64]string{}
		for i := range orders {
			if orders[i].ImageURL != imageURL {
				continue
			}
			orders[i].Status = status
			encoded, err := json.Marshal(orders[i])
			if err != nil {
				return fmt.Errorf("failed to encode order: %w", err)
			}
			changed[int64(i)] = string(encoded)
		}
		if len(changed) == 0 {
			return ErrOrderNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for index, value := range changed {
				pipe.LSet(ctx, ordersKey, index, value)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetryCount; attempt++ {
		err := s.client.Watch(ctx, update, ordersKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		slog.Warn("order list changed during status update, retrying", "attempt", attempt+1, "message", message)
	}
	return fmt.Errorf("failed to update order status after %d attempts: %w", maxWatchRetryCount, redis.TxFailedErr)
}

func decodeOrders(values []string) ([]Order, error) {
	orders := make([]Order, 0, len(values))
	for i, value := range values {
		var order Order
		if err := json.Unmarshal([]byte(value), &order); err != nil {
			return nil, fmt.Errorf("failed to decode order at index %d: %w", i, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}
