package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddress is returned when the Redis address is not configured
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Connect creates a Redis client and verifies it with a ping
func Connect(address, password string, db int) (*redis.Client, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
