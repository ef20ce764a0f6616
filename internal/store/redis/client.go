// Package redis mirrors pipeline events into Redis (streams, pub/sub and
// latest-value keys) and consumes ticks from a Redis stream.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Dial connects and pings the server.
func Dial(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	log.Printf("[redis] connected to %s", opts.Addr)
	return client, nil
}
