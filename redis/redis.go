package redis

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis at the given address. Returns nil when Redis is
// unavailable; callers degrade to uncached operation.
func NewClient(addr string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Println("Redis not available. Running without Redis.")
		return nil
	}

	log.Println("Redis connected successfully.")
	return client
}
