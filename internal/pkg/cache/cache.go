package cache

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetupCache initializes the shared Redis client. A failed ping is logged
// and not fatal; callers degrade to the database.
func SetupCache(addr, password string) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // sessions use DB 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("Could not connect to Redis cache at %s: %v", addr, err)
	} else {
		log.Infof("Successfully connected to Redis cache: %s", pong)
	}
	return client
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}
