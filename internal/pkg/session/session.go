package session

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Redis databases on the shared server. The entitlement cache uses DB 0.
const (
	RedisDBSessions = 1
	RedisDBLimiter  = 2
)

var sessionStore *session.Store

// NewRedisStorage opens a fiber storage on the Redis server of cacheClient.
func NewRedisStorage(cacheClient *goredis.Client, database int) *redis.Storage {
	host := "localhost"
	port := 6379
	password := ""
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = cacheClient.Options().Password
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: database,
		Reset:    false,
	})
}

// NewSessionStore creates the Redis backed fiber session store.
func NewSessionStore(cacheClient *goredis.Client) *session.Store {
	return NewWithConfig(session.Config{
		Storage:        NewRedisStorage(cacheClient, RedisDBSessions),
		CookieHTTPOnly: true,
		CookieSecure:   true,
		CookieSameSite: "Lax",
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	})
}

// NewWithConfig installs a store built from cfg. Without cfg.Storage the
// sessions live in process memory.
func NewWithConfig(cfg session.Config) *session.Store {
	sessionStore = session.New(cfg)
	return sessionStore
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// GetSessionValue retrieves a value by key from the user's individual session
func GetSessionValue(c *fiber.Ctx, key string) string {
	if sessionStore == nil {
		return ""
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return ""
	}

	if strValue, ok := sess.Get(key).(string); ok {
		return strValue
	}
	return ""
}
