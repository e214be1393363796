package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/timeout"
)

// RequestDeadline bounds the context handed to stores and the gate. A
// handler error wrapping context.DeadlineExceeded becomes 408.
func RequestDeadline(d time.Duration) fiber.Handler {
	return timeout.NewWithContext(func(c *fiber.Ctx) error {
		return c.Next()
	}, d)
}
