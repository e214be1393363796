package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FitClash/internal/pkg/session"
	"github.com/ManuelReschke/FitClash/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the user context for every request from the
// session written by the auth provider.
func UserContextMiddleware(c *fiber.Ctx) error {
	store := session.GetSessionStore()
	if store == nil {
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{})
		return c.Next()
	}
	sess, err := store.Get(c)
	if err != nil {
		// On error: set as anonymous user
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{})
		return c.Next()
	}

	userID, _ := sess.Get(usercontext.KeyUserID).(string)
	userID = strings.TrimSpace(userID)
	c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
		UserID:     userID,
		IsLoggedIn: userID != "",
	})
	return c.Next()
}
