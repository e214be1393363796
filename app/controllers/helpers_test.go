package controllers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/FitClash/internal/pkg/usercontext"
)

// asUser takes the caller from the X-Test-User header instead of a session.
func asUser(c *fiber.Ctx) error {
	userID := c.Get("X-Test-User")
	c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
		UserID:     userID,
		IsLoggedIn: userID != "",
	})
	return c.Next()
}

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(asUser)
	return app
}

func decodeJSON(r io.Reader, dst any) error {
	return json.NewDecoder(r).Decode(dst)
}

func call(t *testing.T, app *fiber.App, method, path, userID, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}
