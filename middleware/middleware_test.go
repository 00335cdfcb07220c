package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whoAmI(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	return c.SendString(userID)
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("s3cret", "/healthz"))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/private", func(c *fiber.Ctx) error { return c.SendString("in") })

	status, _ := get(t, app, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, app, "/private", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = get(t, app, "/private", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := get(t, app, "/private", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in", body)

	status, _ = get(t, app, "/private", map[string]string{"Authorization": "s3cret"})
	assert.Equal(t, http.StatusOK, status)
}

func TestUserContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/optional", UserContextMiddleware(false), whoAmI)
	app.Get("/required", UserContextMiddleware(true), whoAmI)

	status, body := get(t, app, "/optional", map[string]string{"X-User-ID": "alice"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body)

	status, body = get(t, app, "/optional", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	status, _ = get(t, app, "/required", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSSEAuthMiddleware(t *testing.T) {
	resolve := func(_ context.Context, token string) (string, string, error) {
		if token == "tok-alice" {
			return "s-1", "alice", nil
		}
		return "", "", errors.New("unknown token")
	}
	app := fiber.New()
	app.Get("/session/:id/events", UserContextMiddleware(false), SSEAuthMiddleware(resolve), whoAmI)

	status, body := get(t, app, "/session/s-1/events?token=tok-alice", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body)

	status, _ = get(t, app, "/session/s-2/events?token=tok-alice", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = get(t, app, "/session/s-1/events?token=forged", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = get(t, app, "/session/s-1/events", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = get(t, app, "/session/s-1/events", map[string]string{"X-User-ID": "bob"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", body)
}
