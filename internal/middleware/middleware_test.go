package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "rk_test_0123456789abcdef"

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	for _, h := range handlers {
		app.Use(h)
	}
	app.Get("/ping", func(c *fiber.Ctx) error {
		id, _ := c.Locals("api_key_id").(string)
		return c.SendString(id)
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	cfg := AuthConfig{Enabled: true, KeyHashes: []string{HashKey(testKey)}}

	tests := []struct {
		name     string
		header   string
		value    string
		expected int
	}{
		{"X-API-Key header", "X-API-Key", testKey, 200},
		{"Bearer token", "Authorization", "Bearer " + testKey, 200},
		{"Missing key", "", "", 401},
		{"Wrong scheme", "Authorization", "Basic " + testKey, 401},
		{"Wrong prefix", "X-API-Key", "pk_live_abc", 401},
		{"Unknown key", "X-API-Key", "rk_test_other", 401},
	}

	app := newApp(AuthMiddleware(cfg))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ping", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.StatusCode)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	app := newApp(AuthMiddleware(AuthConfig{}))
	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestLoadAuthConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("API_KEY_HASH", " ABC , def,")

	cfg := LoadAuthConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"abc", "def"}, cfg.KeyHashes)
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := AuthConfig{Enabled: true, KeyHashes: []string{HashKey(testKey)}}
	app := newApp(AuthMiddleware(cfg), RateLimitMiddleware(rdb, 2))

	do := func() int {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("X-API-Key", testKey)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 200, do())
	assert.Equal(t, 200, do())

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-API-Key", testKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining-Minute"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	app := newApp(RateLimitMiddleware(rdb, 1))
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	app := newApp(RateLimitMiddleware(nil, 1))
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
}
