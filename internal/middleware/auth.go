package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// KeyPrefix starts every operator API key
const KeyPrefix = "rk_"

// AuthConfig holds API key authentication settings
type AuthConfig struct {
	Enabled   bool
	KeyHashes []string // sha256 hex of each accepted key
}

// LoadAuthConfigFromEnv loads authentication settings from environment variables.
// API_KEY_HASH may list several hashes separated by commas.
func LoadAuthConfigFromEnv() AuthConfig {
	cfg := AuthConfig{Enabled: getEnv("AUTH_ENABLED", "false") == "true"}
	for _, h := range strings.Split(getEnv("API_KEY_HASH", ""), ",") {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			cfg.KeyHashes = append(cfg.KeyHashes, h)
		}
	}
	return cfg
}

// HashKey returns the stored form of an API key
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AuthMiddleware validates the API key sent as X-API-Key or Authorization: Bearer.
// The key's hash prefix is stored in locals as "api_key_id" for rate limiting.
func AuthMiddleware(cfg AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled {
			return c.Next()
		}

		apiKey := strings.TrimSpace(c.Get("X-API-Key"))
		if apiKey == "" {
			authHeader := c.Get("Authorization")
			if authHeader == "" {
				return c.Status(401).JSON(fiber.Map{
					"error":   "missing_api_key",
					"message": "API key is required. Use X-API-Key or Authorization: Bearer YOUR_API_KEY",
				})
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return c.Status(401).JSON(fiber.Map{
					"error":   "invalid_auth_format",
					"message": "Authorization header must be in format: Bearer YOUR_API_KEY",
				})
			}
			apiKey = strings.TrimSpace(parts[1])
		}

		if !strings.HasPrefix(apiKey, KeyPrefix) {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_api_key_format",
				"message": "API key must start with " + KeyPrefix,
			})
		}

		keyHash := HashKey(apiKey)
		if !knownHash(cfg.KeyHashes, keyHash) {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_api_key",
				"message": "The provided API key is invalid or has been revoked",
			})
		}

		c.Locals("api_key_id", keyHash[:12])
		return c.Next()
	}
}

func knownHash(hashes []string, keyHash string) bool {
	found := false
	for _, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(keyHash)) == 1 {
			found = true
		}
	}
	return found
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
