package middleware

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// LoadStepRateLimitFromEnv returns the allowed manual steps per client per minute; 0 disables the limit
func LoadStepRateLimitFromEnv() int {
	limit, err := strconv.Atoi(getEnv("STEP_RATE_LIMIT", "30"))
	if err != nil || limit < 0 {
		return 30
	}
	return limit
}

// RateLimitMiddleware limits requests per client per minute with a redis counter.
// Clients are identified by API key when authenticated, otherwise by IP.
// Requests pass when redis is unavailable.
func RateLimitMiddleware(rdb *redis.Client, perMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || perMinute <= 0 {
			return c.Next()
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		now := time.Now()
		key := rateLimitKey(clientID(c), now)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Printf("Warning: rate limit check failed: %v", err)
			return c.Next()
		}
		if count == 1 {
			rdb.Expire(ctx, key, 2*time.Minute)
		}

		reset := now.Truncate(time.Minute).Add(time.Minute)
		c.Set("X-RateLimit-Limit-Minute", strconv.Itoa(perMinute))
		c.Set("X-RateLimit-Reset-Minute", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(perMinute) {
			retryAfter := int64(reset.Sub(now).Seconds()) + 1
			c.Set("X-RateLimit-Remaining-Minute", "0")
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			return c.Status(429).JSON(fiber.Map{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests per minute",
				"limit_type":  "per_minute",
				"limit":       perMinute,
				"retry_after": retryAfter,
			})
		}

		c.Set("X-RateLimit-Remaining-Minute", strconv.FormatInt(int64(perMinute)-count, 10))
		return c.Next()
	}
}

func clientID(c *fiber.Ctx) string {
	if id, ok := c.Locals("api_key_id").(string); ok && id != "" {
		return "key:" + id
	}
	return "ip:" + c.IP()
}

func rateLimitKey(client string, now time.Time) string {
	return fmt.Sprintf("rl:%s:minute:%d", client, now.Unix()/60)
}
