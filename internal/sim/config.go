package sim

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine configuration
type Config struct {
	TickInterval    time.Duration
	TimeScale       float64
	StartTime       time.Time
	DelayPolicy     string
	DelayThreshold  time.Duration
	StepWait        time.Duration
	ReloadEveryPass bool

	PassengersPerHour    float64
	InitialPassengers    int
	MaxWaitingPassengers int
}

// DefaultConfig returns the configuration used when no environment is set
func DefaultConfig() *Config {
	return &Config{
		TickInterval:    time.Second,
		TimeScale:       60,
		StartTime:       time.Now().UTC().Truncate(time.Second),
		DelayPolicy:     "sticky",
		DelayThreshold:  0,
		StepWait:        2 * time.Second,
		ReloadEveryPass: true,

		PassengersPerHour:    12,
		InitialPassengers:    5,
		MaxWaitingPassengers: 500,
	}
}

// LoadConfigFromEnv loads engine configuration from environment variables
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if d, err := time.ParseDuration(getEnv("SIM_TICK_INTERVAL", "1s")); err == nil && d > 0 {
		cfg.TickInterval = d
	}
	if scale, err := strconv.ParseFloat(getEnv("SIM_TIME_SCALE", "60"), 64); err == nil && scale > 0 {
		cfg.TimeScale = scale
	}
	if start := getEnv("SIM_START_TIME", ""); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			cfg.StartTime = t.UTC()
		}
	}
	cfg.DelayPolicy = getEnv("SIM_DELAY_POLICY", "sticky")
	if d, err := time.ParseDuration(getEnv("SIM_DELAY_THRESHOLD", "0s")); err == nil && d >= 0 {
		cfg.DelayThreshold = d
	}
	if d, err := time.ParseDuration(getEnv("SIM_STEP_WAIT", "2s")); err == nil && d >= 0 {
		cfg.StepWait = d
	}
	cfg.ReloadEveryPass = getEnv("SIM_RELOAD_EVERY_PASS", "true") == "true"

	if rate, err := strconv.ParseFloat(getEnv("SIM_PASSENGERS_PER_HOUR", "12"), 64); err == nil && rate >= 0 {
		cfg.PassengersPerHour = rate
	}
	if n, err := strconv.Atoi(getEnv("SIM_INITIAL_PASSENGERS", "5")); err == nil && n >= 0 {
		cfg.InitialPassengers = n
	}
	if n, err := strconv.Atoi(getEnv("SIM_MAX_WAITING_PASSENGERS", "500")); err == nil && n >= 0 {
		cfg.MaxWaitingPassengers = n
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
