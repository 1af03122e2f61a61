// config.go - Service configuration loaded once at startup from the
// environment (FP_* variables), with a validation pass so a misconfigured
// process refuses to start instead of misbehaving later.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the service reads. It is captured once in
// main and passed down; nothing reads the environment after startup.
type Config struct {
	Addr    string
	DataDir string

	MaxFileBytes     int64
	MaxGroupBytes    int64
	MaxGlobalBytes   int64
	MaxFilesPerGroup int

	CodeLength int

	MinExpiry     time.Duration
	MaxExpiry     time.Duration
	DefaultExpiry time.Duration

	AllowedExtensions   []string
	ForbiddenExtensions []string

	ReaperInterval time.Duration
	PickupRate     int // pickup attempts per IP per minute

	PurgeOnShutdown bool
}

// LoadConfig reads the FP_* environment variables, applying defaults for
// anything unset. Parse failures are returned rather than silently
// defaulted.
func LoadConfig() (Config, error) {
	cfg := Config{
		Addr:    getenvDefault("FP_ADDR", ":8080"),
		DataDir: getenvDefault("FP_DATA_DIR", "./data"),
	}

	var err error
	if cfg.MaxFileBytes, err = envInt64("FP_MAX_FILE_BYTES", 1<<30); err != nil {
		return cfg, err
	}
	if cfg.MaxGroupBytes, err = envInt64("FP_MAX_GROUP_BYTES", 1<<30); err != nil {
		return cfg, err
	}
	if cfg.MaxGlobalBytes, err = envInt64("FP_MAX_GLOBAL_BYTES", 10<<30); err != nil {
		return cfg, err
	}
	if cfg.MaxFilesPerGroup, err = envInt("FP_MAX_FILES_PER_GROUP", 20); err != nil {
		return cfg, err
	}
	if cfg.CodeLength, err = envInt("FP_CODE_LENGTH", 6); err != nil {
		return cfg, err
	}
	if cfg.MinExpiry, err = envDuration("FP_MIN_EXPIRY", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.MaxExpiry, err = envDuration("FP_MAX_EXPIRY", 720*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.DefaultExpiry, err = envDuration("FP_DEFAULT_EXPIRY", 168*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.ReaperInterval, err = envDuration("FP_REAPER_INTERVAL", 10*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.PickupRate, err = envInt("FP_PICKUP_RATE", 30); err != nil {
		return cfg, err
	}

	cfg.AllowedExtensions = envList("FP_ALLOWED_EXTENSIONS")
	cfg.ForbiddenExtensions = envList("FP_FORBIDDEN_EXTENSIONS")
	cfg.PurgeOnShutdown = os.Getenv("FP_PURGE_ON_SHUTDOWN") == "true"

	return cfg, nil
}

// Validate collects every configuration problem instead of stopping at
// the first, so an operator sees the full list at once.
func (c Config) Validate() error {
	var problems []string

	if c.Addr == "" {
		problems = append(problems, "FP_ADDR must not be empty")
	}
	if c.DataDir == "" {
		problems = append(problems, "FP_DATA_DIR must not be empty")
	}
	if c.MaxFileBytes < 0 || c.MaxGroupBytes < 0 || c.MaxGlobalBytes < 0 {
		problems = append(problems, "size ceilings must not be negative")
	}
	if c.MaxGroupBytes > 0 && c.MaxFileBytes > c.MaxGroupBytes {
		problems = append(problems, "FP_MAX_FILE_BYTES exceeds FP_MAX_GROUP_BYTES")
	}
	if c.MaxFilesPerGroup < 0 {
		problems = append(problems, "FP_MAX_FILES_PER_GROUP must not be negative")
	}
	if c.CodeLength < 4 || c.CodeLength > maxCodeLength {
		problems = append(problems, fmt.Sprintf("FP_CODE_LENGTH must be between 4 and %d", maxCodeLength))
	}
	if c.MinExpiry <= 0 || c.MaxExpiry <= 0 {
		problems = append(problems, "expiry bounds must be positive")
	}
	if c.MinExpiry > c.MaxExpiry {
		problems = append(problems, "FP_MIN_EXPIRY exceeds FP_MAX_EXPIRY")
	}
	if c.DefaultExpiry < c.MinExpiry || c.DefaultExpiry > c.MaxExpiry {
		problems = append(problems, "FP_DEFAULT_EXPIRY outside the min/max expiry bounds")
	}
	if c.ReaperInterval <= 0 {
		problems = append(problems, "FP_REAPER_INTERVAL must be positive")
	}
	if c.PickupRate <= 0 {
		problems = append(problems, "FP_PICKUP_RATE must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// clampExpiry maps a requested lifetime onto the configured bounds.
// Zero means "never expires" and passes through untouched.
func (c Config) clampExpiry(requested time.Duration) time.Duration {
	if requested == 0 {
		return 0
	}
	if requested < c.MinExpiry {
		return c.MinExpiry
	}
	if requested > c.MaxExpiry {
		return c.MaxExpiry
	}
	return requested
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
