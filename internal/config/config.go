package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database (order store)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (ack markers, poll cache, rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Event buffer
	BufferPath    string
	RetentionDays int

	// Stream behaviour
	StreamLifetime   time.Duration
	CheckInterval    time.Duration
	EnablePing       bool
	PingInterval     time.Duration
	FallbackPing     time.Duration
	EnableTestEvents bool
	TestInterval     time.Duration

	// Adaptive polling (advertised to clients, used by notifier-watch)
	PollBase     time.Duration
	PollStep     time.Duration
	PollAttempts int
	PollCeiling  time.Duration

	// Orders
	TrackedStatuses []string
	ReloadTable     bool

	// Roles allowed to consume the stream / poll endpoints
	AllowedRoles []string

	// Default notification presentation
	DefaultType     string
	DefaultPosition string
	DefaultTimeout  int
	DefaultIcon     string

	// Debug log
	DebugLogPath string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "notifier",
		DBPassword: "",
		DBName:     "orders",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		BufferPath:    "data/sse-buffer.json",
		RetentionDays: 14,

		StreamLifetime:   300 * time.Second,
		CheckInterval:    2000 * time.Millisecond,
		EnablePing:       false,
		PingInterval:     15 * time.Second,
		FallbackPing:     90 * time.Second,
		EnableTestEvents: false,
		TestInterval:     45 * time.Second,

		PollBase:     30 * time.Second,
		PollStep:     60 * time.Second,
		PollAttempts: 5,
		PollCeiling:  10 * time.Minute,

		TrackedStatuses: []string{"processing", "on-hold"},
		ReloadTable:     false,

		AllowedRoles: []string{"administrator", "shop_manager"},

		DefaultType:     "info",
		DefaultPosition: "top-right",
		DefaultTimeout:  0,
		DefaultIcon:     "",

		DebugLogPath: "data/debug.log",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if path := os.Getenv("BUFFER_PATH"); path != "" {
		cfg.BufferPath = path
	}

	if days := os.Getenv("RETENTION_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil || d < 1 {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %q", days)
		}
		cfg.RetentionDays = d
	}

	var err error
	if cfg.StreamLifetime, err = durationEnv("STREAM_LIFETIME", cfg.StreamLifetime); err != nil {
		return nil, err
	}
	if cfg.CheckInterval, err = durationEnv("CHECK_INTERVAL", cfg.CheckInterval); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = durationEnv("PING_INTERVAL", cfg.PingInterval); err != nil {
		return nil, err
	}
	if cfg.FallbackPing, err = durationEnv("FALLBACK_PING", cfg.FallbackPing); err != nil {
		return nil, err
	}
	if cfg.TestInterval, err = durationEnv("TEST_INTERVAL", cfg.TestInterval); err != nil {
		return nil, err
	}
	if cfg.PollBase, err = durationEnv("POLL_BASE", cfg.PollBase); err != nil {
		return nil, err
	}
	if cfg.PollStep, err = durationEnv("POLL_STEP", cfg.PollStep); err != nil {
		return nil, err
	}
	if cfg.PollCeiling, err = durationEnv("POLL_CEILING", cfg.PollCeiling); err != nil {
		return nil, err
	}

	if attempts := os.Getenv("POLL_ATTEMPTS"); attempts != "" {
		a, err := strconv.Atoi(attempts)
		if err != nil || a < 1 {
			return nil, fmt.Errorf("invalid POLL_ATTEMPTS: %q", attempts)
		}
		cfg.PollAttempts = a
	}

	cfg.EnablePing = boolEnv("ENABLE_PING", cfg.EnablePing)
	cfg.EnableTestEvents = boolEnv("ENABLE_TEST_EVENTS", cfg.EnableTestEvents)
	cfg.ReloadTable = boolEnv("RELOAD_TABLE", cfg.ReloadTable)

	if statuses := os.Getenv("TRACKED_STATUSES"); statuses != "" {
		cfg.TrackedStatuses = splitList(statuses)
	}

	if roles := os.Getenv("ALLOWED_ROLES"); roles != "" {
		cfg.AllowedRoles = splitList(roles)
	}

	if typ := os.Getenv("DEFAULT_NOTIFICATION_TYPE"); typ != "" {
		cfg.DefaultType = typ
	}

	if pos := os.Getenv("DEFAULT_NOTIFICATION_POSITION"); pos != "" {
		cfg.DefaultPosition = pos
	}

	if timeout := os.Getenv("DEFAULT_NOTIFICATION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil || t < 0 {
			return nil, fmt.Errorf("invalid DEFAULT_NOTIFICATION_TIMEOUT: %q", timeout)
		}
		cfg.DefaultTimeout = t
	}

	if icon := os.Getenv("DEFAULT_NOTIFICATION_ICON"); icon != "" {
		cfg.DefaultIcon = icon
	}

	if path := os.Getenv("DEBUG_LOG_PATH"); path != "" {
		cfg.DebugLogPath = path
	}

	return cfg, nil
}

// RoleAllowed reports whether role is in the configured allow-list.
func (c *Config) RoleAllowed(role string) bool {
	for _, r := range c.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func boolEnv(name string, def bool) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
