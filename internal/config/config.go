package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Client holds the settings of the messaging client core. Every timing knob
// is configuration so tests can shrink wall-clock durations.
type Client struct {
	ServerURL string // http(s) base of the REST collaborator
	StateDir  string // durable client storage (credential file)
	PageSize  int

	RefreshThreshold time.Duration // refresh when token lifetime drops below this
	WatchdogInterval time.Duration // expiration check period
	WarningThreshold time.Duration // emit "expiring soon" below this
	LogoutGrace      time.Duration // delay before forced navigation on expiry
	ReconnectBackoff time.Duration // channel reconnect delay
	TypingTimeout    time.Duration // local stop_typing timeout
}

// LoadClient reads client configuration from the environment, with an
// optional .env file.
func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	cfg := &Client{
		ServerURL: getEnv("CHAT_SERVER_URL", "http://localhost:8000"),
		StateDir:  getEnv("CHAT_STATE_DIR", ""),
		PageSize:  getEnvAsInt("CHAT_PAGE_SIZE", 50),

		RefreshThreshold: getEnvAsSeconds("CHAT_REFRESH_THRESHOLD_SECONDS", 300),
		WatchdogInterval: getEnvAsSeconds("CHAT_WATCHDOG_INTERVAL_SECONDS", 30),
		WarningThreshold: getEnvAsSeconds("CHAT_WARNING_THRESHOLD_SECONDS", 180),
		LogoutGrace:      getEnvAsSeconds("CHAT_LOGOUT_GRACE_SECONDS", 3),
		ReconnectBackoff: getEnvAsSeconds("CHAT_RECONNECT_BACKOFF_SECONDS", 2),
		TypingTimeout:    getEnvAsSeconds("CHAT_TYPING_TIMEOUT_SECONDS", 3),
	}

	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.StateDir = filepath.Join(home, ".chatcore")
	}

	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid CHAT_SERVER_URL: %w", err)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("CHAT_PAGE_SIZE must be positive")
	}
	return cfg, nil
}

// WSBaseURL derives the websocket base from the server URL.
func (c *Client) WSBaseURL() string {
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://")
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://")
	}
	return c.ServerURL
}

// Server holds the settings of the reference harness server.
type Server struct {
	Host string
	Port int

	DBPath          string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CORSOrigins     []string
	MaxPageSize     int
}

// LoadServer reads harness configuration from the environment, with an
// optional .env file.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	cfg := &Server{
		Host: getEnv("HTTP_HOST", "0.0.0.0"),
		Port: getEnvAsInt("HTTP_PORT", 8000),

		DBPath:          getEnv("CHAT_DB_PATH", "chat.db"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		AccessTokenTTL:  time.Duration(getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60)) * time.Minute,
		RefreshTokenTTL: time.Duration(getEnvAsInt("REFRESH_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour,
		MaxPageSize:     getEnvAsInt("MAX_PAGE_SIZE", 200),
	}

	origins := getEnv("CORS_ORIGINS", "")
	if origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func (c *Server) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvAsInt(key, def)) * time.Second
}
