package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Addr     string
	LogLevel string

	DBDSN    string
	MongoURI string
	MongoDB  string
	RedisURL string

	JWTSecret string
	TokenTTL  time.Duration

	AllowedOrigins []string

	FCMProjectID   string
	FCMCredentials string

	// Audiences for Google and Apple id tokens. Empty disables the provider.
	GoogleClientID string
	AppleServiceID string

	// SMTP is used for verification emails when SMTPHost is set.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTLSMode  string
	MailFrom     string
	MailFromName string
	PublicURL    string
}

// Load reads .env (if present) without overriding variables that are
// already set, then parses the process environment.
func Load() (Config, error) {
	if err := loadDotEnvFile(".env", os.Setenv, os.Getenv); err != nil {
		return Config{}, err
	}
	return LoadFromEnv(os.Getenv)
}

func loadDotEnvFile(path string, setenv func(string, string) error, getenv func(string) string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range vals {
		if v == "" || getenv(k) != "" {
			continue
		}
		if err := setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:            getenv("APP_ENV"),
		Addr:           getenv("APP_ADDR"),
		LogLevel:       getenv("APP_LOG_LEVEL"),
		DBDSN:          getenv("APP_DB_DSN"),
		MongoURI:       getenv("APP_MONGO_URI"),
		MongoDB:        strings.TrimSpace(getenv("APP_MONGO_DB")),
		RedisURL:       getenv("APP_REDIS_URL"),
		JWTSecret:      getenv("APP_JWT_SECRET"),
		FCMProjectID:   strings.TrimSpace(getenv("APP_FCM_PROJECT_ID")),
		FCMCredentials: strings.TrimSpace(getenv("APP_FCM_CREDENTIALS")),
		GoogleClientID: strings.TrimSpace(getenv("APP_GOOGLE_CLIENT_ID")),
		AppleServiceID: strings.TrimSpace(getenv("APP_APPLE_SERVICE_ID")),
		SMTPHost:       strings.TrimSpace(getenv("APP_SMTP_HOST")),
		SMTPUsername:   getenv("APP_SMTP_USERNAME"),
		SMTPPassword:   getenv("APP_SMTP_PASSWORD"),
		SMTPTLSMode:    strings.ToLower(strings.TrimSpace(getenv("APP_SMTP_TLS"))),
		MailFrom:       strings.TrimSpace(getenv("APP_MAIL_FROM")),
		MailFromName:   strings.TrimSpace(getenv("APP_MAIL_FROM_NAME")),
		PublicURL:      strings.TrimSpace(getenv("APP_PUBLIC_URL")),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.MongoDB == "" {
		cfg.MongoDB = "socialchat"
	}

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	ttlRaw := getenv("APP_TOKEN_TTL")
	if ttlRaw == "" {
		cfg.TokenTTL = 7 * 24 * time.Hour
	} else {
		ttl, err := time.ParseDuration(ttlRaw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_TOKEN_TTL: %w", err)
		}
		if ttl <= 0 {
			return Config{}, errors.New("APP_TOKEN_TTL: must be > 0")
		}
		cfg.TokenTTL = ttl
	}

	cfg.AllowedOrigins = parseCSV(getenv("APP_ALLOWED_ORIGINS"))

	if cfg.FCMCredentials != "" && cfg.DBDSN == "" {
		return Config{}, errors.New("APP_FCM_CREDENTIALS: requires APP_DB_DSN for device tokens")
	}

	if err := cfg.loadSMTP(getenv); err != nil {
		return Config{}, err
	}

	if cfg.IsProd() {
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if cfg.MongoURI == "" {
			return Config{}, errors.New("APP_MONGO_URI: required in prod")
		}
		if cfg.RedisURL == "" {
			return Config{}, errors.New("APP_REDIS_URL: required in prod")
		}
		if len(cfg.JWTSecret) < 32 {
			return Config{}, errors.New("APP_JWT_SECRET: must be at least 32 bytes in prod")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-insecure-jwt-secret-change-me"
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c *Config) loadSMTP(getenv func(string) string) error {
	if c.SMTPHost == "" {
		return nil
	}
	c.SMTPPort = 587
	if raw := strings.TrimSpace(getenv("APP_SMTP_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return errors.New("APP_SMTP_PORT: must be a port number")
		}
		c.SMTPPort = port
	}
	switch c.SMTPTLSMode {
	case "":
		c.SMTPTLSMode = "starttls"
	case "starttls", "tls", "none":
	default:
		return errors.New("APP_SMTP_TLS: must be one of starttls, tls, none")
	}
	if c.MailFrom == "" {
		return errors.New("APP_MAIL_FROM: required with APP_SMTP_HOST")
	}
	if c.PublicURL == "" {
		return errors.New("APP_PUBLIC_URL: required with APP_SMTP_HOST")
	}
	if c.DBDSN == "" {
		return errors.New("APP_SMTP_HOST: requires APP_DB_DSN for accounts")
	}
	return nil
}

func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
