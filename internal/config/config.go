// Package config loads process configuration once at startup.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultJWTSecret is used when neither JWT_SECRET_KEY nor
	// JWT_SECRET_PARAM is set. Deployments must override it.
	DefaultJWTSecret = "papers-rag-app"

	StoreDynamoDB = "dynamodb"
	StoreSQLite   = "sqlite"

	AgentAuthIDToken = "idtoken"
	AgentAuthStatic  = "static"
	AgentAuthNone    = "none"
)

// Auth holds the token signing settings handed to the token service.
type Auth struct {
	Secret []byte
	// SecretParam names an SSM parameter that overrides Secret when set.
	SecretParam string
	TTL         time.Duration
	// DefaultSecret is true when Secret is the built-in fallback literal.
	DefaultSecret bool
}

// Store selects and configures the user store backend.
type Store struct {
	Backend    string
	UsersTable string
	SQLitePath string
}

// Agent configures the outbound agent runtime client.
type Agent struct {
	BaseURL        string
	AppName        string
	AuthMode       string
	TokenParam     string
	SessionTimeout time.Duration
	RunTimeout     time.Duration
}

// Config is the immutable process configuration. It is built once in main and
// passed by pointer; nothing reads the environment after startup.
type Config struct {
	Port              string
	LogLevel          slog.Level
	CORSAllowedOrigin string

	Auth  Auth
	Store Store
	Agent Agent
}

// Load builds a Config from getenv, typically os.Getenv.
func Load(getenv func(string) string) (*Config, error) {
	e := env(getenv)
	cfg := &Config{
		Port:              e.str("PORT", "8080"),
		CORSAllowedOrigin: e.str("CORS_ALLOWED_ORIGIN", "*"),
	}

	var problems []string

	level, err := parseLevel(e.str("LOG_LEVEL", "info"))
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.LogLevel = level

	secret := getenv("JWT_SECRET_KEY")
	cfg.Auth = Auth{
		Secret:        []byte(secret),
		SecretParam:   strings.TrimSpace(getenv("JWT_SECRET_PARAM")),
		DefaultSecret: secret == "",
	}
	if cfg.Auth.DefaultSecret {
		cfg.Auth.Secret = []byte(DefaultJWTSecret)
	}
	if cfg.Auth.TTL, err = e.duration("JWT_EXPIRATION", 24*time.Hour); err != nil {
		problems = append(problems, err.Error())
	}

	if cfg.Store, err = LoadStore(getenv); err != nil {
		problems = append(problems, err.Error())
	}

	cfg.Agent = Agent{
		BaseURL:    strings.TrimRight(strings.TrimSpace(getenv("AGENT_URL")), "/"),
		AppName:    e.str("AGENT_APP_NAME", "papers-rag-agent"),
		AuthMode:   strings.ToLower(e.str("AGENT_AUTH", AgentAuthIDToken)),
		TokenParam: strings.TrimSpace(getenv("AGENT_TOKEN_PARAM")),
	}
	if cfg.Agent.BaseURL == "" {
		problems = append(problems, "AGENT_URL is required")
	}
	switch cfg.Agent.AuthMode {
	case AgentAuthIDToken, AgentAuthNone:
	case AgentAuthStatic:
		if cfg.Agent.TokenParam == "" {
			problems = append(problems, "AGENT_TOKEN_PARAM is required when AGENT_AUTH=static")
		}
	default:
		problems = append(problems, fmt.Sprintf("AGENT_AUTH must be one of idtoken, static, none; got %q", cfg.Agent.AuthMode))
	}
	if cfg.Agent.SessionTimeout, err = e.duration("AGENT_SESSION_TIMEOUT", 60*time.Second); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Agent.RunTimeout, err = e.duration("AGENT_RUN_TIMEOUT", 300*time.Second); err != nil {
		problems = append(problems, err.Error())
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		problems = append(problems, fmt.Sprintf("PORT must be numeric, got %q", cfg.Port))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// LoadStore reads only the user store settings.
func LoadStore(getenv func(string) string) (Store, error) {
	e := env(getenv)
	st := Store{
		Backend:    strings.ToLower(e.str("USER_STORE", StoreDynamoDB)),
		UsersTable: e.str("USERS_TABLE", "rag_users"),
		SQLitePath: e.str("SQLITE_PATH", "data/users.db"),
	}
	switch st.Backend {
	case StoreDynamoDB, StoreSQLite:
		return st, nil
	default:
		return st, fmt.Errorf("USER_STORE must be %q or %q, got %q", StoreDynamoDB, StoreSQLite, st.Backend)
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

type env func(string) string

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e env) duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
