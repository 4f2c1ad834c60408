package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AuthDecode = "decode"
	AuthSecret = "secret"
	AuthRemote = "remote"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env      string
	Addr     string
	LogLevel string

	AuthMode            string
	AllowInsecureDecode bool
	JWTSecret           string
	JWTTTLMin           int
	AuthProviderURL     string
	AuthProviderKey     string
	AuthTimeout         time.Duration

	AdminEmail    string
	AdminUserID   string
	AllowPeerChat bool

	StoreDriver string
	SQLITEDsn   string
	PostgresDsn string
	RedisURL    string

	SendGridAPIKey string
	SendGridFrom   string
	NotifyCooldown time.Duration

	WSAuthTimeout time.Duration
}

func (c Config) Production() bool { return c.Env == "production" }

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return n
}

func getbool(key string, def bool) bool {
	b, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return b
}

func getduration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(key, ""))
	if err != nil {
		return def
	}
	return d
}

// Load reads the environment. Unparseable numbers and durations fall back to defaults.
func Load() Config {
	return Config{
		Env:      getenv("APP_ENV", "development"),
		Addr:     getenv("HTTP_ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		AuthMode:            strings.ToLower(getenv("AUTH_MODE", AuthRemote)),
		AllowInsecureDecode: getbool("AUTH_ALLOW_INSECURE_DECODE", false),
		JWTSecret:           getenv("AUTH_JWT_SECRET", ""),
		JWTTTLMin:           getint("JWT_TTL_MIN", 1440),
		AuthProviderURL:     strings.TrimRight(getenv("AUTH_PROVIDER_URL", ""), "/"),
		AuthProviderKey:     getenv("AUTH_PROVIDER_API_KEY", ""),
		AuthTimeout:         getduration("AUTH_TIMEOUT", 5*time.Second),

		AdminEmail:    getenv("ADMIN_EMAIL", ""),
		AdminUserID:   getenv("ADMIN_USER_ID", ""),
		AllowPeerChat: getbool("ALLOW_PEER_CHAT", false),

		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", DriverSQLite)),
		SQLITEDsn:   getenv("SQLITE_DSN", "chat.db"),
		PostgresDsn: getenv("POSTGRES_DSN", ""),
		RedisURL:    getenv("REDIS_URL", ""),

		SendGridAPIKey: getenv("SENDGRID_API_KEY", ""),
		SendGridFrom:   getenv("SENDGRID_FROM", ""),
		NotifyCooldown: getduration("NOTIFY_COOLDOWN", 15*time.Minute),

		WSAuthTimeout: getduration("WS_AUTH_TIMEOUT", 10*time.Second),
	}
}

func MustLoad() Config {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}
	return cfg
}

func (c Config) Validate() error {
	var errs []error

	switch c.AuthMode {
	case AuthDecode:
		if !c.AllowInsecureDecode {
			errs = append(errs, errors.New("AUTH_MODE=decode does not verify tokens and needs AUTH_ALLOW_INSECURE_DECODE=true"))
		}
		if c.Production() {
			errs = append(errs, errors.New("AUTH_MODE=decode does not verify tokens and is refused in production"))
		}
	case AuthSecret:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("AUTH_JWT_SECRET is required for AUTH_MODE=secret"))
		}
	case AuthRemote:
		if c.AuthProviderURL == "" {
			errs = append(errs, errors.New("AUTH_PROVIDER_URL is required for AUTH_MODE=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode))
	}

	if c.AdminEmail == "" {
		errs = append(errs, errors.New("ADMIN_EMAIL is required"))
	}

	switch c.StoreDriver {
	case DriverMemory:
		if c.Production() {
			errs = append(errs, errors.New("STORE_DRIVER=memory loses data on restart and is refused in production"))
		}
	case DriverSQLite:
		if c.SQLITEDsn == "" {
			errs = append(errs, errors.New("SQLITE_DSN is required for STORE_DRIVER=sqlite"))
		}
	case DriverPostgres:
		if !strings.HasPrefix(c.PostgresDsn, "postgres://") && !strings.HasPrefix(c.PostgresDsn, "postgresql://") {
			errs = append(errs, errors.New("POSTGRES_DSN must be a postgres:// URL for STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.SendGridAPIKey != "" && c.SendGridFrom == "" {
		errs = append(errs, errors.New("SENDGRID_FROM is required when SENDGRID_API_KEY is set"))
	}
	if c.AuthTimeout <= 0 || c.WSAuthTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_TIMEOUT and WS_AUTH_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}
