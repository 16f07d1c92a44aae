// Package config loads the service configuration from an optional YAML file
// and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Mail transports.
const (
	TransportAPI  = "api"
	TransportSMTP = "smtp"
)

// Config is the complete service configuration.
type Config struct {
	Env        string `yaml:"env" env:"OUTREACH_ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Storage    `yaml:"storage"`
	Google     `yaml:"google"`
	Session    `yaml:"session"`
	Uploads    `yaml:"uploads"`
	Events     `yaml:"events"`
	Policy     `yaml:"policy"`
	Dispatch   `yaml:"dispatch"`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"HTTP_ADDR" env-default:"localhost:8080"`
	MetricsAddr  string        `yaml:"metrics_address" env:"METRICS_ADDR" env-default:":9090"`
	Timeout      time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"30s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	AllowOrigins []string      `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS" env-separator:","`
}

type Storage struct {
	Driver     string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	MongoURI   string `yaml:"mongo_uri" env:"MONGODB_URI"`
	MongoDB    string `yaml:"mongo_database" env:"MONGODB_DATABASE" env-default:"outreach"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"outreach.db"`
	// EncryptionKey is a base64 encoded 32 byte key used to encrypt cached
	// OAuth tokens. Tokens are stored in plain text when empty.
	EncryptionKey string `yaml:"encryption_key" env:"TOKEN_ENCRYPTION_KEY"`
}

type Google struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"GOOGLE_REDIRECT_URL" env-default:"postmessage"`
	Transport    string `yaml:"transport" env:"MAIL_TRANSPORT" env-default:"api"`
	SMTPAddr     string `yaml:"smtp_address" env:"MAIL_SMTP_ADDR" env-default:"smtp.gmail.com:587"`
}

type Session struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL" env-default:"168h"`
}

type Uploads struct {
	Dir     string `yaml:"dir" env:"UPLOAD_DIR" env-default:"uploads"`
	BaseURL string `yaml:"base_url" env:"UPLOAD_BASE_URL" env-default:"/attachments"`
	MaxSize int64  `yaml:"max_size" env:"UPLOAD_MAX_SIZE" env-default:"26214400"`
}

type Events struct {
	Enabled   bool   `yaml:"enabled" env:"EVENTS_ENABLED" env-default:"false"`
	RabbitURL string `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env:"RABBITMQ_QUEUE" env-default:"mail.events"`
}

type Policy struct {
	RejectPersonalDomains bool     `yaml:"reject_personal_domains" env:"POLICY_REJECT_PERSONAL" env-default:"true"`
	BlockedDomains        []string `yaml:"blocked_domains" env:"POLICY_BLOCKED_DOMAINS" env-separator:"," env-default:"gmail.com,yahoo.com,outlook.com"`
}

type Dispatch struct {
	ReconcileStatus bool          `yaml:"reconcile_status" env:"DISPATCH_RECONCILE_STATUS" env-default:"true"`
	SyncLimit       int64         `yaml:"sync_limit" env:"DISPATCH_SYNC_LIMIT" env-default:"25"`
	Timeout         time.Duration `yaml:"timeout" env:"DISPATCH_TIMEOUT" env-default:"30s"`
}

// Load reads configuration. A .env file in the working directory is loaded
// into the environment first when present. When path is empty only the
// environment is consulted.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	for i, d := range c.BlockedDomains {
		c.BlockedDomains[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Google.Transport = strings.ToLower(c.Google.Transport)
}

// Validate checks combinations a running server depends on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("storage: mongo_uri is required for the mongo driver"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("storage: sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q, must be one of: mongo, sqlite", c.Storage.Driver))
	}

	if c.Google.Transport != TransportAPI && c.Google.Transport != TransportSMTP {
		errs = append(errs, fmt.Errorf("google: unknown transport %q, must be one of: api, smtp", c.Google.Transport))
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		errs = append(errs, errors.New("google: client_id and client_secret are required"))
	}
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session: secret must be at least 32 characters"))
	}
	if c.Events.Enabled && c.RabbitURL == "" {
		errs = append(errs, errors.New("events: rabbitmq_url is required when events are enabled"))
	}
	if c.Uploads.MaxSize <= 0 {
		errs = append(errs, errors.New("uploads: max_size must be positive"))
	}

	return errors.Join(errs...)
}
