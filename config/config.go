package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/faithconnect/member-service/shared/utils"
	"github.com/faithconnect/member-service/v1/models"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when Load is given an empty path
const DefaultPath = "config/app.yaml"

// Store backends
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds the member service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Mongo   MongoConfig   `yaml:"mongo"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	IDP     IDPConfig     `yaml:"idp"`
	Mail    MailConfig    `yaml:"mail"`
	Audit   AuditConfig   `yaml:"audit"`
	Sync    SyncConfig    `yaml:"sync"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// StoreConfig selects the member document store. PostgreSQL connection
// settings come from the environment, see v1.NewDatabaseConfig.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlitePath"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig enables live member updates when Addr is set
type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	MaxStreamLength int64  `yaml:"maxStreamLength"`
}

type AuthConfig struct {
	JWKSURL           string        `yaml:"jwksUrl"`
	Issuer            string        `yaml:"issuer"`
	ClientIDs         []string      `yaml:"clientIds"`
	OrgName           string        `yaml:"orgName"`
	AuthorizationMode string        `yaml:"authorizationMode"`
	StrictMode        bool          `yaml:"strictMode"`
	JWKSTimeout       time.Duration `yaml:"jwksTimeout"`
}

type IDPConfig struct {
	Provider     string   `yaml:"provider"`
	BaseURL      string   `yaml:"baseUrl"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
	MemberGroup  string   `yaml:"memberGroup"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// ResetURL is the page that accepts ?token= from reset mails
	ResetURL        string        `yaml:"resetUrl"`
	SignInURL       string        `yaml:"signInUrl"`
	ResetSigningKey string        `yaml:"resetSigningKey"`
	ResetTokenTTL   time.Duration `yaml:"resetTokenTtl"`
}

type AuditConfig struct {
	ServiceURL string `yaml:"serviceUrl"`
}

// SyncConfig bounds the optimistic-concurrency retry of member transactions
type SyncConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Logging: LoggingConfig{Format: "json", Level: "info"},
		Store:   StoreConfig{Backend: BackendPostgres, SQLitePath: "faithconnect.db"},
		Mongo:   MongoConfig{Database: "faithconnect"},
		Auth: AuthConfig{
			AuthorizationMode: "fail_closed",
			JWKSTimeout:       10 * time.Second,
		},
		IDP:  IDPConfig{Provider: "asgardeo", Scopes: []string{"internal_user_mgt_create", "internal_user_mgt_view", "internal_user_mgt_delete", "internal_user_mgt_update", "internal_group_mgt_update", "internal_group_mgt_view"}},
		Mail: MailConfig{Port: 587, ResetTokenTTL: time.Hour},
		Sync: SyncConfig{MaxAttempts: 5, InitialInterval: 20 * time.Millisecond, MaxInterval: 500 * time.Millisecond},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		slog.Debug("Config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.deriveAuth()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = utils.GetEnvOrDefault("PORT", c.Server.Port)
	c.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Logging.Format = utils.GetEnvOrDefault("LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = utils.GetEnvOrDefault("LOG_LEVEL", c.Logging.Level)

	c.Store.Backend = strings.ToLower(utils.GetEnvOrDefault("STORE_BACKEND", c.Store.Backend))
	c.Store.SQLitePath = utils.GetEnvOrDefault("SQLITE_PATH", c.Store.SQLitePath)
	c.Mongo.URI = utils.GetEnvOrDefault("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = utils.GetEnvOrDefault("MONGO_DATABASE", c.Mongo.Database)

	c.Redis.Addr = utils.GetEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = utils.GetEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = utils.GetEnvIntOrDefault("REDIS_DB", c.Redis.DB)

	c.Auth.JWKSURL = utils.GetEnvOrDefault("ASGARDEO_JWKS_URL", c.Auth.JWKSURL)
	c.Auth.Issuer = utils.GetEnvOrDefault("ASGARDEO_TOKEN_URL", c.Auth.Issuer)
	c.Auth.ClientIDs = getEnvList("ASGARDEO_CLIENT_IDS", c.Auth.ClientIDs)
	c.Auth.OrgName = utils.GetEnvOrDefault("ASGARDEO_ORG_NAME", c.Auth.OrgName)
	c.Auth.AuthorizationMode = utils.GetEnvOrDefault("AUTHORIZATION_MODE", c.Auth.AuthorizationMode)
	c.Auth.StrictMode = utils.GetEnvBoolOrDefault("AUTHORIZATION_STRICT_MODE", c.Auth.StrictMode)

	c.IDP.BaseURL = utils.GetEnvOrDefault("ASGARDEO_BASE_URL", c.IDP.BaseURL)
	c.IDP.ClientID = utils.GetEnvOrDefault("ASGARDEO_CLIENT_ID", c.IDP.ClientID)
	c.IDP.ClientSecret = utils.GetEnvOrDefault("ASGARDEO_CLIENT_SECRET", c.IDP.ClientSecret)
	c.IDP.MemberGroup = utils.GetEnvOrDefault("ASGARDEO_MEMBER_GROUP", c.IDP.MemberGroup)

	c.Mail.Host = utils.GetEnvOrDefault("SMTP_HOST", c.Mail.Host)
	c.Mail.Port = utils.GetEnvIntOrDefault("SMTP_PORT", c.Mail.Port)
	c.Mail.Username = utils.GetEnvOrDefault("SMTP_USERNAME", c.Mail.Username)
	c.Mail.Password = utils.GetEnvOrDefault("SMTP_PASSWORD", c.Mail.Password)
	c.Mail.From = utils.GetEnvOrDefault("MAIL_FROM", c.Mail.From)
	c.Mail.ResetURL = utils.GetEnvOrDefault("PASSWORD_RESET_URL", c.Mail.ResetURL)
	c.Mail.SignInURL = utils.GetEnvOrDefault("SIGN_IN_URL", c.Mail.SignInURL)
	c.Mail.ResetSigningKey = utils.GetEnvOrDefault("PASSWORD_RESET_SIGNING_KEY", c.Mail.ResetSigningKey)
	c.Mail.ResetTokenTTL = utils.GetEnvDurationOrDefault("PASSWORD_RESET_TTL", c.Mail.ResetTokenTTL)

	c.Audit.ServiceURL = utils.GetEnvOrDefault("AUDIT_SERVICE_URL", c.Audit.ServiceURL)

	c.Sync.MaxAttempts = utils.GetEnvIntOrDefault("SYNC_MAX_ATTEMPTS", c.Sync.MaxAttempts)
	c.Sync.InitialInterval = utils.GetEnvDurationOrDefault("SYNC_INITIAL_INTERVAL", c.Sync.InitialInterval)
	c.Sync.MaxInterval = utils.GetEnvDurationOrDefault("SYNC_MAX_INTERVAL", c.Sync.MaxInterval)
}

// deriveAuth fills the JWKS and issuer URLs from the IdP tenant URL
func (c *Config) deriveAuth() {
	base := strings.TrimSuffix(c.IDP.BaseURL, "/")
	if base == "" {
		return
	}
	if c.Auth.JWKSURL == "" {
		c.Auth.JWKSURL = base + "/oauth2/jwks"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = base + "/oauth2/token"
	}
}

// ValidateStore checks the settings needed to open the member store
func (c *Config) ValidateStore() error {
	switch c.Store.Backend {
	case BackendPostgres, BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlitePath is required for the sqlite backend")
		}
	case BackendMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %q", c.Store.Backend)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.maxAttempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	return nil
}

// Validate checks everything the HTTP server needs
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Auth.JWKSURL == "" {
		return errors.New("auth.jwksUrl is required (or set idp.baseUrl)")
	}
	if len(c.Auth.ClientIDs) == 0 {
		return errors.New("at least one auth client id is required")
	}
	if _, ok := models.ParseAuthorizationMode(c.Auth.AuthorizationMode); !ok {
		return fmt.Errorf("invalid authorization mode %q, valid options: fail_closed, fail_open_admin, fail_open_admin_system", c.Auth.AuthorizationMode)
	}
	if c.Mail.Host != "" && c.Mail.ResetSigningKey == "" {
		return errors.New("mail.resetSigningKey is required when mail is enabled")
	}
	return nil
}

func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
