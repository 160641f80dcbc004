package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	DocstoreDriver string `mapstructure:"DOCSTORE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	MigrationsDir  string `mapstructure:"MIGRATIONS_DIR"`

	ObjectStoreDriver    string        `mapstructure:"OBJECTSTORE_DRIVER"`
	ObjectStorePublicURL string        `mapstructure:"OBJECTSTORE_PUBLIC_URL"`
	S3Bucket             string        `mapstructure:"S3_BUCKET"`
	S3Region             string        `mapstructure:"S3_REGION"`
	S3Endpoint           string        `mapstructure:"S3_ENDPOINT"`
	S3AccessKey          string        `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey          string        `mapstructure:"S3_SECRET_KEY"`
	S3URLTTL             time.Duration `mapstructure:"S3_URL_TTL"`

	SessionDriver string        `mapstructure:"SESSION_DRIVER"`
	RedisURL      string        `mapstructure:"REDIS_URL"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTTTL        time.Duration `mapstructure:"JWT_TTL"`

	BackupRetentionDays int    `mapstructure:"BACKUP_RETENTION_DAYS"`
	InvoicePrefix       string `mapstructure:"INVOICE_PREFIX"`

	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`

	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int      `mapstructure:"RATE_LIMIT_BURST"`
	LoginRateLimitRPS   float64  `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int      `mapstructure:"LOGIN_RATE_LIMIT_BURST"`
	BodyLimit           string   `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV",
	"DOCSTORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH", "MIGRATIONS_DIR",
	"OBJECTSTORE_DRIVER", "OBJECTSTORE_PUBLIC_URL", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
	"S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_URL_TTL",
	"SESSION_DRIVER", "REDIS_URL", "SESSION_TTL",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "JWT_TTL",
	"BACKUP_RETENTION_DAYS", "INVOICE_PREFIX",
	"MQTT_BROKER", "MQTT_CLIENT_ID",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DOCSTORE_DRIVER", "memory")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SQLITE_PATH", "mediclo.db")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("OBJECTSTORE_DRIVER", "memory")
	v.SetDefault("OBJECTSTORE_PUBLIC_URL", "http://localhost:8000")
	v.SetDefault("S3_URL_TTL", "24h")
	v.SetDefault("SESSION_DRIVER", "docstore")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("JWT_ISSUER", "mediclo")
	v.SetDefault("JWT_TTL", "12h")
	v.SetDefault("BACKUP_RETENTION_DAYS", 90)
	v.SetDefault("INVOICE_PREFIX", "INV")
	v.SetDefault("MQTT_CLIENT_ID", "mediclo-server")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 5)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 10)
	v.SetDefault("BODY_LIMIT", "2M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		log.Println("WARNING: JWT_SIGNING_KEY is not set; using an insecure development key.")
		cfg.JWTSigningKey = "mediclo-development-signing-key-change-me"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the selected drivers have what they need to start.
func (c *Config) Validate() error {
	switch c.DocstoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DOCSTORE_DRIVER is \"postgres\"")
		}
	default:
		return fmt.Errorf("DOCSTORE_DRIVER must be \"memory\", \"postgres\", or \"sqlite\", got %q", c.DocstoreDriver)
	}

	switch c.ObjectStoreDriver {
	case "memory":
	case "s3":
		if c.S3Bucket == "" || c.S3Region == "" {
			return fmt.Errorf("S3_BUCKET and S3_REGION are required when OBJECTSTORE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("OBJECTSTORE_DRIVER must be \"memory\" or \"s3\", got %q", c.ObjectStoreDriver)
	}

	switch c.SessionDriver {
	case "docstore":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_DRIVER is \"redis\"")
		}
	default:
		return fmt.Errorf("SESSION_DRIVER must be \"docstore\" or \"redis\", got %q", c.SessionDriver)
	}

	if !c.IsDev() && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes outside development")
	}
	if c.BackupRetentionDays <= 0 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must be positive, got %d", c.BackupRetentionDays)
	}
	if !isLetters(c.InvoicePrefix) {
		return fmt.Errorf("INVOICE_PREFIX must be letters only, got %q", c.InvoicePrefix)
	}
	if c.SessionTTL <= 0 || c.JWTTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and JWT_TTL must be positive durations")
	}

	return nil
}

func isLetters(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
