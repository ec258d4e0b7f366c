// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	AppEnv       string `mapstructure:"APP_ENV"`
	ServerHost   string `mapstructure:"SERVER_HOST"`
	ServerPort   string `mapstructure:"SERVER_PORT"`
	PublicDomain string `mapstructure:"PUBLIC_DOMAIN"`

	DBDriver      string `mapstructure:"DB_DRIVER"`
	DBHost        string `mapstructure:"DB_HOST"`
	DBPort        string `mapstructure:"DB_PORT"`
	DBUser        string `mapstructure:"DB_USER"`
	DBPassword    string `mapstructure:"DB_PASSWORD"`
	DBName        string `mapstructure:"DB_NAME"`
	DBSSLMode     string `mapstructure:"DB_SSLMODE"`
	DBAutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`

	CacheHost     string `mapstructure:"CACHE_HOST"`
	CachePort     string `mapstructure:"CACHE_PORT"`
	CachePassword string `mapstructure:"CACHE_PASSWORD"`
	CacheDB       int    `mapstructure:"CACHE_DB"`

	S3Enabled         bool   `mapstructure:"S3_ENABLED"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3BucketName      string `mapstructure:"S3_BUCKET_NAME"`
	S3EndpointURL     string `mapstructure:"S3_ENDPOINT_URL"`
	LocalStorageDir   string `mapstructure:"LOCAL_STORAGE_DIR"`
	EvidenceMaxBytes  int64  `mapstructure:"EVIDENCE_MAX_BYTES"`

	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      string `mapstructure:"SMTP_PORT"`
	SMTPUsername  string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom      string `mapstructure:"SMTP_FROM"`
	OperatorEmail string `mapstructure:"OPERATOR_EMAIL"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	ChargilyAPIURL        string        `mapstructure:"CHARGILY_API_URL"`
	ChargilySecretKey     string        `mapstructure:"CHARGILY_SECRET_KEY"`
	CheckoutSuccessURL    string        `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutFailureURL    string        `mapstructure:"CHECKOUT_FAILURE_URL"`
	CheckoutSessionTTL    time.Duration `mapstructure:"CHECKOUT_SESSION_TTL"`
	CheckoutTrialDays     int           `mapstructure:"CHECKOUT_TRIAL_DAYS"`
	PlanDurationDays      int           `mapstructure:"PLAN_DURATION_DAYS"`
	PlanPricePremium      int64         `mapstructure:"PLAN_PRICE_PREMIUM"`
	PlanPriceProfessional int64         `mapstructure:"PLAN_PRICE_PROFESSIONAL"`
	PlanPriceEnterprise   int64         `mapstructure:"PLAN_PRICE_ENTERPRISE"`
	Currency              string        `mapstructure:"CURRENCY"`

	ManualPaymentStrictAmount bool   `mapstructure:"MANUAL_PAYMENT_STRICT_AMOUNT"`
	ReimbursementStandardRate string `mapstructure:"REIMBURSEMENT_STANDARD_RATE"`

	EntitlementSweepSchedule string `mapstructure:"ENTITLEMENT_SWEEP_SCHEDULE"`
	CheckoutExpirySchedule   string `mapstructure:"CHECKOUT_EXPIRY_SCHEDULE"`
	CheckoutGrantSchedule    string `mapstructure:"CHECKOUT_GRANT_SCHEDULE"`
	SnapshotSchedule         string `mapstructure:"SNAPSHOT_SCHEDULE"`

	JobWorkers    int           `mapstructure:"JOB_WORKERS"`
	JobMaxRetries int           `mapstructure:"JOB_MAX_RETRIES"`
	JobRetryDelay time.Duration `mapstructure:"JOB_RETRY_DELAY"`

	RateLimitMax    int           `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindow time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	MonitorUser     string        `mapstructure:"MONITOR_USER"`
	MonitorPassword string        `mapstructure:"MONITOR_PASSWORD"`
}

var defaults = map[string]interface{}{
	"APP_ENV":       "prod",
	"SERVER_HOST":   "0.0.0.0",
	"SERVER_PORT":   "4000",
	"PUBLIC_DOMAIN": "",

	"DB_DRIVER":       "mysql",
	"DB_HOST":         "127.0.0.1",
	"DB_PORT":         "",
	"DB_USER":         "",
	"DB_PASSWORD":     "",
	"DB_NAME":         "pharmalink",
	"DB_SSLMODE":      "disable",
	"DB_AUTO_MIGRATE": false,

	"CACHE_HOST":     "localhost",
	"CACHE_PORT":     "6379",
	"CACHE_PASSWORD": "",
	"CACHE_DB":       0,

	"S3_ENABLED":           false,
	"S3_ACCESS_KEY_ID":     "",
	"S3_SECRET_ACCESS_KEY": "",
	"S3_REGION":            "eu-west-3",
	"S3_BUCKET_NAME":       "",
	"S3_ENDPOINT_URL":      "",
	"LOCAL_STORAGE_DIR":    "./data",
	"EVIDENCE_MAX_BYTES":   10 << 20,

	"SMTP_HOST":      "",
	"SMTP_PORT":      "587",
	"SMTP_USERNAME":  "",
	"SMTP_PASSWORD":  "",
	"SMTP_FROM":      "",
	"OPERATOR_EMAIL": "",

	"AMQP_URL":      "",
	"AMQP_EXCHANGE": "pharmalink.billing",

	"JWT_SECRET":   "",
	"JWT_ISSUER":   "",
	"JWT_AUDIENCE": "",

	"CHARGILY_API_URL":        "https://pay.chargily.net/api/v2",
	"CHARGILY_SECRET_KEY":     "",
	"CHECKOUT_SUCCESS_URL":    "",
	"CHECKOUT_FAILURE_URL":    "",
	"CHECKOUT_SESSION_TTL":    "30m",
	"CHECKOUT_TRIAL_DAYS":     60,
	"PLAN_DURATION_DAYS":      30,
	"PLAN_PRICE_PREMIUM":      1500,
	"PLAN_PRICE_PROFESSIONAL": 3000,
	"PLAN_PRICE_ENTERPRISE":   7500,
	"CURRENCY":                "DZD",

	"MANUAL_PAYMENT_STRICT_AMOUNT": false,
	"REIMBURSEMENT_STANDARD_RATE":  "0.80",

	"ENTITLEMENT_SWEEP_SCHEDULE": "@every 15m",
	"CHECKOUT_EXPIRY_SCHEDULE":   "@every 5m",
	"CHECKOUT_GRANT_SCHEDULE":    "@every 10m",
	"SNAPSHOT_SCHEDULE":          "@daily",

	"JOB_WORKERS":     2,
	"JOB_MAX_RETRIES": 5,
	"JOB_RETRY_DELAY": "30s",

	"RATE_LIMIT_MAX":    60,
	"RATE_LIMIT_WINDOW": "1m",
	"MONITOR_USER":      "",
	"MONITOR_PASSWORD":  "",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Bind environment variables explicitly so they appear in Unmarshal
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if cfg.DBPort == "" {
		cfg.DBPort = defaultDBPort(cfg.DBDriver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.S3Enabled {
		if c.S3AccessKeyID == "" || c.S3SecretAccessKey == "" || c.S3BucketName == "" {
			return errors.New("S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY and S3_BUCKET_NAME are required when S3 is enabled")
		}
	}
	if c.CheckoutTrialDays <= 0 || c.PlanDurationDays <= 0 {
		return errors.New("CHECKOUT_TRIAL_DAYS and PLAN_DURATION_DAYS must be positive")
	}
	if c.CheckoutSessionTTL <= 0 {
		return errors.New("CHECKOUT_SESSION_TTL must be positive")
	}
	return nil
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

// CacheAddr returns host:port of the Redis server.
func (c *Config) CacheAddr() string {
	return fmt.Sprintf("%s:%s", c.CacheHost, c.CachePort)
}

func defaultDBPort(driver string) string {
	if driver == "postgres" {
		return "5432"
	}
	return "3306"
}
