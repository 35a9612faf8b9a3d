package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the funnel service.
type Config struct {
	Environment string

	Server     ServerConfig
	OTPAPI     OTPAPIConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Session    SessionConfig
	Token      TokenConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Analytics  AnalyticsConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
}

// OTPAPIConfig describes the external OTP provider. The provider is a
// collaborator reached over HTTP; this service never generates or
// validates OTP codes itself.
type OTPAPIConfig struct {
	BaseURL        string
	InitiatePath   string
	VerifyPath     string
	Timeout        time.Duration
	AllowedDomains []string
}

// EncryptionConfig carries the payload cipher key material. Key and IV
// must each be at least 16 characters; an empty pair leaves the cipher
// in its not-configured state.
type EncryptionConfig struct {
	Key string
	IV  string
}

type RateLimitConfig struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

type SessionConfig struct {
	Timeout time.Duration
}

type TokenConfig struct {
	TTL time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
	Table    string
}

type AnalyticsConfig struct {
	AdvisorID   int
	PhonePrefix string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment, applying
// defaults suitable for local development. A .env file is honored when
// present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/funnel-service/certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
		},
		OTPAPI: OTPAPIConfig{
			BaseURL:        sanitizeURL(getEnv("OTP_API_BASE_URL", "")),
			InitiatePath:   sanitizeURL(getEnv("OTP_API_INITIATE_PATH", "/initiate-otp")),
			VerifyPath:     sanitizeURL(getEnv("OTP_API_VERIFY_PATH", "/verify-user")),
			Timeout:        getEnvDuration("OTP_API_TIMEOUT", 10*time.Second),
			AllowedDomains: getEnvSlice("OTP_API_ALLOWED_DOMAINS", []string{"localhost", "127.0.0.1"}),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
			IV:  getEnv("ENCRYPTION_IV", ""),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getEnvInt("RATE_LIMIT_MAX_REQUESTS", 3),
			Window:        getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			BlockDuration: getEnvDuration("RATE_LIMIT_BLOCK_DURATION", time.Hour),
		},
		Session: SessionConfig{
			Timeout: getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		},
		Token: TokenConfig{
			TTL: getEnvDuration("TOKEN_TTL", 8*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_FUNNEL_TOPIC", "funnel-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", true),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "funnel"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("CLICKHOUSE_SECURITY_TABLE", "security_events"),
		},
		Analytics: AnalyticsConfig{
			AdvisorID:   getEnvInt("ANALYTICS_ADVISOR_ID", 15721),
			PhonePrefix: getEnv("ANALYTICS_PHONE_PREFIX", "+91"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg
}

// Validate checks the loaded configuration. In production it enforces
// HTTPS on the OTP API base URL and requires the API domain to be in
// the allowlist.
func (c *Config) Validate() error {
	if c.OTPAPI.BaseURL == "" {
		return fmt.Errorf("OTP API base URL is required")
	}
	u, err := url.Parse(c.OTPAPI.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid OTP API base URL: %w", err)
	}
	if c.IsProduction() {
		if u.Scheme != "https" {
			return fmt.Errorf("HTTPS required for OTP API in production")
		}
		if !c.domainAllowed(u.Hostname()) {
			return fmt.Errorf("OTP API domain %q not in allowlist", u.Hostname())
		}
	}
	if c.OTPAPI.InitiatePath == "" || c.OTPAPI.VerifyPath == "" {
		return fmt.Errorf("OTP API endpoint paths are required")
	}
	if c.Encryption.Key != "" || c.Encryption.IV != "" {
		if len(c.Encryption.Key) < 16 || len(c.Encryption.IV) < 16 {
			return fmt.Errorf("encryption key and IV must be at least 16 characters")
		}
	}
	return nil
}

func (c *Config) domainAllowed(hostname string) bool {
	for _, domain := range c.OTPAPI.AllowedDomains {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return true
		}
	}
	return false
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// sanitizeURL strips markup-significant characters from configured
// URLs and paths before they are used to build requests.
func sanitizeURL(s string) string {
	s = strings.NewReplacer("<", "", ">", "", "'", "", `"`, "", "&", "").Replace(s)
	return strings.TrimSpace(s)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
