package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "THERMO"

type AppConfig struct {
	App            AppSettings            `mapstructure:"app"`
	Postgres       PostgresSettings       `mapstructure:"postgres"`
	Redis          RedisSettings          `mapstructure:"redis"`
	Kafka          KafkaSettings          `mapstructure:"kafka"`
	Mail           MailSettings           `mapstructure:"mail"`
	Tokens         TokenSettings          `mapstructure:"tokens"`
	Session        SessionSettings        `mapstructure:"session"`
	Accounts       AccountSettings        `mapstructure:"accounts"`
	Telemetry      TelemetrySettings      `mapstructure:"telemetry"`
	RateLimit      RateLimitSettings      `mapstructure:"rate_limit"`
	Argon2         Argon2Settings         `mapstructure:"argon2"`
	PasswordPolicy PasswordPolicySettings `mapstructure:"password_policy"`
}

type AppSettings struct {
	Name         string `mapstructure:"name"`
	Env          string `mapstructure:"env"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	BaseURL      string `mapstructure:"base_url"`
	SupportEmail string `mapstructure:"support_email"`
	// CORSOrigins lists browser origins allowed to call the API. "*" allows any.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// Storage selects the account/token backend: "postgres" or "memory".
	Storage string `mapstructure:"storage"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// DSN renders the connection string understood by pgx.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	PoolSize        int    `mapstructure:"pool_size"`
	SessionPrefix   string `mapstructure:"session_prefix"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// Addr returns host:port.
func (r RedisSettings) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaSettings configures the event producer. An empty broker list selects the logging stub.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// MailSettings configures the mail queue and SMTP delivery in the worker.
type MailSettings struct {
	Queue       string        `mapstructure:"queue"`
	From        string        `mapstructure:"from"`
	SMTPHost    string        `mapstructure:"smtp_host"`
	SMTPPort    int           `mapstructure:"smtp_port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TLSPolicy   string        `mapstructure:"tls_policy"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetry    int           `mapstructure:"max_retry"`
	Concurrency int           `mapstructure:"concurrency"`
}

// TokenSettings configures verification and password reset tokens.
type TokenSettings struct {
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
	ResetTTL        time.Duration `mapstructure:"reset_ttl"`
	ClockSkew       time.Duration `mapstructure:"clock_skew"`
	Retention       time.Duration `mapstructure:"retention"`
	PurgeCron       string        `mapstructure:"purge_cron"`
}

// SessionSettings configures the session registry and cookie.
type SessionSettings struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	SingleSession bool          `mapstructure:"single_session"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
}

// AccountSettings configures the role granted to newly registered accounts.
type AccountSettings struct {
	DefaultRole       string   `mapstructure:"default_role"`
	DefaultPrivileges []string `mapstructure:"default_privileges"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	Enabled                  bool          `mapstructure:"enabled"`
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	ResendMaxAttempts        int           `mapstructure:"resend_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type PasswordPolicySettings struct {
	MinLength  int `mapstructure:"min_length"`
	MaxLength  int `mapstructure:"max_length"`
	MinClasses int `mapstructure:"min_classes"`
	MinScore   int `mapstructure:"min_score"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.base_url",
	"app.support_email",
	"app.cors_origins",
	"app.storage",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.auto_migrate",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.pool_size",
	"redis.session_prefix",
	"redis.rate_limit_prefix",
	"kafka.enabled",
	"kafka.brokers",
	"kafka.topic_prefix",
	"mail.queue",
	"mail.from",
	"mail.smtp_host",
	"mail.smtp_port",
	"mail.username",
	"mail.password",
	"mail.tls_policy",
	"mail.timeout",
	"mail.max_retry",
	"mail.concurrency",
	"tokens.verification_ttl",
	"tokens.reset_ttl",
	"tokens.clock_skew",
	"tokens.retention",
	"tokens.purge_cron",
	"session.backend",
	"session.ttl",
	"session.single_session",
	"session.cookie_name",
	"session.cookie_secure",
	"accounts.default_role",
	"accounts.default_privileges",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.otlp_insecure",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"rate_limit.enabled",
	"rate_limit.window_duration",
	"rate_limit.login_max_attempts",
	"rate_limit.register_max_attempts",
	"rate_limit.resend_max_attempts",
	"rate_limit.password_reset_max_attempts",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
	"password_policy.min_length",
	"password_policy.max_length",
	"password_policy.min_classes",
	"password_policy.min_score",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *AppConfig) Validate() error {
	if c.Tokens.VerificationTTL <= 0 {
		return fmt.Errorf("tokens.verification_ttl must be positive")
	}
	if c.Tokens.ResetTTL <= 0 {
		return fmt.Errorf("tokens.reset_ttl must be positive")
	}
	if c.Tokens.ClockSkew < 0 {
		return fmt.Errorf("tokens.clock_skew must not be negative")
	}
	switch c.App.Storage {
	case "postgres", "memory":
	default:
		return fmt.Errorf("app.storage must be postgres or memory, got %q", c.App.Storage)
	}
	switch c.Session.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("session.backend must be redis or memory, got %q", c.Session.Backend)
	}
	if c.Accounts.DefaultRole == "" {
		return fmt.Errorf("accounts.default_role must be set")
	}
	// Emailed links fall back to the request Host only in development.
	if strings.TrimSpace(c.App.BaseURL) == "" && c.App.Env != "development" {
		return fmt.Errorf("app.base_url must be set when app.env is %q", c.App.Env)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "thermostat-accounts")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.support_email", "support@thermostat.local")
	v.SetDefault("app.storage", "postgres")
	v.SetDefault("app.cors_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "thermostat")
	v.SetDefault("postgres.password", "thermostat")
	v.SetDefault("postgres.database", "thermostat")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.session_prefix", "thermostat:session")
	v.SetDefault("redis.rate_limit_prefix", "thermostat:ratelimit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "thermostat")

	v.SetDefault("mail.queue", "mail")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.smtp_host", "localhost")
	v.SetDefault("mail.smtp_port", 1025)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.tls_policy", "opportunistic")
	v.SetDefault("mail.timeout", "15s")
	v.SetDefault("mail.max_retry", 5)
	v.SetDefault("mail.concurrency", 5)

	v.SetDefault("tokens.verification_ttl", "24h")
	v.SetDefault("tokens.reset_ttl", "30m")
	v.SetDefault("tokens.clock_skew", "0s")
	v.SetDefault("tokens.retention", "168h")
	v.SetDefault("tokens.purge_cron", "@hourly")

	v.SetDefault("session.backend", "redis")
	v.SetDefault("session.ttl", "12h")
	v.SetDefault("session.single_session", false)
	v.SetDefault("session.cookie_name", "THERMOSTAT_SESSION")
	v.SetDefault("session.cookie_secure", false)

	v.SetDefault("accounts.default_role", "ROLE_USER")
	v.SetDefault("accounts.default_privileges", []string{"READ_PRIVILEGE", "CHANGE_PASSWORD_PRIVILEGE"})

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "thermostat-accounts")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 3)
	v.SetDefault("rate_limit.resend_max_attempts", 3)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("password_policy.min_length", 10)
	v.SetDefault("password_policy.max_length", 128)
	v.SetDefault("password_policy.min_classes", 3)
	v.SetDefault("password_policy.min_score", 3)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
