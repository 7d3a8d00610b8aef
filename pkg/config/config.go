package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"consultlink-backend/pkg/env"
)

// Config holds all configuration for the consultation service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Log       LogConfig
	Relay     RelayConfig
	Call      CallConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// JWTConfig holds the two credential namespaces. Patient and doctor tokens
// are issued elsewhere with different secrets.
type JWTConfig struct {
	PatientSecret string
	DoctorSecret  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// RelayConfig holds websocket relay limits
type RelayConfig struct {
	MaxConnections  int
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
	PresenceTTL     time.Duration
}

// CallConfig holds client-side call negotiation settings
type CallConfig struct {
	STUNServers        []string
	MediaRetryInterval time.Duration
	MediaRetryAttempts int
}

// JobsConfig holds scheduled maintenance settings
type JobsConfig struct {
	GaugeSchedule      string
	ExpirySchedule     string
	SessionMaxDuration time.Duration // 0 disables expiry
}

// RateLimitConfig holds per-user limits for chat sends
type RateLimitConfig struct {
	ChatRequests int
	ChatWindow   time.Duration
}

// binding maps a config key to its environment variable and default value
type binding struct {
	key    string
	envVar string
	def    interface{}
}

var bindings = []binding{
	{"server.port", "PORT", 8085},
	{"server.environment", "ENV", "development"},
	{"server.service_name", "SERVICE_NAME", "consult-service"},
	{"server.allowed_origins", "CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"},

	{"database.host", "DB_HOST", "localhost"},
	{"database.port", "DB_PORT", 26257},
	{"database.user", "DB_USER", "root"},
	{"database.password", "DB_PASSWORD", ""},
	{"database.name", "DB_NAME", "consultlink"},
	{"database.ssl_mode", "DB_SSL_MODE", "disable"},
	{"database.max_conns", "DB_MAX_CONNS", 25},
	{"database.min_conns", "DB_MIN_CONNS", 5},

	{"redis.host", "REDIS_HOST", "localhost"},
	{"redis.port", "REDIS_PORT", 6379},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", 0},
	{"redis.pool_size", "REDIS_POOL_SIZE", 10},
	{"redis.timeout", "REDIS_TIMEOUT", "5s"},

	{"cassandra.hosts", "CASSANDRA_HOSTS", "localhost"},
	{"cassandra.keyspace", "CASSANDRA_KEYSPACE", "consultlink"},
	{"cassandra.username", "CASSANDRA_USER", ""},
	{"cassandra.password", "CASSANDRA_PASSWORD", ""},
	{"cassandra.timeout", "CASSANDRA_TIMEOUT", "10s"},

	{"jwt.patient_secret", "PATIENT_JWT_SECRET", ""},
	{"jwt.doctor_secret", "DOCTOR_JWT_SECRET", ""},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},
	{"log.output", "LOG_OUTPUT", "stdout"},
	{"log.file_path", "LOG_FILE_PATH", "/logs/consult.log"},

	{"relay.max_connections", "WS_MAX_CONNECTIONS", 1000},
	{"relay.send_buffer", "WS_SEND_BUFFER", 256},
	{"relay.max_message_bytes", "WS_MAX_MESSAGE_BYTES", 64 * 1024},
	{"relay.ping_interval", "WS_PING_INTERVAL", "60s"},
	{"relay.presence_ttl", "PRESENCE_TTL", "5m"},

	{"call.stun_servers", "STUN_SERVERS", "stun:stun.l.google.com:19302,stun:global.stun.twilio.com:3478"},
	{"call.media_retry_interval", "MEDIA_RETRY_INTERVAL", "1s"},
	{"call.media_retry_attempts", "MEDIA_RETRY_ATTEMPTS", 10},

	{"jobs.gauge_schedule", "JOBS_GAUGE_SCHEDULE", "@every 15s"},
	{"jobs.expiry_schedule", "JOBS_EXPIRY_SCHEDULE", "@every 5m"},
	{"jobs.session_max_duration", "SESSION_MAX_DURATION", "0s"},

	{"ratelimit.chat_requests", "CHAT_RATE_LIMIT", 30},
	{"ratelimit.chat_window", "CHAT_RATE_WINDOW", "1m"},
}

// Load reads settings.toml (optional) and the environment, environment winning
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.envVar); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", b.envVar, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			Environment:    v.GetString("server.environment"),
			ServiceName:    v.GetString("server.service_name"),
			AllowedOrigins: splitList(v.GetString("server.allowed_origins")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: env.GetStringFromFile("DB_PASSWORD", v.GetString("database.password")),
			Database: v.GetString("database.name"),
			SSLMode:  v.GetString("database.ssl_mode"),
			MaxConns: v.GetInt("database.max_conns"),
			MinConns: v.GetInt("database.min_conns"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: env.GetStringFromFile("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
			Timeout:  v.GetDuration("redis.timeout"),
		},
		Cassandra: CassandraConfig{
			Hosts:    splitList(v.GetString("cassandra.hosts")),
			Keyspace: v.GetString("cassandra.keyspace"),
			Username: v.GetString("cassandra.username"),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", v.GetString("cassandra.password")),
			Timeout:  v.GetDuration("cassandra.timeout"),
		},
		JWT: JWTConfig{
			PatientSecret: env.GetStringFromFile("PATIENT_JWT_SECRET", v.GetString("jwt.patient_secret")),
			DoctorSecret:  env.GetStringFromFile("DOCTOR_JWT_SECRET", v.GetString("jwt.doctor_secret")),
		},
		Log: LogConfig{
			Level:    v.GetString("log.level"),
			Format:   v.GetString("log.format"),
			Output:   v.GetString("log.output"),
			FilePath: v.GetString("log.file_path"),
		},
		Relay: RelayConfig{
			MaxConnections:  v.GetInt("relay.max_connections"),
			SendBuffer:      v.GetInt("relay.send_buffer"),
			MaxMessageBytes: v.GetInt64("relay.max_message_bytes"),
			PingInterval:    v.GetDuration("relay.ping_interval"),
			PresenceTTL:     v.GetDuration("relay.presence_ttl"),
		},
		Call: CallConfig{
			STUNServers:        splitList(v.GetString("call.stun_servers")),
			MediaRetryInterval: v.GetDuration("call.media_retry_interval"),
			MediaRetryAttempts: v.GetInt("call.media_retry_attempts"),
		},
		Jobs: JobsConfig{
			GaugeSchedule:      v.GetString("jobs.gauge_schedule"),
			ExpirySchedule:     v.GetString("jobs.expiry_schedule"),
			SessionMaxDuration: v.GetDuration("jobs.session_max_duration"),
		},
		RateLimit: RateLimitConfig{
			ChatRequests: v.GetInt("ratelimit.chat_requests"),
			ChatWindow:   v.GetDuration("ratelimit.chat_window"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.PatientSecret == "" || c.JWT.DoctorSecret == "" {
		return fmt.Errorf("PATIENT_JWT_SECRET and DOCTOR_JWT_SECRET must both be set")
	}
	if c.JWT.PatientSecret == c.JWT.DoctorSecret {
		return fmt.Errorf("patient and doctor JWT secrets must differ")
	}
	if c.IsProduction() {
		if len(c.JWT.PatientSecret) < 32 || len(c.JWT.DoctorSecret) < 32 {
			return fmt.Errorf("JWT secrets must be at least 32 characters in production")
		}
	}
	if c.Relay.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be positive")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if c.Call.MediaRetryAttempts <= 0 {
		return fmt.Errorf("MEDIA_RETRY_ATTEMPTS must be positive")
	}
	if c.Jobs.SessionMaxDuration < 0 {
		return fmt.Errorf("SESSION_MAX_DURATION must not be negative")
	}
	return nil
}

// IsProduction reports whether the service runs with ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// splitList parses a comma-separated list, dropping blanks
func splitList(value string) []string {
	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
