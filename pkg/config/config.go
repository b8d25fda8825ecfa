package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Log           LogConfig
	Cache         CacheConfig
	Workflow      WorkflowConfig
	Notifications NotificationsConfig
	Tracking      TrackingConfig
	Tracing       TracingConfig
	RateLimit     RateLimitConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig tunes the course lookup cache.
type CacheConfig struct {
	Enabled   bool
	CourseTTL time.Duration
}

// WorkflowConfig bounds the enrollment workflow.
type WorkflowConfig struct {
	StepTimeout time.Duration
	CourseLock  bool
}

// NotificationsConfig controls event fan-out.
type NotificationsConfig struct {
	Async         bool
	Workers       int
	Retries       int
	InterestsFile string
}

// TrackingConfig holds the cron expressions used to plan progress notifications.
type TrackingConfig struct {
	WelcomeDelay          time.Duration
	ReminderSchedule      string
	ReminderCount         int
	DeadlineAlertSchedule string
	DeadlineAlertCount    int
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// RateLimitConfig throttles workflow submissions per client IP.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled:   v.GetBool("ENABLE_COURSE_CACHE"),
		CourseTTL: parseDuration(v.GetString("COURSE_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Workflow = WorkflowConfig{
		StepTimeout: parseDuration(v.GetString("WORKFLOW_STEP_TIMEOUT"), 3*time.Second),
		CourseLock:  v.GetBool("WORKFLOW_COURSE_LOCK"),
	}

	cfg.Notifications = NotificationsConfig{
		Async:         v.GetBool("NOTIFICATIONS_ASYNC"),
		Workers:       v.GetInt("NOTIFICATIONS_WORKERS"),
		Retries:       v.GetInt("NOTIFICATIONS_RETRIES"),
		InterestsFile: v.GetString("NOTIFICATIONS_INTERESTS_FILE"),
	}

	cfg.Tracking = TrackingConfig{
		WelcomeDelay:          parseDuration(v.GetString("TRACKING_WELCOME_DELAY"), 5*time.Minute),
		ReminderSchedule:      v.GetString("TRACKING_REMINDER_SCHEDULE"),
		ReminderCount:         v.GetInt("TRACKING_REMINDER_COUNT"),
		DeadlineAlertSchedule: v.GetString("TRACKING_DEADLINE_ALERT_SCHEDULE"),
		DeadlineAlertCount:    v.GetInt("TRACKING_DEADLINE_ALERT_COUNT"),
	}

	cfg.Tracing = TracingConfig{
		Enabled:     v.GetBool("OTEL_ENABLED"),
		Endpoint:    v.GetString("OTEL_ENDPOINT"),
		ServiceName: v.GetString("OTEL_SERVICE_NAME"),
	}

	cfg.RateLimit = RateLimitConfig{
		RPS:   v.GetFloat64("ENROLLMENT_RATE_LIMIT_RPS"),
		Burst: v.GetInt("ENROLLMENT_RATE_LIMIT_BURST"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms_enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_COURSE_CACHE", false)
	v.SetDefault("COURSE_CACHE_TTL", "5m")

	v.SetDefault("WORKFLOW_STEP_TIMEOUT", "3s")
	v.SetDefault("WORKFLOW_COURSE_LOCK", true)

	v.SetDefault("NOTIFICATIONS_ASYNC", false)
	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_INTERESTS_FILE", "")

	v.SetDefault("TRACKING_WELCOME_DELAY", "5m")
	v.SetDefault("TRACKING_REMINDER_SCHEDULE", "0 9 * * MON")
	v.SetDefault("TRACKING_REMINDER_COUNT", 4)
	v.SetDefault("TRACKING_DEADLINE_ALERT_SCHEDULE", "0 18 * * FRI")
	v.SetDefault("TRACKING_DEADLINE_ALERT_COUNT", 2)

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "lms-enrollment-api")

	v.SetDefault("ENROLLMENT_RATE_LIMIT_RPS", 5)
	v.SetDefault("ENROLLMENT_RATE_LIMIT_BURST", 10)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
