package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// Empty RedisAddr selects the in-memory backends.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	JWTSecret          string
	CORSAllowedOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	StripeDryRun        bool

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	UseSES            bool
	SESFromEmail      string
	AdminEmails       []string
	AdminConsoleURL   string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventsQueueURL      string

	VelocityMaxCreates int
	VelocityWindow     time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int

	RealtimeQueueSize int
	RealtimeChannel   string

	OutboxInterval  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Stripe
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/bookings?paid=1"),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/bookings"),
		StripeDryRun:        getEnvAsBool("STRIPE_DRY_RUN", false),

		// Admin email
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Booking Desk"),
		UseSES:            getEnvAsBool("USE_SES", false),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		AdminEmails:       getEnvAsList("ADMIN_EMAILS", nil),
		AdminConsoleURL:   getEnv("ADMIN_CONSOLE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),

		VelocityMaxCreates: getEnvAsInt("VELOCITY_MAX_CREATES", 5),
		VelocityWindow:     getEnvAsDuration("VELOCITY_WINDOW", time.Hour),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),

		RealtimeQueueSize: getEnvAsInt("REALTIME_QUEUE_SIZE", 256),
		RealtimeChannel:   getEnv("REALTIME_CHANNEL", "booking:realtime"),

		OutboxInterval:  getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// UsesMemoryBackends reports whether the service runs without Postgres and Redis.
func (c *Config) UsesMemoryBackends() bool {
	return c.DatabaseURL == "" && c.RedisAddr == ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
