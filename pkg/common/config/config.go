package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	TrustProxy     bool

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Every Redis and Kafka round trip on the request path is bounded by this.
	StoreTimeout time.Duration

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Notifications
	NotifyTopic          string
	NotifyDLQTopic       string
	NotifyConcurrency    int
	NotifyMaxAttempts    int
	NotifyRetryBaseDelay time.Duration
	NotifySendRPS        float64
	NotifyTemplatesPath  string
	SubmissionTemplateID string
	TicketTemplateID     string
	SupportEmail         string

	// Mailer
	MailAPIURL            string
	MailAPIKey            string
	MailFrom              string
	MailOAuthTokenURL     string
	MailOAuthClientID     string
	MailOAuthClientSecret string
	MailTimeout           time.Duration

	// Dashboard auth
	JWTSecret string
	JWTIssuer string

	// Cache
	ProjectCacheTTL time.Duration
	ListCacheTTL    time.Duration

	// Rate limiting
	ShortTermCapacity int
	ShortTermInterval time.Duration
	ShortTermRefill   int
	LongTermCapacity  int
	LongTermInterval  time.Duration
	LongTermRefill    int
	ProjectMultiplier int
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 15*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		TrustProxy:     getBoolEnv("TRUST_PROXY_HEADERS", false),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "formiq"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "formiq"),
		PostgresDB:       getEnv("POSTGRES_DB", "formiq"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		StoreTimeout: getDuration("STORE_TIMEOUT", 2*time.Second),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "formiq-notifications"),

		NotifyTopic:          getEnv("NOTIFY_TOPIC", "notifications.email"),
		NotifyDLQTopic:       getEnv("NOTIFY_DLQ_TOPIC", "notifications.email.dlq"),
		NotifyConcurrency:    getIntEnv("NOTIFY_WORKER_CONCURRENCY", 5),
		NotifyMaxAttempts:    getIntEnv("NOTIFY_MAX_ATTEMPTS", 3),
		NotifyRetryBaseDelay: getDuration("NOTIFY_RETRY_BASE_DELAY", 500*time.Millisecond),
		NotifySendRPS:        getFloatEnv("NOTIFY_SEND_RPS", 10),
		NotifyTemplatesPath:  getEnv("NOTIFY_TEMPLATES_PATH", ""),
		SubmissionTemplateID: getEnv("FORM_SUBMISSION_TEMPLATE_ID", ""),
		TicketTemplateID:     getEnv("SUPPORT_TICKET_TEMPLATE_ID", ""),
		SupportEmail:         getEnv("SUPPORT_EMAIL", "support@formiq.dev"),

		MailAPIURL:            getEnv("MAIL_API_URL", ""),
		MailAPIKey:            getEnv("MAIL_API_KEY", ""),
		MailFrom:              getEnv("MAIL_FROM", "no-reply@formiq.dev"),
		MailOAuthTokenURL:     getEnv("MAIL_OAUTH_TOKEN_URL", ""),
		MailOAuthClientID:     getEnv("MAIL_OAUTH_CLIENT_ID", ""),
		MailOAuthClientSecret: getEnv("MAIL_OAUTH_CLIENT_SECRET", ""),
		MailTimeout:           getDuration("MAIL_TIMEOUT", 10*time.Second),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "formiq-auth"),

		ProjectCacheTTL: getDuration("CACHE_PROJECT_TTL", 15*time.Minute),
		ListCacheTTL:    getDuration("CACHE_LIST_TTL", time.Hour),

		ShortTermCapacity: getIntEnv("RATE_LIMIT_SHORT_CAPACITY", 10),
		ShortTermInterval: getDuration("RATE_LIMIT_SHORT_INTERVAL", time.Minute),
		ShortTermRefill:   getIntEnv("RATE_LIMIT_SHORT_REFILL", 1),
		LongTermCapacity:  getIntEnv("RATE_LIMIT_LONG_CAPACITY", 100),
		LongTermInterval:  getDuration("RATE_LIMIT_LONG_INTERVAL", time.Hour),
		LongTermRefill:    getIntEnv("RATE_LIMIT_LONG_REFILL", 1),
		ProjectMultiplier: getIntEnv("RATE_LIMIT_PROJECT_MULTIPLIER", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
