package config

import (
	"os"
	"strconv"
	"time"
)

// SignalWeights are the fusion weights applied to the per-signal
// sub-scores. Weights are renormalized over the signals actually
// present for a pair, so they only need to be relative.
type SignalWeights struct {
	Text  float64
	Image float64
	Geo   float64
	Time  float64
	Color float64
}

// RabbitMQConfig holds the AMQP connection settings.
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Exchange string

	// Routing keys
	NotificationRoutingKey string
	ReportEventBindingKey  string
	Queue                  string
}

// GetAMQPURL builds the amqp:// connection URL.
func (r *RabbitMQConfig) GetAMQPURL() string {
	return "amqp://" + r.User + ":" + r.Password + "@" + r.Host + ":" + r.Port + "/"
}

// Config holds all configuration for the match engine service.
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig

	// Candidate generation
	EmbeddingTopK          int
	GeoRadiusKm            float64
	ImageHashMaxDistance   int     // 0 means derive from hash length (bits/4)
	TimeWindowDays         int
	MaxCandidatesPerReport int
	CategoryFilter         bool
	RetrievalTimeout       time.Duration

	// Score fusion
	Weights     SignalWeights
	ColorSignal bool

	// Lifecycle
	AutoPromoteThreshold float64 // <= 0 disables auto-promotion
	Workers              int
	RescanInterval       time.Duration
	NotifyRetryAttempts  int
	NotifyRetryBackoff   time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "lostfound"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// RabbitMQ defaults
		RabbitMQ: RabbitMQConfig{
			Host:                   getEnv("RABBITMQ_HOST", "localhost"),
			Port:                   getEnv("RABBITMQ_PORT", "5672"),
			User:                   getEnv("RABBITMQ_USER", "guest"),
			Password:               getEnv("RABBITMQ_PASSWORD", "guest"),
			Exchange:               getEnv("RABBITMQ_EXCHANGE", "lostfound"),
			NotificationRoutingKey: getEnv("RABBITMQ_NOTIFICATION_ROUTING_KEY", "notification.match_found"),
			ReportEventBindingKey:  getEnv("RABBITMQ_REPORT_EVENT_BINDING_KEY", "report.*"),
			Queue:                  getEnv("RABBITMQ_QUEUE", "match-engine-report-events"),
		},

		// Generation defaults. These are recall/latency trade-offs, not
		// business rules; operators tune them per deployment.
		EmbeddingTopK:          getIntEnv("EMBEDDING_TOP_K", 50),
		GeoRadiusKm:            getFloatEnv("GEO_RADIUS_KM", 25),
		ImageHashMaxDistance:   getIntEnv("IMAGE_HASH_MAX_DISTANCE", 0),
		TimeWindowDays:         getIntEnv("TIME_WINDOW_DAYS", 14),
		MaxCandidatesPerReport: getIntEnv("MAX_CANDIDATES_PER_REPORT", 200),
		CategoryFilter:         getBoolEnv("CATEGORY_FILTER", true),
		RetrievalTimeout:       getDurationEnv("RETRIEVAL_TIMEOUT", 2*time.Second),

		// Fusion defaults
		Weights: SignalWeights{
			Text:  getFloatEnv("WEIGHT_TEXT", 0.35),
			Image: getFloatEnv("WEIGHT_IMAGE", 0.20),
			Geo:   getFloatEnv("WEIGHT_GEO", 0.20),
			Time:  getFloatEnv("WEIGHT_TIME", 0.15),
			Color: getFloatEnv("WEIGHT_COLOR", 0.10),
		},
		ColorSignal: getBoolEnv("COLOR_SIGNAL", true),

		// Lifecycle defaults. Auto-promotion is off by default in favor
		// of human review.
		AutoPromoteThreshold: getFloatEnv("AUTO_PROMOTE_THRESHOLD", 0),
		Workers:              getIntEnv("WORKERS", 4),
		RescanInterval:       getDurationEnv("RESCAN_INTERVAL", 5*time.Minute),
		NotifyRetryAttempts:  getIntEnv("NOTIFY_RETRY_ATTEMPTS", 5),
		NotifyRetryBackoff:   getDurationEnv("NOTIFY_RETRY_BACKOFF", 30*time.Second),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getBoolEnv gets a boolean environment variable or returns a default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
