package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Vendor   VendorConfig
	Model    ModelConfig
	AWS      AWSConfig
	Store    StoreConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// VendorConfig holds the conversation vendor API settings.
type VendorConfig struct {
	APIKey          string
	BaseURL         string
	ReplicaID       string
	PersonaID       string
	CallbackBaseURL string // public base URL for the webhook receiver, e.g. https://api.example.com
}

// ModelConfig holds generative text model settings.
type ModelConfig struct {
	APIKey  string
	BaseURL string // optional alternative endpoint
	Model   string
}

// AWSConfig holds AWS credentials and S3 bucket names for the three storage tiers.
type AWSConfig struct {
	Region                string
	AccessKeyID           string
	SecretAccessKey       string
	RecordingsBucket      string // temporary recordings, <=50MiB per file
	TranscriptsBucket     string // temporary session transcripts, <=5MiB per file
	UserTranscriptsBucket string // persistent per-user transcripts, <=10MiB per file
	PresignExpireSeconds  int
}

// StoreConfig bounds the in-memory webhook event store.
type StoreConfig struct {
	Capacity   int
	TTLMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/prepview?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "prepview"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Vendor: VendorConfig{
			APIKey:          getEnv("VENDOR_API_KEY", ""),
			BaseURL:         getEnv("VENDOR_BASE_URL", "https://tavusapi.com"),
			ReplicaID:       getEnv("VENDOR_REPLICA_ID", ""),
			PersonaID:       getEnv("VENDOR_PERSONA_ID", ""),
			CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		},
		Model: ModelConfig{
			APIKey:  getEnv("MODEL_API_KEY", ""),
			BaseURL: getEnv("MODEL_BASE_URL", ""),
			Model:   getEnv("MODEL_NAME", "gpt-4o-mini"),
		},
		AWS: AWSConfig{
			Region:                getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:           getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:       getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:      getEnv("S3_RECORDINGS_BUCKET", "interview-recordings"),
			TranscriptsBucket:     getEnv("S3_TRANSCRIPTS_BUCKET", "interview-transcripts"),
			UserTranscriptsBucket: getEnv("S3_USER_TRANSCRIPTS_BUCKET", "user-transcripts"),
			PresignExpireSeconds:  getEnvInt("S3_PRESIGN_EXPIRE_SECONDS", 3600),
		},
		Store: StoreConfig{
			Capacity:   getEnvInt("EVENT_STORE_CAPACITY", 1000),
			TTLMinutes: getEnvInt("EVENT_STORE_TTL_MINUTES", 120),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
