/**
 * Configuration for the structa worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Engine names accepted by LAYOUT_ENGINE and TABLE_ENGINE
const (
	EngineHeuristic  = "heuristic"
	EngineMageAgent  = "mageagent"
	EngineDocumentAI = "documentai"
)

// Queue backends accepted by QUEUE_BACKEND
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Redis / queue configuration
	RedisURL          string
	QueueBackend      string
	QueueName         string
	WorkerConcurrency int

	// PostgreSQL configuration (optional)
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// S3-compatible object storage (optional)
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// Limits
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds
	MaxImageSize      int
	MaxImagePixels    int64
	DenoiseBudget     int64

	// Recognition
	ConfidenceThreshold float64
	OCRLanguages        []string

	// Detection strategies
	LayoutEngine string
	TableEngine  string
	MageAgentURL string

	// Google Document AI
	DocumentAIProjectID   string
	DocumentAILocation    string
	DocumentAIProcessorID string
	GoogleCredentialsFile string

	// Spatial line sweep
	LineThreshold       float64
	LineReferenceHeight int

	// Error correction
	DictionaryPath string
	CorrectText    bool

	// Downstream renderer sink and health server
	RendererURL string
	HTTPPort    int

	// Job intake: request body cap and fileUrl screening
	MaxRequestBody    int64
	AllowedURLSchemes []string
	AllowedURLHosts   []string
	AllowPrivateURLs  bool

	// Logging
	LogLevel  string
	LogFormat string

	Environment string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:              getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueBackend:          strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis)),
		QueueName:             getEnvOrDefault("QUEUE_NAME", "structa:jobs"),
		WorkerConcurrency:     getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		DatabaseURL:           getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:             getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:      getEnvOrDefault("QDRANT_COLLECTION", "structa_layouts"),
		S3Bucket:              getEnvOrDefault("S3_BUCKET", ""),
		S3Endpoint:            getEnvOrDefault("S3_ENDPOINT", ""),
		S3Region:              getEnvOrDefault("S3_REGION", "auto"),
		S3AccessKey:           getEnvOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey:           getEnvOrDefault("S3_SECRET_KEY", ""),
		MaxFileSize:           getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800),  // 50MB
		ProcessingTimeout:     getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		MaxImageSize:          getEnvAsIntOrDefault("MAX_IMAGE_SIZE", 4096),
		MaxImagePixels:        getEnvAsInt64OrDefault("MAX_IMAGE_PIXELS", 50000000),
		DenoiseBudget:         getEnvAsInt64OrDefault("DENOISE_BUDGET", 882000000), // 2 MP x 21x21 window
		ConfidenceThreshold:   getEnvAsFloatOrDefault("CONFIDENCE_THRESHOLD", 0.5),
		OCRLanguages:          splitList(getEnvOrDefault("OCR_LANGUAGES", "eng")),
		LayoutEngine:          strings.ToLower(getEnvOrDefault("LAYOUT_ENGINE", EngineHeuristic)),
		TableEngine:           strings.ToLower(getEnvOrDefault("TABLE_ENGINE", EngineHeuristic)),
		MageAgentURL:          getEnvOrDefault("MAGEAGENT_URL", "http://nexus-mageagent:8080"),
		DocumentAIProjectID:   getEnvOrDefault("DOCUMENTAI_PROJECT_ID", ""),
		DocumentAILocation:    getEnvOrDefault("DOCUMENTAI_LOCATION", "us"),
		DocumentAIProcessorID: getEnvOrDefault("DOCUMENTAI_PROCESSOR_ID", ""),
		GoogleCredentialsFile: getEnvOrDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),
		LineThreshold:         getEnvAsFloatOrDefault("LINE_THRESHOLD", 20),
		LineReferenceHeight:   getEnvAsIntOrDefault("LINE_REFERENCE_HEIGHT", 0),
		DictionaryPath:        getEnvOrDefault("DICTIONARY_PATH", ""),
		CorrectText:           getEnvAsBoolOrDefault("CORRECT_TEXT", true),
		RendererURL:           getEnvOrDefault("RENDERER_URL", ""),
		HTTPPort:              getEnvAsIntOrDefault("HTTP_PORT", 8097),
		MaxRequestBody:        getEnvAsInt64OrDefault("MAX_REQUEST_BODY", 75497472), // 72MB
		AllowedURLSchemes:     splitList(strings.ToLower(getEnvOrDefault("ALLOWED_URL_SCHEMES", "http,https,s3"))),
		AllowedURLHosts:       splitList(strings.ToLower(getEnvOrDefault("ALLOWED_URL_HOSTS", ""))),
		AllowPrivateURLs:      getEnvAsBoolOrDefault("ALLOW_PRIVATE_URLS", false),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:             getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:           getEnvOrDefault("ENVIRONMENT", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.MaxImageSize < 256 || c.MaxImageSize > 16384 {
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 256 and 16384, got %d", c.MaxImageSize)
	}

	for _, scheme := range c.AllowedURLSchemes {
		if scheme != "http" && scheme != "https" && scheme != "s3" {
			return fmt.Errorf("ALLOWED_URL_SCHEMES may only contain http, https and s3, got %q", scheme)
		}
	}

	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be positive, got %d", c.MaxRequestBody)
	}

	if c.MaxImagePixels < 1000000 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be at least 1000000, got %d", c.MaxImagePixels)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}

	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	for name, engine := range map[string]string{"LAYOUT_ENGINE": c.LayoutEngine, "TABLE_ENGINE": c.TableEngine} {
		switch engine {
		case EngineHeuristic, EngineMageAgent:
		case EngineDocumentAI:
			if c.DocumentAIProjectID == "" || c.DocumentAIProcessorID == "" {
				return fmt.Errorf("%s=documentai requires DOCUMENTAI_PROJECT_ID and DOCUMENTAI_PROCESSOR_ID", name)
			}
		default:
			return fmt.Errorf("%s must be one of heuristic, mageagent, documentai, got %q", name, engine)
		}
	}

	if c.LineThreshold <= 0 {
		return fmt.Errorf("LINE_THRESHOLD must be positive, got %v", c.LineThreshold)
	}

	if c.LineReferenceHeight < 0 {
		return fmt.Errorf("LINE_REFERENCE_HEIGHT must not be negative, got %d", c.LineReferenceHeight)
	}

	if c.S3Bucket != "" && (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}

	return nil
}

// ProcessingTimeoutSeconds is used by asynq task options
func (c *Config) ProcessingTimeoutSeconds() int {
	return (c.ProcessingTimeout + 999) / 1000
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// splitList splits a "eng+deu" or "eng,deu" list
func splitList(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '+' || r == ' '
	})
	return parts
}
