package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey          string
	GeminiModel           string
	GeminiTier            string
	GoogleEmbeddingsModel string

	Port        string
	GinMode     string
	CORSOrigins []string

	// arXiv catalog
	ArxivBaseURL  string
	ArxivPageSize int

	// Paper download
	PaperStorageDir string
	FetchMaxRetries int
	FetchBaseDelay  float64 // seconds
	MaxPapers       int

	// Chunking
	MaxChunkSize int
	ChunkOverlap int
	MinChunkSize int

	// Retrieval
	RetrievalTopK int

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:            getEnv("GEMINI_TIER", "free"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),

		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		ArxivBaseURL:  getEnv("ARXIV_BASE_URL", "https://export.arxiv.org/api/query"),
		ArxivPageSize: getEnvInt("ARXIV_PAGE_SIZE", 100),

		PaperStorageDir: getEnv("PAPER_STORAGE_DIR", "./papers"),
		FetchMaxRetries: getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchBaseDelay:  getEnvFloat64("FETCH_BASE_DELAY_SECONDS", 2.0),
		MaxPapers:       getEnvInt("MAX_PAPERS", 10),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 500),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),
		MinChunkSize: getEnvInt("MIN_CHUNK_SIZE", 20),

		RetrievalTopK: getEnvInt("RETRIEVAL_TOP_K", 4),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than MAX_CHUNK_SIZE (%d)",
			cfg.ChunkOverlap, cfg.MaxChunkSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
