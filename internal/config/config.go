package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	// Empty key selects the offline fallback embedding provider
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	ChatModel     string `yaml:"chat_model"`

	EmbeddingModel      string        `yaml:"embedding_model"`
	EmbeddingDimensions int           `yaml:"embedding_dimensions"`
	EmbeddingRate       float64       `yaml:"embedding_rate_per_sec"`
	EmbeddingBurst      int           `yaml:"embedding_burst"`
	EmbeddingCacheSize  int           `yaml:"embedding_cache_size"`
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`

	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	RetrievalTopK int `yaml:"retrieval_top_k"`

	VectorTable  string        `yaml:"vector_table"`
	IndexTimeout time.Duration `yaml:"index_timeout"`

	ServerPort string `yaml:"server_port"`
	ServerHost string `yaml:"server_host"`

	// Admin-triggered processing queue
	ProcessingWorkers   int `yaml:"processing_workers"`
	ProcessingQueueSize int `yaml:"processing_queue_size"`

	// Observability
	JaegerEndpoint   string  `yaml:"jaeger_endpoint"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "persona_kb"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:     getEnv("CHAT_MODEL", "gpt-4o-mini"),

		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		EmbeddingRate:       getEnvFloat("EMBEDDING_RATE_PER_SEC", 10),
		EmbeddingBurst:      getEnvInt("EMBEDDING_BURST", 20),
		EmbeddingCacheSize:  getEnvInt("EMBEDDING_CACHE_SIZE", 1024),
		EmbedTimeout:        getEnvDuration("EMBED_TIMEOUT", 30*time.Second),

		ChunkSize:     getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),
		RetrievalTopK: getEnvInt("RETRIEVAL_TOP_K", 5),

		VectorTable:  getEnv("VECTOR_TABLE", "vector_entries"),
		IndexTimeout: getEnvDuration("INDEX_TIMEOUT", 10*time.Second),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		ProcessingWorkers:   getEnvInt("PROCESSING_WORKERS", 2),
		ProcessingQueueSize: getEnvInt("PROCESSING_QUEUE_SIZE", 100),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1.0),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays the non-zero fields of a YAML file onto cfg.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.merge(&overlay)
	return nil
}

func (c *Config) merge(o *Config) {
	setString(&c.DBHost, o.DBHost)
	setString(&c.DBPort, o.DBPort)
	setString(&c.DBUser, o.DBUser)
	setString(&c.DBPassword, o.DBPassword)
	setString(&c.DBName, o.DBName)
	setString(&c.DBSSLMode, o.DBSSLMode)
	setString(&c.OpenAIAPIKey, o.OpenAIAPIKey)
	setString(&c.OpenAIBaseURL, o.OpenAIBaseURL)
	setString(&c.ChatModel, o.ChatModel)
	setString(&c.EmbeddingModel, o.EmbeddingModel)
	setString(&c.VectorTable, o.VectorTable)
	setString(&c.ServerPort, o.ServerPort)
	setString(&c.ServerHost, o.ServerHost)
	setString(&c.JaegerEndpoint, o.JaegerEndpoint)

	setInt(&c.EmbeddingDimensions, o.EmbeddingDimensions)
	setInt(&c.EmbeddingBurst, o.EmbeddingBurst)
	setInt(&c.EmbeddingCacheSize, o.EmbeddingCacheSize)
	setInt(&c.ChunkSize, o.ChunkSize)
	setInt(&c.ChunkOverlap, o.ChunkOverlap)
	setInt(&c.RetrievalTopK, o.RetrievalTopK)
	setInt(&c.ProcessingWorkers, o.ProcessingWorkers)
	setInt(&c.ProcessingQueueSize, o.ProcessingQueueSize)

	if o.EmbeddingRate != 0 {
		c.EmbeddingRate = o.EmbeddingRate
	}
	if o.TraceSampleRatio != 0 {
		c.TraceSampleRatio = o.TraceSampleRatio
	}
	if o.EmbedTimeout != 0 {
		c.EmbedTimeout = o.EmbedTimeout
	}
	if o.IndexTimeout != 0 {
		c.IndexTimeout = o.IndexTimeout
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK)
	}
	if c.VectorTable == "" {
		return fmt.Errorf("VECTOR_TABLE is required")
	}
	return nil
}

// EmbeddingConfigured reports whether a remote embedding provider can be used.
func (c *Config) EmbeddingConfigured() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
