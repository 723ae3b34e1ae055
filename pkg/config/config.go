package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Milvus     MilvusConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Rerank     RerankConfig
	Chunking   ChunkingConfig
	Confidence ConfidenceConfig
	Intent     IntentConfig
	Retrieval  RetrievalConfig
	Logging    LoggingConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type EmbeddingConfig struct {
	Model        string
	APIKey       string
	BaseURL      string
	Dimension    int
	BatchSize    int
	BatchDelayMs int
	CacheTTLSec  int
}

type RerankConfig struct {
	Enabled          bool
	Endpoint         string
	Model            string
	APIKey           string
	MaxDocumentChars int
	TimeoutSec       int
}

type ChunkingConfig struct {
	ChunkSize         int
	Overlap           int
	RespectBoundaries bool
	Encoding          string
}

type ConfidenceConfig struct {
	RecentYears                int
	AuthoritativeOrganizations []string
}

type IntentConfig struct {
	NLUConfidenceFloor float64
	ToolConfidence     float64
}

type RetrievalConfig struct {
	TopK     int
	MinScore float64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// Load reads config.yaml (if present) and MEDCP_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/medcp")

	v.SetEnvPrefix("MEDCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)

	v.SetDefault("milvus.enabled", true)
	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "medical_knowledge")
	v.SetDefault("milvus.vectorDim", 1536)
	v.SetDefault("milvus.apiKey", "")

	v.SetDefault("sqlite.path", "./data/medcp.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 200)
	v.SetDefault("llm.timeoutSec", 10)
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batchSize", 100)
	v.SetDefault("embedding.batchDelayMs", 100)
	v.SetDefault("embedding.cacheTTLSec", 86400)
	v.SetDefault("embedding.apiKey", "")
	v.SetDefault("embedding.baseURL", "")

	v.SetDefault("rerank.enabled", false)
	v.SetDefault("rerank.endpoint", "https://api.cohere.ai/v1/rerank")
	v.SetDefault("rerank.model", "rerank-english-v3.0")
	v.SetDefault("rerank.maxDocumentChars", 1000)
	v.SetDefault("rerank.timeoutSec", 10)
	v.SetDefault("rerank.apiKey", "")

	v.SetDefault("chunking.chunkSize", 512)
	v.SetDefault("chunking.overlap", 50)
	v.SetDefault("chunking.respectBoundaries", true)
	v.SetDefault("chunking.encoding", "cl100k_base")

	v.SetDefault("confidence.recentYears", 3)
	v.SetDefault("confidence.authoritativeOrganizations", DefaultAuthoritativeOrganizations)

	v.SetDefault("intent.nluConfidenceFloor", 0.6)
	v.SetDefault("intent.toolConfidence", 0.85)

	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.minScore", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("ratelimit.requestsPerMinute", 60)
}

var DefaultAuthoritativeOrganizations = []string{
	"WHO",
	"World Health Organization",
	"CDC",
	"Centers for Disease Control and Prevention",
	"NIH",
	"National Institutes of Health",
	"NICE",
	"FDA",
	"EMA",
	"AHA",
	"American Heart Association",
	"ESC",
	"European Society of Cardiology",
	"IDSA",
	"ADA",
	"American Diabetes Association",
}
