package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingSecret = errors.New("missing required secret")

type Config struct {
	Server    ServerConfig
	Secrets   SecretsConfig
	Snowflake SnowflakeConfig
	Retrieval RetrievalConfig
	Milvus    MilvusConfig
	Ingestion IngestionConfig
	LLM       LLMConfig
	Feedback  FeedbackConfig
	RAG       RAGConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
	MaxQueryLength       int
	AllowedOrigins       []string
	Development          bool
}

type SecretsConfig struct {
	File string
}

// SnowflakeConfig is the connection surface read from the fixed secret keys.
// PrivateKey takes precedence over Password.
type SnowflakeConfig struct {
	Account       string
	User          string
	PrivateKey    string
	Password      string
	Role          string
	Database      string
	Schema        string
	Warehouse     string
	SearchService string
}

func (s SnowflakeConfig) UsesKeyPair() bool {
	return strings.TrimSpace(s.PrivateKey) != ""
}

type RetrievalConfig struct {
	Backend    string
	Limit      int
	TextColumn string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	// VectorDim must equal the output size of llm.embeddingModel.
	VectorDim int
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type LLMConfig struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	Temperature     float32
	MaxTokens       int
	TimeoutSec      int
	MaxAttempts     int
	EmbeddingModel  string
	BreakerFailures uint32
}

type FeedbackConfig struct {
	Enabled     bool
	Provider    string
	Model       string
	Workers     int
	QueueSize   int
	TimeoutSec  int
	MaxAttempts int
	CacheTTLSec int
}

type RAGConfig struct {
	AppID          string
	FilteredAppID  string
	IncludeContext bool
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

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// secretKeys maps config keys to the fixed secret names the deployment
// provides.
var secretKeys = map[string]string{
	"snowflake.account":       "SNOWFLAKE_ACCOUNT",
	"snowflake.user":          "SNOWFLAKE_USER",
	"snowflake.privateKey":    "SNOWFLAKE_PRIVATE_KEY",
	"snowflake.password":      "SNOWFLAKE_PASSWORD",
	"snowflake.role":          "SNOWFLAKE_ROLE",
	"snowflake.database":      "SNOWFLAKE_DATABASE",
	"snowflake.schema":        "SNOWFLAKE_SCHEMA",
	"snowflake.warehouse":     "SNOWFLAKE_WAREHOUSE",
	"snowflake.searchService": "SNOWFLAKE_CORTEX_SEARCH_SERVICE",
}

func Load() (*Config, error) {
	return LoadWith(viper.New())
}

func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ragscope")

	v.SetEnvPrefix("RAGSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := loadSecretsFile(v.GetString("secrets.file")); err != nil {
		return nil, err
	}

	for key, env := range secretKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// loadSecretsFile exports the dotenv file into the process environment
// without overriding variables that are already set.
func loadSecretsFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load secrets file %s: %w", path, err)
	}
	return nil
}

// Validate checks that every value a remote call depends on is present.
func (c *Config) Validate() error {
	var errs []error

	sf := c.Snowflake
	required := []struct {
		value string
		name  string
	}{
		{sf.Account, "SNOWFLAKE_ACCOUNT"},
		{sf.User, "SNOWFLAKE_USER"},
		{sf.Role, "SNOWFLAKE_ROLE"},
		{sf.Database, "SNOWFLAKE_DATABASE"},
		{sf.Schema, "SNOWFLAKE_SCHEMA"},
		{sf.Warehouse, "SNOWFLAKE_WAREHOUSE"},
	}
	if c.Retrieval.Backend == "cortex" {
		required = append(required, struct {
			value string
			name  string
		}{sf.SearchService, "SNOWFLAKE_CORTEX_SEARCH_SERVICE"})
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSecret, r.name))
		}
	}
	if !sf.UsesKeyPair() && sf.Password == "" {
		errs = append(errs, fmt.Errorf("%w: SNOWFLAKE_PRIVATE_KEY or SNOWFLAKE_PASSWORD", ErrMissingSecret))
	}

	switch c.Retrieval.Backend {
	case "cortex":
	case "milvus":
		if c.Milvus.Endpoint == "" || c.Milvus.CollectionName == "" {
			errs = append(errs, errors.New("milvus backend requires milvus.endpoint and milvus.collectionName"))
		}
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("milvus backend requires llm.apiKey for query embeddings"))
		}
		if c.Milvus.VectorDim <= 0 {
			errs = append(errs, fmt.Errorf("milvus.vectorDim must be positive, got %d", c.Milvus.VectorDim))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend))
	}
	if c.Retrieval.Limit <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.limit must be positive, got %d", c.Retrieval.Limit))
	}

	for _, p := range []string{c.LLM.Provider, c.Feedback.Provider} {
		switch p {
		case "cortex":
		case "openai":
			if c.LLM.APIKey == "" {
				errs = append(errs, errors.New("openai provider requires llm.apiKey"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown llm provider %q", p))
		}
	}

	if c.Feedback.Workers <= 0 {
		errs = append(errs, fmt.Errorf("feedback.workers must be positive, got %d", c.Feedback.Workers))
	}

	return errors.Join(errs...)
}

// ValidateIndexer checks the subset of the config the document indexer uses.
// The indexer never talks to the warehouse, so Snowflake secrets are optional.
func (c *Config) ValidateIndexer() error {
	var errs []error
	if c.Milvus.Endpoint == "" || c.Milvus.CollectionName == "" {
		errs = append(errs, errors.New("indexer requires milvus.endpoint and milvus.collectionName"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("indexer requires llm.apiKey for embeddings"))
	}
	if c.Milvus.VectorDim <= 0 {
		errs = append(errs, fmt.Errorf("milvus.vectorDim must be positive, got %d", c.Milvus.VectorDim))
	}
	if c.Ingestion.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ingestion.chunkSize must be positive, got %d", c.Ingestion.ChunkSize))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8501)
	v.SetDefault("server.readTimeout", 120)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxRequestsPerMinute", 30)
	v.SetDefault("server.maxQueryLength", 4000)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.development", false)

	v.SetDefault("secrets.file", ".env")

	v.SetDefault("retrieval.backend", "cortex")
	v.SetDefault("retrieval.limit", 4)
	v.SetDefault("retrieval.textColumn", "doc_text")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "streamlit_docs")
	v.SetDefault("milvus.vectorDim", 1536)

	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.chunkOverlap", 100)

	v.SetDefault("llm.provider", "cortex")
	v.SetDefault("llm.model", "mistral-large")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.maxAttempts", 1)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.breakerFailures", 5)

	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.provider", "cortex")
	v.SetDefault("feedback.model", "llama3.1-8b")
	v.SetDefault("feedback.workers", 2)
	v.SetDefault("feedback.queueSize", 64)
	v.SetDefault("feedback.timeoutSec", 120)
	v.SetDefault("feedback.maxAttempts", 3)
	v.SetDefault("feedback.cacheTTLSec", 86400)

	v.SetDefault("rag.appID", "RAG v1")
	v.SetDefault("rag.filteredAppID", "Filtered RAG App")
	v.SetDefault("rag.includeContext", false)

	v.SetDefault("sqlite.path", "./data/records.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "rag-records")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
