package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the medrag service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains generation provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single generation provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, compatible
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model serves each pipeline stage
type LLMRoutingConfig struct {
	Primary     string `mapstructure:"primary"`     // main answer generation
	Enhancement string `mapstructure:"enhancement"` // audience/urgency refinement pass
	Fallback    string `mapstructure:"fallback"`
}

// EmbeddingConfig controls query embedding generation.
type EmbeddingConfig struct {
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (e EmbeddingConfig) Validate() error {
	if strings.TrimSpace(e.Model) == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if e.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}
	return nil
}

// RetrievalConfig contains tunable retrieval and scoring parameters.
type RetrievalConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	Limit               int           `mapstructure:"limit"`
	OversampleFactor    int           `mapstructure:"oversample_factor"`
	Rerank              bool          `mapstructure:"rerank"`
	Weights             ScoringConfig `mapstructure:"weights"`
	RecencyWindowYears  float64       `mapstructure:"recency_window_years"`
	RecencyFloor        float64       `mapstructure:"recency_floor"`
}

// ScoringConfig holds relevance weighting; the four weights should sum to 1.
type ScoringConfig struct {
	Similarity float64 `mapstructure:"similarity"`
	Clinical   float64 `mapstructure:"clinical"`
	Recency    float64 `mapstructure:"recency"`
	Evidence   float64 `mapstructure:"evidence"`
}

// Normalize applies retrieval defaults for unset values.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = 0.72
	}
	if r.Limit <= 0 {
		r.Limit = 8
	}
	if r.OversampleFactor <= 1 {
		r.OversampleFactor = 2
	}
	if r.Weights.Similarity == 0 && r.Weights.Clinical == 0 && r.Weights.Recency == 0 && r.Weights.Evidence == 0 {
		r.Weights = ScoringConfig{Similarity: 0.4, Clinical: 0.3, Recency: 0.15, Evidence: 0.15}
	}
	if r.RecencyWindowYears <= 0 {
		r.RecencyWindowYears = 10
	}
	if r.RecencyFloor <= 0 {
		r.RecencyFloor = 0.3
	}
	return r
}

func (r RetrievalConfig) Validate() error {
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be within [0,1]")
	}
	sum := r.Weights.Similarity + r.Weights.Clinical + r.Weights.Recency + r.Weights.Evidence
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("retrieval.weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}

// AnalyzerConfig carries the keyword classification tables.
type AnalyzerConfig struct {
	Keywords KeywordTables `mapstructure:"keywords"`
}

// ValidatorConfig controls the clinical validation battery.
type ValidatorConfig struct {
	MinAnswerLength  int `mapstructure:"min_answer_length"`
	WarningThreshold int `mapstructure:"warning_threshold"`
}

// Normalize applies validator defaults.
func (v ValidatorConfig) Normalize() ValidatorConfig {
	if v.MinAnswerLength <= 0 {
		v.MinAnswerLength = 200
	}
	if v.WarningThreshold <= 0 {
		v.WarningThreshold = 3
	}
	return v
}

// CacheConfig controls result and retrieval caching TTLs.
type CacheConfig struct {
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
	RetrievalTTL time.Duration `mapstructure:"retrieval_ttl"`
}

// Normalize applies cache defaults.
func (c CacheConfig) Normalize() CacheConfig {
	if c.ResultTTL <= 0 {
		c.ResultTTL = 5 * time.Minute
	}
	if c.RetrievalTTL <= 0 {
		c.RetrievalTTL = 10 * time.Minute
	}
	return c
}

// RateLimitConfig controls request admission.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Normalize applies rate limit defaults.
func (r RateLimitConfig) Normalize() RateLimitConfig {
	if r.Requests <= 0 {
		r.Requests = 30
	}
	if r.Window <= 0 {
		r.Window = time.Minute
	}
	return r
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string from either the URL or the discrete fields.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("storage.postgres.host/dbname or url required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// AuditConfig controls the fire-and-forget audit sink.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// Normalize applies audit defaults.
func (a AuditConfig) Normalize() AuditConfig {
	if a.Stream == "" {
		a.Stream = "medrag:audit"
	}
	if a.MaxLen <= 0 {
		a.MaxLen = 10000
	}
	return a
}

// LoadConfig loads config from file
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", "60s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.max_retries", 2)
	viper.SetDefault("embedding.timeout", "15s")
	viper.SetDefault("retrieval.similarity_threshold", 0.72)
	viper.SetDefault("retrieval.limit", 8)
	viper.SetDefault("retrieval.oversample_factor", 2)
	viper.SetDefault("retrieval.rerank", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MEDRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	config.Retrieval = config.Retrieval.Normalize()
	config.Validator = config.Validator.Normalize()
	config.Cache = config.Cache.Normalize()
	config.RateLimit = config.RateLimit.Normalize()
	config.Audit = config.Audit.Normalize()
	config.Analyzer.Keywords = config.Analyzer.Keywords.Normalize()

	if err := config.Embedding.Validate(); err != nil {
		return nil, err
	}
	if err := config.Retrieval.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
