package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the answer service
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Search        SearchConfig        `mapstructure:"search"`
	Answer        AnswerConfig        `mapstructure:"answer"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxInFlight caps concurrently served API requests. 0 disables the cap.
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// BackendConfig describes one remote backend: a generation model or a search provider.
type BackendConfig struct {
	Name string `mapstructure:"name"`
	// Kind selects the caller implementation. Defaults to Name.
	Kind          string `mapstructure:"kind"`
	Endpoint      string `mapstructure:"endpoint"`
	Credential    string `mapstructure:"credential"`
	CredentialEnv string `mapstructure:"credential_env"`
	Model         string `mapstructure:"model"`
	// Priority ascending = tried first; ties keep declaration order.
	Priority    int           `mapstructure:"priority"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
}

// RetryConfig holds per-backend retry settings
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	// RateLimitBaseDelay is used instead of BaseDelay after a 429. 0 = BaseDelay.
	RateLimitBaseDelay time.Duration `mapstructure:"rate_limit_base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	Jitter             float64       `mapstructure:"jitter"`
}

// CacheConfig holds result cache settings
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Capacity      int           `mapstructure:"capacity"`
	EvictionBatch int           `mapstructure:"eviction_batch"`
	// UseRedis layers the shared Redis cache under the in-memory one.
	UseRedis bool          `mapstructure:"use_redis"`
	L1MaxTTL time.Duration `mapstructure:"l1_max_ttl"`
}

// RateLimitConfig holds token bucket settings
type RateLimitConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout"`
	// Adaptive lets explicit throttling lower the refill rate.
	Adaptive bool `mapstructure:"adaptive"`
}

// CircuitBreakerConfig holds per-backend breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// GenerationConfig holds the language backend chain settings
type GenerationConfig struct {
	Backends       []BackendConfig      `mapstructure:"backends"`
	MinInterval    time.Duration        `mapstructure:"min_interval"`
	OverallTimeout time.Duration        `mapstructure:"overall_timeout"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Cache          CacheConfig          `mapstructure:"cache"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// SearchConfig holds web search provider settings
type SearchConfig struct {
	DefaultProvider string               `mapstructure:"default_provider"`
	Failover        bool                 `mapstructure:"failover"`
	MaxResults      int                  `mapstructure:"max_results"`
	Providers       []BackendConfig      `mapstructure:"providers"`
	Retry           RetryConfig          `mapstructure:"retry"`
	Cache           CacheConfig          `mapstructure:"cache"`
	RateLimit       RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	WarmQueries     []string             `mapstructure:"warm_queries"`
	WarmupTimeout   time.Duration        `mapstructure:"warmup_timeout"`
	WarmupWorkers   int                  `mapstructure:"warmup_workers"`
}

// AnswerConfig holds query validation and assembly settings
type AnswerConfig struct {
	DefaultTopK    int    `mapstructure:"default_top_k"`
	MaxTopK        int    `mapstructure:"max_top_k"`
	MaxQueryLength int    `mapstructure:"max_query_length"`
	DefaultMode    string `mapstructure:"default_mode"`
	PublishEvents  bool   `mapstructure:"publish_events"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	OTLPInterval time.Duration `mapstructure:"otlp_interval"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Retrieval modes accepted by the query API.
var validModes = map[string]bool{
	"web":        true,
	"pdf":        true,
	"hybrid":     true,
	"restricted": true,
}

// Load loads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Read environment variables: generation.min_interval -> GENERATION_MIN_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath == "" && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables already set are left alone; a missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

const groqEndpoint = "https://api.groq.com/openai/v1/chat/completions"

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_in_flight", 64)

	// Generation defaults: fast/cheap, balanced, highest quality
	v.SetDefault("generation.backends", []map[string]any{
		{"name": "llama-3.1-8b-instant", "kind": "groq", "endpoint": groqEndpoint, "credential_env": "GROQ_API_KEY", "model": "llama-3.1-8b-instant", "priority": 1, "max_tokens": 2048},
		{"name": "mixtral-8x7b-32768", "kind": "groq", "endpoint": groqEndpoint, "credential_env": "GROQ_API_KEY", "model": "mixtral-8x7b-32768", "priority": 2, "max_tokens": 4096},
		{"name": "llama-3.3-70b-versatile", "kind": "groq", "endpoint": groqEndpoint, "credential_env": "GROQ_API_KEY", "model": "llama-3.3-70b-versatile", "priority": 3, "max_tokens": 4096},
	})
	v.SetDefault("generation.min_interval", "1s")
	v.SetDefault("generation.overall_timeout", "0s")
	v.SetDefault("generation.retry.max_attempts", 5)
	v.SetDefault("generation.retry.base_delay", "2s")
	v.SetDefault("generation.retry.rate_limit_base_delay", "0s")
	v.SetDefault("generation.retry.max_delay", "0s")
	v.SetDefault("generation.retry.jitter", 0.0)
	v.SetDefault("generation.cache.ttl", "300s")
	v.SetDefault("generation.cache.capacity", 100)
	v.SetDefault("generation.cache.eviction_batch", 10)
	v.SetDefault("generation.cache.use_redis", false)
	v.SetDefault("generation.cache.l1_max_ttl", "60s")
	v.SetDefault("generation.rate_limit.requests_per_minute", 30)
	v.SetDefault("generation.rate_limit.burst", 5)
	v.SetDefault("generation.rate_limit.acquire_timeout", "10s")
	v.SetDefault("generation.rate_limit.adaptive", true)
	v.SetDefault("generation.circuit_breaker.enabled", true)
	v.SetDefault("generation.circuit_breaker.failure_threshold", 5)
	v.SetDefault("generation.circuit_breaker.success_threshold", 2)
	v.SetDefault("generation.circuit_breaker.timeout", "60s")

	// Search defaults
	v.SetDefault("search.default_provider", "tavily")
	v.SetDefault("search.failover", true)
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.providers", []map[string]any{
		{"name": "tavily", "endpoint": "https://api.tavily.com/search", "credential_env": "TAVILY_API_KEY", "priority": 1},
		{"name": "serper", "endpoint": "https://serpapi.com/search", "credential_env": "SERPER_API_KEY", "priority": 2},
		{"name": "brave", "endpoint": "https://api.search.brave.com/res/v1/web/search", "credential_env": "BRAVE_API_KEY", "priority": 3},
		{"name": "youcom", "endpoint": "https://api.you.com/search", "credential_env": "YOUCOM_API_KEY", "priority": 4},
	})
	v.SetDefault("search.retry.max_attempts", 3)
	v.SetDefault("search.retry.base_delay", "2s")
	v.SetDefault("search.retry.rate_limit_base_delay", "0s")
	v.SetDefault("search.retry.max_delay", "0s")
	v.SetDefault("search.cache.ttl", "300s")
	v.SetDefault("search.cache.capacity", 100)
	v.SetDefault("search.cache.eviction_batch", 10)
	v.SetDefault("search.cache.use_redis", false)
	v.SetDefault("search.cache.l1_max_ttl", "60s")
	v.SetDefault("search.rate_limit.requests_per_minute", 30)
	v.SetDefault("search.rate_limit.burst", 5)
	v.SetDefault("search.rate_limit.acquire_timeout", "5s")
	v.SetDefault("search.circuit_breaker.enabled", true)
	v.SetDefault("search.circuit_breaker.failure_threshold", 5)
	v.SetDefault("search.circuit_breaker.success_threshold", 2)
	v.SetDefault("search.circuit_breaker.timeout", "60s")
	v.SetDefault("search.warm_queries", []string{})
	v.SetDefault("search.warmup_timeout", "30s")
	v.SetDefault("search.warmup_workers", 4)

	// Answer defaults
	v.SetDefault("answer.default_top_k", 5)
	v.SetDefault("answer.max_top_k", 20)
	v.SetDefault("answer.max_query_length", 1000)
	v.SetDefault("answer.default_mode", "hybrid")
	v.SetDefault("answer.publish_events", false)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "answers:")

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.service_name", "grounded-answers")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.otlp_endpoint", "")
	v.SetDefault("observability.metrics.otlp_interval", "15s")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)
}

// parse resolves credentials and fills per-backend defaults
func (c *Config) parse() error {
	for i := range c.Generation.Backends {
		b := &c.Generation.Backends[i]
		b.resolve()
		if b.Model == "" {
			b.Model = b.Name
		}
		if b.Timeout <= 0 {
			b.Timeout = 60 * time.Second
		}
		if b.Temperature == 0 {
			b.Temperature = 0.1
		}
	}
	SortBackends(c.Generation.Backends)

	for i := range c.Search.Providers {
		p := &c.Search.Providers[i]
		p.resolve()
		if p.Timeout <= 0 {
			p.Timeout = 15 * time.Second
		}
	}
	SortBackends(c.Search.Providers)

	c.Search.DefaultProvider = strings.ToLower(c.Search.DefaultProvider)
	c.Answer.DefaultMode = strings.ToLower(c.Answer.DefaultMode)
	return nil
}

func (b *BackendConfig) resolve() {
	b.Name = strings.TrimSpace(b.Name)
	if b.Kind == "" {
		b.Kind = strings.ToLower(b.Name)
	}
	if b.Credential == "" && b.CredentialEnv != "" {
		b.Credential = os.Getenv(b.CredentialEnv)
	}
}

// HasCredential reports whether the backend can authenticate.
func (b BackendConfig) HasCredential() bool {
	return b.Credential != ""
}

// SortBackends orders backends by ascending priority, keeping declaration order on ties.
func SortBackends(backends []BackendConfig) {
	sort.SliceStable(backends, func(i, j int) bool {
		return backends[i].Priority < backends[j].Priority
	})
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Generation validation
	if len(c.Generation.Backends) == 0 {
		return fmt.Errorf("at least one generation backend is required")
	}
	if err := validateBackends("generation", c.Generation.Backends); err != nil {
		return err
	}
	if err := validateRetry("generation", c.Generation.Retry); err != nil {
		return err
	}
	if err := validateCache("generation", c.Generation.Cache); err != nil {
		return err
	}
	if c.Generation.MinInterval < 0 {
		return fmt.Errorf("generation min_interval must be >= 0")
	}

	// Search validation
	if err := validateBackends("search", c.Search.Providers); err != nil {
		return err
	}
	if err := validateRetry("search", c.Search.Retry); err != nil {
		return err
	}
	if err := validateCache("search", c.Search.Cache); err != nil {
		return err
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search max_results must be > 0")
	}

	// Answer validation
	if c.Answer.MaxTopK <= 0 || c.Answer.DefaultTopK <= 0 || c.Answer.DefaultTopK > c.Answer.MaxTopK {
		return fmt.Errorf("invalid top_k bounds: default %d, max %d", c.Answer.DefaultTopK, c.Answer.MaxTopK)
	}
	if c.Answer.MaxQueryLength <= 0 {
		return fmt.Errorf("answer max_query_length must be > 0")
	}
	if !validModes[c.Answer.DefaultMode] {
		return fmt.Errorf("invalid default retrieval mode: %s", c.Answer.DefaultMode)
	}

	// Redis validation
	if (c.Generation.Cache.UseRedis || c.Search.Cache.UseRedis) && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required when a cache uses redis")
	}

	// AWS validation
	if c.Answer.PublishEvents {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required")
		}
		if c.AWS.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required when publish_events is on")
		}
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}

func validateBackends(section string, backends []BackendConfig) error {
	seen := make(map[string]bool, len(backends))
	for i, b := range backends {
		if b.Name == "" {
			return fmt.Errorf("%s backend %d: name is required", section, i)
		}
		if seen[b.Name] {
			return fmt.Errorf("%s backend %q declared twice", section, b.Name)
		}
		seen[b.Name] = true
		if b.Endpoint == "" {
			return fmt.Errorf("%s backend %q: endpoint is required", section, b.Name)
		}
		if b.MaxTokens < 0 || b.MaxInFlight < 0 {
			return fmt.Errorf("%s backend %q: limits must be >= 0", section, b.Name)
		}
	}
	return nil
}

func validateRetry(section string, r RetryConfig) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s retry max_attempts must be >= 1", section)
	}
	if r.BaseDelay < 0 || r.RateLimitBaseDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("%s retry delays must be >= 0", section)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("%s retry jitter must be within [0, 1]", section)
	}
	return nil
}

func validateCache(section string, c CacheConfig) error {
	if c.TTL <= 0 {
		return fmt.Errorf("%s cache ttl must be > 0", section)
	}
	if c.Capacity <= 0 || c.EvictionBatch <= 0 {
		return fmt.Errorf("%s cache capacity and eviction_batch must be > 0", section)
	}
	return nil
}
