package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one market data provider.
type ProviderConfig struct {
	ID                string            `yaml:"id"`
	Kind              string            `yaml:"kind" validate:"required"`
	BaseURL           string            `yaml:"base_url" validate:"omitempty,url"`
	APIKey            string            `yaml:"api_key"`
	APISecret         string            `yaml:"api_secret"`
	RequestsPerSecond float64           `yaml:"requests_per_second" default:"1" validate:"gte=0"`
	Burst             float64           `yaml:"burst" default:"5" validate:"gte=1"`
	Priority          int               `yaml:"priority"`
	MaxAge            time.Duration     `yaml:"max_age"`
	SymbolIDs         map[string]string `yaml:"symbol_ids"`
	Symbols           []string          `yaml:"symbols"`
}

// LLMProviderConfig describes one analysis adapter.
type LLMProviderConfig struct {
	Name        string  `yaml:"name" validate:"required"`
	Kind        string  `yaml:"kind"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level        string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format       string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output       string `yaml:"output"`
		CollectTopic string `yaml:"collect_topic" default:"logging.collector"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins"` // empty allows any origin
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Pipeline struct {
		SkipFeed         bool          `yaml:"skip_feed"`
		Parallelism      int           `yaml:"parallelism" default:"4" validate:"min=1"`
		FetchTimeout     time.Duration `yaml:"fetch_timeout" default:"10s"`
		Symbols          []string      `yaml:"symbols"`
		ScheduleInterval time.Duration `yaml:"schedule_interval"`
	} `yaml:"pipeline"`
	Providers []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	Breaker   struct {
		FailureThreshold int           `yaml:"failure_threshold" default:"3" validate:"min=3"`
		BaseCooldown     time.Duration `yaml:"base_cooldown" default:"5s"`
		MaxCooldown      time.Duration `yaml:"max_cooldown" default:"5m"`
	} `yaml:"breaker"`
	Cache struct {
		DefaultTTL    time.Duration `yaml:"default_ttl" default:"5m"`
		PriceTTL      time.Duration `yaml:"price_ttl" default:"30s"`
		HistoricalTTL time.Duration `yaml:"historical_ttl" default:"1h"`
		GlobalTTL     time.Duration `yaml:"global_ttl" default:"15m"`
		MaxEntries    int           `yaml:"max_entries" default:"10000" validate:"gte=0"`
		Shared        bool          `yaml:"shared"`
	} `yaml:"cache"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"finoracle"`
	} `yaml:"redis"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2" validate:"min=1"`
		RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	} `yaml:"queue"`
	RAG struct {
		Enabled         bool   `yaml:"enabled" default:"true"`
		TypesenseURL    string `yaml:"typesense_url" default:"http://localhost:8108" validate:"omitempty,url"`
		TypesenseAPIKey string `yaml:"typesense_api_key"`
		Collection      string `yaml:"collection" default:"historical_data"`
		GeminiAPIKey    string `yaml:"gemini_api_key"`
		EmbeddingModel  string `yaml:"embedding_model" default:"embedding-001"`
		EmbeddingDim    int    `yaml:"embedding_dim" default:"768" validate:"min=1"`
		TopK            int    `yaml:"top_k" default:"3" validate:"min=1,max=50"`
	} `yaml:"rag"`
	LLM struct {
		CallTimeout time.Duration       `yaml:"call_timeout" default:"30s"`
		Providers   []LLMProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	} `yaml:"llm"`
	Ledger struct {
		RPCURL         string        `yaml:"rpc_url" default:"https://api.devnet.solana.com" validate:"url"`
		KeyFile        string        `yaml:"key_file"`
		ProgramID      string        `yaml:"program_id"`
		ConfirmTimeout time.Duration `yaml:"confirm_timeout" default:"60s"`
	} `yaml:"ledger"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		ClientID     string        `yaml:"client_id" default:"finoracle"`
		TopicPrefix  string        `yaml:"topic_prefix"`
		FeedTopic    string        `yaml:"feed_topic" default:"finoracle.feed"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=none gzip snappy lz4 zstd"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"100ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"kafka"`
	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url" default:"nats://localhost:4222"`
		ClientID      string `yaml:"client_id" default:"finoracle"`
		SubjectPrefix string `yaml:"subject_prefix" default:"finoracle.feed"`
		JetStream     bool   `yaml:"jetstream"`
	} `yaml:"nats"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table" default:"oracle_runs"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// list elements only exist after decoding
	for i := range c.Providers {
		if err := defaults.Set(&c.Providers[i]); err != nil {
			return nil, fmt.Errorf("apply provider defaults: %w", err)
		}
	}
	for i := range c.LLM.Providers {
		if err := defaults.Set(&c.LLM.Providers[i]); err != nil {
			return nil, fmt.Errorf("apply llm defaults: %w", err)
		}
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Parse(b)
	if err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// Override adjusts a loaded config before validation, e.g. from CLI flags.
type Override func(*Config)

// WithSkipFeed forces the skip-feed mode, which also lifts the key file requirement.
func WithSkipFeed(skip bool) Override {
	return func(c *Config) { c.Pipeline.SkipFeed = skip }
}

// LoadWithEnv loads .env (if present) and the YAML file, then applies
// environment overrides and the given overrides before validating.
func LoadWithEnv(path string, overrides ...Override) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	for _, o := range overrides {
		o(c)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// EnvKey is the variable consulted for a provider credential, e.g. COINGECKO_API_KEY.
func EnvKey(name, suffix string) string {
	name = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
	return name + "_" + suffix
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Environment, "APP_ENV")
	set(&c.Log.Level, "LOG_LEVEL")
	set(&c.RAG.GeminiAPIKey, "GEMINI_API_KEY")
	set(&c.RAG.TypesenseAPIKey, "TYPESENSE_API_KEY")
	set(&c.RAG.TypesenseURL, "TYPESENSE_URL")
	set(&c.Ledger.RPCURL, "SOLANA_RPC_URL")
	set(&c.Ledger.KeyFile, "SOLANA_WALLET_PATH")
	set(&c.Ledger.ProgramID, "ORACLE_PROGRAM_ID")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Redis.Password, "REDIS_PASSWORD")
	set(&c.ClickHouse.Password, "CLICKHOUSE_PASSWORD")

	if v := getenv("SKIP_FEED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.SkipFeed = b
		}
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Pipeline.Symbols = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		name := p.ID
		if name == "" {
			name = p.Kind
		}
		if p.APIKey == "" {
			set(&p.APIKey, EnvKey(name, "API_KEY"))
		}
		if p.APISecret == "" {
			set(&p.APISecret, EnvKey(name, "API_SECRET"))
		}
	}
	for i := range c.LLM.Providers {
		p := &c.LLM.Providers[i]
		if p.APIKey != "" {
			continue
		}
		kind := p.Kind
		if kind == "" {
			kind = p.Name
		}
		set(&p.APIKey, EnvKey(kind, "API_KEY"))
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Breaker.MaxCooldown < c.Breaker.BaseCooldown {
		return fmt.Errorf("breaker.max_cooldown must be >= breaker.base_cooldown")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.RAG.Enabled && (c.RAG.GeminiAPIKey == "" || c.RAG.TypesenseAPIKey == "") {
		return fmt.Errorf("rag requires gemini_api_key and typesense_api_key (or disable rag)")
	}
	if !c.Pipeline.SkipFeed && c.Ledger.KeyFile == "" {
		return fmt.Errorf("ledger.key_file is required unless pipeline.skip_feed is set")
	}
	ids := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		id := p.ID
		if id == "" {
			id = p.Kind
		}
		if ids[id] {
			return fmt.Errorf("duplicate provider id %q", id)
		}
		ids[id] = true
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
