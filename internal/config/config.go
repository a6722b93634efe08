package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Inquiry    InquiryConfig    `yaml:"inquiry" mapstructure:"inquiry"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Booking    BookingConfig    `yaml:"booking" mapstructure:"booking"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared job store.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
}

// OpenAIConfig holds embedding API settings.
type OpenAIConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Model      string `yaml:"embedding_model" mapstructure:"embedding_model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
	BatchSize  int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// MailConfig configures outbound SMTP and the reply inbox.
type MailConfig struct {
	FromName    string     `yaml:"from_name" mapstructure:"from_name"`
	FromAddress string     `yaml:"from_address" mapstructure:"from_address"`
	SMTP        SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
	IMAP        IMAPConfig `yaml:"imap" mapstructure:"imap"`
}

// SMTPConfig configures the outbound relay.
type SMTPConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TLS         string `yaml:"tls" mapstructure:"tls"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// IMAPConfig configures the reply inbox.
type IMAPConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Mailbox     string `yaml:"mailbox" mapstructure:"mailbox"`
	Insecure    bool   `yaml:"insecure" mapstructure:"insecure"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DiscoveryConfig configures the price discovery cascade.
type DiscoveryConfig struct {
	CascadeTimeoutSecs  int      `yaml:"cascade_timeout_secs" mapstructure:"cascade_timeout_secs"`
	FetchTimeoutSecs    int      `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	TopLinks            int      `yaml:"top_links" mapstructure:"top_links"`
	SubLinks            int      `yaml:"sub_links" mapstructure:"sub_links"`
	MaxPages            int      `yaml:"max_pages" mapstructure:"max_pages"`
	SemanticMinOverlap  int      `yaml:"semantic_min_overlap" mapstructure:"semantic_min_overlap"`
	SemanticMaxChars    int      `yaml:"semantic_max_chars" mapstructure:"semantic_max_chars"`
	LLMTimeoutSecs      int      `yaml:"llm_timeout_secs" mapstructure:"llm_timeout_secs"`
	FallbackTimeoutSecs int      `yaml:"fallback_timeout_secs" mapstructure:"fallback_timeout_secs"`
	BreakerCooldownSecs int      `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	FetchRetries        int      `yaml:"fetch_retries" mapstructure:"fetch_retries"`
	RetryBackoffMs      int      `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs   int      `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	PerHostRPS          float64  `yaml:"per_host_rps" mapstructure:"per_host_rps"`
	UserAgent           string   `yaml:"user_agent" mapstructure:"user_agent"`
	PageCacheTTLHours   int      `yaml:"page_cache_ttl_hours" mapstructure:"page_cache_ttl_hours"`
	ExcludePaths        []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	DefaultCurrency     string   `yaml:"default_currency" mapstructure:"default_currency"`
}

// SearchConfig configures the hybrid query engine.
type SearchConfig struct {
	VectorThreshold       float64 `yaml:"vector_threshold" mapstructure:"vector_threshold"`
	TextThreshold         float64 `yaml:"text_threshold" mapstructure:"text_threshold"`
	MatchLimit            int     `yaml:"match_limit" mapstructure:"match_limit"`
	ProviderLimit         int     `yaml:"provider_limit" mapstructure:"provider_limit"`
	DefaultRadiusMeters   float64 `yaml:"default_radius_meters" mapstructure:"default_radius_meters"`
	MaxRadiusMeters       float64 `yaml:"max_radius_meters" mapstructure:"max_radius_meters"`
	MaxDiscoveryProviders int     `yaml:"max_discovery_providers" mapstructure:"max_discovery_providers"`
	IntentResolution      bool    `yaml:"intent_resolution" mapstructure:"intent_resolution"`
	IntentTimeoutSecs     int     `yaml:"intent_timeout_secs" mapstructure:"intent_timeout_secs"`
	AutoInquire           bool    `yaml:"auto_inquire" mapstructure:"auto_inquire"`
}

// InquiryConfig configures the inquiry correlator.
type InquiryConfig struct {
	MaxAgeHours         int `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	MonitorIntervalSecs int `yaml:"monitor_interval_secs" mapstructure:"monitor_interval_secs"`
	ContactTimeoutSecs  int `yaml:"contact_timeout_secs" mapstructure:"contact_timeout_secs"`
}

// JobsConfig configures the job store and worker pool.
type JobsConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"`
	TTLSecs   int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// BookingConfig configures the headless booking worker.
type BookingConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SuccessTimeoutSecs int    `yaml:"success_timeout_secs" mapstructure:"success_timeout_secs"`
	Headless           bool   `yaml:"headless" mapstructure:"headless"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	Workers            int    `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
	MonitorInbox       bool     `yaml:"monitor_inbox" mapstructure:"monitor_inbox"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Secs converts a seconds knob to a duration.
func Secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "price-discovery.db")
	v.SetDefault("redis.key_prefix", "price:job:")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.dimensions", 1536)
	v.SetDefault("openai.batch_size", 96)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("mail.from_name", "Price Discovery")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.tls", "mandatory")
	v.SetDefault("mail.smtp.timeout_secs", 30)
	v.SetDefault("mail.imap.port", 993)
	v.SetDefault("mail.imap.mailbox", "INBOX")
	v.SetDefault("mail.imap.timeout_secs", 30)
	v.SetDefault("discovery.cascade_timeout_secs", 180)
	v.SetDefault("discovery.fetch_timeout_secs", 15)
	v.SetDefault("discovery.top_links", 3)
	v.SetDefault("discovery.sub_links", 2)
	v.SetDefault("discovery.max_pages", 10)
	v.SetDefault("discovery.semantic_min_overlap", 2)
	v.SetDefault("discovery.semantic_max_chars", 12000)
	v.SetDefault("discovery.llm_timeout_secs", 60)
	v.SetDefault("discovery.fallback_timeout_secs", 45)
	v.SetDefault("discovery.breaker_cooldown_secs", 120)
	v.SetDefault("discovery.fetch_retries", 2)
	v.SetDefault("discovery.retry_backoff_ms", 250)
	v.SetDefault("discovery.retry_max_backoff_ms", 5000)
	v.SetDefault("discovery.per_host_rps", 2.0)
	v.SetDefault("discovery.page_cache_ttl_hours", 24)
	v.SetDefault("discovery.exclude_paths", []string{"/blog/*", "/news/*", "/careers/*", "/checkout/*", "/cart/*", "/login/*"})
	v.SetDefault("discovery.default_currency", "GBP")
	v.SetDefault("search.vector_threshold", 0.75)
	v.SetDefault("search.text_threshold", 0.10)
	v.SetDefault("search.match_limit", 10)
	v.SetDefault("search.provider_limit", 50)
	v.SetDefault("search.default_radius_meters", 5000)
	v.SetDefault("search.max_radius_meters", 50000)
	v.SetDefault("search.max_discovery_providers", 10)
	v.SetDefault("search.intent_resolution", true)
	v.SetDefault("search.intent_timeout_secs", 5)
	v.SetDefault("search.auto_inquire", false)
	v.SetDefault("inquiry.max_age_hours", 14*24)
	v.SetDefault("inquiry.monitor_interval_secs", 300)
	v.SetDefault("inquiry.contact_timeout_secs", 15)
	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.ttl_secs", 3600)
	v.SetDefault("booking.timeout_secs", 300)
	v.SetDefault("booking.success_timeout_secs", 10)
	v.SetDefault("booking.headless", true)
	v.SetDefault("booking.workers", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.monitor_inbox", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys a command needs. mode is "serve", "discover",
// "search", "inquire", "monitor", "migrate", "seed" or "embed".
func (c *Config) Validate(mode string) error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	switch c.Store.Driver {
	case "postgres":
		need(c.Store.DatabaseURL != "", "store.database_url")
	case "sqlite":
		need(c.Store.SQLitePath != "", "store.sqlite_path")
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	switch c.Jobs.Backend {
	case "memory":
	case "redis":
		need(c.Redis.URL != "", "redis.url")
	default:
		return eris.Errorf("config: unknown jobs.backend %q", c.Jobs.Backend)
	}

	switch mode {
	case "serve":
		need(c.Server.Port > 0, "server.port")
		need(c.Anthropic.Key != "", "anthropic.key")
	case "discover":
		need(c.Anthropic.Key != "", "anthropic.key")
	case "inquire":
		need(c.Mail.FromAddress != "", "mail.from_address")
		need(c.Mail.SMTP.Host != "", "mail.smtp.host")
	case "monitor":
		need(c.Mail.IMAP.Host != "", "mail.imap.host")
		need(c.Anthropic.Key != "", "anthropic.key")
	case "embed":
		need(c.OpenAI.Key != "", "openai.key")
	case "search", "migrate", "seed":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Search.VectorThreshold < 0 || c.Search.VectorThreshold > 1 {
		return eris.Errorf("config: search.vector_threshold %v out of [0,1]", c.Search.VectorThreshold)
	}
	if c.Search.TextThreshold < 0 || c.Search.TextThreshold > 1 {
		return eris.Errorf("config: search.text_threshold %v out of [0,1]", c.Search.TextThreshold)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s requires %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
