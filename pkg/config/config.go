package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for ekaya-nlsql.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// ShutdownTimeoutSeconds bounds how long in-flight requests may drain on shutdown.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS" env-default:"15"`

	// CORS configuration
	CORS CORSConfig `yaml:"cors"`

	// Target database the generated SQL runs against (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Language model used for translation
	LLM LLMConfig `yaml:"llm"`

	// Embedding model used for schema retrieval
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Schema retrieval and index settings
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Query shaping and execution settings
	Query QueryConfig `yaml:"query"`

	// Forbidden-operation filter settings
	Filter FilterConfig `yaml:"filter"`

	// Translation dispatch settings
	Translation TranslationConfig `yaml:"translation"`
}

// CORSConfig holds cross-origin settings for the public endpoint.
type CORSConfig struct {
	// AllowedOriginsStr is a comma-separated list of origins. "*" allows all.
	AllowedOriginsStr string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	AllowCredentials  bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"true"`

	// AllowedOrigins is the parsed list from AllowedOriginsStr (not from config file).
	AllowedOrigins []string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:""`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:""`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"6"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// ConnectTimeoutSeconds is applied to connection establishment only.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"PGCONNECT_TIMEOUT" env-default:"10"`
}

// LLMConfig holds chat-completion provider settings.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider  string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL   string `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model     string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey    string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MaxTokens int    `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
}

// EmbeddingConfig holds embedding provider settings.
// Empty BaseURL and APIKey fall back to the LLM values.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey  string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
}

// RetrievalConfig holds schema retrieval settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"4"`

	// RequireContext fails a request when no schema context is found instead of
	// translating without grounding.
	RequireContext bool `yaml:"require_context" env:"RETRIEVAL_REQUIRE_CONTEXT" env-default:"false"`

	// IndexBackend is "memory" (documents embedded at startup) or "postgres".
	IndexBackend string `yaml:"index_backend" env:"RETRIEVAL_INDEX_BACKEND" env-default:"memory"`

	// SchemaDir holds the *.txt schema descriptions that are chunked and embedded.
	SchemaDir string `yaml:"schema_dir" env:"RETRIEVAL_SCHEMA_DIR" env-default:"./schema_text"`

	// ChunkSize is the maximum number of characters per indexed document.
	ChunkSize int `yaml:"chunk_size" env:"RETRIEVAL_CHUNK_SIZE" env-default:"5000"`

	// IndexDatabaseURL is the PostgreSQL URL of the index store (postgres backend only).
	IndexDatabaseURL string `yaml:"-" env:"INDEX_DATABASE_URL"` // Secret - not in YAML
}

// QueryConfig holds query shaping settings.
type QueryConfig struct {
	// MaxLimit caps the page size regardless of what the client asks for.
	MaxLimit int `yaml:"max_limit" env:"QUERY_MAX_LIMIT" env-default:"10"`

	// AggregateKeywordsFile optionally replaces the built-in aggregate keyword list.
	AggregateKeywordsFile string `yaml:"aggregate_keywords_file" env:"QUERY_AGGREGATE_KEYWORDS_FILE" env-default:""`

	// SkipCountForJoins reports the page size instead of a table COUNT(*) for
	// statements that reference more than one table.
	SkipCountForJoins bool `yaml:"skip_count_for_joins" env:"QUERY_SKIP_COUNT_FOR_JOINS" env-default:"false"`

	// Dialect is named in the prompt so the model writes SQL for the right engine.
	Dialect string `yaml:"dialect" env:"QUERY_DIALECT" env-default:"PostgreSQL"`

	// JoinHintsStr lists known relationships as comma-separated "left:right:column" triples.
	JoinHintsStr string `yaml:"join_hints" env:"QUERY_JOIN_HINTS" env-default:"POINT_TASK:POINT_ORDER:ORDER_ID"`

	// JoinHints is the parsed list from JoinHintsStr (not from config file).
	JoinHints []JoinHint `yaml:"-"`
}

// JoinHint names two tables that share a join column.
type JoinHint struct {
	LeftTable  string
	RightTable string
	Column     string
}

// FilterConfig holds forbidden-operation filter settings.
type FilterConfig struct {
	// KeywordsFile optionally replaces the built-in forbidden phrase list.
	KeywordsFile string `yaml:"keywords_file" env:"FILTER_KEYWORDS_FILE" env-default:""`

	// InjectionCheck additionally rejects text that libinjection fingerprints as SQL.
	InjectionCheck bool `yaml:"injection_check" env:"FILTER_INJECTION_CHECK" env-default:"false"`
}

// TranslationConfig holds model dispatch settings.
type TranslationConfig struct {
	// MaxConcurrent bounds in-flight model calls across all requests.
	MaxConcurrent int `yaml:"max_concurrent" env:"TRANSLATION_MAX_CONCURRENT" env-default:"8"`

	// TimeoutSeconds bounds a single model call. 0 leaves it to the provider.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"TRANSLATION_TIMEOUT_SECONDS" env-default:"60"`

	// CircuitThreshold consecutive provider failures open the circuit.
	CircuitThreshold int `yaml:"circuit_threshold" env:"TRANSLATION_CIRCUIT_THRESHOLD" env-default:"5"`

	// CircuitResetSeconds is how long an open circuit rejects calls.
	CircuitResetSeconds int `yaml:"circuit_reset_seconds" env:"TRANSLATION_CIRCUIT_RESET_SECONDS" env-default:"30"`
}

// Load reads configuration from the given YAML file with environment variable overrides.
// A .env file in the working directory is loaded first and never overrides variables
// that are already set. If the YAML file does not exist, configuration comes from
// the environment alone.
func Load(path string, version string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.CORS.AllowedOrigins = parseList(c.CORS.AllowedOriginsStr)

	c.Query.JoinHints = nil
	for _, entry := range parseList(c.Query.JoinHintsStr) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return fmt.Errorf("query.join_hints entry %q must look like left:right:column", entry)
		}
		c.Query.JoinHints = append(c.Query.JoinHints, JoinHint{
			LeftTable:  strings.TrimSpace(parts[0]),
			RightTable: strings.TrimSpace(parts[1]),
			Column:     strings.TrimSpace(parts[2]),
		})
	}
	return nil
}

// Validate checks that required settings are present and within range.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.User == "" {
		problems = append(problems, "database.user (PGUSER) is required")
	}
	if c.Database.Database == "" {
		problems = append(problems, "database.database (PGDATABASE) is required")
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.BaseURL == "" {
			problems = append(problems, "llm.base_url is required for the openai provider")
		}
	case "anthropic":
		if c.LLM.APIKey == "" {
			problems = append(problems, "LLM_API_KEY is required for the anthropic provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported (use openai or anthropic)", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		problems = append(problems, "llm.model is required")
	}

	if c.Query.MaxLimit < 1 {
		problems = append(problems, "query.max_limit must be at least 1")
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 20 {
		problems = append(problems, "retrieval.top_k must be between 1 and 20")
	}
	if c.Retrieval.ChunkSize < 1 {
		problems = append(problems, "retrieval.chunk_size must be positive")
	}

	switch c.Retrieval.IndexBackend {
	case "memory":
	case "postgres":
		if c.Retrieval.IndexDatabaseURL == "" {
			problems = append(problems, "INDEX_DATABASE_URL is required for the postgres index backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("retrieval.index_backend %q is not supported (use memory or postgres)", c.Retrieval.IndexBackend))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// EffectiveEmbeddingBaseURL returns the embedding URL, falling back to the LLM URL.
func (c *Config) EffectiveEmbeddingBaseURL() string {
	if c.Embedding.BaseURL != "" {
		return c.Embedding.BaseURL
	}
	return c.LLM.BaseURL
}

// EffectiveEmbeddingAPIKey returns the embedding key, falling back to the LLM key.
func (c *Config) EffectiveEmbeddingAPIKey() string {
	if c.Embedding.APIKey != "" {
		return c.Embedding.APIKey
	}
	return c.LLM.APIKey
}

// parseList splits a comma-separated value and drops empty entries.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL URL with user-provided fields escaped.
// Passwords may contain characters (@, /, #, ?) that would otherwise break parsing.
func (c *DatabaseConfig) ConnectionString() string {
	host := ResolveHostForDocker(c.Host)
	u := &url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeoutSeconds > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", c.ConnectTimeoutSeconds))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
