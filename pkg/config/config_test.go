package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp switches into a fresh temp directory so Load does not pick up a
// developer's .env or config.yaml.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})
	return tmpDir
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PGUSER", "reader")
	t.Setenv("PGDATABASE", "orders")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("RETRIEVAL_INDEX_BACKEND", "memory")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := chdirTemp(t)
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
port: "9000"
env: "test"
database:
  host: "db.example.com"
  port: 5433
  user: "yamluser"
  database: "yamldb"
query:
  max_limit: 1000
retrieval:
  top_k: 2
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("PORT", "9100")
	t.Setenv("PGUSER", "envuser")
	t.Setenv("PGDATABASE", "yamldb")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("RETRIEVAL_INDEX_BACKEND", "memory")

	cfg, err := Load(configPath, "test-version")
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port, "env should override yaml")
	assert.Equal(t, "envuser", cfg.Database.User, "env should override yaml")
	assert.Equal(t, "db.example.com", cfg.Database.Host, "yaml value should be read")
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 1000, cfg.Query.MaxLimit)
	assert.Equal(t, 2, cfg.Retrieval.TopK)
	assert.Equal(t, "test-version", cfg.Version)
}

func TestLoad_WithoutConfigFileUsesEnvironment(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)
	t.Setenv("QUERY_MAX_LIMIT", "25")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := Load("does-not-exist.yaml", "dev")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Query.MaxLimit)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, "memory", cfg.Retrieval.IndexBackend)
	assert.False(t, cfg.Retrieval.RequireContext)
	assert.False(t, cfg.Filter.InjectionCheck, "only listed phrases reject by default")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []JoinHint{{LeftTable: "POINT_TASK", RightTable: "POINT_ORDER", Column: "ORDER_ID"}}, cfg.Query.JoinHints)
}

func TestLoad_JoinHints(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)

	t.Setenv("QUERY_JOIN_HINTS", "invoices:customers:customer_id, tasks:orders:order_id")
	cfg, err := Load("config.yaml", "dev")
	require.NoError(t, err)
	assert.Len(t, cfg.Query.JoinHints, 2)
	assert.Equal(t, "customers", cfg.Query.JoinHints[0].RightTable)
	assert.Equal(t, "order_id", cfg.Query.JoinHints[1].Column)

	t.Setenv("QUERY_JOIN_HINTS", "invoices:customers")
	_, err = Load("config.yaml", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.join_hints")
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	tmpDir := chdirTemp(t)
	setRequiredEnv(t)

	// godotenv never overrides variables that are already set, so only
	// QUERY_DIALECT should come from the file.
	t.Setenv("QUERY_DIALECT", "")
	require.NoError(t, os.Unsetenv("QUERY_DIALECT"))
	dotenv := "QUERY_DIALECT=MySQL\nPGUSER=ignored\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(dotenv), 0644))

	cfg, err := Load("config.yaml", "dev")
	require.NoError(t, err)

	assert.Equal(t, "MySQL", cfg.Query.Dialect)
	assert.Equal(t, "reader", cfg.Database.User)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{User: "reader", Database: "orders"},
			LLM:       LLMConfig{Provider: "openai", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
			Retrieval: RetrievalConfig{TopK: 4, IndexBackend: "memory", ChunkSize: 5000},
			Query:     QueryConfig{MaxLimit: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing user", mutate: func(c *Config) { c.Database.User = "" }, wantErr: "database.user"},
		{name: "missing database", mutate: func(c *Config) { c.Database.Database = "" }, wantErr: "database.database"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "gemini" }, wantErr: "llm.provider"},
		{name: "anthropic without key", mutate: func(c *Config) { c.LLM.Provider = "anthropic" }, wantErr: "LLM_API_KEY"},
		{name: "anthropic with key", mutate: func(c *Config) { c.LLM.Provider = "anthropic"; c.LLM.APIKey = "k" }},
		{name: "zero max limit", mutate: func(c *Config) { c.Query.MaxLimit = 0 }, wantErr: "max_limit"},
		{name: "top_k too large", mutate: func(c *Config) { c.Retrieval.TopK = 50 }, wantErr: "top_k"},
		{name: "postgres index without url", mutate: func(c *Config) { c.Retrieval.IndexBackend = "postgres" }, wantErr: "INDEX_DATABASE_URL"},
		{name: "unknown index backend", mutate: func(c *Config) { c.Retrieval.IndexBackend = "pinecone" }, wantErr: "index_backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEffectiveEmbeddingSettings(t *testing.T) {
	cfg := &Config{
		LLM: LLMConfig{BaseURL: "https://llm.example.com/v1", APIKey: "llm-key"},
	}
	assert.Equal(t, "https://llm.example.com/v1", cfg.EffectiveEmbeddingBaseURL())
	assert.Equal(t, "llm-key", cfg.EffectiveEmbeddingAPIKey())

	cfg.Embedding = EmbeddingConfig{BaseURL: "https://embed.example.com/v1", APIKey: "embed-key"}
	assert.Equal(t, "https://embed.example.com/v1", cfg.EffectiveEmbeddingBaseURL())
	assert.Equal(t, "embed-key", cfg.EffectiveEmbeddingAPIKey())
}

func TestDatabaseConfig_ConnectionString_EscapesPassword(t *testing.T) {
	cfg := DatabaseConfig{
		Host:                  "db.example.com",
		Port:                  5432,
		User:                  "reader",
		Password:              "p@ss/w#rd?",
		Database:              "orders",
		SSLMode:               "require",
		ConnectTimeoutSeconds: 10,
	}

	connStr := cfg.ConnectionString()

	assert.True(t, strings.HasPrefix(connStr, "postgresql://reader:"))
	assert.NotContains(t, connStr, "p@ss/w#rd?")
	assert.Contains(t, connStr, "@db.example.com:5432/orders")
	assert.Contains(t, connStr, "sslmode=require")
	assert.Contains(t, connStr, "connect_timeout=10")
}
