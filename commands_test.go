package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/config"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/middleware"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "nlsql version "+Version+"\n", out.String())
}

func TestAskCommand_Arguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing question", []string{"ask"}},
		{"two questions", []string{"ask", "a", "b"}},
		{"negative offset", []string{"ask", "show orders", "--offset", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)
			assert.Error(t, cmd.Execute())
		})
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"serve", "index", "ask", "check", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestRoutes_CORSAndRequestID(t *testing.T) {
	a := &app{
		cfg: &config.Config{
			Version: "test",
			CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		},
		logger: zap.NewNop(),
	}
	h := a.routes()

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/data-requests", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Less(t, rec.Code, 300)
		assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("ping carries request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("health without database", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "nlsql_http_requests_total")
	})
}

func TestIndexStoreWarm_MemoryBackendDegrades(t *testing.T) {
	schemaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "orders.txt"), []byte("Table: orders\n- order_id"), 0644))

	tests := []struct {
		name      string
		dir       string
		embedder  *llm.MockEmbeddingClient
		wantCount int
	}{
		{
			name: "embedding provider down",
			dir:  schemaDir,
			embedder: &llm.MockEmbeddingClient{
				CreateEmbeddingsFunc: func(ctx context.Context, inputs []string) ([][]float32, error) {
					return nil, llm.NewError(llm.ErrorTypeAuth, "invalid api key", false, nil)
				},
			},
			wantCount: 0,
		},
		{
			name:      "no schema files",
			dir:       t.TempDir(),
			embedder:  &llm.MockEmbeddingClient{},
			wantCount: 0,
		},
		{
			name: "indexed",
			dir:  schemaDir,
			embedder: &llm.MockEmbeddingClient{
				CreateEmbeddingFunc: func(ctx context.Context, input string) ([]float32, error) {
					return []float32{1, 0}, nil
				},
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Retrieval: config.RetrievalConfig{IndexBackend: "memory", SchemaDir: tt.dir, ChunkSize: 5000},
			}
			store, err := openIndex(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.warm(context.Background(), tt.embedder, cfg, zap.NewNop()))

			n, err := store.index.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, n)
		})
	}
}
