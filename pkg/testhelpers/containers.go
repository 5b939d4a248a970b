// Package testhelpers starts PostgreSQL containers for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/database"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/retry"
)

// PostgresImage is the stock image used for both the target and index databases.
const PostgresImage = "postgres:16-alpine"

const (
	testUser     = "nlsql"
	testPassword = "test_password"
	targetDBName = "orders_test"
	indexDBName  = "schema_index_test"
)

// fixtureSQL is the target database the pipeline tests query.
const fixtureSQL = `
CREATE TABLE customers (
    customer_id INTEGER PRIMARY KEY,
    name        TEXT NOT NULL,
    city        TEXT NOT NULL
);

CREATE TABLE point_order (
    order_id    INTEGER PRIMARY KEY,
    customer_id INTEGER NOT NULL REFERENCES customers (customer_id),
    amount      NUMERIC(10, 2) NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE point_task (
    task_id  INTEGER PRIMARY KEY,
    order_id INTEGER NOT NULL REFERENCES point_order (order_id),
    status   TEXT NOT NULL
);

CREATE TABLE empty_table (
    id INTEGER PRIMARY KEY
);

INSERT INTO customers (customer_id, name, city)
SELECT g, 'customer ' || g, CASE WHEN g % 2 = 0 THEN 'Berlin' ELSE 'Lisbon' END
FROM generate_series(1, 12) AS g;

INSERT INTO point_order (order_id, customer_id, amount, created_at)
SELECT g, ((g - 1) % 12) + 1, g * 10.5, TIMESTAMPTZ '2026-01-01 00:00:00+00' + (g || ' days')::interval
FROM generate_series(1, 25) AS g;

INSERT INTO point_task (task_id, order_id, status)
SELECT g, ((g - 1) % 25) + 1, CASE WHEN g % 3 = 0 THEN 'done' ELSE 'open' END
FROM generate_series(1, 40) AS g;
`

// TestDB holds the shared container, a pool on the seeded target database and
// a migrated index database.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string

	Index        *database.DB
	IndexConnStr string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       targetDBName,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := func(db string) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", testUser, testPassword, host, port.Port(), db)
	}

	fastRetry := &retry.Config{MaxRetries: 10, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1.5}

	target, err := database.NewConnection(ctx, &database.Config{URL: connStr(targetDBName), MaxConnections: 5, Retry: fastRetry}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	if _, err := target.Exec(ctx, fixtureSQL); err != nil {
		return nil, fmt.Errorf("failed to seed target database: %w", err)
	}
	if _, err := target.Exec(ctx, "CREATE DATABASE "+indexDBName); err != nil {
		return nil, fmt.Errorf("failed to create index database: %w", err)
	}

	index, err := database.NewConnection(ctx, &database.Config{URL: connStr(indexDBName), MaxConnections: 5, Retry: fastRetry}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index database: %w", err)
	}
	if err := database.MigratePool(index, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:    container,
		Pool:         target.Pool,
		ConnStr:      connStr(targetDBName),
		Index:        index,
		IndexConnStr: connStr(indexDBName),
	}, nil
}

// TruncateIndex empties the schema_documents table so index tests start clean.
func (db *TestDB) TruncateIndex(t *testing.T) {
	t.Helper()
	if _, err := db.Index.Exec(context.Background(), "TRUNCATE schema_documents"); err != nil {
		t.Fatalf("failed to truncate schema_documents: %v", err)
	}
}
