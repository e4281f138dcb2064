package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/database"
)

const (
	// PostgresImage is the stock image used for integration tests.
	PostgresImage = "postgres:17-alpine"
	// TestDatabaseName is the database created inside the container.
	TestDatabaseName = "ekaya_watch_test"
)

// TestDB holds a shared test database container and a raw connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
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
			"POSTGRES_DB":       TestDatabaseName,
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
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

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/"+TestDatabaseName+"?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}

// WatchDB holds the application database connection with migrations applied.
// Use this for testing handlers, services, and repositories against a real database.
type WatchDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedWatchDB     *WatchDB
	sharedWatchDBOnce sync.Once
	sharedWatchDBErr  error
)

// GetWatchDB returns a shared, migrated database for integration tests.
func GetWatchDB(t *testing.T) *WatchDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	testDB := GetTestDB(t)

	sharedWatchDBOnce.Do(func() {
		sharedWatchDB, sharedWatchDBErr = setupWatchDB(testDB)
	})

	if sharedWatchDBErr != nil {
		t.Fatalf("Failed to setup watch database: %v", sharedWatchDBErr)
	}

	return sharedWatchDB
}

func setupWatchDB(testDB *TestDB) (*WatchDB, error) {
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            testDB.ConnStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to watch database: %w", err)
	}

	// golang-migrate needs database/sql
	sqlDB, err := sql.Open("pgx", testDB.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &WatchDB{
		DB:      db,
		ConnStr: testDB.ConnStr,
	}, nil
}

// ScopedContext returns a context carrying a pooled connection from the watch database.
// The connection is released when the test finishes.
func (w *WatchDB) ScopedContext(t *testing.T) context.Context {
	t.Helper()
	scope, err := w.DB.Acquire(context.Background())
	if err != nil {
		t.Fatalf("failed to acquire connection: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetScope(context.Background(), scope)
}
