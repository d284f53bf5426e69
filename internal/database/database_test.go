package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/config"
)

// Compile-time check that a plain stub satisfies DBTX; if the interface
// changes shape the package stops compiling.
var _ DBTX = (*stubDBTX)(nil)

type stubDBTX struct{}

func (m *stubDBTX) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *stubDBTX) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (m *stubDBTX) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func (m *stubDBTX) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func skipWithoutPostgres(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test, skipped in short mode")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	baseCfg := func() *config.DatabaseConfig {
		return &config.DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "moldisc",
			Password:       "secret",
			Name:           "molecule_discovery",
			SSLMode:        "disable",
			ConnectTimeout: 10 * time.Second,
		}
	}

	t.Run("carries every configured parameter", func(t *testing.T) {
		dsn := baseCfg().DSN()

		for _, want := range []string{
			"postgres://", "moldisc", "localhost:5432",
			"molecule_discovery", "sslmode=disable", "connect_timeout=10",
		} {
			assert.Contains(t, dsn, want)
		}
	})

	t.Run("escapes reserved characters in credentials", func(t *testing.T) {
		cfg := baseCfg()
		cfg.User = "user@domain"
		cfg.Password = "pass/word"

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "user%40domain")
		assert.Contains(t, dsn, "pass%2Fword")
	})

	t.Run("hostile password still parses as a pool config", func(t *testing.T) {
		cfg := baseCfg()
		cfg.Password = "p@ss:w0rd!#$%^&*()"

		dsn := cfg.DSN()
		assert.NotContains(t, dsn, "p@ss:w0rd")

		_, err := pgxpool.ParseConfig(dsn)
		assert.NoError(t, err)
	})

	t.Run("zero connect timeout drops the parameter", func(t *testing.T) {
		cfg := baseCfg()
		cfg.ConnectTimeout = 0

		assert.NotContains(t, cfg.DSN(), "connect_timeout")
	})
}

func TestHealthStatus_JSONShape(t *testing.T) {
	unhealthy, err := json.Marshal(HealthStatus{
		Status:        "unhealthy",
		Error:         "connection refused",
		TotalConns:    10,
		AcquiredConns: 3,
		IdleConns:     7,
		MaxConns:      50,
	})
	require.NoError(t, err)
	assert.Contains(t, string(unhealthy), `"status":"unhealthy"`)
	assert.Contains(t, string(unhealthy), `"error":"connection refused"`)

	// A healthy pool has no error field at all.
	healthy, err := json.Marshal(HealthStatus{Status: "healthy", MaxConns: 50})
	require.NoError(t, err)
	assert.Contains(t, string(healthy), `"status":"healthy"`)
	assert.NotContains(t, string(healthy), `"error"`)
}

func TestNew_ConnectionError(t *testing.T) {
	skipWithoutPostgres(t)

	badHosts := []struct {
		name string
		host string
		port int
	}{
		// 192.0.2.1 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
		{"unroutable host", "192.0.2.1", 5432},
		{"closed port", "localhost", 59999},
	}

	for _, tc := range badHosts {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testPoolConfig()
			cfg.Host = tc.host
			cfg.Port = tc.port
			cfg.ConnectTimeout = 2 * time.Second

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			db, err := New(ctx, cfg, zerolog.Nop())
			require.Error(t, err)
			assert.Nil(t, db)
		})
	}
}

func TestDB_PoolAccessors(t *testing.T) {
	skipWithoutPostgres(t)

	db := setupTestDB(t)
	ctx := context.Background()

	assert.NotNil(t, db.Pool())
	assert.NoError(t, db.Ping(ctx))

	stats := db.Stats()
	require.NotNil(t, stats)
	assert.GreaterOrEqual(t, stats.MaxConns(), int32(1))

	health := db.Health(ctx)
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.TotalConns, int32(0))
	assert.GreaterOrEqual(t, health.MaxConns, int32(1))
}

func TestDB_WithTransaction(t *testing.T) {
	skipWithoutPostgres(t)

	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("commit on success", func(t *testing.T) {
		var result int
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, "SELECT 42").Scan(&result)
		})
		require.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("rollback on error, error passed through", func(t *testing.T) {
		wantErr := errors.New("intentional failure")
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return wantErr
		})
		assert.Equal(t, wantErr, err)
	})

	t.Run("rollback and re-panic on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.WithTransaction(ctx, func(tx pgx.Tx) error {
				panic("intentional panic")
			})
		})
	})
}

// The repository layer only sees the pool through DBTX, so exercise each
// method through that interface.
func TestDB_DBTX(t *testing.T) {
	skipWithoutPostgres(t)

	var dbtx DBTX = setupTestDB(t)
	ctx := context.Background()

	t.Run("Exec", func(t *testing.T) {
		tag, err := dbtx.Exec(ctx, "SELECT 1")
		require.NoError(t, err)
		assert.NotNil(t, tag)
	})

	t.Run("QueryRow", func(t *testing.T) {
		var result int
		require.NoError(t, dbtx.QueryRow(ctx, "SELECT 42").Scan(&result))
		assert.Equal(t, 42, result)
	})

	t.Run("Query", func(t *testing.T) {
		rows, err := dbtx.Query(ctx, "SELECT generate_series(1, 3)")
		require.NoError(t, err)
		defer rows.Close()

		var results []int
		for rows.Next() {
			var val int
			require.NoError(t, rows.Scan(&val))
			results = append(results, val)
		}
		assert.Equal(t, []int{1, 2, 3}, results)
	})

	t.Run("SendBatch", func(t *testing.T) {
		batch := &pgx.Batch{}
		batch.Queue("SELECT 1")
		batch.Queue("SELECT 2")

		br := dbtx.SendBatch(ctx, batch)
		defer br.Close()

		var val1, val2 int
		require.NoError(t, br.QueryRow().Scan(&val1))
		require.NoError(t, br.QueryRow().Scan(&val2))
		assert.Equal(t, 1, val1)
		assert.Equal(t, 2, val2)
	})
}

func TestDB_Close(t *testing.T) {
	assert.NotPanics(t, func() {
		(&DB{}).Close()
	})
}

func testPoolConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		Name:              "molecule_discovery",
		User:              "moldisc",
		Password:          "password",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}
}

// setupTestDB connects to the local development database, skipping the
// test when it is not running.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(context.Background(), testPoolConfig(), zerolog.Nop())
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(db.Close)

	return db
}
