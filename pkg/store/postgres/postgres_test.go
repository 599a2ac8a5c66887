package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/store/postgres"
	"github.com/MrWong99/scribeline/pkg/store/storetest"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SCRIBELINE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SCRIBELINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRIBELINE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// dropSchema removes the sessions table so every subtest starts empty.
func dropSchema(t *testing.T, dsn string) {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS sessions CASCADE"); err != nil {
		t.Fatalf("drop sessions: %v", err)
	}
}

func TestConformance(t *testing.T) {
	dsn := testDSN(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		dropSchema(t, dsn)
		s, err := postgres.Open(context.Background(), dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}

func TestOpen_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.Open(context.Background(), "://not a dsn"); err == nil {
		t.Error("expected parse error")
	}
}
