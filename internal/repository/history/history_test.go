package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/database"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/history"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/history/historytest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestHistoryRepo_SQLite(t *testing.T) {
	historytest.Run(t, func(t *testing.T) repository.HistoryRepository {
		return history.NewRepository(database.OpenTestDB(t))
	})
}

func TestHistoryRepo_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("meterhub"),
		postgres.WithUsername("meterhub"),
		postgres.WithPassword("meterhub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := database.OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	historytest.Run(t, func(t *testing.T) repository.HistoryRepository {
		if _, err := db.GetDB().Exec(`TRUNCATE request_history, artifact_readings`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return history.NewRepository(db)
	})
}
