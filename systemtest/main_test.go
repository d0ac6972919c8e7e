package systemtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/stadtnetz/lorabulk/internal/api/http"
	"github.com/stadtnetz/lorabulk/internal/api/http/handler"
	"github.com/stadtnetz/lorabulk/internal/auth"
	"github.com/stadtnetz/lorabulk/internal/db"
	"github.com/stadtnetz/lorabulk/internal/reports"
	"github.com/stadtnetz/lorabulk/internal/settings"
	"github.com/stadtnetz/lorabulk/systemtest/postgres"
	"github.com/stadtnetz/lorabulk/systemtest/tests"
)

const jwtSecret = "systemtest-secret"

// TestSystemIntegration wires the real HTTP surface against an in-memory
// registry, with run history in a disposable Postgres container. Requires
// Docker; set LORABULK_SYSTEMTEST=1 to run.
func TestSystemIntegration(t *testing.T) {
	if os.Getenv("LORABULK_SYSTEMTEST") == "" {
		t.Skip("set LORABULK_SYSTEMTEST=1 to run system tests (requires Docker)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := postgres.StartPostgres(ctx, "lorabulk", "lorabulk", "lorabulk")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = postgres.TerminatePostgres(context.Background(), container)
	})

	dbURL, err := postgres.URL(ctx, container)
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(dbURL))
	pool, err := db.InitDB(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	hash, err := auth.HashPassword("systemtest-pass")
	require.NoError(t, err)
	authService := auth.NewService(auth.Config{
		AdminUsername: "admin",
		AdminHash:     hash,
		JWTSecret:     jwtSecret,
		TokenTTL:      time.Hour,
	})

	store, err := settings.NewStore(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	jobs := handler.NewJobManager()
	t.Cleanup(jobs.Close)

	reg := tests.NewMemoryRegistry()

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Auth:      authService,
		Settings:  store,
		Reports:   reports.NewService(pool),
		Jobs:      jobs,
		Registry:  tests.Factory(reg),
		JWTSecret: jwtSecret,
	})

	t.Run("Login", func(t *testing.T) { tests.TestLoginFlow(t, engine, jwtSecret) })
	t.Run("Registration", func(t *testing.T) { tests.TestRegistrationFlow(t, engine, reg, true) })
}
