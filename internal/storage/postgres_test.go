package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Skufu/veincheck/internal/triage"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := provider.Health(ctx); err != nil {
		provider.Close()
		t.Skipf("docker unavailable: %v", err)
	}
	provider.Close()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("veincheck"),
		postgres.WithUsername("veincheck"),
		postgres.WithPassword("veincheck"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, Config{Backend: BackendPostgres, DatabaseURL: dsn}, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, Migrate(dsn, quietLogger()), "second run is a no-op")
	require.NoError(t, s.Ping(ctx))

	first := sampleRecord("Asha", triage.Yes, triage.No, triage.Yes, true)
	second := sampleRecord("Ravi", triage.No, triage.Yes, triage.No, false)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	recs, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assertSameRecord(t, first, recs[0])
	assertSameRecord(t, second, recs[1])
	assert.Equal(t, triage.Urgent, recs[1].Category)
}
