// Package dbtest opens throwaway sqlite databases migrated with the embedded
// goose migrations.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/db"
	"github.com/angelmondragon/payintents-backend/pkg/migrate"
)

// Open returns a client bound to a fresh in-memory database.
func Open(t *testing.T) *db.Client {
	t.Helper()
	cfg := config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}
	client, err := db.New(t.Context(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.SQL()
	require.NoError(t, err)
	runner, err := migrate.NewSQLiteRunner(sqlDB, migrate.Embedded(), nil)
	require.NoError(t, err)
	require.NoError(t, runner.Up(t.Context()))
	return client
}
