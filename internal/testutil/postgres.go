package testutil

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// PostgresConfig reads integration database settings from the
// PROVCAT_TEST_POSTGRES_* environment variables and skips the test when
// PROVCAT_TEST_POSTGRES_DB is unset. The database is wiped by the tests.
func PostgresConfig(t testing.TB, backend string) core.IndexConfig {
	t.Helper()
	db := os.Getenv("PROVCAT_TEST_POSTGRES_DB")
	if db == "" {
		t.Skip("PROVCAT_TEST_POSTGRES_DB not set")
	}
	port, _ := strconv.Atoi(os.Getenv("PROVCAT_TEST_POSTGRES_PORT"))
	return core.IndexConfig{
		Backend:  backend,
		Name:     "integration",
		Database: db,
		Host:     os.Getenv("PROVCAT_TEST_POSTGRES_HOST"),
		Port:     port,
		Username: os.Getenv("PROVCAT_TEST_POSTGRES_USER"),
		Password: os.Getenv("PROVCAT_TEST_POSTGRES_PASSWORD"),
	}
}

// TruncateCatalog empties every catalog table.
func TruncateCatalog(t testing.TB, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`TRUNCATE dataset_home, dataset_lineage, dataset, product, metadata_type`)
	require.NoError(t, err)
}
