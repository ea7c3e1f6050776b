package postgresql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_CreateAllTables(t *testing.T) {
	all := migrations()
	require.NotEmpty(t, all)

	var combined strings.Builder
	for _, migration := range all {
		combined.WriteString(migration)
	}

	schema := combined.String()

	for _, table := range []string{"flows", "executions", "triggers", "multiple_condition_windows", "logs", "metrics"} {
		assert.Contains(t, schema, "CREATE TABLE "+table, "missing table %s", table)
	}

	// Columns the repositories filter on must exist as extracted columns.
	assert.Contains(t, schema, "trigger_execution_id")
	assert.Contains(t, schema, "end_date")
	assert.Contains(t, schema, "version INTEGER")
}

func TestMigrations_VersionsAreContiguous(t *testing.T) {
	all := migrations()

	for version := 1; version <= len(all); version++ {
		_, ok := all[version]
		assert.True(t, ok, "migration %d missing", version)
	}
}
