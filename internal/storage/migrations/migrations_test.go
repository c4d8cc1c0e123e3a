package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLFiles_Ordered(t *testing.T) {
	files, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
	assert.Equal(t, "001_state.sql", files[0].Name)
	assert.Contains(t, files[0].SQL, "CREATE TABLE IF NOT EXISTS tokens")

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, f := range ch {
		assert.NoError(t, validateNoSemicolonInStrings(f.SQL), f.Name)
	}
}

func TestSplitStatements(t *testing.T) {
	input := "-- comment; ignored\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (y UInt8);\n"
	assert.Equal(t, []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (y UInt8)"}, splitStatements(input))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b'"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/openclaw")
	require.NoError(t, err)
	assert.Equal(t, "openclaw", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
