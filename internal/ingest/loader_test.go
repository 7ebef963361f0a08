package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/jsonio"
)

// writeRawCSVs creates a minimal but referentially consistent raw extract
// with one row per entity.
func writeRawCSVs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"customers.csv": "customer_id,first_name,last_name,email\n" +
			"CUST0001,Alice,Smith,alice@example.com\n",
		"products.csv": "product_id,product_name,price,cost\n" +
			"PROD0001,Mouse,100.00,60.00\n",
		"transactions.csv": "transaction_id,customer_id,total_amount\n" +
			"TXN00001,CUST0001,95.00\n",
		"transaction_items.csv": "item_id,transaction_id,product_id,quantity\n" +
			"ITEM00001,TXN00001,PROD0001,1\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newMockLoader(t *testing.T) (*Loader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLoader(store.NewWithDB(db), zap.NewNop()), mock
}

func countRow(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestLoadHappyPath(t *testing.T) {
	rawDir := writeRawCSVs(t)
	loader, mock := newMockLoader(t)

	mock.ExpectBegin()
	for range tableLoads {
		mock.ExpectExec("TRUNCATE TABLE staging").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range tableLoads {
		mock.ExpectExec("INSERT INTO staging").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRow(1))
	}
	mock.ExpectCommit()

	summary, err := loader.Load(context.Background(), rawDir)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, summary.TablesLoaded, 4)
	for table, result := range summary.TablesLoaded {
		assert.Equal(t, "success", result.Status, "table %s", table)
		assert.Equal(t, int64(1), result.RowsLoaded, "table %s", table)
		assert.Empty(t, result.ErrorMessage)
	}
}

func TestLoadRollsBackOnCountMismatch(t *testing.T) {
	rawDir := writeRawCSVs(t)
	loader, mock := newMockLoader(t)

	mock.ExpectBegin()
	for range tableLoads {
		mock.ExpectExec("TRUNCATE TABLE staging").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	// First table loads but the count comes back wrong.
	mock.ExpectExec("INSERT INTO staging").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(countRow(0))
	mock.ExpectRollback()

	summary, err := loader.Load(context.Background(), rawDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row count mismatch")
	require.NoError(t, mock.ExpectationsWereMet())

	// Every table is reported failed; none loaded.
	require.Len(t, summary.TablesLoaded, 4)
	for table, result := range summary.TablesLoaded {
		assert.Equal(t, "failed", result.Status, "table %s", table)
		assert.Equal(t, int64(0), result.RowsLoaded, "table %s", table)
		assert.NotEmpty(t, result.ErrorMessage, "table %s", table)
	}
}

func TestLoadFailsOnMissingCSV(t *testing.T) {
	rawDir := t.TempDir() // no CSVs
	loader, mock := newMockLoader(t)

	mock.ExpectBegin()
	for range tableLoads {
		mock.ExpectExec("TRUNCATE TABLE staging").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectRollback()

	summary, err := loader.Load(context.Background(), rawDir)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	for _, result := range summary.TablesLoaded {
		assert.Equal(t, "failed", result.Status)
	}
}

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	loader, _ := newMockLoader(t)

	summary := &Summary{
		IngestionTimestamp: "2026-08-28T00:00:00Z",
		TablesLoaded: map[string]TableResult{
			"staging.customers": {RowsLoaded: 10, Status: "success"},
		},
		TotalExecutionTimeSeconds: 1.25,
	}
	require.NoError(t, loader.WriteSummary(summary, dir))

	var loaded Summary
	require.NoError(t, jsonio.ReadFile(filepath.Join(dir, SummaryFileName), &loaded))
	assert.Equal(t, summary.TablesLoaded, loaded.TablesLoaded)
	assert.Equal(t, 1.25, loaded.TotalExecutionTimeSeconds)
}

func TestInsertBatchRejectsRaggedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	err = insertBatch(context.Background(), tx, "staging.customers",
		[]string{"customer_id", "email"},
		[][]string{{"CUST0001"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fields")
}
