package transform

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
)

func newMockTransformer(t *testing.T) (*Transformer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTransformer(store.NewWithDB(db), zap.NewNop()), mock
}

func countRow(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func stagingCustomerRows() *sqlmock.Rows {
	reg := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"customer_id", "first_name", "last_name", "email", "phone",
		"registration_date", "city", "state", "country", "age_group",
	}).
		AddRow("CUST0001", "alice", "smith", "Alice@Example.com", "+1 555-0001",
			reg, "Springfield", "IL", "USA", "26-35").
		AddRow("CUST0002", "bob", "jones", nil, "+1 555-0002",
			reg, "Shelbyville", "IL", "USA", "36-45")
}

func stagingProductRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"product_id", "product_name", "category", "sub_category",
		"price", "cost", "brand", "stock_quantity", "supplier_id",
	}).
		AddRow("PROD0001", "wireless mouse", "Electronics", "Accessories",
			100.0, 60.0, "Acme", int64(25), "SUP001").
		AddRow("PROD0002", "broken item", "Electronics", "Accessories",
			10.0, 15.0, "Acme", int64(5), "SUP002")
}

// expectFullTransform registers the complete expectation sequence for one
// Transform invocation: one row of each reference entity survives
// cleaning, one is filtered, and the anti-join sections insert
// txnInserted/itemInserted new rows on top of the existing totals.
func expectFullTransform(mock sqlmock.Sqlmock, txnInserted, itemInserted int64) {
	mock.ExpectBegin()

	// customers: count, read, truncate, insert survivor, recount
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM staging.customers").WillReturnRows(countRow(2))
	mock.ExpectQuery("SELECT customer_id").WillReturnRows(stagingCustomerRows())
	mock.ExpectExec("TRUNCATE production.customers CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO production.customers").
		WithArgs("CUST0001", "Alice", "Smith", "alice@example.com", "15550001",
			sqlmock.AnyArg(), "Springfield", "IL", "USA", "26-35").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM production.customers").WillReturnRows(countRow(1))

	// products: count, read, truncate, insert survivor, recount
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM staging.products").WillReturnRows(countRow(2))
	mock.ExpectQuery("SELECT product_id").WillReturnRows(stagingProductRows())
	mock.ExpectExec("TRUNCATE production.products CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO production.products").
		WithArgs("PROD0001", "Wireless Mouse", "Electronics", "Accessories",
			100.0, 60.0, "Acme", int64(25), "SUP001", 40.0, CategoryMidRange).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM production.products").WillReturnRows(countRow(1))

	// transactions: anti-join insert, recount
	mock.ExpectExec("INSERT INTO production.transactions").WillReturnResult(sqlmock.NewResult(0, txnInserted))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM production.transactions").WillReturnRows(countRow(5))

	// items: anti-join insert, recount
	mock.ExpectExec("INSERT INTO production.transaction_items").WillReturnResult(sqlmock.NewResult(0, itemInserted))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM production.transaction_items").WillReturnRows(countRow(12))

	// post-transform spot checks
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM production.customers WHERE email IS NULL").WillReturnRows(countRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM production.transaction_items ti").WillReturnRows(countRow(0))

	mock.ExpectCommit()
}

func TestTransformHappyPath(t *testing.T) {
	transformer, mock := newMockTransformer(t)
	expectFullTransform(mock, 5, 12)

	summary, err := transformer.Transform(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	customers := summary.RecordsProcessed["customers"]
	assert.Equal(t, int64(2), customers.Input)
	assert.Equal(t, int64(1), customers.Output)
	assert.Equal(t, int64(1), customers.Filtered)
	assert.Equal(t, int64(1), customers.RejectedReasons[ReasonNullEmail])

	products := summary.RecordsProcessed["products"]
	assert.Equal(t, int64(1), products.Output)
	assert.Equal(t, int64(1), products.RejectedReasons[ReasonInvalidPriceOrCost])

	transactions := summary.RecordsProcessed["transactions"]
	assert.Equal(t, IncrementalInput, transactions.Input)
	assert.Equal(t, int64(5), transactions.Output)

	items := summary.RecordsProcessed["transaction_items"]
	assert.Equal(t, IncrementalInput, items.Input)
	assert.Equal(t, int64(12), items.Output)

	assert.Equal(t, int64(0), summary.DataQualityPostTransform.NullViolations)
	assert.Equal(t, int64(0), summary.DataQualityPostTransform.ConstraintViolations)
	assert.Equal(t, transformationsApplied, summary.TransformationsApplied)
}

func TestTransformRerunWithUnchangedStaging(t *testing.T) {
	transformer, mock := newMockTransformer(t)

	// First run loads everything; second run sees the same staging content,
	// re-issues the identical reference reloads, and its anti-joins match
	// nothing new.
	expectFullTransform(mock, 5, 12)
	expectFullTransform(mock, 0, 0)

	first, err := transformer.Transform(context.Background())
	require.NoError(t, err)
	second, err := transformer.Transform(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	// Production totals are unchanged by the rerun.
	assert.Equal(t, first.RecordsProcessed["transactions"].Output,
		second.RecordsProcessed["transactions"].Output)
	assert.Equal(t, first.RecordsProcessed["transaction_items"].Output,
		second.RecordsProcessed["transaction_items"].Output)
	assert.Equal(t, first.RecordsProcessed["customers"].Output,
		second.RecordsProcessed["customers"].Output)
	assert.Equal(t, first.RecordsProcessed["products"].Output,
		second.RecordsProcessed["products"].Output)
	assert.Equal(t, int64(0), second.RecordsProcessed["transactions"].Filtered)
	assert.Equal(t, first.RecordsProcessed["customers"].RejectedReasons,
		second.RecordsProcessed["customers"].RejectedReasons)
}

func TestTransformRollsBackOnFailure(t *testing.T) {
	transformer, mock := newMockTransformer(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM staging.customers").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	summary, err := transformer.Transform(context.Background())
	assert.Error(t, err)
	assert.Nil(t, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransformRollsBackOnInsertFailure(t *testing.T) {
	transformer, mock := newMockTransformer(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM staging.customers").WillReturnRows(countRow(2))
	mock.ExpectQuery("SELECT customer_id").WillReturnRows(stagingCustomerRows())
	mock.ExpectExec("TRUNCATE production.customers CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO production.customers").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	summary, err := transformer.Transform(context.Background())
	assert.Error(t, err)
	assert.Nil(t, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseLoadRunsAllTablesInOneTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	loader := NewWarehouseLoader(store.NewWithDB(db), zap.NewNop())

	mock.ExpectBegin()
	for range warehouseStatements {
		mock.ExpectExec("TRUNCATE warehouse").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, loader.Load(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouseLoadRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	loader := NewWarehouseLoader(store.NewWithDB(db), zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE warehouse").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("TRUNCATE warehouse").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.Error(t, loader.Load(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
