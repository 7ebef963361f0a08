package generate

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/pkg/config"
	"github.com/vireodata/conveyor/pkg/jsonio"
)

func testGenConfig() config.DataGenerationConfig {
	return config.DataGenerationConfig{
		Customers: config.EntityCount{RecordCount: 20},
		Products:  config.EntityCount{RecordCount: 10},
		Orders:    config.EntityCount{RecordCount: 30},
	}
}

func readCSV(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	return records[0], records[1:]
}

func TestGenerateWritesAllOutputs(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(testGenConfig(), 42, zap.NewNop())

	meta, err := gen.Generate(dir)
	require.NoError(t, err)

	for _, name := range []string{
		"customers.csv", "products.csv", "transactions.csv",
		"transaction_items.csv", MetadataFileName,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "missing %s", name)
	}

	assert.Equal(t, 20, meta.RecordCounts["customers"])
	assert.Equal(t, 10, meta.RecordCounts["products"])
	assert.Equal(t, 30, meta.RecordCounts["transactions"])
	assert.GreaterOrEqual(t, meta.RecordCounts["transaction_items"], 30)
	assert.LessOrEqual(t, meta.RecordCounts["transaction_items"], 150)

	// Generated data is referentially clean by construction.
	assert.Equal(t, 0, meta.DataQuality.OrphanRecords)
	assert.Equal(t, 100, meta.DataQuality.DataQualityScore)
}

func TestGenerateCustomerRows(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(testGenConfig(), 42, zap.NewNop())
	_, err := gen.Generate(dir)
	require.NoError(t, err)

	header, rows := readCSV(t, filepath.Join(dir, "customers.csv"))
	assert.Equal(t, []string{
		"customer_id", "first_name", "last_name", "email", "phone",
		"registration_date", "city", "state", "country", "age_group",
	}, header)
	require.Len(t, rows, 20)

	emails := make(map[string]struct{})
	for i, row := range rows {
		assert.Regexp(t, `^CUST\d{4}$`, row[0])
		assert.NotEmpty(t, row[3], "row %d email", i)
		emails[row[3]] = struct{}{}
	}
	assert.Len(t, emails, 20, "emails must be unique")
}

func TestGenerateProductRows(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(testGenConfig(), 42, zap.NewNop())
	_, err := gen.Generate(dir)
	require.NoError(t, err)

	_, rows := readCSV(t, filepath.Join(dir, "products.csv"))
	require.Len(t, rows, 10)

	for i, row := range rows {
		price, err := strconv.ParseFloat(row[4], 64)
		require.NoError(t, err)
		cost, err := strconv.ParseFloat(row[5], 64)
		require.NoError(t, err)

		assert.Greater(t, price, 0.0, "row %d", i)
		assert.Less(t, cost, price, "row %d: cost must stay below price", i)
		assert.GreaterOrEqual(t, cost, price*0.59, "row %d: cost below band", i)
	}
}

func TestGenerateItemsReferenceTransactionsAndProducts(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(testGenConfig(), 42, zap.NewNop())
	_, err := gen.Generate(dir)
	require.NoError(t, err)

	_, txnRows := readCSV(t, filepath.Join(dir, "transactions.csv"))
	_, itemRows := readCSV(t, filepath.Join(dir, "transaction_items.csv"))

	txnIDs := make(map[string]struct{}, len(txnRows))
	for _, row := range txnRows {
		txnIDs[row[0]] = struct{}{}
	}

	for i, row := range itemRows {
		_, ok := txnIDs[row[1]]
		assert.True(t, ok, "item row %d references unknown transaction %s", i, row[1])

		quantity, err := strconv.Atoi(row[3])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, quantity, 1)
		assert.LessOrEqual(t, quantity, 5)
	}
}

func TestGenerateIsReproducibleWithSeed(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()

	_, err := NewGenerator(testGenConfig(), 7, zap.NewNop()).Generate(dirA)
	require.NoError(t, err)
	_, err = NewGenerator(testGenConfig(), 7, zap.NewNop()).Generate(dirB)
	require.NoError(t, err)

	// products.csv carries no timestamps, so it is byte-identical for a
	// fixed seed.
	a, err := os.ReadFile(filepath.Join(dirA, "products.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dirB, "products.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCheckIntegrityFlagsOrphans(t *testing.T) {
	customers := []Customer{{CustomerID: "CUST0001"}}
	products := []Product{{ProductID: "PROD0001"}}
	transactions := []Transaction{{TransactionID: "TXN00001", CustomerID: "CUST9999"}}
	items := []Item{{ItemID: "ITEM00001", TransactionID: "TXN00001", ProductID: "PROD0001"}}

	check := CheckIntegrity(customers, products, transactions, items)
	assert.Equal(t, 1, check.OrphanRecords)
	assert.Equal(t, 80, check.DataQualityScore)
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(testGenConfig(), 42, zap.NewNop())
	meta, err := gen.Generate(dir)
	require.NoError(t, err)

	var loaded Metadata
	require.NoError(t, jsonio.ReadFile(filepath.Join(dir, MetadataFileName), &loaded))
	assert.Equal(t, meta.RecordCounts, loaded.RecordCounts)
	assert.Equal(t, meta.DataQuality, loaded.DataQuality)
}
