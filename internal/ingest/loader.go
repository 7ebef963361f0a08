// Package ingest loads the raw CSV extracts into the staging schema. The
// whole load runs in one transaction: staging tables are truncated first,
// each CSV is bulk-inserted, and the loaded row count is validated against
// the CSV before commit. Any failure rolls the entire load back so staging
// is never left half-loaded.
package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/conveyorerrors"
	"github.com/vireodata/conveyor/pkg/jsonio"
	"github.com/vireodata/conveyor/pkg/metrics"
)

// SummaryFileName is the ingestion summary written under the staging dir.
const SummaryFileName = "ingestion_summary.json"

// insertBatchSize caps the rows per multi-row INSERT. 200 rows keeps the
// placeholder count well under PostgreSQL's 65535 bind-parameter limit for
// every staging table.
const insertBatchSize = 200

// tableLoads maps staging tables to their CSV sources, in load order.
var tableLoads = []struct {
	table string
	file  string
}{
	{"staging.customers", "customers.csv"},
	{"staging.products", "products.csv"},
	{"staging.transactions", "transactions.csv"},
	{"staging.transaction_items", "transaction_items.csv"},
}

// TableResult records one table's load outcome in the summary.
type TableResult struct {
	RowsLoaded   int64  `json:"rows_loaded"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Summary is one ingestion run's output.
type Summary struct {
	IngestionTimestamp        string                 `json:"ingestion_timestamp"`
	TablesLoaded              map[string]TableResult `json:"tables_loaded"`
	TotalExecutionTimeSeconds float64                `json:"total_execution_time_seconds"`
}

// Loader moves raw CSVs into staging.
type Loader struct {
	store *store.Store
	log   *zap.Logger
}

// NewLoader creates a loader over the given store.
func NewLoader(st *store.Store, log *zap.Logger) *Loader {
	return &Loader{store: st, log: log}
}

// Load truncates and reloads every staging table from the CSVs under
// rawDir inside one transaction. The returned summary is populated even
// when the load fails, with the failing and unloaded tables marked failed.
func (l *Loader) Load(ctx context.Context, rawDir string) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		IngestionTimestamp: time.Now().UTC().Format(time.RFC3339),
		TablesLoaded:       make(map[string]TableResult, len(tableLoads)),
	}

	err := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tableLoads {
			if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+t.table); err != nil {
				return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to truncate staging table").
					WithDetail("table", t.table)
			}
			l.log.Info("truncated staging table", zap.String("table", t.table))
		}

		for _, t := range tableLoads {
			rows, err := l.loadTable(ctx, tx, t.table, filepath.Join(rawDir, t.file))
			if err != nil {
				return err
			}

			dbRows, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM "+t.table)
			if err != nil {
				return err
			}
			if dbRows != rows {
				return conveyorerrors.New(conveyorerrors.ErrorTypeData,
					fmt.Sprintf("row count mismatch for %s: CSV=%d, DB=%d", t.table, rows, dbRows))
			}

			summary.TablesLoaded[t.table] = TableResult{RowsLoaded: dbRows, Status: "success"}
			metrics.RecordsProcessed.WithLabelValues(t.table, "loaded").Add(float64(dbRows))
			l.log.Info("loaded staging table",
				zap.String("table", t.table),
				zap.Int64("rows", dbRows))
		}
		return nil
	})
	if err != nil {
		for _, t := range tableLoads {
			if _, ok := summary.TablesLoaded[t.table]; !ok {
				summary.TablesLoaded[t.table] = TableResult{
					RowsLoaded:   0,
					Status:       "failed",
					ErrorMessage: err.Error(),
				}
			}
		}
	}

	summary.TotalExecutionTimeSeconds = round2(time.Since(start).Seconds())
	return summary, err
}

// loadTable reads one CSV and inserts its rows in batches, returning the
// number of rows inserted. The CSV header determines the insert columns,
// so column order in the file does not have to match the table definition.
func (l *Loader) loadTable(ctx context.Context, tx *sql.Tx, table, path string) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the configured raw dir
	if err != nil {
		return 0, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeFile, "raw CSV not found").
			WithDetail("table", table)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return 0, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeFile, "failed to read CSV header").
			WithDetail("path", path)
	}

	records, err := r.ReadAll()
	if err != nil {
		return 0, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeFile, "failed to read CSV rows").
			WithDetail("path", path)
	}

	for offset := 0; offset < len(records); offset += insertBatchSize {
		end := offset + insertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := insertBatch(ctx, tx, table, header, records[offset:end]); err != nil {
			return 0, err
		}
	}
	return int64(len(records)), nil
}

// insertBatch issues one multi-row INSERT for a slice of CSV records.
// Empty CSV fields are bound as NULL so nullable staging columns round-trip.
func insertBatch(ctx context.Context, tx *sql.Tx, table string, columns []string, records [][]string) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(records)*len(columns))
	for i, record := range records {
		if len(record) != len(columns) {
			return conveyorerrors.New(conveyorerrors.ErrorTypeData,
				fmt.Sprintf("CSV row has %d fields, expected %d", len(record), len(columns))).
				WithDetail("table", table)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, field := range record {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			if field == "" {
				args = append(args, nil)
			} else {
				args = append(args, field)
			}
		}
		sb.WriteString(")")
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "batch insert failed").
			WithDetail("table", table)
	}
	return nil
}

// WriteSummary persists the summary under stagingDir.
func (l *Loader) WriteSummary(summary *Summary, stagingDir string) error {
	return jsonio.WriteFile(filepath.Join(stagingDir, SummaryFileName), summary)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
