package transform

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/conveyorerrors"
	"github.com/vireodata/conveyor/pkg/jsonio"
)

// AnalyticsSummaryFileName is the analytics summary written next to the
// query result CSVs.
const AnalyticsSummaryFileName = "analytics_summary.json"

// analyticsQueries are the fixed analytical extracts run against the
// warehouse star schema. Each result is written as a CSV named after the
// query.
var analyticsQueries = []struct {
	name string
	sql  string
}{
	{"query1_top_products", `
		SELECT dp.product_name, dp.category,
		       SUM(fs.line_total) AS total_revenue,
		       SUM(fs.quantity) AS units_sold,
		       AVG(fs.unit_price) AS avg_price
		FROM warehouse.fact_sales fs
		JOIN warehouse.dim_products dp ON fs.product_key = dp.product_key
		GROUP BY dp.product_name, dp.category
		ORDER BY total_revenue DESC
		LIMIT 10`},
	{"query2_monthly_trend", `
		SELECT d.year, d.month,
		       SUM(fs.line_total) AS total_revenue,
		       COUNT(DISTINCT fs.transaction_id) AS total_transactions,
		       AVG(fs.line_total) AS average_order_value,
		       COUNT(DISTINCT fs.customer_key) AS unique_customers
		FROM warehouse.fact_sales fs
		JOIN warehouse.dim_date d ON fs.date_key = d.date_key
		GROUP BY d.year, d.month
		ORDER BY d.year, d.month`},
	{"query3_customer_segmentation", `
		WITH customer_totals AS (
			SELECT customer_key, SUM(line_total) AS total_spent
			FROM warehouse.fact_sales
			GROUP BY customer_key
		)
		SELECT
			CASE
				WHEN total_spent < 1000 THEN '$0-$1,000'
				WHEN total_spent < 5000 THEN '$1,000-$5,000'
				WHEN total_spent < 10000 THEN '$5,000-$10,000'
				ELSE '$10,000+'
			END AS spending_segment,
			COUNT(*) AS customer_count,
			SUM(total_spent) AS total_revenue,
			AVG(total_spent) AS avg_transaction_value
		FROM customer_totals
		GROUP BY spending_segment`},
	{"query4_category_performance", `
		SELECT dp.category,
		       SUM(fs.line_total) AS total_revenue,
		       SUM(fs.profit) AS total_profit,
		       (SUM(fs.profit)/SUM(fs.line_total))*100 AS profit_margin_pct,
		       SUM(fs.quantity) AS units_sold
		FROM warehouse.fact_sales fs
		JOIN warehouse.dim_products dp ON fs.product_key = dp.product_key
		GROUP BY dp.category`},
	{"query5_payment_distribution", `
		SELECT pm.payment_method_name,
		       COUNT(*) AS transaction_count,
		       SUM(fs.line_total) AS total_revenue,
		       COUNT(*) * 100.0 / SUM(COUNT(*)) OVER () AS pct_of_transactions,
		       SUM(fs.line_total) * 100.0 / SUM(SUM(fs.line_total)) OVER () AS pct_of_revenue
		FROM warehouse.fact_sales fs
		JOIN warehouse.dim_payment_method pm
		     ON fs.payment_method_key = pm.payment_method_key
		GROUP BY pm.payment_method_name`},
}

// QueryResult records one analytics query's outcome in the summary.
type QueryResult struct {
	Rows            int     `json:"rows"`
	Columns         int     `json:"columns"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
}

// AnalyticsSummary is one analytics run's output.
type AnalyticsSummary struct {
	GenerationTimestamp       string                 `json:"generation_timestamp"`
	QueriesExecuted           int                    `json:"queries_executed"`
	QueryResults              map[string]QueryResult `json:"query_results"`
	TotalExecutionTimeSeconds float64                `json:"total_execution_time_seconds"`
}

// Analytics runs the extract queries and writes their results as CSVs.
type Analytics struct {
	store *store.Store
	log   *zap.Logger
}

// NewAnalytics creates an analytics extractor over the given store.
func NewAnalytics(st *store.Store, log *zap.Logger) *Analytics {
	return &Analytics{store: st, log: log}
}

// Generate runs every analytics query against the warehouse and writes one
// CSV per query plus a summary under outputDir.
func (a *Analytics) Generate(ctx context.Context, outputDir string) (*AnalyticsSummary, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeFile, "failed to create analytics directory")
	}

	summary := &AnalyticsSummary{
		GenerationTimestamp: time.Now().UTC().Format(time.RFC3339),
		QueriesExecuted:     len(analyticsQueries),
		QueryResults:        make(map[string]QueryResult, len(analyticsQueries)),
	}

	start := time.Now()
	for _, q := range analyticsQueries {
		queryStart := time.Now()
		rowCount, colCount, err := a.runQueryToCSV(ctx, q.sql, filepath.Join(outputDir, q.name+".csv"))
		if err != nil {
			return nil, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "analytics query failed").
				WithDetail("query", q.name)
		}

		summary.QueryResults[q.name] = QueryResult{
			Rows:            rowCount,
			Columns:         colCount,
			ExecutionTimeMS: Round2(float64(time.Since(queryStart).Microseconds()) / 1000),
		}
		a.log.Info("analytics query completed",
			zap.String("query", q.name),
			zap.Int("rows", rowCount))
	}
	summary.TotalExecutionTimeSeconds = Round2(time.Since(start).Seconds())

	if err := jsonio.WriteFile(filepath.Join(outputDir, AnalyticsSummaryFileName), summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// runQueryToCSV streams a query result into a CSV file with a header row.
func (a *Analytics) runQueryToCSV(ctx context.Context, query, path string) (int, int, error) {
	rows, err := a.store.DB().QueryContext(ctx, query)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, 0, err
	}

	f, err := os.Create(path) //nolint:gosec // G304: path is built from a fixed query name
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return 0, 0, err
	}

	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	record := make([]string, len(columns))
	rowCount := 0
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return 0, 0, err
		}
		for i, v := range values {
			record[i] = formatCSVValue(v)
		}
		if err := w.Write(record); err != nil {
			return 0, 0, err
		}
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, 0, err
	}
	return rowCount, len(columns), nil
}

// formatCSVValue renders a scanned database value for CSV output.
func formatCSVValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02")
	case float64:
		return fmt.Sprintf("%.2f", val)
	case sql.RawBytes:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
