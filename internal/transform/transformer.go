// Package transform moves staging rows into production inside one explicit
// transaction, then loads the warehouse dimensional tables and extracts the
// analytics views.
//
// # Overview
//
// The staging-to-production transformer applies cleaning, enrichment, and
// business-rule filtering with mixed load policies:
//   - customers, products: full reload (truncate and reinsert), since this
//     reference data is regenerated wholesale each run
//   - transactions, transaction_items: incremental anti-join on primary key,
//     so the append-only event data stays idempotent on rerun
//
// Referential constraints are enforced by filtering rows, never by
// rejecting a whole batch. Any failure rolls back the entire invocation;
// no partial commit ever persists.
package transform

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/conveyorerrors"
	"github.com/vireodata/conveyor/pkg/jsonio"
	"github.com/vireodata/conveyor/pkg/metrics"
)

// SummaryFileName is the transformation summary written under the processed dir.
const SummaryFileName = "transformation_summary.json"

// IncrementalInput marks entities loaded by anti-join rather than full reload.
const IncrementalInput = "incremental"

// EntityCounts records one entity's movement through the transformer.
// Input is an int64 for full-reload entities and "incremental" for
// anti-join entities.
type EntityCounts struct {
	Input           interface{}      `json:"input"`
	Output          int64            `json:"output"`
	Filtered        int64            `json:"filtered"`
	RejectedReasons map[string]int64 `json:"rejected_reasons"`
}

// PostTransformQuality carries the spot checks run inside the transform
// transaction after all sections complete.
type PostTransformQuality struct {
	NullViolations       int64 `json:"null_violations"`
	ConstraintViolations int64 `json:"constraint_violations"`
}

// Summary is one transformer invocation's output. Entities are independent
// and order-insensitive.
type Summary struct {
	TransformationTimestamp  string                  `json:"transformation_timestamp"`
	RecordsProcessed         map[string]EntityCounts `json:"records_processed"`
	TransformationsApplied   []string                `json:"transformations_applied"`
	DataQualityPostTransform PostTransformQuality    `json:"data_quality_post_transform"`
}

// transformationsApplied names the cleaning and enrichment rules in effect.
var transformationsApplied = []string{
	"trim_text_fields",
	"lowercase_emails",
	"phone_standardization",
	"price_precision_standardization",
	"profit_margin_enrichment",
	"price_category_enrichment",
	"business_rule_filtering",
}

// Transformer moves staging rows into production.
type Transformer struct {
	store *store.Store
	log   *zap.Logger
}

// NewTransformer creates a transformer over the given store.
func NewTransformer(st *store.Store, log *zap.Logger) *Transformer {
	return &Transformer{store: st, log: log}
}

// Transform executes the full staging-to-production movement as one atomic
// unit. On any section failure every change made so far is rolled back and
// the error propagates to the caller. Rerunning with unchanged staging
// content yields the same production state.
func (t *Transformer) Transform(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		TransformationTimestamp: time.Now().UTC().Format(time.RFC3339),
		RecordsProcessed:        make(map[string]EntityCounts, 4),
		TransformationsApplied:  transformationsApplied,
	}

	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := t.transformCustomers(ctx, tx, summary); err != nil {
			return err
		}
		if err := t.transformProducts(ctx, tx, summary); err != nil {
			return err
		}
		if err := t.transformTransactions(ctx, tx, summary); err != nil {
			return err
		}
		if err := t.transformItems(ctx, tx, summary); err != nil {
			return err
		}
		return t.postTransformChecks(ctx, tx, summary)
	})
	if err != nil {
		return nil, err
	}

	t.log.Info("staging to production transformation completed",
		zap.Int("entities", len(summary.RecordsProcessed)))

	return summary, nil
}

// transformCustomers performs the full reload of production.customers with
// Go-side cleaning and null-email filtering.
func (t *Transformer) transformCustomers(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	input, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM staging.customers")
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT customer_id, first_name, last_name, email, phone,
		       registration_date, city, state, country, age_group
		FROM staging.customers`)
	if err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to read staging customers")
	}

	var cleaned []Customer
	rejected := map[string]int64{}
	for rows.Next() {
		var row StagingCustomer
		if err := rows.Scan(&row.CustomerID, &row.FirstName, &row.LastName, &row.Email,
			&row.Phone, &row.RegistrationDate, &row.City, &row.State, &row.Country,
			&row.AgeGroup); err != nil {
			rows.Close()
			return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeData, "failed to scan staging customer")
		}

		customer, reason, ok := CleanCustomer(row)
		if !ok {
			rejected[reason]++
			continue
		}
		cleaned = append(cleaned, customer)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to iterate staging customers")
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "TRUNCATE production.customers CASCADE"); err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to truncate production customers")
	}

	for _, c := range cleaned {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production.customers (
				customer_id, first_name, last_name, email, phone,
				registration_date, city, state, country, age_group
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone,
			c.RegistrationDate, c.City, c.State, c.Country, c.AgeGroup); err != nil {
			return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to insert production customer").
				WithDetail("customer_id", c.CustomerID)
		}
	}

	output, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM production.customers")
	if err != nil {
		return err
	}

	summary.RecordsProcessed["customers"] = EntityCounts{
		Input:           input,
		Output:          output,
		Filtered:        input - output,
		RejectedReasons: rejected,
	}
	metrics.RecordsProcessed.WithLabelValues("customers", "loaded").Add(float64(output))
	metrics.RecordsProcessed.WithLabelValues("customers", "filtered").Add(float64(input - output))

	t.log.Info("customers transformed",
		zap.Int64("input", input),
		zap.Int64("output", output),
		zap.Int64("filtered", input-output))
	return nil
}

// transformProducts performs the full reload of production.products with
// cleaning, enrichment, and price/cost filtering.
func (t *Transformer) transformProducts(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	input, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM staging.products")
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, product_name, category, sub_category,
		       price, cost, brand, stock_quantity, supplier_id
		FROM staging.products`)
	if err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to read staging products")
	}

	var cleaned []Product
	rejected := map[string]int64{}
	for rows.Next() {
		var row StagingProduct
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.Category,
			&row.SubCategory, &row.Price, &row.Cost, &row.Brand,
			&row.StockQuantity, &row.SupplierID); err != nil {
			rows.Close()
			return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeData, "failed to scan staging product")
		}

		product, reason, ok := CleanProduct(row)
		if !ok {
			rejected[reason]++
			continue
		}
		cleaned = append(cleaned, product)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to iterate staging products")
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "TRUNCATE production.products CASCADE"); err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to truncate production products")
	}

	for _, p := range cleaned {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production.products (
				product_id, product_name, category, sub_category,
				price, cost, brand, stock_quantity, supplier_id,
				profit_margin, price_category
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			p.ProductID, p.ProductName, p.Category, p.SubCategory,
			p.Price, p.Cost, p.Brand, p.StockQuantity, p.SupplierID,
			p.ProfitMargin, p.PriceCategory); err != nil {
			return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to insert production product").
				WithDetail("product_id", p.ProductID)
		}
	}

	output, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM production.products")
	if err != nil {
		return err
	}

	summary.RecordsProcessed["products"] = EntityCounts{
		Input:           input,
		Output:          output,
		Filtered:        input - output,
		RejectedReasons: rejected,
	}
	metrics.RecordsProcessed.WithLabelValues("products", "loaded").Add(float64(output))
	metrics.RecordsProcessed.WithLabelValues("products", "filtered").Add(float64(input - output))

	t.log.Info("products transformed",
		zap.Int64("input", input),
		zap.Int64("output", output),
		zap.Int64("filtered", input-output))
	return nil
}

// transformTransactions performs the incremental anti-join insert into
// production.transactions. Prior production rows are never reprocessed.
func (t *Transformer) transformTransactions(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO production.transactions (
			transaction_id, customer_id,
			transaction_date, transaction_time,
			payment_method, shipping_address, total_amount
		)
		SELECT
			s.transaction_id,
			s.customer_id,
			s.transaction_date,
			s.transaction_time,
			s.payment_method,
			s.shipping_address,
			s.total_amount
		FROM staging.transactions s
		LEFT JOIN production.transactions p
		ON s.transaction_id = p.transaction_id
		WHERE p.transaction_id IS NULL
		  AND s.total_amount > 0`)
	if err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to insert production transactions")
	}

	inserted, _ := result.RowsAffected()
	output, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM production.transactions")
	if err != nil {
		return err
	}

	summary.RecordsProcessed["transactions"] = EntityCounts{
		Input:           IncrementalInput,
		Output:          output,
		Filtered:        0,
		RejectedReasons: map[string]int64{},
	}
	metrics.RecordsProcessed.WithLabelValues("transactions", "inserted").Add(float64(inserted))

	t.log.Info("transactions transformed",
		zap.Int64("inserted", inserted),
		zap.Int64("total", output))
	return nil
}

// transformItems performs the incremental anti-join insert into
// production.transaction_items with line totals recomputed rather than
// copied.
func (t *Transformer) transformItems(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO production.transaction_items (
			item_id, transaction_id, product_id,
			quantity, unit_price, discount_percentage, line_total
		)
		SELECT
			s.item_id,
			s.transaction_id,
			s.product_id,
			s.quantity,
			ROUND(s.unit_price::numeric, 2),
			s.discount_percentage,
			ROUND(
				(s.quantity * s.unit_price * (1 - s.discount_percentage / 100))::numeric,
				2
			)
		FROM staging.transaction_items s
		LEFT JOIN production.transaction_items p
		ON s.item_id = p.item_id
		WHERE p.item_id IS NULL
		  AND s.quantity > 0`)
	if err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to insert production transaction items")
	}

	inserted, _ := result.RowsAffected()
	output, err := store.Scalar(ctx, tx, "SELECT COUNT(*) FROM production.transaction_items")
	if err != nil {
		return err
	}

	summary.RecordsProcessed["transaction_items"] = EntityCounts{
		Input:           IncrementalInput,
		Output:          output,
		Filtered:        0,
		RejectedReasons: map[string]int64{},
	}
	metrics.RecordsProcessed.WithLabelValues("transaction_items", "inserted").Add(float64(inserted))

	t.log.Info("transaction items transformed",
		zap.Int64("inserted", inserted),
		zap.Int64("total", output))
	return nil
}

// postTransformChecks spot-checks the production schema inside the same
// transaction: null emails and orphaned items that slipped past filtering.
func (t *Transformer) postTransformChecks(ctx context.Context, tx *sql.Tx, summary *Summary) error {
	nulls, err := store.Scalar(ctx, tx,
		"SELECT COUNT(*) FROM production.customers WHERE email IS NULL")
	if err != nil {
		return err
	}

	orphans, err := store.Scalar(ctx, tx, `
		SELECT COUNT(*) FROM production.transaction_items ti
		LEFT JOIN production.transactions t ON ti.transaction_id = t.transaction_id
		WHERE t.transaction_id IS NULL`)
	if err != nil {
		return err
	}

	summary.DataQualityPostTransform = PostTransformQuality{
		NullViolations:       nulls,
		ConstraintViolations: orphans,
	}
	return nil
}

// WriteSummary persists the transformation summary under processedDir,
// overwriting the previous run's summary.
func (t *Transformer) WriteSummary(summary *Summary, processedDir string) error {
	return jsonio.WriteFile(filepath.Join(processedDir, SummaryFileName), summary)
}
