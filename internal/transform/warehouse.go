package transform

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/conveyorerrors"
)

// WarehouseLoader rebuilds the warehouse dimensional tables from production.
// Dimensions are truncate-and-reload; fact_sales is rebuilt from the
// current production transactions and items so the analytics queries always
// see a consistent star schema.
type WarehouseLoader struct {
	store *store.Store
	log   *zap.Logger
}

// NewWarehouseLoader creates a loader over the given store.
func NewWarehouseLoader(st *store.Store, log *zap.Logger) *WarehouseLoader {
	return &WarehouseLoader{store: st, log: log}
}

// warehouseStatements rebuild the star schema in dependency order. All run
// inside one transaction so a partial warehouse never becomes visible.
var warehouseStatements = []struct {
	name string
	sql  string
}{
	{"dim_customers", `
		TRUNCATE warehouse.dim_customers RESTART IDENTITY CASCADE;

		INSERT INTO warehouse.dim_customers (
			customer_id, full_name, email, city, state, country,
			age_group, customer_segment, registration_date,
			effective_date, end_date, is_current
		)
		SELECT
			customer_id,
			first_name || ' ' || last_name,
			email,
			city,
			state,
			country,
			age_group,
			'Regular',
			registration_date,
			CURRENT_DATE,
			NULL,
			TRUE
		FROM production.customers`},
	{"dim_products", `
		TRUNCATE warehouse.dim_products RESTART IDENTITY CASCADE;

		INSERT INTO warehouse.dim_products (
			product_id, product_name, category, sub_category, brand,
			price_range, effective_date, end_date, is_current
		)
		SELECT
			product_id,
			product_name,
			category,
			sub_category,
			brand,
			CASE
				WHEN price < 50 THEN 'Budget'
				WHEN price < 200 THEN 'Mid-range'
				ELSE 'Premium'
			END,
			CURRENT_DATE,
			NULL,
			TRUE
		FROM production.products`},
	{"dim_date", `
		TRUNCATE warehouse.dim_date CASCADE;

		INSERT INTO warehouse.dim_date (date_key, full_date, year, quarter, month, day, day_of_week)
		SELECT DISTINCT
			TO_CHAR(transaction_date, 'YYYYMMDD')::INT,
			transaction_date,
			EXTRACT(YEAR FROM transaction_date)::INT,
			EXTRACT(QUARTER FROM transaction_date)::INT,
			EXTRACT(MONTH FROM transaction_date)::INT,
			EXTRACT(DAY FROM transaction_date)::INT,
			EXTRACT(DOW FROM transaction_date)::INT
		FROM production.transactions`},
	{"dim_payment_method", `
		TRUNCATE warehouse.dim_payment_method RESTART IDENTITY CASCADE;

		INSERT INTO warehouse.dim_payment_method (payment_method_name)
		SELECT DISTINCT payment_method
		FROM production.transactions
		ORDER BY payment_method`},
	{"fact_sales", `
		TRUNCATE warehouse.fact_sales;

		INSERT INTO warehouse.fact_sales (
			transaction_id, customer_key, product_key, date_key,
			payment_method_key, quantity, unit_price,
			discount_percentage, line_total, profit
		)
		SELECT
			t.transaction_id,
			dc.customer_key,
			dp.product_key,
			TO_CHAR(t.transaction_date, 'YYYYMMDD')::INT,
			pm.payment_method_key,
			ti.quantity,
			ti.unit_price,
			ti.discount_percentage,
			ti.line_total,
			ti.line_total - (ti.quantity * p.cost)
		FROM production.transaction_items ti
		JOIN production.transactions t ON ti.transaction_id = t.transaction_id
		JOIN production.products p ON ti.product_id = p.product_id
		JOIN warehouse.dim_customers dc ON t.customer_id = dc.customer_id
		JOIN warehouse.dim_products dp ON ti.product_id = dp.product_id
		JOIN warehouse.dim_payment_method pm ON t.payment_method = pm.payment_method_name`},
}

// Load rebuilds every warehouse table inside one transaction.
func (w *WarehouseLoader) Load(ctx context.Context) error {
	err := w.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range warehouseStatements {
			if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
				return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "warehouse load failed").
					WithDetail("table", stmt.name)
			}
			w.log.Info("warehouse table loaded", zap.String("table", stmt.name))
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.log.Info("warehouse load completed", zap.Int("tables", len(warehouseStatements)))
	return nil
}
