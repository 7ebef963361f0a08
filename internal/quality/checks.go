package quality

import (
	"context"

	"github.com/vireodata/conveyor/internal/store"
	"github.com/vireodata/conveyor/pkg/jsonio"
)

// check is one entry in the fixed validation battery. Each check runs its
// own queries against staging and reports a violation count; the weight is
// the per-violation score deduction. Check order and weights are a fixed
// policy, deterministic given the same staging contents.
type check struct {
	name   string
	weight int
	run    func(ctx context.Context, q store.DBTX) (int64, map[string]interface{}, error)
}

// checks is the battery in policy order: completeness, uniqueness,
// referential integrity, consistency, business rules.
var checks = []check{
	{name: "null_checks", weight: 5, run: runNullChecks},
	{name: "duplicate_checks", weight: 5, run: runDuplicateChecks},
	{name: "referential_integrity", weight: 10, run: runReferentialIntegrity},
	{name: "data_consistency", weight: 3, run: runDataConsistency},
	{name: "business_rules", weight: 2, run: runBusinessRules},
}

// runNullChecks counts nulls in the columns the transform depends on.
func runNullChecks(ctx context.Context, q store.DBTX) (int64, map[string]interface{}, error) {
	columns := []struct {
		label string
		query string
	}{
		{"customers.email", "SELECT COUNT(*) FROM staging.customers WHERE email IS NULL"},
		{"products.price", "SELECT COUNT(*) FROM staging.products WHERE price IS NULL"},
		{"transactions.customer_id", "SELECT COUNT(*) FROM staging.transactions WHERE customer_id IS NULL"},
	}

	details := make(map[string]int64, len(columns))
	var total int64
	for _, c := range columns {
		n, err := store.Scalar(ctx, q, c.query)
		if err != nil {
			return 0, nil, err
		}
		details[c.label] = n
		total += n
	}

	return total, map[string]interface{}{
		"null_violations": total,
		"details":         details,
	}, nil
}

// runDuplicateChecks counts customer email values appearing more than once.
func runDuplicateChecks(ctx context.Context, q store.DBTX) (int64, map[string]interface{}, error) {
	dupes, err := store.Scalar(ctx, q, `
		SELECT COUNT(*) FROM (
			SELECT email FROM staging.customers
			GROUP BY email HAVING COUNT(*) > 1
		) x`)
	if err != nil {
		return 0, nil, err
	}

	return dupes, map[string]interface{}{"duplicates_found": dupes}, nil
}

// runReferentialIntegrity counts orphaned transactions and items.
func runReferentialIntegrity(ctx context.Context, q store.DBTX) (int64, map[string]interface{}, error) {
	queries := []string{
		`SELECT COUNT(*) FROM staging.transactions t
		 LEFT JOIN staging.customers c ON t.customer_id = c.customer_id
		 WHERE c.customer_id IS NULL`,
		`SELECT COUNT(*) FROM staging.transaction_items ti
		 LEFT JOIN staging.transactions t ON ti.transaction_id = t.transaction_id
		 WHERE t.transaction_id IS NULL`,
		`SELECT COUNT(*) FROM staging.transaction_items ti
		 LEFT JOIN staging.products p ON ti.product_id = p.product_id
		 WHERE p.product_id IS NULL`,
	}

	var orphans int64
	for _, query := range queries {
		n, err := store.Scalar(ctx, q, query)
		if err != nil {
			return 0, nil, err
		}
		orphans += n
	}

	return orphans, map[string]interface{}{"orphan_records": orphans}, nil
}

// runDataConsistency recomputes item line totals and transaction totals and
// counts rows drifting beyond the 0.01 tolerance.
func runDataConsistency(ctx context.Context, q store.DBTX) (int64, map[string]interface{}, error) {
	lineMismatch, err := store.Scalar(ctx, q, `
		SELECT COUNT(*) FROM staging.transaction_items
		WHERE ABS(
			line_total - (quantity * unit_price * (1 - discount_percentage / 100))
		) > 0.01`)
	if err != nil {
		return 0, nil, err
	}

	totalMismatch, err := store.Scalar(ctx, q, `
		SELECT COUNT(*) FROM (
			SELECT t.transaction_id, t.total_amount, SUM(ti.line_total) calc
			FROM staging.transactions t
			JOIN staging.transaction_items ti ON t.transaction_id = ti.transaction_id
			GROUP BY t.transaction_id, t.total_amount
		) x
		WHERE ABS(total_amount - calc) > 0.01`)
	if err != nil {
		return 0, nil, err
	}

	return lineMismatch + totalMismatch, map[string]interface{}{
		"mismatches": lineMismatch + totalMismatch,
	}, nil
}

// runBusinessRules counts products priced below cost and future-dated
// transactions.
func runBusinessRules(ctx context.Context, q store.DBTX) (int64, map[string]interface{}, error) {
	costPrice, err := store.Scalar(ctx, q,
		"SELECT COUNT(*) FROM staging.products WHERE cost >= price")
	if err != nil {
		return 0, nil, err
	}

	futureTxn, err := store.Scalar(ctx, q,
		"SELECT COUNT(*) FROM staging.transactions WHERE transaction_date > CURRENT_DATE")
	if err != nil {
		return 0, nil, err
	}

	return costPrice + futureTxn, map[string]interface{}{
		"violations": costPrice + futureTxn,
	}, nil
}

// deduction pairs a check's weight with its observed violation count.
type deduction struct {
	weight int
	count  int64
}

// computeScore starts at 100 and subtracts weight*count per check, floored
// at 0.
func computeScore(deductions []deduction) int {
	score := int64(100)
	for _, d := range deductions {
		score -= int64(d.weight) * d.count
	}
	if score < 0 {
		score = 0
	}
	return int(score)
}

// gradeFor bands the score: A >=90, B >=80, C >=70, else D.
func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	default:
		return "D"
	}
}

// CheckResult is one check's entry in the quality report. The metric fields
// are flattened beside status in the JSON output.
type CheckResult struct {
	Status  string
	Metrics map[string]interface{}
}

// MarshalJSON flattens Status and Metrics into one object.
func (c CheckResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(c.Metrics)+1)
	out["status"] = c.Status
	for k, v := range c.Metrics {
		out[k] = v
	}
	return jsonio.Marshal(out)
}
