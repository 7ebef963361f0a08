package transform

import (
	"database/sql"
	"math"
	"strings"
	"time"
	"unicode"
)

// Rejection reasons recorded in the transformation summary.
const (
	ReasonNullEmail          = "null_email"
	ReasonInvalidPriceOrCost = "invalid_price_or_cost"
)

// Price category bands for product enrichment.
const (
	CategoryBudget   = "Budget"
	CategoryMidRange = "Mid-range"
	CategoryPremium  = "Premium"
)

// StagingCustomer is a raw customer row as loaded into staging.
type StagingCustomer struct {
	CustomerID       string
	FirstName        sql.NullString
	LastName         sql.NullString
	Email            sql.NullString
	Phone            sql.NullString
	RegistrationDate time.Time
	City             sql.NullString
	State            sql.NullString
	Country          sql.NullString
	AgeGroup         sql.NullString
}

// Customer is a cleaned row ready for production.customers.
type Customer struct {
	CustomerID       string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	RegistrationDate time.Time
	City             string
	State            string
	Country          string
	AgeGroup         string
}

// CleanCustomer applies the customer cleaning rules: trim and title-case
// names, lowercase and trim email, strip non-digits from phone, trim the
// remaining text fields. Rows without an email are rejected with
// ReasonNullEmail.
func CleanCustomer(row StagingCustomer) (Customer, string, bool) {
	email := strings.ToLower(strings.TrimSpace(row.Email.String))
	if !row.Email.Valid || email == "" {
		return Customer{}, ReasonNullEmail, false
	}

	return Customer{
		CustomerID:       row.CustomerID,
		FirstName:        TitleCase(strings.TrimSpace(row.FirstName.String)),
		LastName:         TitleCase(strings.TrimSpace(row.LastName.String)),
		Email:            email,
		Phone:            DigitsOnly(row.Phone.String),
		RegistrationDate: row.RegistrationDate,
		City:             strings.TrimSpace(row.City.String),
		State:            strings.TrimSpace(row.State.String),
		Country:          strings.TrimSpace(row.Country.String),
		AgeGroup:         strings.TrimSpace(row.AgeGroup.String),
	}, "", true
}

// StagingProduct is a raw product row as loaded into staging.
type StagingProduct struct {
	ProductID     string
	ProductName   sql.NullString
	Category      sql.NullString
	SubCategory   sql.NullString
	Price         sql.NullFloat64
	Cost          sql.NullFloat64
	Brand         sql.NullString
	StockQuantity int64
	SupplierID    sql.NullString
}

// Product is a cleaned, enriched row ready for production.products.
type Product struct {
	ProductID     string
	ProductName   string
	Category      string
	SubCategory   string
	Price         float64
	Cost          float64
	Brand         string
	StockQuantity int64
	SupplierID    string
	ProfitMargin  float64
	PriceCategory string
}

// CleanProduct applies the product rules: trim/title-case text, round price
// and cost to two decimals, enrich profit margin and price category. Rows
// violating price > 0 && cost < price are rejected with
// ReasonInvalidPriceOrCost. A null price or cost fails the comparison and
// is rejected too.
func CleanProduct(row StagingProduct) (Product, string, bool) {
	price := Round2(row.Price.Float64)
	cost := Round2(row.Cost.Float64)
	if !row.Price.Valid || !row.Cost.Valid || price <= 0 || cost >= price {
		return Product{}, ReasonInvalidPriceOrCost, false
	}

	return Product{
		ProductID:     row.ProductID,
		ProductName:   TitleCase(strings.TrimSpace(row.ProductName.String)),
		Category:      strings.TrimSpace(row.Category.String),
		SubCategory:   strings.TrimSpace(row.SubCategory.String),
		Price:         price,
		Cost:          cost,
		Brand:         strings.TrimSpace(row.Brand.String),
		StockQuantity: row.StockQuantity,
		SupplierID:    strings.TrimSpace(row.SupplierID.String),
		ProfitMargin:  ProfitMargin(price, cost),
		PriceCategory: PriceCategory(price),
	}, "", true
}

// ProfitMargin returns (price-cost)/price*100 rounded to two decimals.
func ProfitMargin(price, cost float64) float64 {
	return Round2((price - cost) / price * 100)
}

// PriceCategory bands a price into Budget (<50), Mid-range (<200), or
// Premium.
func PriceCategory(price float64) string {
	switch {
	case price < 50:
		return CategoryBudget
	case price < 200:
		return CategoryMidRange
	default:
		return CategoryPremium
	}
}

// LineTotal recomputes an item's total from its parts:
// quantity * unit_price * (1 - discount/100), rounded to two decimals.
func LineTotal(quantity int64, unitPrice, discountPct float64) float64 {
	return Round2(float64(quantity) * unitPrice * (1 - discountPct/100))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TitleCase uppercases the first letter of every word and lowercases the
// rest, treating any non-letter, non-digit rune as a word boundary. Matches
// PostgreSQL INITCAP.
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevBoundary := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if prevBoundary {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			prevBoundary = false
		} else {
			b.WriteRune(r)
			prevBoundary = true
		}
	}
	return b.String()
}

// DigitsOnly strips every non-digit character, standardizing phone numbers.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
