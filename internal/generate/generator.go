// Package generate produces the synthetic raw extracts the pipeline
// ingests: customers, products, transactions and transaction items as
// CSVs, plus a metadata file with record counts and a referential
// self-check. Generation is pure file output; the database is not touched.
package generate

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/vireodata/conveyor/internal/transform"
	"github.com/vireodata/conveyor/pkg/config"
	"github.com/vireodata/conveyor/pkg/conveyorerrors"
	"github.com/vireodata/conveyor/pkg/jsonio"
	"github.com/vireodata/conveyor/pkg/metrics"
)

// MetadataFileName is the generation metadata written next to the CSVs.
const MetadataFileName = "generation_metadata.json"

var ageGroups = []string{"18-25", "26-35", "36-45", "46-60", "60+"}

var paymentMethods = []string{
	"Credit Card", "Debit Card", "UPI", "Cash on Delivery", "Net Banking",
}

// categoryPriceBands gives each product category its price range.
var categoryPriceBands = []struct {
	name     string
	min, max float64
}{
	{"Electronics", 5000, 50000},
	{"Clothing", 500, 5000},
	{"Home & Kitchen", 800, 15000},
	{"Books", 200, 2000},
	{"Sports", 600, 12000},
	{"Beauty", 300, 8000},
}

// Customer is one generated customer row.
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

// Product is one generated product row.
type Product struct {
	ProductID     string
	ProductName   string
	Category      string
	SubCategory   string
	Price         float64
	Cost          float64
	Brand         string
	StockQuantity int
	SupplierID    string
}

// Transaction is one generated transaction header.
type Transaction struct {
	TransactionID   string
	CustomerID      string
	TransactionDate time.Time
	TransactionTime string
	PaymentMethod   string
	ShippingAddress string
	TotalAmount     float64
}

// Item is one generated transaction line.
type Item struct {
	ItemID             string
	TransactionID      string
	ProductID          string
	Quantity           int
	UnitPrice          float64
	DiscountPercentage float64
	LineTotal          float64
}

// IntegrityCheck is the referential self-check over the generated data.
type IntegrityCheck struct {
	OrphanRecords        int `json:"orphan_records"`
	ConstraintViolations int `json:"constraint_violations"`
	DataQualityScore     int `json:"data_quality_score"`
}

// Metadata is one generation run's output.
type Metadata struct {
	GenerationTimestamp string         `json:"generation_timestamp"`
	RecordCounts        map[string]int `json:"record_counts"`
	DataQuality         IntegrityCheck `json:"data_quality"`
}

// Generator produces the raw extracts.
type Generator struct {
	cfg  config.DataGenerationConfig
	fake *gofakeit.Faker
	rng  *rand.Rand
	log  *zap.Logger
}

// NewGenerator creates a generator. A non-zero seed makes the output
// reproducible; zero seeds from the current time.
func NewGenerator(cfg config.DataGenerationConfig, seed int64, log *zap.Logger) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:  cfg,
		fake: gofakeit.New(uint64(seed)),
		rng:  rand.New(rand.NewSource(seed)),
		log:  log,
	}
}

// Generate writes the four CSVs plus generation metadata under rawDir.
func (g *Generator) Generate(rawDir string) (*Metadata, error) {
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeFile, "failed to create raw data directory")
	}

	customers := g.generateCustomers()
	products := g.generateProducts()
	transactions, items := g.generateTransactions(customers, products)

	if err := writeCustomersCSV(filepath.Join(rawDir, "customers.csv"), customers); err != nil {
		return nil, err
	}
	if err := writeProductsCSV(filepath.Join(rawDir, "products.csv"), products); err != nil {
		return nil, err
	}
	if err := writeTransactionsCSV(filepath.Join(rawDir, "transactions.csv"), transactions); err != nil {
		return nil, err
	}
	if err := writeItemsCSV(filepath.Join(rawDir, "transaction_items.csv"), items); err != nil {
		return nil, err
	}

	meta := &Metadata{
		GenerationTimestamp: time.Now().UTC().Format(time.RFC3339),
		RecordCounts: map[string]int{
			"customers":         len(customers),
			"products":          len(products),
			"transactions":      len(transactions),
			"transaction_items": len(items),
		},
		DataQuality: CheckIntegrity(customers, products, transactions, items),
	}
	if err := jsonio.WriteFile(filepath.Join(rawDir, MetadataFileName), meta); err != nil {
		return nil, err
	}

	for entity, count := range meta.RecordCounts {
		metrics.RecordsProcessed.WithLabelValues(entity, "generated").Add(float64(count))
	}
	g.log.Info("data generation completed",
		zap.Int("customers", len(customers)),
		zap.Int("products", len(products)),
		zap.Int("transactions", len(transactions)),
		zap.Int("transaction_items", len(items)))

	return meta, nil
}

func (g *Generator) generateCustomers() []Customer {
	count := g.cfg.Customers.RecordCount
	customers := make([]Customer, 0, count)
	seenEmails := make(map[string]struct{}, count)

	for i := 1; i <= count; i++ {
		email := strings.ToLower(g.fake.Email())
		if _, dup := seenEmails[email]; dup {
			email = fmt.Sprintf("%d.%s", i, email)
		}
		seenEmails[email] = struct{}{}

		customers = append(customers, Customer{
			CustomerID:       fmt.Sprintf("CUST%04d", i),
			FirstName:        g.fake.FirstName(),
			LastName:         g.fake.LastName(),
			Email:            email,
			Phone:            g.fake.Phone(),
			RegistrationDate: g.fake.DateRange(time.Now().AddDate(-3, 0, 0), time.Now()),
			City:             g.fake.City(),
			State:            g.fake.State(),
			Country:          g.fake.Country(),
			AgeGroup:         ageGroups[g.rng.Intn(len(ageGroups))],
		})
	}
	return customers
}

func (g *Generator) generateProducts() []Product {
	count := g.cfg.Products.RecordCount
	products := make([]Product, 0, count)

	for i := 1; i <= count; i++ {
		band := categoryPriceBands[g.rng.Intn(len(categoryPriceBands))]
		price := transform.Round2(band.min + g.rng.Float64()*(band.max-band.min))
		cost := transform.Round2(price * (0.60 + g.rng.Float64()*0.25))

		products = append(products, Product{
			ProductID:     fmt.Sprintf("PROD%04d", i),
			ProductName:   g.fake.ProductName(),
			Category:      band.name,
			SubCategory:   g.fake.Noun(),
			Price:         price,
			Cost:          cost,
			Brand:         g.fake.Company(),
			StockQuantity: g.rng.Intn(491) + 10,
			SupplierID:    fmt.Sprintf("SUP%03d", g.rng.Intn(50)+1),
		})
	}
	return products
}

func (g *Generator) generateTransactions(customers []Customer, products []Product) ([]Transaction, []Item) {
	count := g.cfg.Orders.RecordCount
	transactions := make([]Transaction, 0, count)
	items := make([]Item, 0, count*3)

	yearStart := time.Date(time.Now().Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	itemCounter := 1

	for i := 1; i <= count; i++ {
		txnID := fmt.Sprintf("TXN%05d", i)
		txnTotal := 0.0

		lines := g.rng.Intn(5) + 1
		for l := 0; l < lines; l++ {
			product := products[g.rng.Intn(len(products))]
			quantity := g.rng.Intn(5) + 1
			discount := float64(g.rng.Intn(4) * 5)
			lineTotal := transform.LineTotal(int64(quantity), product.Price, discount)
			txnTotal += lineTotal

			items = append(items, Item{
				ItemID:             fmt.Sprintf("ITEM%05d", itemCounter),
				TransactionID:      txnID,
				ProductID:          product.ProductID,
				Quantity:           quantity,
				UnitPrice:          product.Price,
				DiscountPercentage: discount,
				LineTotal:          lineTotal,
			})
			itemCounter++
		}

		transactions = append(transactions, Transaction{
			TransactionID:   txnID,
			CustomerID:      customers[g.rng.Intn(len(customers))].CustomerID,
			TransactionDate: g.fake.DateRange(yearStart, time.Now()),
			TransactionTime: fmt.Sprintf("%02d:%02d:%02d", g.rng.Intn(24), g.rng.Intn(60), g.rng.Intn(60)),
			PaymentMethod:   paymentMethods[g.rng.Intn(len(paymentMethods))],
			ShippingAddress: strings.ReplaceAll(g.fake.Address().Address, "\n", ", "),
			TotalAmount:     transform.Round2(txnTotal),
		})
	}
	return transactions, items
}

// CheckIntegrity verifies that every transaction references a generated
// customer, and every item a generated product and transaction. Each broken
// relation costs 20 points.
func CheckIntegrity(customers []Customer, products []Product, transactions []Transaction, items []Item) IntegrityCheck {
	customerIDs := make(map[string]struct{}, len(customers))
	for _, c := range customers {
		customerIDs[c.CustomerID] = struct{}{}
	}
	productIDs := make(map[string]struct{}, len(products))
	for _, p := range products {
		productIDs[p.ProductID] = struct{}{}
	}
	txnIDs := make(map[string]struct{}, len(transactions))
	for _, t := range transactions {
		txnIDs[t.TransactionID] = struct{}{}
	}

	issues := 0
	for _, t := range transactions {
		if _, ok := customerIDs[t.CustomerID]; !ok {
			issues++
			break
		}
	}
	for _, it := range items {
		if _, ok := productIDs[it.ProductID]; !ok {
			issues++
			break
		}
	}
	for _, it := range items {
		if _, ok := txnIDs[it.TransactionID]; !ok {
			issues++
			break
		}
	}

	score := 100 - issues*20
	if score < 0 {
		score = 0
	}
	return IntegrityCheck{
		OrphanRecords:        issues,
		ConstraintViolations: issues,
		DataQualityScore:     score,
	}
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path) //nolint:gosec // G304: path comes from the configured raw dir
	if err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeFile, "failed to create CSV file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeCustomersCSV(path string, customers []Customer) error {
	header := []string{
		"customer_id", "first_name", "last_name", "email", "phone",
		"registration_date", "city", "state", "country", "age_group",
	}
	rows := make([][]string, 0, len(customers))
	for _, c := range customers {
		rows = append(rows, []string{
			c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone,
			c.RegistrationDate.Format("2006-01-02"),
			c.City, c.State, c.Country, c.AgeGroup,
		})
	}
	return writeCSV(path, header, rows)
}

func writeProductsCSV(path string, products []Product) error {
	header := []string{
		"product_id", "product_name", "category", "sub_category",
		"price", "cost", "brand", "stock_quantity", "supplier_id",
	}
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rows = append(rows, []string{
			p.ProductID, p.ProductName, p.Category, p.SubCategory,
			formatFloat(p.Price), formatFloat(p.Cost),
			p.Brand, strconv.Itoa(p.StockQuantity), p.SupplierID,
		})
	}
	return writeCSV(path, header, rows)
}

func writeTransactionsCSV(path string, transactions []Transaction) error {
	header := []string{
		"transaction_id", "customer_id", "transaction_date", "transaction_time",
		"payment_method", "shipping_address", "total_amount",
	}
	rows := make([][]string, 0, len(transactions))
	for _, t := range transactions {
		rows = append(rows, []string{
			t.TransactionID, t.CustomerID,
			t.TransactionDate.Format("2006-01-02"), t.TransactionTime,
			t.PaymentMethod, t.ShippingAddress, formatFloat(t.TotalAmount),
		})
	}
	return writeCSV(path, header, rows)
}

func writeItemsCSV(path string, items []Item) error {
	header := []string{
		"item_id", "transaction_id", "product_id", "quantity",
		"unit_price", "discount_percentage", "line_total",
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ItemID, it.TransactionID, it.ProductID,
			strconv.Itoa(it.Quantity),
			formatFloat(it.UnitPrice), formatFloat(it.DiscountPercentage),
			formatFloat(it.LineTotal),
		})
	}
	return writeCSV(path, header, rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
