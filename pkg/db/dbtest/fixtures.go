package dbtest

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
)

// VariantSeed describes one color of a seeded product and its stock per size.
type VariantSeed struct {
	Color         string
	Price         int64
	OriginalPrice int64
	Sizes         map[string]int
}

// SeedProduct inserts a product with its variants and stock units. The
// returned product has Variants and StockUnits populated.
func SeedProduct(t testing.TB, db *gorm.DB, name string, availability enums.ProductAvailability, variants ...VariantSeed) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:         name,
		Slug:         strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + uuid.NewString()[:8],
		Availability: availability,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	for _, seed := range variants {
		original := seed.OriginalPrice
		if original == 0 {
			original = seed.Price
		}
		variant := models.Variant{
			ProductID:     product.ID,
			Color:         seed.Color,
			Price:         seed.Price,
			OriginalPrice: original,
			ImageURL:      "https://cdn.example.com/" + seed.Color + ".jpg",
		}
		if err := db.Create(&variant).Error; err != nil {
			t.Fatalf("seed variant: %v", err)
		}
		sizes := make([]string, 0, len(seed.Sizes))
		for size := range seed.Sizes {
			sizes = append(sizes, size)
		}
		sort.Strings(sizes)
		for _, size := range sizes {
			unit := models.StockUnit{VariantID: variant.ID, Size: size, Stock: seed.Sizes[size]}
			if err := db.Create(&unit).Error; err != nil {
				t.Fatalf("seed stock unit: %v", err)
			}
			variant.StockUnits = append(variant.StockUnits, unit)
		}
		product.Variants = append(product.Variants, variant)
	}
	return product
}

// SeedVoucher inserts an active voucher expiring in a day unless overridden
// by mutate.
func SeedVoucher(t testing.TB, db *gorm.DB, code string, kind enums.VoucherType, value int64, mutate func(*models.Voucher)) *models.Voucher {
	t.Helper()
	voucher := &models.Voucher{
		Code:      code,
		Type:      kind,
		Value:     decimal.NewFromInt(value),
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		Status:    enums.VoucherStatusActive,
	}
	if mutate != nil {
		mutate(voucher)
	}
	if err := db.Create(voucher).Error; err != nil {
		t.Fatalf("seed voucher: %v", err)
	}
	return voucher
}

// Stock returns the current stock of a unit, or -1 when the row is missing.
func Stock(t testing.TB, db *gorm.DB, variantID uuid.UUID, size string) int {
	t.Helper()
	var units []models.StockUnit
	if err := db.Where("product_detail_id = ? AND size = ?", variantID, size).Find(&units).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if len(units) == 0 {
		return -1
	}
	return units[0].Stock
}

// Availability returns the stored availability of a product.
func Availability(t testing.TB, db *gorm.DB, productID uuid.UUID) enums.ProductAvailability {
	t.Helper()
	var product models.Product
	if err := db.Where("id = ?", productID).First(&product).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.Availability
}
