package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/db/dbtest"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
)

type recordingObserver struct {
	reasons []string
}

func (r *recordingObserver) ReservationFailed(reason string) {
	r.reasons = append(r.reasons, reason)
}

func TestReserveDecrementsAndFlipsAvailability(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger(nil)

	product := dbtest.SeedProduct(t, db, "Linen Shirt", enums.ProductAvailabilityActive, dbtest.VariantSeed{
		Color: "white", Price: 250000, Sizes: map[string]int{"M": 3},
	})
	variant := product.Variants[0]

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := ledger.Reserve(ctx, tx, ReserveRequest{VariantID: variant.ID, Size: "M", Qty: 3}); err != nil {
			return err
		}
		next, err := ledger.RecomputeProductAvailability(ctx, tx, product.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, enums.ProductAvailabilityOutOfStock, next)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, dbtest.Stock(t, db, variant.ID, "M"))
	assert.Equal(t, enums.ProductAvailabilityOutOfStock, dbtest.Availability(t, db, product.ID))
}

func TestReserveInsufficientStockLeavesRowUntouched(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	observer := &recordingObserver{}
	ledger := NewLedger(observer)

	product := dbtest.SeedProduct(t, db, "Denim Jacket", enums.ProductAvailabilityActive, dbtest.VariantSeed{
		Color: "blue", Price: 600000, Sizes: map[string]int{"L": 2},
	})
	variant := product.Variants[0]

	err := ledger.Reserve(ctx, db, ReserveRequest{VariantID: variant.ID, Size: "L", Qty: 3, Product: "Denim Jacket", Color: "blue"})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	details, ok := typed.Details().(ShortageDetails)
	require.True(t, ok)
	assert.Equal(t, ShortageDetails{Product: "Denim Jacket", Color: "blue", Size: "L", Available: 2, Requested: 3}, details)

	assert.Equal(t, 2, dbtest.Stock(t, db, variant.ID, "L"))
	assert.Equal(t, []string{"insufficient_stock"}, observer.reasons)
}

func TestReserveUnknownSize(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(nil)
	product := dbtest.SeedProduct(t, db, "Scarf", enums.ProductAvailabilityActive, dbtest.VariantSeed{
		Color: "red", Price: 90000, Sizes: map[string]int{"F": 4},
	})

	err := ledger.Reserve(context.Background(), db, ReserveRequest{VariantID: product.Variants[0].ID, Size: "XXL", Qty: 1})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(nil)
	product := dbtest.SeedProduct(t, db, "Socks", enums.ProductAvailabilityActive, dbtest.VariantSeed{
		Color: "grey", Price: 30000, Sizes: map[string]int{"F": 4},
	})

	err := ledger.Reserve(context.Background(), db, ReserveRequest{VariantID: product.Variants[0].ID, Size: "F", Qty: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 4, dbtest.Stock(t, db, product.Variants[0].ID, "F"))
}

func TestReleaseAddsBackAndRecreatesDeletedSize(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger(nil)

	product := dbtest.SeedProduct(t, db, "Chinos", enums.ProductAvailabilityOutOfStock, dbtest.VariantSeed{
		Color: "khaki", Price: 400000, Sizes: map[string]int{"30": 0, "32": 0},
	})
	variant := product.Variants[0]

	require.NoError(t, db.Exec("DELETE FROM product_inventory WHERE product_detail_id = ? AND size = ?", variant.ID, "32").Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := ledger.Release(ctx, tx, variant.ID, "30", 1); err != nil {
			return err
		}
		if err := ledger.Release(ctx, tx, variant.ID, "32", 2); err != nil {
			return err
		}
		return ledger.RecomputeProducts(ctx, tx, []uuid.UUID{product.ID, product.ID})
	})
	require.NoError(t, err)

	assert.Equal(t, 1, dbtest.Stock(t, db, variant.ID, "30"))
	assert.Equal(t, 2, dbtest.Stock(t, db, variant.ID, "32"))
	assert.Equal(t, enums.ProductAvailabilityActive, dbtest.Availability(t, db, product.ID))

	total, err := ledger.TotalStock(ctx, db, variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestRecomputeKeepsDraft(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(nil)
	product := dbtest.SeedProduct(t, db, "Prototype", enums.ProductAvailabilityDraft, dbtest.VariantSeed{
		Color: "black", Price: 100000, Sizes: map[string]int{"M": 0},
	})

	next, err := ledger.RecomputeProductAvailability(context.Background(), db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ProductAvailabilityDraft, next)
	assert.Equal(t, enums.ProductAvailabilityDraft, dbtest.Availability(t, db, product.ID))
}

func TestAvailabilitySumsAcrossVariants(t *testing.T) {
	db := dbtest.Open(t)
	ledger := NewLedger(nil)
	product := dbtest.SeedProduct(t, db, "Polo", enums.ProductAvailabilityOutOfStock,
		dbtest.VariantSeed{Color: "navy", Price: 200000, Sizes: map[string]int{"M": 0, "L": 0}},
		dbtest.VariantSeed{Color: "green", Price: 200000, Sizes: map[string]int{"S": 1}},
	)

	next, err := ledger.RecomputeProductAvailability(context.Background(), db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ProductAvailabilityActive, next)
}

// A competing buyer takes the last unit between the caller's decision to buy
// and its UPDATE. The guarded UPDATE must then refuse instead of overselling.
func TestReserveRefusesWhenStockVanishesBeforeUpdate(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	ledger := NewLedger(nil)
	product := dbtest.SeedProduct(t, db, "Limited Tee", enums.ProductAvailabilityActive, dbtest.VariantSeed{
		Color: "black", Price: 250000, Sizes: map[string]int{"S": 1},
	})
	variant := product.Variants[0]

	stolen := false
	err := db.Callback().Raw().Before("gorm:raw").Register("test:competing_buyer", func(tx *gorm.DB) {
		if stolen || !strings.Contains(tx.Statement.SQL.String(), "UPDATE product_inventory") {
			return
		}
		stolen = true
		_, execErr := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE product_inventory SET stock = stock - 1 WHERE product_detail_id = ? AND size = ?", variant.ID, "S")
		if execErr != nil {
			t.Errorf("competing reservation: %v", execErr)
		}
	})
	require.NoError(t, err)

	unit, err := ledger.FindStockUnit(ctx, db, variant.ID, "S")
	require.NoError(t, err)
	require.Equal(t, 1, unit.Stock)

	err = ledger.Reserve(ctx, db, ReserveRequest{VariantID: variant.ID, Size: "S", Qty: 1, Product: "Limited Tee", Color: "black"})
	require.True(t, stolen)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	assert.Contains(t, err.Error(), "Limited Tee (black)")
	assert.Equal(t, 0, dbtest.Stock(t, db, variant.ID, "S"))
}
