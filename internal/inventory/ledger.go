package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
)

// ShortageDetails is attached to INSUFFICIENT_STOCK errors.
type ShortageDetails struct {
	Product   string `json:"product,omitempty"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// ReserveRequest identifies the stock unit to decrement. Product and Color are
// only used to describe a shortage to the caller.
type ReserveRequest struct {
	VariantID uuid.UUID
	Size      string
	Qty       int
	Product   string
	Color     string
}

func (r ReserveRequest) describe() string {
	name := strings.TrimSpace(r.Product)
	if name == "" {
		name = "variant " + r.VariantID.String()
	}
	if color := strings.TrimSpace(r.Color); color != "" {
		return fmt.Sprintf("%s (%s)", name, color)
	}
	return name
}

// CompareUnits orders stock units by variant id, then size. Every path that
// touches more than one stock row visits them in this order so concurrent
// transactions queue on the first shared row instead of deadlocking.
func CompareUnits(variantA uuid.UUID, sizeA string, variantB uuid.UUID, sizeB string) int {
	if c := bytes.Compare(variantA[:], variantB[:]); c != 0 {
		return c
	}
	return strings.Compare(sizeA, sizeB)
}

// SortReserveRequests sorts requests into lock order, keeping the relative
// order of requests for the same unit.
func SortReserveRequests(reqs []ReserveRequest) {
	slices.SortStableFunc(reqs, func(a, b ReserveRequest) int {
		return CompareUnits(a.VariantID, a.Size, b.VariantID, b.Size)
	})
}

// FailureObserver is notified when a reservation is refused.
type FailureObserver interface {
	ReservationFailed(reason string)
}

// Ledger owns every stock mutation. All methods expect to run inside the
// caller's transaction.
type Ledger struct {
	observer FailureObserver
	now      func() time.Time
}

// NewLedger builds a ledger. observer may be nil.
func NewLedger(observer FailureObserver) *Ledger {
	return &Ledger{observer: observer, now: time.Now}
}

// Reserve atomically decrements stock when enough is available. The check and
// the decrement are a single conditional UPDATE so concurrent buyers of the
// last unit cannot both succeed.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, req ReserveRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	if req.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE product_inventory
		SET stock = stock - ?, updated_at = ?
		WHERE product_detail_id = ? AND size = ? AND stock >= ?
	`, req.Qty, l.now().UTC(), req.VariantID, req.Size, req.Qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	unit, err := l.FindStockUnit(ctx, tx, req.VariantID, req.Size)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			l.observe("size_not_found")
			return pkgerrors.New(pkgerrors.CodeNotFound,
				fmt.Sprintf("%s has no size %s", req.describe(), req.Size))
		}
		return err
	}
	l.observe("insufficient_stock")
	return pkgerrors.New(pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("%s has only %d left in size %s, %d requested", req.describe(), unit.Stock, req.Size, req.Qty)).
		WithDetails(ShortageDetails{
			Product:   req.Product,
			Color:     req.Color,
			Size:      req.Size,
			Available: unit.Stock,
			Requested: req.Qty,
		})
}

// Release returns quantity to a stock unit. It is an upsert so stock returns
// even when the size row was removed after the order was placed.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, size string, qty int) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}

	unit := models.StockUnit{VariantID: variantID, Size: size, Stock: qty, UpdatedAt: l.now().UTC()}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_detail_id"}, {Name: "size"}},
		DoUpdates: clause.Assignments(map[string]any{
			"stock":      gorm.Expr("product_inventory.stock + excluded.stock"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&unit).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
	}
	return nil
}

// FindStockUnit loads the unit for a variant and size.
func (l *Ledger) FindStockUnit(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, size string) (*models.StockUnit, error) {
	var unit models.StockUnit
	err := tx.WithContext(ctx).
		Where("product_detail_id = ? AND size = ?", variantID, size).
		First(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("size %s not found", size))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock unit")
	}
	return &unit, nil
}

// TotalStock sums the stock of every size of a variant.
func (l *Ledger) TotalStock(ctx context.Context, db *gorm.DB, variantID uuid.UUID) (int, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&models.StockUnit{}).
		Where("product_detail_id = ?", variantID).
		Select("COALESCE(SUM(stock), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum variant stock")
	}
	return int(total), nil
}

// RecomputeProductAvailability derives availability from the summed stock of
// all variants. Draft products keep their status.
func (l *Ledger) RecomputeProductAvailability(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (enums.ProductAvailability, error) {
	var product models.Product
	err := tx.WithContext(ctx).
		Select("id", "availability").
		Where("id = ?", productID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product.Availability == enums.ProductAvailabilityDraft {
		return product.Availability, nil
	}

	var total int64
	err = tx.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(pi.stock), 0)
		FROM product_inventory pi
		JOIN product_details pd ON pd.id = pi.product_detail_id
		WHERE pd.product_id = ?
	`, productID).Scan(&total).Error
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum product stock")
	}

	next := enums.ProductAvailabilityOutOfStock
	if total > 0 {
		next = enums.ProductAvailabilityActive
	}
	if next == product.Availability {
		return next, nil
	}

	err = tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND availability <> ?", productID, enums.ProductAvailabilityDraft).
		Updates(map[string]any{"availability": next, "updated_at": l.now().UTC()}).Error
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product availability")
	}
	return next, nil
}

// RecomputeProducts recomputes availability once per distinct product, in
// ascending id order.
func (l *Ledger) RecomputeProducts(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error {
	for _, id := range DistinctSorted(productIDs) {
		if _, err := l.RecomputeProductAvailability(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// DistinctSorted returns the distinct ids in ascending byte order.
func DistinctSorted(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

func (l *Ledger) observe(reason string) {
	if l.observer != nil {
		l.observer.ReservationFailed(reason)
	}
}
