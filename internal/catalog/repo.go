package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/db/models"
)

// ErrNotFound is returned when a product or variant lookup matches no row.
var ErrNotFound = errors.New("catalog entry not found")

// Repository reads the product catalog needed to place orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	FindVariantByColor(ctx context.Context, productID uuid.UUID, color string) (*models.Variant, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FindVariantByColor matches the color exactly as stored.
func (r *repository) FindVariantByColor(ctx context.Context, productID uuid.UUID, color string) (*models.Variant, error) {
	var variant models.Variant
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND color = ?", productID, color).
		First(&variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}
