package gateway

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/db/models"
)

// Repository stores applied gateway notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&txns).Error
	return txns, err
}
