package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	SaveStatus(ctx context.Context, order *models.Order) error
	FindExpirableForUpdate(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error)
	ListOrders(ctx context.Context, userID *uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error)
}
