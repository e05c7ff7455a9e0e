package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/storefront/storefront-backend/pkg/db"
	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	"github.com/storefront/storefront-backend/pkg/pagination"
)

// ErrNotFound is returned when the order does not exist.
var ErrNotFound = errors.New("order not found")

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the header and its lines.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.findOrder(ctx, r.db.WithContext(ctx), orderID)
}

// FindOrderForUpdate locks the order row before loading its lines.
func (r *repository) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.findOrder(ctx, dbpkg.ForUpdate(r.db.WithContext(ctx)), orderID)
}

func (r *repository) findOrder(ctx context.Context, query *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := query.Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", order.ID).
		Order("created_at ASC, id ASC").
		Find(&order.Lines).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// SaveStatus persists the lifecycle columns of an order. Lines are immutable
// and never written here.
func (r *repository) SaveStatus(ctx context.Context, order *models.Order) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"order_status":   order.OrderStatus,
			"payment_status": order.PaymentStatus,
			"cancel_note":    order.CancelNote,
			"cancelled_by":   order.CancelledBy,
			"refund_amount":  order.RefundAmount,
			"refund_reason":  order.RefundReason,
			"paid_at":        order.PaidAt,
			"cancelled_at":   order.CancelledAt,
			"delivered_at":   order.DeliveredAt,
			"refunded_at":    order.RefundedAt,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindExpirableForUpdate locks every pending, unpaid, non-COD order created
// before cutoff and loads its lines.
func (r *repository) FindExpirableForUpdate(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := dbpkg.ForUpdate(r.db.WithContext(ctx)).
		Where("order_status = ?", enums.OrderStatusPending).
		Where("payment_method <> ?", enums.PaymentMethodCOD).
		Where("payment_status <> ?", enums.PaymentStatusPaid).
		Where("created_at < ?", cutoff.UTC()).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	if err != nil || len(orders) == 0 {
		return orders, err
	}

	ids := make([]uuid.UUID, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	var lines []models.OrderLine
	if err := r.db.WithContext(ctx).Where("order_id IN ?", ids).Order("created_at ASC, id ASC").Find(&lines).Error; err != nil {
		return nil, err
	}
	byOrder := make(map[uuid.UUID][]models.OrderLine, len(orders))
	for _, line := range lines {
		byOrder[line.OrderID] = append(byOrder[line.OrderID], line)
	}
	for i := range orders {
		orders[i].Lines = byOrder[orders[i].ID]
	}
	return orders, nil
}

// FindOrderDetail projects an order and its lines into the read model.
func (r *repository) FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := r.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toDetail(order), nil
}

func toDetail(order *models.Order) *OrderDetail {
	detail := &OrderDetail{
		ID:                order.ID,
		UserID:            order.UserID,
		OrderStatus:       order.OrderStatus,
		PaymentStatus:     order.PaymentStatus,
		PaymentStatusName: order.PaymentStatus.String(),
		PaymentMethod:     order.PaymentMethod,
		Subtotal:          order.Subtotal,
		VoucherID:         order.VoucherID,
		VoucherDiscount:   order.VoucherDiscount,
		Shipping: ShippingBreakdown{
			BaseFee:  order.ShippingBaseFee,
			Discount: order.ShippingDiscount,
			Fee:      order.ShippingFee,
		},
		Total: order.Total,
		Address: ShippingAddress{
			FullName:      order.ShippingFullName,
			PhoneNumber:   order.ShippingPhoneNumber,
			StreetAddress: order.ShippingStreetAddress,
			Ward:          order.ShippingWard,
			District:      order.ShippingDistrict,
			City:          order.ShippingCity,
		},
		CancelNote:  order.CancelNote,
		CancelledBy: order.CancelledBy,
		CreatedAt:   order.CreatedAt,
		PaidAt:      order.PaidAt,
		CancelledAt: order.CancelledAt,
		DeliveredAt: order.DeliveredAt,
		Lines:       make([]OrderLineView, 0, len(order.Lines)),
	}
	if order.RefundAmount != nil {
		refund := &RefundView{Amount: *order.RefundAmount, RefundedAt: order.RefundedAt}
		if order.RefundReason != nil {
			refund.Reason = *order.RefundReason
		}
		detail.Refund = refund
	}
	for _, line := range order.Lines {
		detail.Lines = append(detail.Lines, OrderLineView{
			ID:              line.ID,
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			ProductName:     line.ProductName,
			Color:           line.Color,
			Size:            line.Size,
			Quantity:        line.Quantity,
			OriginalPrice:   line.OriginalPrice,
			DiscountedPrice: line.DiscountedPrice,
			DiscountPercent: line.DiscountPercent,
			ImageURL:        line.ImageURL,
			LineTotal:       line.LineTotal(),
		})
	}
	return detail
}

type orderSummaryRow struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	OrderStatus   enums.OrderStatus
	PaymentStatus enums.PaymentStatus
	PaymentMethod enums.PaymentMethod
	Total         int64
	TotalItems    int
	ShippingCity  string
}

// ListOrders returns orders newest first. A nil userID lists every order.
func (r *repository) ListOrders(ctx context.Context, userID *uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Table("orders").
		Select(`orders.id, orders.created_at, orders.order_status, orders.payment_status,
			orders.payment_method, orders.total, orders.shipping_city,
			(SELECT COALESCE(SUM(d.quantity), 0) FROM order_details d WHERE d.order_id = orders.id) AS total_items`)
	if userID != nil {
		query = query.Where("orders.user_id = ?", *userID)
	}
	if filters.OrderStatus != nil {
		query = query.Where("orders.order_status = ?", *filters.OrderStatus)
	}
	if filters.PaymentStatus != nil {
		query = query.Where("orders.payment_status = ?", *filters.PaymentStatus)
	}
	if cursor != nil {
		query = query.Where("(orders.created_at < ?) OR (orders.created_at = ? AND orders.id < ?)",
			cursor.CreatedAt.UTC(), cursor.CreatedAt.UTC(), cursor.ID)
	}

	var rows []orderSummaryRow
	if err := query.
		Order("orders.created_at DESC, orders.id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows))}
	if len(rows) > limit {
		last := rows[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		list.Orders = append(list.Orders, OrderSummary(row))
	}
	return list, nil
}
