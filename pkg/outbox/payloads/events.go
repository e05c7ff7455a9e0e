package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/storefront/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once an order and its reservations commit.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        *uuid.UUID          `json:"user_id,omitempty"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Total         int64               `json:"total"`
	LineCount     int                 `json:"line_count"`
	VoucherID     *uuid.UUID          `json:"voucher_id,omitempty"`
}

// OrderCanceledEvent is emitted whenever an order moves to cancelled, by a
// customer, an admin or the expiration sweep.
type OrderCanceledEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	CancelledBy   string              `json:"cancelled_by"`
	Reason        string              `json:"reason,omitempty"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	CancelledAt   time.Time           `json:"cancelled_at"`
}

// OrderStatusChangedEvent tracks fulfilment progress.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// PaymentStatusChangedEvent tracks payment progress from admins or the
// gateway.
type PaymentStatusChangedEvent struct {
	OrderID uuid.UUID           `json:"order_id"`
	From    enums.PaymentStatus `json:"from"`
	To      enums.PaymentStatus `json:"to"`
	Source  string              `json:"source"`
}

// OrderRefundedEvent records a refund against a paid order.
type OrderRefundedEvent struct {
	OrderID uuid.UUID `json:"order_id"`
	Amount  int64     `json:"amount"`
	Reason  string    `json:"reason"`
}
