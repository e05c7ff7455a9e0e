package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/storefront/storefront-backend/pkg/enums"
	"github.com/storefront/storefront-backend/pkg/outbox"
)

// Actor is the caller on whose behalf an operation runs. UserID is nil for
// guests and for the expiration sweep.
type Actor struct {
	UserID *uuid.UUID
	Role   enums.Role
}

// SystemActor identifies background jobs.
const SystemActor = "system"

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// Owns reports whether the actor placed the order.
func (a Actor) Owns(userID *uuid.UUID) bool {
	return a.UserID != nil && userID != nil && *a.UserID == *userID
}

func (a Actor) label() string {
	switch {
	case a.IsAdmin():
		return string(enums.RoleAdmin)
	case a.UserID != nil:
		return string(enums.RoleCustomer)
	default:
		return SystemActor
	}
}

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, Role: a.label()}
}

// ShippingAddress is copied onto the order at creation.
type ShippingAddress struct {
	FullName      string `json:"fullName"`
	PhoneNumber   string `json:"phoneNumber"`
	StreetAddress string `json:"streetAddress"`
	Ward          string `json:"ward,omitempty"`
	District      string `json:"district,omitempty"`
	City          string `json:"city"`
}

// CreateOrderItem selects a product variant by color and a size.
type CreateOrderItem struct {
	ProductID uuid.UUID
	Color     string
	Size      string
	Quantity  int
}

type CreateOrderInput struct {
	Actor         Actor
	Items         []CreateOrderItem
	PaymentMethod enums.PaymentMethod
	VoucherID     *uuid.UUID
	VoucherCode   string
	Shipping      ShippingAddress
}

type CancelOrderInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Note    string
}

type UpdateStatusInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Status  enums.OrderStatus
	Note    string
}

type UpdatePaymentStatusInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Status  enums.PaymentStatus
}

type RefundInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Amount  int64
	Reason  string
}

// ListFilters narrows the orders list.
type ListFilters struct {
	OrderStatus   *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
}

// OrderLineView is the read model of an order line.
type OrderLineView struct {
	ID              uuid.UUID `json:"id"`
	ProductID       uuid.UUID `json:"productId"`
	VariantID       uuid.UUID `json:"variantId"`
	ProductName     string    `json:"productName"`
	Color           string    `json:"color"`
	Size            string    `json:"size"`
	Quantity        int       `json:"quantity"`
	OriginalPrice   int64     `json:"originalPrice"`
	DiscountedPrice int64     `json:"discountedPrice"`
	DiscountPercent int       `json:"discountPercent"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	LineTotal       int64     `json:"lineTotal"`
}

// ShippingBreakdown exposes how the shipping fee was derived.
type ShippingBreakdown struct {
	BaseFee  int64 `json:"baseFee"`
	Discount int64 `json:"discount"`
	Fee      int64 `json:"fee"`
}

// RefundView is present only on refunded orders.
type RefundView struct {
	Amount     int64      `json:"amount"`
	Reason     string     `json:"reason"`
	RefundedAt *time.Time `json:"refundedAt,omitempty"`
}

// OrderDetail is the read model returned by GET /orders/{id}.
type OrderDetail struct {
	ID                uuid.UUID           `json:"orderId"`
	UserID            *uuid.UUID          `json:"userId,omitempty"`
	OrderStatus       enums.OrderStatus   `json:"orderStatus"`
	PaymentStatus     enums.PaymentStatus `json:"paymentStatusId"`
	PaymentStatusName string              `json:"paymentStatus"`
	PaymentMethod     enums.PaymentMethod `json:"paymentMethodId"`
	Subtotal          int64               `json:"subtotal"`
	VoucherID         *uuid.UUID          `json:"voucherId,omitempty"`
	VoucherDiscount   int64               `json:"voucherDiscount"`
	Shipping          ShippingBreakdown   `json:"shipping"`
	Total             int64               `json:"total"`
	Address           ShippingAddress     `json:"shippingAddress"`
	Lines             []OrderLineView     `json:"items"`
	CancelNote        *string             `json:"cancelNote,omitempty"`
	CancelledBy       *string             `json:"cancelledBy,omitempty"`
	Refund            *RefundView         `json:"refund,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	PaidAt            *time.Time          `json:"paidAt,omitempty"`
	CancelledAt       *time.Time          `json:"cancelledAt,omitempty"`
	DeliveredAt       *time.Time          `json:"deliveredAt,omitempty"`
}

// OrderSummary is one row of the orders list.
type OrderSummary struct {
	ID            uuid.UUID           `json:"orderId"`
	CreatedAt     time.Time           `json:"createdAt"`
	OrderStatus   enums.OrderStatus   `json:"orderStatus"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatusId"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethodId"`
	Total         int64               `json:"total"`
	TotalItems    int                 `json:"totalItems"`
	ShippingCity  string              `json:"shippingCity"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}
