package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/enums"
)

// Order is the persisted order header. Money columns hold whole đồng.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID        *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;not null"`
	VoucherID     *uuid.UUID          `gorm:"column:voucher_id;type:uuid"`

	Subtotal         int64 `gorm:"column:subtotal;not null"`
	VoucherDiscount  int64 `gorm:"column:voucher_discount;not null;default:0"`
	ShippingBaseFee  int64 `gorm:"column:shipping_base_fee;not null;default:0"`
	ShippingDiscount int64 `gorm:"column:shipping_discount;not null;default:0"`
	ShippingFee      int64 `gorm:"column:shipping_fee;not null;default:0"`
	Total            int64 `gorm:"column:total;not null;check:chk_orders_total,total >= 0"`

	OrderStatus   enums.OrderStatus   `gorm:"column:order_status;type:text;not null;default:'pending';index"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;not null;default:1"`

	ShippingFullName      string `gorm:"column:shipping_full_name;not null"`
	ShippingPhoneNumber   string `gorm:"column:shipping_phone_number;not null"`
	ShippingStreetAddress string `gorm:"column:shipping_street_address;not null"`
	ShippingWard          string `gorm:"column:shipping_ward;not null;default:''"`
	ShippingDistrict      string `gorm:"column:shipping_district;not null;default:''"`
	ShippingCity          string `gorm:"column:shipping_city;not null"`

	CancelNote   *string    `gorm:"column:cancel_note"`
	CancelledBy  *string    `gorm:"column:cancelled_by"`
	RefundAmount *int64     `gorm:"column:refund_amount"`
	RefundReason *string    `gorm:"column:refund_reason"`
	PaidAt       *time.Time `gorm:"column:paid_at"`
	CancelledAt  *time.Time `gorm:"column:cancelled_at"`
	DeliveredAt  *time.Time `gorm:"column:delivered_at"`
	RefundedAt   *time.Time `gorm:"column:refunded_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Lines []OrderLine `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderLine is an immutable snapshot of a purchased variant and size.
type OrderLine struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID       uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID       uuid.UUID  `gorm:"column:product_detail_id;type:uuid;not null"`
	ProductName     string     `gorm:"column:product_name;not null"`
	Color           string     `gorm:"column:color;not null"`
	Size            string     `gorm:"column:size;not null"`
	Quantity        int        `gorm:"column:quantity;not null;check:chk_order_details_quantity,quantity > 0"`
	OriginalPrice   int64      `gorm:"column:original_price;not null"`
	DiscountedPrice int64      `gorm:"column:discounted_price;not null"`
	DiscountPercent int        `gorm:"column:discount_percent;not null;default:0"`
	ImageURL        string     `gorm:"column:image_url;not null;default:''"`
	VoucherID       *uuid.UUID `gorm:"column:voucher_id;type:uuid"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLine) TableName() string { return "order_details" }

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// LineTotal returns the discounted amount contributed to the subtotal.
func (l OrderLine) LineTotal() int64 {
	return l.DiscountedPrice * int64(l.Quantity)
}
