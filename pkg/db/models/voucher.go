package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/enums"
)

// Voucher is a discount code. UsageLimit of zero means unlimited.
type Voucher struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code          string              `gorm:"column:code;not null;uniqueIndex"`
	Type          enums.VoucherType   `gorm:"column:type;type:text;not null"`
	Value         decimal.Decimal     `gorm:"column:value;type:numeric(12,2);not null"`
	MinOrderValue int64               `gorm:"column:min_order_value;not null;default:0"`
	ExpiresAt     time.Time           `gorm:"column:expires_at;not null"`
	UsageLimit    int                 `gorm:"column:usage_limit;not null;default:0"`
	UsageCount    int                 `gorm:"column:usage_count;not null;default:0"`
	Status        enums.VoucherStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Voucher) TableName() string { return "vouchers" }

func (v *Voucher) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
