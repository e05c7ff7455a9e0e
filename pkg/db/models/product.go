package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/pkg/enums"
)

// Product is the catalog entry customers browse. Availability is derived from
// the summed stock of every variant unless the product is still a draft.
type Product struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Name         string                    `gorm:"column:name;not null"`
	Slug         string                    `gorm:"column:slug;not null;uniqueIndex"`
	Availability enums.ProductAvailability `gorm:"column:availability;type:text;not null;default:'draft'"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`

	Variants []Variant `gorm:"foreignKey:ProductID"`
}

func (Product) TableName() string { return "products" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Variant is a color option of a product with its own pricing.
type Variant struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID     uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_product_details_product_color,priority:1"`
	Color         string    `gorm:"column:color;not null;uniqueIndex:ux_product_details_product_color,priority:2"`
	Price         int64     `gorm:"column:price;not null"`
	OriginalPrice int64     `gorm:"column:original_price;not null"`
	ImageURL      string    `gorm:"column:image_url;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`

	StockUnits []StockUnit `gorm:"foreignKey:VariantID"`
}

func (Variant) TableName() string { return "product_details" }

func (v *Variant) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// StockUnit is the sellable quantity of one size of a variant.
type StockUnit struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VariantID uuid.UUID `gorm:"column:product_detail_id;type:uuid;not null;uniqueIndex:ux_product_inventory_variant_size,priority:1"`
	Size      string    `gorm:"column:size;not null;uniqueIndex:ux_product_inventory_variant_size,priority:2"`
	Stock     int       `gorm:"column:stock;not null;default:0;check:chk_product_inventory_stock,stock >= 0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (StockUnit) TableName() string { return "product_inventory" }

func (s *StockUnit) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
