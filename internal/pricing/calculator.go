package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
)

// Line is a priced cart line. Prices are per unit.
type Line struct {
	OriginalPrice   int64
	DiscountedPrice int64
	Quantity        int
}

type ShippingFee struct {
	Tier     ShippingTier `json:"tier"`
	Base     int64        `json:"base"`
	Discount int64        `json:"discount"`
	Final    int64        `json:"final"`
}

// Result is the full price breakdown of an order.
type Result struct {
	Subtotal        int64       `json:"subtotal"`
	VoucherDiscount int64       `json:"voucherDiscount"`
	Shipping        ShippingFee `json:"shipping"`
	Total           int64       `json:"total"`
}

// VoucherRejection explains why a voucher cannot be applied.
type VoucherRejection struct {
	Code          string `json:"code"`
	Reason        string `json:"reason"`
	MinOrderValue int64  `json:"minOrderValue,omitempty"`
}

const (
	RejectInactive      = "inactive"
	RejectExpired       = "expired"
	RejectUsageExceeded = "usage_limit_reached"
	RejectMinOrder      = "min_order_value_not_met"
)

var hundred = decimal.NewFromInt(100)

// Calculator prices orders. It performs no I/O.
type Calculator struct {
	fees map[ShippingTier]int64
	cfg  config.ShippingConfig
}

func NewCalculator(cfg config.ShippingConfig) *Calculator {
	return &Calculator{
		cfg: cfg,
		fees: map[ShippingTier]int64{
			TierMetroA: cfg.MetroAFee,
			TierMetroB: cfg.MetroBFee,
			TierOther:  cfg.OtherFee,
		},
	}
}

// Price computes subtotal, voucher discount, shipping and total. voucher may
// be nil.
func (c *Calculator) Price(lines []Line, voucher *models.Voucher, shippingCity string, now time.Time) (Result, error) {
	var res Result
	for _, line := range lines {
		res.Subtotal += line.DiscountedPrice * int64(line.Quantity)
	}

	if voucher != nil {
		discount, err := c.VoucherDiscount(voucher, res.Subtotal, now)
		if err != nil {
			return Result{}, err
		}
		res.VoucherDiscount = discount
	}

	res.Shipping = c.Shipping(shippingCity, res.Subtotal)
	res.Total = res.Subtotal - res.VoucherDiscount + res.Shipping.Final
	if res.Total < 0 {
		res.Total = 0
	}
	return res, nil
}

// VoucherDiscount validates the voucher against the subtotal and returns the
// discount, never more than the subtotal.
func (c *Calculator) VoucherDiscount(v *models.Voucher, subtotal int64, now time.Time) (int64, error) {
	if err := CheckVoucher(v, subtotal, now); err != nil {
		return 0, err
	}

	var discount int64
	switch v.Type {
	case enums.VoucherTypePercentage:
		discount = decimal.NewFromInt(subtotal).Mul(v.Value).Div(hundred).Floor().IntPart()
	case enums.VoucherTypeFixed:
		discount = v.Value.IntPart()
	default:
		return 0, pkgerrors.New(pkgerrors.CodeVoucherInvalid, fmt.Sprintf("unsupported voucher type %q", v.Type))
	}

	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount, nil
}

// CheckVoucher reports whether the voucher may be applied to an order with the
// given subtotal at time now.
func CheckVoucher(v *models.Voucher, subtotal int64, now time.Time) error {
	reject := func(reason, msg string) error {
		return pkgerrors.New(pkgerrors.CodeVoucherInvalid, msg).
			WithDetails(VoucherRejection{Code: v.Code, Reason: reason, MinOrderValue: v.MinOrderValue})
	}
	switch {
	case v.Status != enums.VoucherStatusActive:
		return reject(RejectInactive, "voucher is not active")
	case !v.ExpiresAt.After(now):
		return reject(RejectExpired, "voucher has expired")
	case v.UsageLimit > 0 && v.UsageCount >= v.UsageLimit:
		return reject(RejectUsageExceeded, "voucher usage limit reached")
	case subtotal < v.MinOrderValue:
		return reject(RejectMinOrder, "order does not meet the voucher minimum")
	}
	return nil
}

// Shipping returns the fee for the destination city. Orders at or above the
// promotion threshold get the base fee waived up to the configured cap.
func (c *Calculator) Shipping(city string, subtotal int64) ShippingFee {
	tier := TierForCity(city)
	fee := ShippingFee{Tier: tier, Base: c.fees[tier]}
	if c.cfg.FreeShipThreshold > 0 && subtotal >= c.cfg.FreeShipThreshold {
		fee.Discount = min(fee.Base, c.cfg.FreeShipMaxDiscount)
	}
	fee.Final = fee.Base - fee.Discount
	return fee
}

// DiscountPercent is the rounded percentage saved against the original price,
// clamped to [0, 100].
func DiscountPercent(original, discounted int64) int {
	if original <= 0 {
		return 0
	}
	ratio := decimal.NewFromInt(discounted).Div(decimal.NewFromInt(original))
	pct := decimal.NewFromInt(1).Sub(ratio).Mul(hundred).Round(0).IntPart()
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}
