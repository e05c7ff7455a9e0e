package enums

import "fmt"

type VoucherType string

const (
	VoucherTypePercentage VoucherType = "percentage"
	VoucherTypeFixed      VoucherType = "fixed"
)

// IsValid reports whether the value is a known VoucherType.
func (v VoucherType) IsValid() bool {
	return v == VoucherTypePercentage || v == VoucherTypeFixed
}

// ParseVoucherType converts raw input into a VoucherType.
func ParseVoucherType(value string) (VoucherType, error) {
	t := VoucherType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid voucher type %q", value)
	}
	return t, nil
}

type VoucherStatus string

const (
	VoucherStatusActive   VoucherStatus = "active"
	VoucherStatusInactive VoucherStatus = "inactive"
)

// IsValid reports whether the value is a known VoucherStatus.
func (v VoucherStatus) IsValid() bool {
	return v == VoucherStatusActive || v == VoucherStatusInactive
}
