package enums

import "fmt"

// ProductAvailability is derived from stock unless the product is a draft.
type ProductAvailability string

const (
	ProductAvailabilityDraft      ProductAvailability = "draft"
	ProductAvailabilityActive     ProductAvailability = "active"
	ProductAvailabilityOutOfStock ProductAvailability = "outofstock"
)

var validProductAvailabilities = []ProductAvailability{
	ProductAvailabilityDraft,
	ProductAvailabilityActive,
	ProductAvailabilityOutOfStock,
}

// String implements fmt.Stringer.
func (a ProductAvailability) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ProductAvailability.
func (a ProductAvailability) IsValid() bool {
	for _, candidate := range validProductAvailabilities {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseProductAvailability converts raw input into a ProductAvailability.
func ParseProductAvailability(value string) (ProductAvailability, error) {
	for _, candidate := range validProductAvailabilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product availability %q", value)
}
