package enums

import "fmt"

// PaymentMethod identifies how the customer settles an order.
type PaymentMethod int

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = 1
	// PaymentMethodGateway is an online payment through the hosted gateway.
	PaymentMethodGateway PaymentMethod = 2
)

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	switch m {
	case PaymentMethodCOD:
		return "cod"
	case PaymentMethodGateway:
		return "gateway"
	default:
		return fmt.Sprintf("payment_method(%d)", int(m))
	}
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodGateway
}

// ParsePaymentMethod converts a raw id into a PaymentMethod.
func ParsePaymentMethod(value int) (PaymentMethod, error) {
	method := PaymentMethod(value)
	if !method.IsValid() {
		return 0, fmt.Errorf("invalid payment method %d", value)
	}
	return method, nil
}
