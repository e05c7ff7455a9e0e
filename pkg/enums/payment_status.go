package enums

import "fmt"

// PaymentStatus tracks the payment side of an order. Values are persisted as
// integer ids and exposed as paymentStatusId on the API.
type PaymentStatus int

const (
	PaymentStatusPending   PaymentStatus = 1
	PaymentStatusPaid      PaymentStatus = 2
	PaymentStatusFailed    PaymentStatus = 3
	PaymentStatusRefunded  PaymentStatus = 4
	PaymentStatusCancelled PaymentStatus = 5
)

var paymentStatusNames = map[PaymentStatus]string{
	PaymentStatusPending:   "pending",
	PaymentStatusPaid:      "paid",
	PaymentStatusFailed:    "failed",
	PaymentStatusRefunded:  "refunded",
	PaymentStatusCancelled: "cancelled",
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	if name, ok := paymentStatusNames[p]; ok {
		return name
	}
	return fmt.Sprintf("payment_status(%d)", int(p))
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	_, ok := paymentStatusNames[p]
	return ok
}

// IsFinal reports whether the gateway may no longer change the status.
func (p PaymentStatus) IsFinal() bool {
	return p == PaymentStatusPaid || p == PaymentStatusRefunded || p == PaymentStatusCancelled
}

// ParsePaymentStatus converts a raw id into a PaymentStatus.
func ParsePaymentStatus(value int) (PaymentStatus, error) {
	status := PaymentStatus(value)
	if !status.IsValid() {
		return 0, fmt.Errorf("invalid payment status %d", value)
	}
	return status, nil
}
