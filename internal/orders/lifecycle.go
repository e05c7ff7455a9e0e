package orders

import (
	"fmt"
	"time"

	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
)

// Effects describes what the caller must do after a lifecycle change has been
// applied to an order in memory.
type Effects struct {
	// Noop is set when the requested status equals the current one.
	Noop bool
	// ReleaseInventory is set on every transition into cancelled.
	ReleaseInventory bool
	// Advanced is set when a payment moved a pending order to processing.
	Advanced bool
	// AutoPaid is set when delivering a cash-on-delivery order settled it.
	AutoPaid bool
	// PaymentFrom is the payment status before the change.
	PaymentFrom enums.PaymentStatus
}

var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
}

var paymentTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {enums.PaymentStatusPaid, enums.PaymentStatusFailed, enums.PaymentStatusCancelled},
	enums.PaymentStatusFailed:  {enums.PaymentStatusPaid, enums.PaymentStatusPending, enums.PaymentStatusCancelled},
	enums.PaymentStatusPaid:    {enums.PaymentStatusRefunded},
}

type transitionDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func invalidTransition(kind, from, to string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("%s cannot move from %s to %s", kind, from, to)).
		WithDetails(transitionDetails{From: from, To: to})
}

// CheckOrderTransition reports whether an order may move from one status to
// another. noop is true for a request to the current non-terminal status.
func CheckOrderTransition(from, to enums.OrderStatus) (noop bool, err error) {
	if !to.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", to))
	}
	if from.IsTerminal() {
		return false, invalidTransition("order", from.String(), to.String())
	}
	if from == to {
		return true, nil
	}
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return false, nil
		}
	}
	return false, invalidTransition("order", from.String(), to.String())
}

// CheckPaymentTransition mirrors CheckOrderTransition for payment status.
func CheckPaymentTransition(from, to enums.PaymentStatus) (noop bool, err error) {
	if !to.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment status %d", int(to)))
	}
	if _, open := paymentTransitions[from]; !open {
		return false, invalidTransition("payment", from.String(), to.String())
	}
	if from == to {
		return true, nil
	}
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return false, nil
		}
	}
	return false, invalidTransition("payment", from.String(), to.String())
}

// ApplyOrderStatus moves the order to the target status and stamps the
// matching timestamps. It does not touch inventory.
func ApplyOrderStatus(order *models.Order, to enums.OrderStatus, now time.Time) (Effects, error) {
	effects := Effects{PaymentFrom: order.PaymentStatus}
	noop, err := CheckOrderTransition(order.OrderStatus, to)
	if err != nil {
		return effects, err
	}
	if noop {
		effects.Noop = true
		return effects, nil
	}

	order.OrderStatus = to
	switch to {
	case enums.OrderStatusCancelled:
		effects.ReleaseInventory = true
		order.CancelledAt = &now
		if order.PaymentStatus == enums.PaymentStatusPending || order.PaymentStatus == enums.PaymentStatusFailed {
			order.PaymentStatus = enums.PaymentStatusCancelled
		}
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &now
		if order.PaymentMethod == enums.PaymentMethodCOD && order.PaymentStatus == enums.PaymentStatusPending {
			order.PaymentStatus = enums.PaymentStatusPaid
			order.PaidAt = &now
			effects.AutoPaid = true
		}
	}
	return effects, nil
}

// ApplyPaymentStatus moves the payment to the target status. Paying a pending
// order advances it to processing; a cancelled order cannot be paid.
func ApplyPaymentStatus(order *models.Order, to enums.PaymentStatus, now time.Time) (Effects, error) {
	effects := Effects{PaymentFrom: order.PaymentStatus}
	noop, err := CheckPaymentTransition(order.PaymentStatus, to)
	if err != nil {
		return effects, err
	}
	if noop {
		effects.Noop = true
		return effects, nil
	}
	if to == enums.PaymentStatusPaid && order.OrderStatus == enums.OrderStatusCancelled {
		return effects, invalidTransition("payment", order.PaymentStatus.String(), to.String())
	}

	order.PaymentStatus = to
	switch to {
	case enums.PaymentStatusPaid:
		order.PaidAt = &now
		if order.OrderStatus == enums.OrderStatusPending {
			order.OrderStatus = enums.OrderStatusProcessing
			effects.Advanced = true
		}
	case enums.PaymentStatusRefunded:
		order.RefundedAt = &now
	}
	return effects, nil
}

// ApplyRefund records a refund against a paid order. The order status is
// left as is.
func ApplyRefund(order *models.Order, amount int64, reason string, now time.Time) error {
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return invalidTransition("payment", order.PaymentStatus.String(), enums.PaymentStatusRefunded.String())
	}
	if amount <= 0 || amount > order.Total {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and not exceed the order total").
			WithDetails(map[string]int64{"amount": amount, "total": order.Total})
	}
	order.PaymentStatus = enums.PaymentStatusRefunded
	order.RefundAmount = &amount
	order.RefundReason = &reason
	order.RefundedAt = &now
	return nil
}
