package orders

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/storefront-backend/api/middleware"
	"github.com/storefront/storefront-backend/api/responses"
	"github.com/storefront/storefront-backend/api/validators"
	internalorders "github.com/storefront/storefront-backend/internal/orders"
	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/pagination"
)

type createOrderItem struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Color     string    `json:"color" validate:"required,max=64"`
	Size      string    `json:"size" validate:"required,max=16"`
	Quantity  int       `json:"quantity" validate:"required,gt=0,max=1000"`
}

type createOrderRequest struct {
	Items                 []createOrderItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethodID       int               `json:"paymentMethodId" validate:"required,oneof=1 2"`
	VoucherID             *uuid.UUID        `json:"voucherId"`
	VoucherCode           string            `json:"voucherCode" validate:"max=64"`
	ShippingFullName      string            `json:"shippingFullName" validate:"required,max=255"`
	ShippingPhoneNumber   string            `json:"shippingPhoneNumber" validate:"required,max=32"`
	ShippingStreetAddress string            `json:"shippingStreetAddress" validate:"required,max=255"`
	ShippingWard          string            `json:"shippingWard" validate:"max=255"`
	ShippingDistrict      string            `json:"shippingDistrict" validate:"max=255"`
	ShippingCity          string            `json:"shippingCity" validate:"required,max=255"`
}

type cancelOrderRequest struct {
	CancelNote string `json:"cancelNote" validate:"max=500"`
}

type updateStatusRequest struct {
	OrderStatus string `json:"orderStatus" validate:"required"`
	Note        string `json:"note" validate:"max=500"`
}

type updatePaymentStatusRequest struct {
	PaymentStatusID int `json:"paymentStatusId" validate:"required"`
}

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type orderResponse struct {
	OrderID         uuid.UUID           `json:"orderId"`
	OrderStatus     enums.OrderStatus   `json:"orderStatus"`
	PaymentStatusID enums.PaymentStatus `json:"paymentStatusId"`
	PaymentStatus   string              `json:"paymentStatus"`
	PaymentMethodID enums.PaymentMethod `json:"paymentMethodId"`
	Subtotal        int64               `json:"subtotal"`
	VoucherDiscount int64               `json:"voucherDiscount"`
	ShippingFee     int64               `json:"shippingFee"`
	Total           int64               `json:"total"`
	CancelNote      *string             `json:"cancelNote,omitempty"`
	CancelledBy     *string             `json:"cancelledBy,omitempty"`
	RefundAmount    *int64              `json:"refundAmount,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

func newOrderResponse(order *models.Order) orderResponse {
	return orderResponse{
		OrderID:         order.ID,
		OrderStatus:     order.OrderStatus,
		PaymentStatusID: order.PaymentStatus,
		PaymentStatus:   order.PaymentStatus.String(),
		PaymentMethodID: order.PaymentMethod,
		Subtotal:        order.Subtotal,
		VoucherDiscount: order.VoucherDiscount,
		ShippingFee:     order.ShippingFee,
		Total:           order.Total,
		CancelNote:      order.CancelNote,
		CancelledBy:     order.CancelledBy,
		RefundAmount:    order.RefundAmount,
		CreatedAt:       order.CreatedAt,
	}
}

func actorFromRequest(r *http.Request) internalorders.Actor {
	return internalorders.Actor{
		UserID: middleware.UserIDFromContext(r.Context()),
		Role:   middleware.RoleFromContext(r.Context()),
	}
}

// Create places an order for a signed-in customer or a guest.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		items := make([]internalorders.CreateOrderItem, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, internalorders.CreateOrderItem{
				ProductID: item.ProductID,
				Color:     strings.TrimSpace(item.Color),
				Size:      strings.TrimSpace(item.Size),
				Quantity:  item.Quantity,
			})
		}

		input := internalorders.CreateOrderInput{
			Actor:         actorFromRequest(r),
			Items:         items,
			PaymentMethod: method,
			VoucherID:     payload.VoucherID,
			VoucherCode:   strings.TrimSpace(payload.VoucherCode),
			Shipping: internalorders.ShippingAddress{
				FullName:      validators.SanitizeString(payload.ShippingFullName, 255),
				PhoneNumber:   strings.TrimSpace(payload.ShippingPhoneNumber),
				StreetAddress: validators.SanitizeString(payload.ShippingStreetAddress, 255),
				Ward:          validators.SanitizeString(payload.ShippingWard, 255),
				District:      validators.SanitizeString(payload.ShippingDistrict, 255),
				City:          validators.SanitizeString(payload.ShippingCity, 255),
			},
		}

		order, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// List pages through the caller's orders; admins see every order.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := buildListFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		list, err := svc.ListOrders(r.Context(), actorFromRequest(r), params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func buildListFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("orderStatus")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid orderStatus")
		}
		filters.OrderStatus = &status
	}
	if query.Get("paymentStatusId") != "" {
		raw, err := validators.ParseQueryInt(r, "paymentStatusId", 0, 1, 5)
		if err != nil {
			return filters, err
		}
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paymentStatusId")
		}
		filters.PaymentStatus = &status
	}
	return filters, nil
}

// Detail returns the order read model.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetOrder(r.Context(), orderID, actorFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := svc.CancelOrder(r.Context(), internalorders.CancelOrderInput{
			OrderID: orderID,
			Actor:   actorFromRequest(r),
			Note:    validators.SanitizeString(payload.CancelNote, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(payload.OrderStatus)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid orderStatus"))
			return
		}

		order, err := svc.UpdateOrderStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID: orderID,
			Actor:   actorFromRequest(r),
			Status:  status,
			Note:    validators.SanitizeString(payload.Note, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func UpdatePaymentStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updatePaymentStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParsePaymentStatus(payload.PaymentStatusID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paymentStatusId"))
			return
		}

		order, err := svc.UpdatePaymentStatus(r.Context(), internalorders.UpdatePaymentStatusInput{
			OrderID: orderID,
			Actor:   actorFromRequest(r),
			Status:  status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func Refund(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Refund(r.Context(), internalorders.RefundInput{
			OrderID: orderID,
			Actor:   actorFromRequest(r),
			Amount:  payload.Amount,
			Reason:  validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
