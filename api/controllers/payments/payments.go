package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/storefront/storefront-backend/api/middleware"
	"github.com/storefront/storefront-backend/api/responses"
	"github.com/storefront/storefront-backend/api/validators"
	internalorders "github.com/storefront/storefront-backend/internal/orders"
	"github.com/storefront/storefront-backend/internal/payments/gateway"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
)

const maxCallbackBody = 64 << 10

// Gateway is the reconciler surface the handlers drive.
type Gateway interface {
	CreatePaymentURL(ctx context.Context, input gateway.CreatePaymentURLInput) (string, error)
	VerifyAndApply(ctx context.Context, values url.Values, source string) (*gateway.Result, error)
	CheckStatus(ctx context.Context, orderID uuid.UUID) (*gateway.PaymentStatusView, error)
}

type createPaymentURLRequest struct {
	OrderID   uuid.UUID `json:"orderId" validate:"required"`
	Amount    int64     `json:"amount" validate:"gte=0"`
	OrderInfo string    `json:"orderInfo" validate:"max=255"`
}

type createPaymentURLResponse struct {
	PaymentURL string `json:"paymentUrl"`
}

func CreatePaymentURL(svc Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway unavailable"))
			return
		}

		var payload createPaymentURLRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentURL, err := svc.CreatePaymentURL(r.Context(), gateway.CreatePaymentURLInput{
			OrderID:   payload.OrderID,
			Amount:    payload.Amount,
			OrderInfo: validators.SanitizeString(payload.OrderInfo, 255),
			ClientIP:  middleware.ClientIP(r),
			Actor: internalorders.Actor{
				UserID: middleware.UserIDFromContext(r.Context()),
				Role:   middleware.RoleFromContext(r.Context()),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, createPaymentURLResponse{PaymentURL: paymentURL})
	}
}

// Return handles the customer's redirect back from the gateway. Parameters
// arrive either on the query string or as a JSON object posted by the
// storefront.
func Return(svc Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway unavailable"))
			return
		}

		values, err := callbackValues(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.VerifyAndApply(r.Context(), values, gateway.SourceReturn)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// IPN answers the gateway's server-to-server notification. The gateway only
// reads RspCode, so the status is always 200.
func IPN(svc Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteJSON(w, http.StatusOK, gateway.IPNResponseFor(nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway unavailable")))
			return
		}

		result, err := svc.VerifyAndApply(r.Context(), r.URL.Query(), gateway.SourceIPN)
		if err != nil && logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"txn_ref":    r.URL.Query().Get("vnp_TxnRef"),
				"error_code": string(pkgerrors.Dump(err).Code),
			})
			if pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				logg.Warn(ctx, "gateway.ipn.rejected")
			} else {
				logg.Error(ctx, "gateway.ipn.failed", err)
			}
		}
		responses.WriteJSON(w, http.StatusOK, gateway.IPNResponseFor(result, err))
	}
}

func CheckStatus(svc Gateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.CheckStatus(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func callbackValues(r *http.Request) (url.Values, error) {
	values := r.URL.Query()
	if r.Method != http.MethodPost || r.ContentLength == 0 {
		return values, nil
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := r.ParseForm(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback form")
		}
		for key, vals := range r.PostForm {
			for _, v := range vals {
				values.Add(key, v)
			}
		}
		return values, nil
	}

	var body map[string]any
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback body")
	}
	for key, raw := range body {
		switch v := raw.(type) {
		case nil:
			continue
		case string:
			values.Set(key, v)
		default:
			values.Set(key, fmt.Sprint(v))
		}
	}
	return values, nil
}
