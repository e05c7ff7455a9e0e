package gateway

import (
	"errors"

	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
)

// IPNResponse is the body the gateway expects from the IPN endpoint. It is
// always sent with HTTP 200.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

const (
	RspConfirmed        = "00"
	RspOrderNotFound    = "01"
	RspAlreadyConfirmed = "02"
	RspInvalidAmount    = "04"
	RspInvalidSignature = "97"
	RspUnknown          = "99"
)

// IPNResponseFor maps the outcome of VerifyAndApply to the gateway's codes.
func IPNResponseFor(result *Result, err error) IPNResponse {
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid):
			return IPNResponse{RspCode: RspInvalidSignature, Message: "Invalid signature"}
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			return IPNResponse{RspCode: RspOrderNotFound, Message: "Order not found"}
		case errors.Is(err, ErrInvalidAmount):
			return IPNResponse{RspCode: RspInvalidAmount, Message: "Invalid amount"}
		default:
			return IPNResponse{RspCode: RspUnknown, Message: "Unknown error"}
		}
	}
	if result == nil {
		return IPNResponse{RspCode: RspUnknown, Message: "Unknown error"}
	}
	switch result.Outcome {
	case OutcomeAlreadyProcessed, OutcomeAlreadyPaid, OutcomeOrderCancelled:
		return IPNResponse{RspCode: RspAlreadyConfirmed, Message: "Order already confirmed"}
	default:
		return IPNResponse{RspCode: RspConfirmed, Message: "Confirm Success"}
	}
}
