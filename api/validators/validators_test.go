package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
)

type sampleBody struct {
	Quantity int    `json:"quantity" validate:"gt=0"`
	Color    string `json:"color" validate:"required"`
	Method   string `json:"method" validate:"oneof=cod gateway"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0,"method":"card"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["quantity"] != "must be greater than 0" || details["color"] != "is required" {
		t.Fatalf("unexpected details %v", details)
	}
	if !strings.HasPrefix(details["method"], "must be one of") {
		t.Fatalf("unexpected method detail %q", details["method"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"color":"red","method":"cod","price":1}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=500", nil)
	if v, err := ParseQueryInt(req, "limit", 10, 1, 100); err != nil || v != 20 {
		t.Fatalf("unexpected result %d %v", v, err)
	}
	if v, err := ParseQueryInt(req, "missing", 10, 1, 100); err != nil || v != 10 {
		t.Fatalf("expected default, got %d %v", v, err)
	}
	if _, err := ParseQueryInt(req, "bad", 10, 1, 100); err == nil {
		t.Fatalf("expected numeric error")
	}
	if _, err := ParseQueryInt(req, "big", 10, 1, 100); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	got, err := ParseUUIDParam(req, "orderId")
	if err != nil || got != id {
		t.Fatalf("unexpected result %s %v", got, err)
	}

	rctx.URLParams.Add("other", "nope")
	if _, err := ParseUUIDParam(req, "other"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 3); got != "hel" {
		t.Fatalf("unexpected %q", got)
	}
}
