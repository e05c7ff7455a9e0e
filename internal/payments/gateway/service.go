package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/internal/orders"
	"github.com/storefront/storefront-backend/pkg/config"
	dbpkg "github.com/storefront/storefront-backend/pkg/db"
	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
)

const (
	timeLayout      = "20060102150405"
	responseSuccess = "00"
)

// Sources of a notification.
const (
	SourceIPN    = "ipn"
	SourceReturn = "return"
)

// Outcome is what a verified notification did to the order.
type Outcome string

const (
	OutcomePaid             Outcome = "paid"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeAlreadyPaid      Outcome = "already_paid"
	OutcomeOrderCancelled   Outcome = "order_cancelled"
	OutcomeIgnored          Outcome = "ignored"
)

// ErrInvalidAmount marks a notification whose amount differs from the order
// total.
var ErrInvalidAmount = errors.New("payment amount does not match order total")

var gatewayZone = time.FixedZone("GMT+7", 7*60*60)

// Notification is the parsed view of a signed callback.
type Notification struct {
	OrderID           uuid.UUID
	TxnRef            string
	TransactionNo     string
	ResponseCode      string
	TransactionStatus string
	Amount            int64
}

// Succeeded reports whether the gateway confirmed the charge.
func (n Notification) Succeeded() bool {
	return n.ResponseCode == responseSuccess && (n.TransactionStatus == "" || n.TransactionStatus == responseSuccess)
}

// Result is returned to the return-URL and IPN handlers.
type Result struct {
	OrderID       uuid.UUID           `json:"orderId"`
	Outcome       Outcome             `json:"outcome"`
	Success       bool                `json:"success"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatusId"`
	ResponseCode  string              `json:"responseCode"`
}

// PaymentStatusView answers GET /payments/check-status.
type PaymentStatusView struct {
	Paid          bool                `json:"paid"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatusId"`
}

type CreatePaymentURLInput struct {
	OrderID   uuid.UUID
	Amount    int64
	OrderInfo string
	ClientIP  string
	Actor     orders.Actor
}

type orderReader interface {
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// OrderPayments is the part of the order service the reconciler drives.
type OrderPayments interface {
	LockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	ApplyPayment(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.PaymentStatus, actor orders.Actor, source string) (orders.Effects, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReconcileRecorder counts processed notifications.
type ReconcileRecorder interface {
	Reconciled(source, outcome string)
}

type ServiceParams struct {
	Config   config.GatewayConfig
	Orders   orderReader
	Payments OrderPayments
	Repo     Repository
	Tx       txRunner
	Guard    *IdempotencyGuard
	Metrics  ReconcileRecorder
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	cfg      config.GatewayConfig
	signer   *Signer
	orders   orderReader
	payments OrderPayments
	repo     Repository
	tx       txRunner
	guard    *IdempotencyGuard
	metrics  ReconcileRecorder
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config.HashSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway hash secret required")
	}
	if params.Config.TmnCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway terminal code required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order reader required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order payments required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment transaction repo required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:      params.Config,
		signer:   NewSigner(params.Config.HashSecret),
		orders:   params.Orders,
		payments: params.Payments,
		repo:     params.Repo,
		tx:       params.Tx,
		guard:    params.Guard,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// CreatePaymentURL returns a signed redirect URL for an unpaid gateway order.
// A zero amount charges the order total; any other amount must equal it.
func (s *Service) CreatePaymentURL(ctx context.Context, input CreatePaymentURLInput) (string, error) {
	if input.OrderID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindOrder(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.UserID != nil && !input.Actor.IsAdmin() && !input.Actor.Owns(order.UserID) {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
	}
	if order.PaymentMethod != enums.PaymentMethodGateway {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order is not paid through the gateway")
	}
	if order.OrderStatus == enums.OrderStatusCancelled || order.PaymentStatus.IsFinal() {
		return "", pkgerrors.New(pkgerrors.CodeConflict, "order can no longer be paid")
	}
	amount := input.Amount
	if amount == 0 {
		amount = order.Total
	}
	if amount != order.Total {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "amount must equal the order total").
			WithDetails(map[string]int64{"amount": amount, "total": order.Total})
	}

	info := strings.TrimSpace(input.OrderInfo)
	if info == "" {
		info = "Thanh toan don hang " + order.ID.String()
	}
	ip := input.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	created := s.now().In(gatewayZone)
	params := url.Values{}
	params.Set("vnp_Version", s.cfg.Version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", s.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", fmt.Sprintf("%s_%d", order.ID, created.UnixMilli()))
	params.Set("vnp_OrderInfo", info)
	params.Set("vnp_OrderType", s.cfg.OrderType)
	params.Set("vnp_Locale", s.cfg.Locale)
	params.Set("vnp_ReturnUrl", s.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", created.Format(timeLayout))
	params.Set("vnp_ExpireDate", created.Add(s.cfg.ExpireAfter()).Format(timeLayout))

	return s.cfg.PayURL + "?" + CanonicalQuery(params) + "&" + paramSecureHash + "=" + s.signer.Sign(params), nil
}

// ParseNotification verifies the signature and extracts the fields the
// reconciler needs.
func (s *Service) ParseNotification(values url.Values) (*Notification, error) {
	if !s.signer.Verify(values) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "gateway signature mismatch")
	}
	txnRef := values.Get("vnp_TxnRef")
	orderID, err := orderIDFromTxnRef(txnRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
	}
	rawAmount, err := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	if err != nil || rawAmount < 0 || rawAmount%100 != 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "invalid amount")
	}
	return &Notification{
		OrderID:           orderID,
		TxnRef:            txnRef,
		TransactionNo:     values.Get("vnp_TransactionNo"),
		ResponseCode:      values.Get("vnp_ResponseCode"),
		TransactionStatus: values.Get("vnp_TransactionStatus"),
		Amount:            rawAmount / 100,
	}, nil
}

// orderIDFromTxnRef takes the order id before the first underscore of a
// "<orderId>_<timestamp>" reference.
func orderIDFromTxnRef(ref string) (uuid.UUID, error) {
	id, _, found := strings.Cut(ref, "_")
	if !found || id == "" {
		return uuid.Nil, fmt.Errorf("malformed txn ref %q", ref)
	}
	return uuid.Parse(id)
}

var errDuplicateNotification = errors.New("notification already applied")

// VerifyAndApply verifies a callback and applies it to the order exactly
// once. Replays of the same (txn ref, transaction no) pair are reported as
// already processed without touching state.
func (s *Service) VerifyAndApply(ctx context.Context, values url.Values, source string) (*Result, error) {
	note, err := s.ParseNotification(values)
	if err != nil {
		s.record(source, "rejected")
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, note.OrderID.String())
	}

	dedupKey := note.TxnRef + ":" + note.TransactionNo
	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, dedupKey)
		if err != nil {
			s.warn(ctx, "gateway idempotency guard unavailable", err)
		} else if seen {
			return s.replayResult(ctx, note, source)
		}
	}

	var result *Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.payments.LockOrder(ctx, tx, note.OrderID)
		if err != nil {
			return err
		}
		if note.Amount != order.Total {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "amount mismatch").
				WithDetails(map[string]int64{"amount": note.Amount, "total": order.Total})
		}

		outcome, target := decide(order, note)
		if err := s.repo.WithTx(tx).InsertTransaction(ctx, &models.PaymentTransaction{
			OrderID:       order.ID,
			TxnRef:        note.TxnRef,
			TransactionNo: note.TransactionNo,
			ResponseCode:  note.ResponseCode,
			Amount:        note.Amount,
			Source:        source,
			Outcome:       string(outcome),
		}); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return errDuplicateNotification
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment transaction")
		}
		if target != 0 {
			if _, err := s.payments.ApplyPayment(ctx, tx, order, target, orders.Actor{}, "gateway_"+source); err != nil {
				return err
			}
		}
		result = &Result{
			OrderID:       order.ID,
			Outcome:       outcome,
			Success:       note.Succeeded(),
			PaymentStatus: order.PaymentStatus,
			ResponseCode:  note.ResponseCode,
		}
		return nil
	})
	if errors.Is(err, errDuplicateNotification) {
		return s.replayResult(ctx, note, source)
	}
	if err != nil {
		if s.guard != nil {
			if delErr := s.guard.Delete(ctx, dedupKey); delErr != nil {
				s.warn(ctx, "failed to clear gateway idempotency key", delErr)
			}
		}
		s.record(source, "error")
		return nil, err
	}

	s.record(source, string(result.Outcome))
	if result.Outcome == OutcomeOrderCancelled && s.logg != nil {
		s.logg.Warn(ctx, "gateway confirmed payment for a cancelled order")
	}
	return result, nil
}

// decide picks the outcome of a notification against the locked order and
// the payment status to move to, zero meaning no change. An order whose
// payment is already final is never touched.
func decide(order *models.Order, note *Notification) (Outcome, enums.PaymentStatus) {
	if note.Succeeded() {
		switch {
		case order.PaymentStatus == enums.PaymentStatusPaid || order.PaymentStatus == enums.PaymentStatusRefunded:
			return OutcomeAlreadyPaid, 0
		case order.OrderStatus == enums.OrderStatusCancelled || order.PaymentStatus == enums.PaymentStatusCancelled:
			return OutcomeOrderCancelled, 0
		default:
			return OutcomePaid, enums.PaymentStatusPaid
		}
	}
	if order.PaymentStatus == enums.PaymentStatusPending {
		return OutcomeFailed, enums.PaymentStatusFailed
	}
	return OutcomeIgnored, 0
}

func (s *Service) replayResult(ctx context.Context, note *Notification, source string) (*Result, error) {
	s.record(source, string(OutcomeAlreadyProcessed))
	result := &Result{
		OrderID:      note.OrderID,
		Outcome:      OutcomeAlreadyProcessed,
		Success:      note.Succeeded(),
		ResponseCode: note.ResponseCode,
	}
	order, err := s.orders.FindOrder(ctx, note.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	result.PaymentStatus = order.PaymentStatus
	return result, nil
}

// CheckStatus reports whether the order has been paid.
func (s *Service) CheckStatus(ctx context.Context, orderID uuid.UUID) (*PaymentStatusView, error) {
	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &PaymentStatusView{
		Paid:          order.PaymentStatus == enums.PaymentStatusPaid,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

func (s *Service) record(source, outcome string) {
	if s.metrics != nil {
		s.metrics.Reconciled(source, outcome)
	}
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}
