package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/internal/catalog"
	"github.com/storefront/storefront-backend/internal/inventory"
	"github.com/storefront/storefront-backend/internal/pricing"
	"github.com/storefront/storefront-backend/internal/vouchers"
	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/storefront/storefront-backend/pkg/outbox"
	"github.com/storefront/storefront-backend/pkg/outbox/payloads"
	"github.com/storefront/storefront-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InventoryLedger reserves and returns stock inside the caller's transaction.
type InventoryLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, req inventory.ReserveRequest) error
	Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, size string, qty int) error
	TotalStock(ctx context.Context, db *gorm.DB, variantID uuid.UUID) (int, error)
	RecomputeProducts(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error
}

// MetricsRecorder receives order lifecycle counts after commit.
type MetricsRecorder interface {
	OrderCreated(paymentMethod string)
	OrderCancelled(initiator string)
	OrdersExpired(n int)
}

// Service exposes every order write path plus the read model.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CancelOrder(ctx context.Context, input CancelOrderInput) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, input UpdatePaymentStatusInput) (*models.Order, error)
	Refund(ctx context.Context, input RefundInput) (*models.Order, error)
	ExpireUnpaidOrders(ctx context.Context, cutoff time.Time, note string) (int, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error)
	ListOrders(ctx context.Context, actor Actor, params pagination.Params, filters ListFilters) (*OrderList, error)

	// LockOrder and ApplyPayment let the gateway reconciler change payment
	// state inside its own transaction.
	LockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	ApplyPayment(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.PaymentStatus, actor Actor, source string) (Effects, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repo       Repository
	Catalog    catalog.Repository
	Vouchers   vouchers.Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Ledger     InventoryLedger
	Calculator *pricing.Calculator
	Metrics    MetricsRecorder
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo     Repository
	catalog  catalog.Repository
	vouchers vouchers.Repository
	tx       txRunner
	outbox   outboxPublisher
	ledger   InventoryLedger
	calc     *pricing.Calculator
	metrics  MetricsRecorder
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Vouchers == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Calculator == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		catalog:  params.Catalog,
		vouchers: params.Vouchers,
		tx:       params.Tx,
		outbox:   params.Outbox,
		ledger:   params.Ledger,
		calc:     params.Calculator,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		products := s.catalog.WithTx(tx)
		order := &models.Order{
			UserID:                input.Actor.UserID,
			PaymentMethod:         input.PaymentMethod,
			OrderStatus:           enums.OrderStatusPending,
			PaymentStatus:         enums.PaymentStatusPending,
			ShippingFullName:      strings.TrimSpace(input.Shipping.FullName),
			ShippingPhoneNumber:   strings.TrimSpace(input.Shipping.PhoneNumber),
			ShippingStreetAddress: strings.TrimSpace(input.Shipping.StreetAddress),
			ShippingWard:          strings.TrimSpace(input.Shipping.Ward),
			ShippingDistrict:      strings.TrimSpace(input.Shipping.District),
			ShippingCity:          strings.TrimSpace(input.Shipping.City),
		}

		reservations := make([]inventory.ReserveRequest, 0, len(input.Items))
		for i, item := range input.Items {
			line, req, err := s.resolveItem(ctx, tx, products, i, item)
			if err != nil {
				return err
			}
			order.Lines = append(order.Lines, *line)
			reservations = append(reservations, req)
		}
		inventory.SortReserveRequests(reservations)
		for _, req := range reservations {
			if err := s.ledger.Reserve(ctx, tx, req); err != nil {
				return wrapDB(err, "reserve stock")
			}
		}

		priced := make([]pricing.Line, 0, len(order.Lines))
		touched := make([]uuid.UUID, 0, len(order.Lines))
		for _, line := range order.Lines {
			priced = append(priced, pricing.Line{
				OriginalPrice:   line.OriginalPrice,
				DiscountedPrice: line.DiscountedPrice,
				Quantity:        line.Quantity,
			})
			touched = append(touched, line.ProductID)
		}

		voucher, err := s.resolveVoucher(ctx, tx, input)
		if err != nil {
			return err
		}
		result, err := s.calc.Price(priced, voucher, order.ShippingCity, now)
		if err != nil {
			return err
		}
		if voucher != nil {
			if err := s.vouchers.WithTx(tx).Consume(ctx, voucher.ID); err != nil {
				if errors.Is(err, vouchers.ErrExhausted) {
					return pkgerrors.New(pkgerrors.CodeVoucherInvalid, "voucher usage limit reached").
						WithDetails(pricing.VoucherRejection{Code: pricing.RejectUsageExceeded, Reason: "voucher usage limit reached"})
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume voucher")
			}
			order.VoucherID = &voucher.ID
			for i := range order.Lines {
				order.Lines[i].VoucherID = &voucher.ID
			}
		}

		order.Subtotal = result.Subtotal
		order.VoucherDiscount = result.VoucherDiscount
		order.ShippingBaseFee = result.Shipping.Base
		order.ShippingDiscount = result.Shipping.Discount
		order.ShippingFee = result.Shipping.Final
		order.Total = result.Total

		if err := s.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		if err := s.ledger.RecomputeProducts(ctx, tx, touched); err != nil {
			return wrapDB(err, "recompute availability")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.ref(),
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				UserID:        order.UserID,
				PaymentMethod: order.PaymentMethod,
				Total:         order.Total,
				LineCount:     len(order.Lines),
				VoucherID:     order.VoucherID,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order created event")
		}
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.OrderCreated(created.PaymentMethod.String())
	}
	s.info(ctx, created.ID, "order created")
	return created, nil
}

func validateCreate(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil || strings.TrimSpace(item.Color) == "" || strings.TrimSpace(item.Size) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d requires productId, color and size", i))
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d quantity must be positive", i))
		}
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	missing := []string{}
	for _, field := range []struct{ name, value string }{
		{"fullName", input.Shipping.FullName},
		{"phoneNumber", input.Shipping.PhoneNumber},
		{"streetAddress", input.Shipping.StreetAddress},
		{"city", input.Shipping.City},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address incomplete").
			WithDetails(map[string][]string{"missing": missing})
	}
	return nil
}

// resolveItem loads the product and variant of one cart line and checks the
// variant is not sold out. Stock is reserved later, in lock order.
func (s *service) resolveItem(ctx context.Context, tx *gorm.DB, products catalog.Repository, index int, item CreateOrderItem) (*models.OrderLine, inventory.ReserveRequest, error) {
	var none inventory.ReserveRequest
	product, err := products.FindProduct(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, none, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("item %d: product not found", index))
		}
		return nil, none, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product.Availability == enums.ProductAvailabilityDraft {
		return nil, none, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is not available for purchase", product.Name))
	}
	color := strings.TrimSpace(item.Color)
	variant, err := products.FindVariantByColor(ctx, product.ID, color)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, none, pkgerrors.New(pkgerrors.CodeNotFound,
				fmt.Sprintf("item %d: color %s not found for %s", index, color, product.Name))
		}
		return nil, none, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}

	size := strings.TrimSpace(item.Size)
	total, err := s.ledger.TotalStock(ctx, tx, variant.ID)
	if err != nil {
		return nil, none, wrapDB(err, "sum variant stock")
	}
	if total == 0 {
		return nil, none, pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("%s (%s) is sold out", product.Name, variant.Color)).
			WithDetails(inventory.ShortageDetails{
				Product:   product.Name,
				Color:     variant.Color,
				Size:      size,
				Available: 0,
				Requested: item.Quantity,
			})
	}

	original := variant.OriginalPrice
	if original <= 0 {
		original = variant.Price
	}
	line := &models.OrderLine{
		ProductID:       product.ID,
		VariantID:       variant.ID,
		ProductName:     product.Name,
		Color:           variant.Color,
		Size:            size,
		Quantity:        item.Quantity,
		OriginalPrice:   original,
		DiscountedPrice: variant.Price,
		DiscountPercent: pricing.DiscountPercent(original, variant.Price),
		ImageURL:        variant.ImageURL,
	}
	req := inventory.ReserveRequest{
		VariantID: variant.ID,
		Size:      size,
		Qty:       item.Quantity,
		Product:   product.Name,
		Color:     variant.Color,
	}
	return line, req, nil
}

func (s *service) resolveVoucher(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Voucher, error) {
	repo := s.vouchers.WithTx(tx)
	var (
		voucher *models.Voucher
		err     error
	)
	switch {
	case input.VoucherID != nil:
		voucher, err = repo.FindForUpdate(ctx, *input.VoucherID)
	case strings.TrimSpace(input.VoucherCode) != "":
		voucher, err = repo.FindByCodeForUpdate(ctx, input.VoucherCode)
	default:
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, vouchers.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
	}
	return voucher, nil
}

func (s *service) CancelOrder(ctx context.Context, input CancelOrderInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == nil && !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var cancelled *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if !input.Actor.IsAdmin() && !input.Actor.Owns(order.UserID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
		}
		if err := s.cancelLocked(ctx, tx, order, input.Actor, input.Note, enums.EventOrderCanceled); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OrderCancelled(input.Actor.label())
	}
	s.info(ctx, cancelled.ID, "order cancelled")
	return cancelled, nil
}

// cancelLocked cancels an order whose row is already locked by tx, returns
// every line to stock and recomputes availability of the touched products.
func (s *service) cancelLocked(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, note string, eventType enums.OutboxEventType) error {
	if err := s.markCancelled(ctx, tx, order, actor, note, eventType); err != nil {
		return err
	}
	return s.releaseLines(ctx, tx, order.Lines)
}

// markCancelled moves a locked order to cancelled and records the event. Stock
// is left to the caller so a batch can release it in one ordered pass.
func (s *service) markCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, note string, eventType enums.OutboxEventType) error {
	now := s.now()
	if _, err := ApplyOrderStatus(order, enums.OrderStatusCancelled, now); err != nil {
		return err
	}
	by := actor.label()
	order.CancelledBy = &by
	if note = strings.TrimSpace(note); note != "" {
		order.CancelNote = &note
	}
	if err := s.repo.WithTx(tx).SaveStatus(ctx, order); err != nil {
		return wrapDB(err, "save cancelled order")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.ref(),
		Data: payloads.OrderCanceledEvent{
			OrderID:       order.ID,
			CancelledBy:   by,
			Reason:        note,
			PaymentStatus: order.PaymentStatus,
			CancelledAt:   now,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("emit %s event", eventType))
	}
	return nil
}

// releaseLines returns stock in lock order, then recomputes availability.
func (s *service) releaseLines(ctx context.Context, tx *gorm.DB, lines []models.OrderLine) error {
	ordered := slices.Clone(lines)
	slices.SortStableFunc(ordered, func(a, b models.OrderLine) int {
		return inventory.CompareUnits(a.VariantID, a.Size, b.VariantID, b.Size)
	})
	touched := make([]uuid.UUID, 0, len(ordered))
	for _, line := range ordered {
		if err := s.ledger.Release(ctx, tx, line.VariantID, line.Size, line.Quantity); err != nil {
			return wrapDB(err, "release stock")
		}
		touched = append(touched, line.ProductID)
	}
	if err := s.ledger.RecomputeProducts(ctx, tx, touched); err != nil {
		return wrapDB(err, "recompute availability")
	}
	return nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}

	var (
		updated   *models.Order
		cancelled bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		updated = order
		if input.Status == enums.OrderStatusCancelled {
			cancelled = true
			return s.cancelLocked(ctx, tx, order, input.Actor, input.Note, enums.EventOrderCanceled)
		}

		from := order.OrderStatus
		paymentFrom := order.PaymentStatus
		effects, err := ApplyOrderStatus(order, input.Status, s.now())
		if err != nil {
			return err
		}
		if effects.Noop {
			return nil
		}
		if err := s.repo.WithTx(tx).SaveStatus(ctx, order); err != nil {
			return wrapDB(err, "save order status")
		}
		if err := s.emitStatusChanged(ctx, tx, order.ID, from, order.OrderStatus, input.Actor); err != nil {
			return err
		}
		if effects.AutoPaid {
			return s.emitPaymentChanged(ctx, tx, order.ID, paymentFrom, order.PaymentStatus, input.Actor, "cod_delivery")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cancelled && s.metrics != nil {
		s.metrics.OrderCancelled(input.Actor.label())
	}
	return updated, nil
}

func (s *service) UpdatePaymentStatus(ctx context.Context, input UpdatePaymentStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.Status == enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refunds require an amount and reason; use the refund operation")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if _, err := s.ApplyPayment(ctx, tx, order, input.Status, input.Actor, "admin"); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LockOrder loads an order and its lines under a row lock held by tx.
func (s *service) LockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// ApplyPayment changes the payment status of a locked order, persists it and
// queues the matching events.
func (s *service) ApplyPayment(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.PaymentStatus, actor Actor, source string) (Effects, error) {
	orderFrom := order.OrderStatus
	effects, err := ApplyPaymentStatus(order, to, s.now())
	if err != nil || effects.Noop {
		return effects, err
	}
	if err := s.repo.WithTx(tx).SaveStatus(ctx, order); err != nil {
		return effects, wrapDB(err, "save payment status")
	}
	if err := s.emitPaymentChanged(ctx, tx, order.ID, effects.PaymentFrom, to, actor, source); err != nil {
		return effects, err
	}
	if effects.Advanced {
		if err := s.emitStatusChanged(ctx, tx, order.ID, orderFrom, order.OrderStatus, actor); err != nil {
			return effects, err
		}
	}
	return effects, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}

	var refunded *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if err := ApplyRefund(order, input.Amount, reason, s.now()); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).SaveStatus(ctx, order); err != nil {
			return wrapDB(err, "save refund")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.ref(),
			Data:          payloads.OrderRefundedEvent{OrderID: order.ID, Amount: input.Amount, Reason: reason},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order refunded event")
		}
		refunded = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// ExpireUnpaidOrders cancels every pending gateway order created before
// cutoff that is still unpaid. The whole batch commits or rolls back together.
func (s *service) ExpireUnpaidOrders(ctx context.Context, cutoff time.Time, note string) (int, error) {
	expired := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		expired = 0
		candidates, err := s.repo.WithTx(tx).FindExpirableForUpdate(ctx, cutoff)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expirable orders")
		}
		var lines []models.OrderLine
		for i := range candidates {
			order := &candidates[i]
			if order.PaymentStatus == enums.PaymentStatusPaid || order.OrderStatus != enums.OrderStatusPending {
				continue
			}
			if err := s.markCancelled(ctx, tx, order, Actor{}, note, enums.EventOrderExpired); err != nil {
				return fmt.Errorf("expire order %s: %w", order.ID, err)
			}
			lines = append(lines, order.Lines...)
			expired++
		}
		return s.releaseLines(ctx, tx, lines)
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.OrdersExpired(expired)
	}
	return expired, nil
}

// GetOrder returns the read model. Guest orders are readable by id.
func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error) {
	detail, err := s.repo.FindOrderDetail(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if detail.UserID != nil && !actor.IsAdmin() && !actor.Owns(detail.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
	}
	return detail, nil
}

func (s *service) ListOrders(ctx context.Context, actor Actor, params pagination.Params, filters ListFilters) (*OrderList, error) {
	var userID *uuid.UUID
	switch {
	case actor.IsAdmin():
	case actor.UserID != nil:
		userID = actor.UserID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.ListOrders(ctx, userID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from, to enums.OrderStatus, actor Actor) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor.ref(),
		Data:          payloads.OrderStatusChangedEvent{OrderID: orderID, From: from, To: to},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order status event")
	}
	return nil
}

func (s *service) emitPaymentChanged(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from, to enums.PaymentStatus, actor Actor, source string) error {
	eventType := enums.EventPaymentStatusChanged
	if to == enums.PaymentStatusPaid {
		eventType = enums.EventOrderPaid
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor.ref(),
		Data:          payloads.PaymentStatusChangedEvent{OrderID: orderID, From: from, To: to, Source: source},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment status event")
	}
	return nil
}

func (s *service) info(ctx context.Context, orderID uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), msg)
}

// wrapDB keeps typed errors and classifies everything else as a dependency
// failure.
func wrapDB(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
