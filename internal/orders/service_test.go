package orders

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/storefront/storefront-backend/internal/catalog"
	"github.com/storefront/storefront-backend/internal/inventory"
	"github.com/storefront/storefront-backend/internal/pricing"
	"github.com/storefront/storefront-backend/internal/vouchers"
	"github.com/storefront/storefront-backend/pkg/config"
	dbpkg "github.com/storefront/storefront-backend/pkg/db"
	"github.com/storefront/storefront-backend/pkg/db/dbtest"
	"github.com/storefront/storefront-backend/pkg/db/models"
	"github.com/storefront/storefront-backend/pkg/enums"
	pkgerrors "github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/outbox"
	"github.com/storefront/storefront-backend/pkg/pagination"
)

type countingMetrics struct {
	mu        sync.Mutex
	created   int
	cancelled map[string]int
	expired   int
}

func (m *countingMetrics) OrderCreated(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *countingMetrics) OrderCancelled(initiator string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled == nil {
		m.cancelled = map[string]int{}
	}
	m.cancelled[initiator]++
}

func (m *countingMetrics) OrdersExpired(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired += n
}

var shippingDefaults = config.ShippingConfig{
	MetroAFee:           30000,
	MetroBFee:           35000,
	OtherFee:            50000,
	FreeShipThreshold:   1000000,
	FreeShipMaxDiscount: 100000,
}

func newTestService(t *testing.T, db *gorm.DB) (Service, *countingMetrics) {
	return newTestServiceWith(t, db, nil, nil)
}

// newTestServiceWith swaps in the given ledger or outbox when non-nil.
func newTestServiceWith(t *testing.T, db *gorm.DB, ledger InventoryLedger, out outboxPublisher) (Service, *countingMetrics) {
	t.Helper()
	if ledger == nil {
		ledger = inventory.NewLedger(nil)
	}
	if out == nil {
		out = outbox.NewService(outbox.NewRepository(db), nil)
	}
	metrics := &countingMetrics{}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(db),
		Catalog:    catalog.NewRepository(db),
		Vouchers:   vouchers.NewRepository(db),
		Tx:         dbpkg.FromConn(db),
		Outbox:     out,
		Ledger:     ledger,
		Calculator: pricing.NewCalculator(shippingDefaults),
		Metrics:    metrics,
	})
	require.NoError(t, err)
	return svc, metrics
}

// recordingLedger logs the stock units and products a real ledger touches.
type recordingLedger struct {
	*inventory.Ledger
	reserved   []string
	released   []string
	recomputed [][]uuid.UUID
}

func unitKey(variantID uuid.UUID, size string) string {
	return variantID.String() + "/" + size
}

func (r *recordingLedger) Reserve(ctx context.Context, tx *gorm.DB, req inventory.ReserveRequest) error {
	r.reserved = append(r.reserved, unitKey(req.VariantID, req.Size))
	return r.Ledger.Reserve(ctx, tx, req)
}

func (r *recordingLedger) Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, size string, qty int) error {
	r.released = append(r.released, unitKey(variantID, size))
	return r.Ledger.Release(ctx, tx, variantID, size, qty)
}

func (r *recordingLedger) RecomputeProducts(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error {
	r.recomputed = append(r.recomputed, inventory.DistinctSorted(productIDs))
	return r.Ledger.RecomputeProducts(ctx, tx, productIDs)
}

// failingExpiryOutbox rejects the nth order_expired event.
type failingExpiryOutbox struct {
	next   outboxPublisher
	failAt int
	seen   int
}

func (f *failingExpiryOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if event.EventType == enums.EventOrderExpired {
		f.seen++
		if f.seen == f.failAt {
			return errors.New("outbox insert failed")
		}
	}
	return f.next.Emit(ctx, tx, event)
}

func sortedUnits(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return out
}

func address() ShippingAddress {
	return ShippingAddress{
		FullName:      "Nguyen Van A",
		PhoneNumber:   "0901234567",
		StreetAddress: "12 Trang Tien",
		District:      "Hoan Kiem",
		City:          "Hà Nội",
	}
}

func customer() Actor {
	id := uuid.New()
	return Actor{UserID: &id, Role: enums.RoleCustomer}
}

func admin() Actor {
	id := uuid.New()
	return Actor{UserID: &id, Role: enums.RoleAdmin}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestCreateOrderReservesAndPrices(t *testing.T) {
	db := dbtest.Open(t)
	svc, metrics := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Linen Shirt", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "white", Price: 100000, OriginalPrice: 125000, Sizes: map[string]int{"M": 3}},
	)
	voucher := dbtest.SeedVoucher(t, db, "SAVE10", enums.VoucherTypePercentage, 10, nil)
	variant := product.Variants[0]

	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Actor:         customer(),
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "white", Size: "M", Quantity: 2}},
		PaymentMethod: enums.PaymentMethodGateway,
		VoucherID:     &voucher.ID,
		Shipping:      address(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(200000), order.Subtotal)
	assert.Equal(t, int64(20000), order.VoucherDiscount)
	assert.Equal(t, int64(30000), order.ShippingFee)
	assert.Equal(t, int64(210000), order.Total)
	assert.Equal(t, order.Subtotal-order.VoucherDiscount+order.ShippingFee, order.Total)
	assert.Equal(t, enums.OrderStatusPending, order.OrderStatus)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)

	require.Len(t, order.Lines, 1)
	line := order.Lines[0]
	assert.Equal(t, 20, line.DiscountPercent)
	assert.Equal(t, int64(125000), line.OriginalPrice)
	assert.Equal(t, &voucher.ID, line.VoucherID)

	assert.Equal(t, 1, dbtest.Stock(t, db, variant.ID, "M"))
	assert.Equal(t, enums.ProductAvailabilityActive, dbtest.Availability(t, db, product.ID))

	var reloaded models.Voucher
	require.NoError(t, db.First(&reloaded, "id = ?", voucher.ID).Error)
	assert.Equal(t, 1, reloaded.UsageCount)
	assert.Equal(t, int64(1), countRows(t, db, &models.OutboxEvent{}))
	assert.Equal(t, 1, metrics.created)
}

func TestCreateOrderLastUnitsFlipOutOfStock(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Scarf", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "red", Price: 90000, Sizes: map[string]int{"ONE": 3}},
	)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "red", Size: "ONE", Quantity: 3}},
		PaymentMethod: enums.PaymentMethodCOD,
		Shipping:      address(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, dbtest.Stock(t, db, product.Variants[0].ID, "ONE"))
	assert.Equal(t, enums.ProductAvailabilityOutOfStock, dbtest.Availability(t, db, product.ID))
}

func TestCreateOrderIsAtomicWhenALineFails(t *testing.T) {
	db := dbtest.Open(t)
	svc, metrics := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Sneaker", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "black", Price: 500000, Sizes: map[string]int{"40": 5, "41": 5}},
		dbtest.VariantSeed{Color: "white", Price: 500000, Sizes: map[string]int{"42": 1}},
	)
	black, white := product.Variants[0], product.Variants[1]

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Actor: customer(),
		Items: []CreateOrderItem{
			{ProductID: product.ID, Color: "black", Size: "40", Quantity: 2},
			{ProductID: product.ID, Color: "black", Size: "41", Quantity: 1},
			{ProductID: product.ID, Color: "white", Size: "42", Quantity: 2},
		},
		PaymentMethod: enums.PaymentMethodCOD,
		Shipping:      address(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	details, ok := pkgerrors.As(err).Details().(inventory.ShortageDetails)
	require.True(t, ok)
	assert.Equal(t, 1, details.Available)
	assert.Equal(t, 2, details.Requested)

	assert.Equal(t, 5, dbtest.Stock(t, db, black.ID, "40"))
	assert.Equal(t, 5, dbtest.Stock(t, db, black.ID, "41"))
	assert.Equal(t, 1, dbtest.Stock(t, db, white.ID, "42"))
	assert.Zero(t, countRows(t, db, &models.Order{}))
	assert.Zero(t, countRows(t, db, &models.OrderLine{}))
	assert.Zero(t, countRows(t, db, &models.OutboxEvent{}))
	assert.Zero(t, metrics.created)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	draft := dbtest.SeedProduct(t, db, "Preview Jacket", enums.ProductAvailabilityDraft,
		dbtest.VariantSeed{Color: "olive", Price: 700000, Sizes: map[string]int{"L": 4}},
	)
	live := dbtest.SeedProduct(t, db, "Cap", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "navy", Price: 150000, Sizes: map[string]int{"ONE": 4}},
	)

	tests := []struct {
		name  string
		input CreateOrderInput
		code  pkgerrors.Code
	}{
		{"empty cart", CreateOrderInput{PaymentMethod: enums.PaymentMethodCOD, Shipping: address()}, pkgerrors.CodeValidation},
		{"missing address", CreateOrderInput{
			Items:         []CreateOrderItem{{ProductID: live.ID, Color: "navy", Size: "ONE", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodCOD,
		}, pkgerrors.CodeValidation},
		{"draft product", CreateOrderInput{
			Items:         []CreateOrderItem{{ProductID: draft.ID, Color: "olive", Size: "L", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodCOD,
			Shipping:      address(),
		}, pkgerrors.CodeValidation},
		{"unknown color", CreateOrderInput{
			Items:         []CreateOrderItem{{ProductID: live.ID, Color: "pink", Size: "ONE", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodCOD,
			Shipping:      address(),
		}, pkgerrors.CodeNotFound},
		{"unknown size", CreateOrderInput{
			Items:         []CreateOrderItem{{ProductID: live.ID, Color: "navy", Size: "XXL", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodCOD,
			Shipping:      address(),
		}, pkgerrors.CodeNotFound},
		{"unknown voucher", CreateOrderInput{
			Items:         []CreateOrderItem{{ProductID: live.ID, Color: "navy", Size: "ONE", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodCOD,
			VoucherCode:   "NOPE",
			Shipping:      address(),
		}, pkgerrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tt.code), "got %v", err)
		})
	}
	assert.Equal(t, 4, dbtest.Stock(t, db, live.Variants[0].ID, "ONE"))
}

func TestCreateOrderVoucherUsageLimitIsEnforced(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Belt", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "brown", Price: 200000, Sizes: map[string]int{"M": 10}},
	)
	dbtest.SeedVoucher(t, db, "ONCE", enums.VoucherTypeFixed, 50000, func(v *models.Voucher) {
		v.UsageLimit = 1
	})
	input := CreateOrderInput{
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "brown", Size: "M", Quantity: 1}},
		PaymentMethod: enums.PaymentMethodCOD,
		VoucherCode:   "once",
		Shipping:      address(),
	}

	first, err := svc.CreateOrder(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), first.VoucherDiscount)

	_, err = svc.CreateOrder(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeVoucherInvalid))
	assert.Equal(t, 9, dbtest.Stock(t, db, product.Variants[0].ID, "M"))
}

// The file database begins write transactions immediately, so SQLite runs the
// two checkouts one after the other. This covers the outcome end to end; the
// guarded UPDATE itself is exercised by the ledger tests.
func TestConcurrentPurchaseOfLastUnit(t *testing.T) {
	db := dbtest.OpenFile(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Limited Tee", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "black", Price: 250000, Sizes: map[string]int{"S": 1}},
	)

	const buyers = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
				Actor:         customer(),
				Items:         []CreateOrderItem{{ProductID: product.ID, Color: "black", Size: "S", Quantity: 1}},
				PaymentMethod: enums.PaymentMethodGateway,
				Shipping:      address(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			errs = append(errs, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	require.Len(t, errs, buyers-1)
	assert.True(t, pkgerrors.IsCode(errs[0], pkgerrors.CodeInsufficientStock), "got %v", errs[0])
	assert.Equal(t, 0, dbtest.Stock(t, db, product.Variants[0].ID, "S"))
	assert.Equal(t, enums.ProductAvailabilityOutOfStock, dbtest.Availability(t, db, product.ID))
}

func TestCancelProcessingOrderRestoresStock(t *testing.T) {
	db := dbtest.Open(t)
	svc, metrics := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Hoodie", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "grey", Price: 400000, Sizes: map[string]int{"M": 1, "L": 2}},
	)
	variant := product.Variants[0]
	buyer := customer()

	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Actor: buyer,
		Items: []CreateOrderItem{
			{ProductID: product.ID, Color: "grey", Size: "M", Quantity: 1},
			{ProductID: product.ID, Color: "grey", Size: "L", Quantity: 2},
		},
		PaymentMethod: enums.PaymentMethodCOD,
		Shipping:      address(),
	})
	require.NoError(t, err)
	require.Equal(t, enums.ProductAvailabilityOutOfStock, dbtest.Availability(t, db, product.ID))

	_, err = svc.UpdateOrderStatus(context.Background(), UpdateStatusInput{
		OrderID: order.ID, Actor: admin(), Status: enums.OrderStatusProcessing,
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: order.ID, Actor: buyer, Note: "changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.OrderStatus)
	assert.Equal(t, enums.PaymentStatusCancelled, cancelled.PaymentStatus)
	require.NotNil(t, cancelled.CancelNote)
	assert.Equal(t, "changed my mind", *cancelled.CancelNote)

	assert.Equal(t, 1, dbtest.Stock(t, db, variant.ID, "M"))
	assert.Equal(t, 2, dbtest.Stock(t, db, variant.ID, "L"))
	assert.Equal(t, enums.ProductAvailabilityActive, dbtest.Availability(t, db, product.ID))
	assert.Equal(t, 1, metrics.cancelled["customer"])

	_, err = svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: order.ID, Actor: buyer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, 1, dbtest.Stock(t, db, variant.ID, "M"))
}

func TestCancelOrderChecksOwnershipAndState(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Socks", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "white", Price: 50000, Sizes: map[string]int{"ONE": 10}},
	)
	owner := customer()
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Actor:         owner,
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "white", Size: "ONE", Quantity: 2}},
		PaymentMethod: enums.PaymentMethodCOD,
		Shipping:      address(),
	})
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: order.ID, Actor: customer()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: order.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: uuid.New(), Actor: owner})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	staff := admin()
	for _, status := range []enums.OrderStatus{enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		_, err = svc.UpdateOrderStatus(context.Background(), UpdateStatusInput{OrderID: order.ID, Actor: staff, Status: status})
		require.NoError(t, err)
	}

	_, err = svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: order.ID, Actor: staff})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, 8, dbtest.Stock(t, db, product.Variants[0].ID, "ONE"))

	delivered, err := svc.GetOrder(context.Background(), order.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, delivered.PaymentStatus)
	assert.NotNil(t, delivered.DeliveredAt)
}

func TestUpdatePaymentStatusAdvancesOrder(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Dress", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "red", Price: 600000, Sizes: map[string]int{"S": 2}},
	)
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Actor:         customer(),
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "red", Size: "S", Quantity: 1}},
		PaymentMethod: enums.PaymentMethodGateway,
		Shipping:      address(),
	})
	require.NoError(t, err)

	_, err = svc.UpdatePaymentStatus(context.Background(), UpdatePaymentStatusInput{OrderID: order.ID, Actor: customer(), Status: enums.PaymentStatusPaid})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	updated, err := svc.UpdatePaymentStatus(context.Background(), UpdatePaymentStatusInput{OrderID: order.ID, Actor: admin(), Status: enums.PaymentStatusPaid})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, updated.OrderStatus)

	var events []models.OutboxEvent
	require.NoError(t, db.Order("created_at ASC").Find(&events).Error)
	types := make([]enums.OutboxEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventOrderCreated, enums.EventOrderPaid, enums.EventOrderStatusChanged,
	}, types)
}

func TestRefund(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Coat", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "camel", Price: 1200000, Sizes: map[string]int{"M": 2}},
	)
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Actor:         customer(),
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "camel", Size: "M", Quantity: 1}},
		PaymentMethod: enums.PaymentMethodGateway,
		Shipping:      address(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), order.ShippingFee, "free shipping above the threshold")

	staff := admin()
	_, err = svc.Refund(context.Background(), RefundInput{OrderID: order.ID, Actor: staff, Amount: 100000, Reason: "defect"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "unpaid orders cannot be refunded")

	_, err = svc.UpdatePaymentStatus(context.Background(), UpdatePaymentStatusInput{OrderID: order.ID, Actor: staff, Status: enums.PaymentStatusPaid})
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), RefundInput{OrderID: order.ID, Actor: staff, Amount: order.Total + 1, Reason: "defect"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	refunded, err := svc.Refund(context.Background(), RefundInput{OrderID: order.ID, Actor: staff, Amount: 300000, Reason: "defect"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, refunded.OrderStatus)

	detail, err := svc.GetOrder(context.Background(), order.ID, staff)
	require.NoError(t, err)
	require.NotNil(t, detail.Refund)
	assert.Equal(t, int64(300000), detail.Refund.Amount)
	assert.Equal(t, "defect", detail.Refund.Reason)
}

func TestExpireUnpaidOrders(t *testing.T) {
	db := dbtest.Open(t)
	svc, metrics := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Bag", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "tan", Price: 300000, Sizes: map[string]int{"ONE": 3}},
	)
	place := func(method enums.PaymentMethod) *models.Order {
		order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			Actor:         customer(),
			Items:         []CreateOrderItem{{ProductID: product.ID, Color: "tan", Size: "ONE", Quantity: 1}},
			PaymentMethod: method,
			Shipping:      address(),
		})
		require.NoError(t, err)
		return order
	}
	stale := place(enums.PaymentMethodGateway)
	cod := place(enums.PaymentMethodCOD)
	fresh := place(enums.PaymentMethodGateway)
	require.Equal(t, enums.ProductAvailabilityOutOfStock, dbtest.Availability(t, db, product.ID))

	old := time.Now().UTC().Add(-25 * time.Hour)
	require.NoError(t, db.Model(&models.Order{}).Where("id IN ?", []uuid.UUID{stale.ID, cod.ID}).Update("created_at", old).Error)

	n, err := svc.ExpireUnpaidOrders(context.Background(), time.Now().UTC().Add(-24*time.Hour), "auto-cancelled: unpaid for 24h")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, metrics.expired)

	expired, err := svc.GetOrder(context.Background(), stale.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, expired.OrderStatus)
	assert.Equal(t, enums.PaymentStatusCancelled, expired.PaymentStatus)
	require.NotNil(t, expired.CancelledBy)
	assert.Equal(t, SystemActor, *expired.CancelledBy)

	for _, id := range []uuid.UUID{cod.ID, fresh.ID} {
		kept, err := svc.GetOrder(context.Background(), id, admin())
		require.NoError(t, err)
		assert.Equal(t, enums.OrderStatusPending, kept.OrderStatus)
	}
	assert.Equal(t, 1, dbtest.Stock(t, db, product.Variants[0].ID, "ONE"))
	assert.Equal(t, enums.ProductAvailabilityActive, dbtest.Availability(t, db, product.ID))

	n, err = svc.ExpireUnpaidOrders(context.Background(), time.Now().UTC().Add(-24*time.Hour), "again")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetAndListOrders(t *testing.T) {
	db := dbtest.Open(t)
	svc, _ := newTestService(t, db)
	product := dbtest.SeedProduct(t, db, "Pin", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "gold", Price: 20000, Sizes: map[string]int{"ONE": 50}},
	)
	owner, other := customer(), customer()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			Actor:         owner,
			Items:         []CreateOrderItem{{ProductID: product.ID, Color: "gold", Size: "ONE", Quantity: i + 1}},
			PaymentMethod: enums.PaymentMethodCOD,
			Shipping:      address(),
		})
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	guest, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:         []CreateOrderItem{{ProductID: product.ID, Color: "gold", Size: "ONE", Quantity: 1}},
		PaymentMethod: enums.PaymentMethodCOD,
		Shipping:      address(),
	})
	require.NoError(t, err)

	detail, err := svc.GetOrder(context.Background(), ids[0], owner)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, int64(20000), detail.Lines[0].LineTotal)

	_, err = svc.GetOrder(context.Background(), ids[0], other)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.GetOrder(context.Background(), guest.ID, Actor{})
	assert.NoError(t, err)

	page, err := svc.ListOrders(context.Background(), owner, pagination.Params{Limit: 2}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := svc.ListOrders(context.Background(), owner, pagination.Params{Limit: 2, Cursor: page.NextCursor}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Empty(t, rest.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, o := range append(page.Orders, rest.Orders...) {
		seen[o.ID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}

	all, err := svc.ListOrders(context.Background(), admin(), pagination.Params{}, ListFilters{})
	require.NoError(t, err)
	assert.Len(t, all.Orders, 4)

	_, err = svc.ListOrders(context.Background(), Actor{}, pagination.Params{}, ListFilters{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = svc.ListOrders(context.Background(), owner, pagination.Params{Cursor: "%%%"}, ListFilters{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestStockRowsAreTouchedInLockOrder(t *testing.T) {
	db := dbtest.Open(t)
	ledger := &recordingLedger{Ledger: inventory.NewLedger(nil)}
	svc, _ := newTestServiceWith(t, db, ledger, nil)
	shirt := dbtest.SeedProduct(t, db, "Oxford Shirt", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "blue", Price: 300000, Sizes: map[string]int{"S": 5, "M": 5}},
		dbtest.VariantSeed{Color: "pink", Price: 300000, Sizes: map[string]int{"M": 5}},
	)
	chino := dbtest.SeedProduct(t, db, "Chino", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "khaki", Price: 450000, Sizes: map[string]int{"32": 5}},
	)
	items := []CreateOrderItem{
		{ProductID: chino.ID, Color: "khaki", Size: "32", Quantity: 1},
		{ProductID: shirt.ID, Color: "pink", Size: "M", Quantity: 1},
		{ProductID: shirt.ID, Color: "blue", Size: "S", Quantity: 1},
		{ProductID: shirt.ID, Color: "blue", Size: "M", Quantity: 1},
	}
	// Both cart orders must reserve in the same sequence.
	reversed := slices.Clone(items)
	slices.Reverse(reversed)

	owner := customer()
	var placed []*models.Order
	for _, cart := range [][]CreateOrderItem{items, reversed} {
		ledger.reserved = nil
		order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			Actor:         owner,
			Items:         cart,
			PaymentMethod: enums.PaymentMethodCOD,
			Shipping:      address(),
		})
		require.NoError(t, err)
		require.Len(t, ledger.reserved, 4)
		assert.Equal(t, sortedUnits(ledger.reserved), ledger.reserved)
		placed = append(placed, order)
	}
	assert.Equal(t, "khaki", placed[0].Lines[0].Color, "lines keep cart order")

	ledger.recomputed = nil
	_, err := svc.CancelOrder(context.Background(), CancelOrderInput{OrderID: placed[0].ID, Actor: owner})
	require.NoError(t, err)
	require.Len(t, ledger.released, 4)
	assert.Equal(t, sortedUnits(ledger.released), ledger.released)
	require.Len(t, ledger.recomputed, 1)
	assert.Equal(t, inventory.DistinctSorted([]uuid.UUID{chino.ID, shirt.ID}), ledger.recomputed[0])
}

func TestExpireUnpaidOrdersReleasesBatchInLockOrder(t *testing.T) {
	db := dbtest.Open(t)
	ledger := &recordingLedger{Ledger: inventory.NewLedger(nil)}
	svc, _ := newTestServiceWith(t, db, ledger, nil)
	product := dbtest.SeedProduct(t, db, "Tote", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "black", Price: 200000, Sizes: map[string]int{"ONE": 2}},
		dbtest.VariantSeed{Color: "cream", Price: 200000, Sizes: map[string]int{"ONE": 2}},
	)
	var ids []uuid.UUID
	for _, color := range []string{"cream", "black", "cream"} {
		order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			Actor:         customer(),
			Items:         []CreateOrderItem{{ProductID: product.ID, Color: color, Size: "ONE", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodGateway,
			Shipping:      address(),
		})
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	require.NoError(t, db.Model(&models.Order{}).Where("id IN ?", ids).
		Update("created_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	ledger.released = nil
	n, err := svc.ExpireUnpaidOrders(context.Background(), time.Now().UTC().Add(-24*time.Hour), "unpaid")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, ledger.released, 3)
	assert.Equal(t, sortedUnits(ledger.released), ledger.released)
	assert.Equal(t, 2, dbtest.Stock(t, db, product.Variants[0].ID, "ONE"))
	assert.Equal(t, 2, dbtest.Stock(t, db, product.Variants[1].ID, "ONE"))
}

func TestExpireUnpaidOrdersRollsBackWholeBatch(t *testing.T) {
	db := dbtest.Open(t)
	out := &failingExpiryOutbox{next: outbox.NewService(outbox.NewRepository(db), nil), failAt: 2}
	svc, metrics := newTestServiceWith(t, db, nil, out)
	product := dbtest.SeedProduct(t, db, "Clutch", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "gold", Price: 350000, Sizes: map[string]int{"ONE": 2}},
	)
	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			Actor:         customer(),
			Items:         []CreateOrderItem{{ProductID: product.ID, Color: "gold", Size: "ONE", Quantity: 1}},
			PaymentMethod: enums.PaymentMethodGateway,
			Shipping:      address(),
		})
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	require.NoError(t, db.Model(&models.Order{}).Where("id IN ?", ids).
		Update("created_at", time.Now().UTC().Add(-48*time.Hour)).Error)
	eventsBefore := countRows(t, db, &models.OutboxEvent{})

	n, err := svc.ExpireUnpaidOrders(context.Background(), time.Now().UTC().Add(-24*time.Hour), "unpaid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emit order_expired event")
	assert.Zero(t, n)
	assert.Equal(t, 2, out.seen)
	assert.Zero(t, metrics.expired)

	for _, id := range ids {
		order, err := svc.GetOrder(context.Background(), id, admin())
		require.NoError(t, err)
		assert.Equal(t, enums.OrderStatusPending, order.OrderStatus)
		assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	}
	assert.Equal(t, 0, dbtest.Stock(t, db, product.Variants[0].ID, "ONE"))
	assert.Equal(t, enums.ProductAvailabilityOutOfStock, dbtest.Availability(t, db, product.ID))
	assert.Equal(t, eventsBefore, countRows(t, db, &models.OutboxEvent{}))
}

func TestCreateOrderErrorsNameTheLine(t *testing.T) {
	db := dbtest.Open(t)
	ledger := &recordingLedger{Ledger: inventory.NewLedger(nil)}
	svc, _ := newTestServiceWith(t, db, ledger, nil)
	product := dbtest.SeedProduct(t, db, "Rain Jacket", enums.ProductAvailabilityActive,
		dbtest.VariantSeed{Color: "yellow", Price: 800000, Sizes: map[string]int{"M": 0, "L": 0}},
		dbtest.VariantSeed{Color: "green", Price: 800000, Sizes: map[string]int{"M": 1}},
	)
	place := func(items ...CreateOrderItem) error {
		_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			Items:         items,
			PaymentMethod: enums.PaymentMethodCOD,
			Shipping:      address(),
		})
		return err
	}

	err := place(
		CreateOrderItem{ProductID: product.ID, Color: "green", Size: "M", Quantity: 1},
		CreateOrderItem{ProductID: product.ID, Color: "yellow", Size: "M", Quantity: 1},
	)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assert.Contains(t, err.Error(), "Rain Jacket (yellow) is sold out")
	assert.Empty(t, ledger.reserved, "sold-out variants fail before any stock is reserved")

	err = place(CreateOrderItem{ProductID: product.ID, Color: "green", Size: "M", Quantity: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rain Jacket (green) has only 1 left in size M")

	err = place(
		CreateOrderItem{ProductID: product.ID, Color: "green", Size: "M", Quantity: 1},
		CreateOrderItem{ProductID: product.ID, Color: "purple", Size: "M", Quantity: 1},
	)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Contains(t, err.Error(), "item 1: color purple not found for Rain Jacket")
	assert.Equal(t, 1, dbtest.Stock(t, db, product.Variants[1].ID, "M"))
}
