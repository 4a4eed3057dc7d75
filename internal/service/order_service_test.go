package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/internal/core/ports/mocks"
	"payment-settlement-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type orderTestDeps struct {
	svc        *OrderServiceImpl
	orderRepo  *mocks.MockPaymentOrderRepository
	gateways   *mocks.MockGatewayRegistry
	adapter    *mocks.MockGatewayAdapter
	idempCache *mocks.MockIdempotencyCache
	transactor *mocks.MockDBTransactor
	lock       *mocks.MockOrderLock
	events     *mocks.MockEventSink
	audit      *mocks.MockAuditService
	ctrl       *gomock.Controller
}

func setupOrderService(t *testing.T) *orderTestDeps {
	ctrl := gomock.NewController(t)
	d := &orderTestDeps{
		orderRepo:  mocks.NewMockPaymentOrderRepository(ctrl),
		gateways:   mocks.NewMockGatewayRegistry(ctrl),
		adapter:    mocks.NewMockGatewayAdapter(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		lock:       mocks.NewMockOrderLock(ctrl),
		events:     mocks.NewMockEventSink(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewOrderService(
		d.orderRepo, d.gateways, d.idempCache, d.transactor,
		d.lock, d.events, d.audit, zerolog.Nop(),
	)
	return d
}

// passthroughLock makes the mock lock run the critical section directly.
func passthroughLock(lock *mocks.MockOrderLock) {
	lock.EXPECT().
		WithLock(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ uuid.UUID, fn func(context.Context) error) error {
			return fn(ctx)
		}).
		AnyTimes()
}

// mockTx implements pgx.Tx for testing.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func createReq() ports.CreateOrderRequest {
	return ports.CreateOrderRequest{
		MerchantOrderID: "MORDER-001",
		UserID:          "user-9",
		Amount:          domain.MustMoney("100.50", "CNY"),
		Method:          domain.MethodAlipay,
		ExpireTime:      time.Now().Add(30 * time.Minute),
	}
}

func TestOrderService_CreateOrder_Success(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := createReq()

	d.orderRepo.EXPECT().FindLiveByMerchantOrderID(ctx, "MORDER-001").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.events.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().CreatePayment(ctx, gomock.Any()).Return(&ports.CreatePaymentData{
		GatewayOrderID: "GW-77",
		PaymentURL:     "https://pay.example.com/GW-77",
		QRCode:         "qr-data",
	}, nil)
	d.orderRepo.EXPECT().Save(ctx, tx, gomock.Any()).Return(nil)

	order, err := d.svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, domain.OrderStatusPending, order.Status())
	assert.Equal(t, "GW-77", order.GatewayOrderID())
	assert.Equal(t, "https://pay.example.com/GW-77", order.PaymentURL())
}

func TestOrderService_CreateOrder_IdempotencyKeyReturnsExisting(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := createReq()
	req.IdempotencyKey = "idem-abc"

	existing, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: req.MerchantOrderID,
		UserID:          req.UserID,
		IdempotencyKey:  req.IdempotencyKey,
		Amount:          req.Amount,
		Method:          req.Method,
		ExpireTime:      req.ExpireTime,
	}, time.Now())
	require.NoError(t, err)

	d.idempCache.EXPECT().Get(ctx, "idem-abc").Return([]byte(existing.ID().String()), nil)
	d.orderRepo.EXPECT().FindByID(ctx, existing.ID()).Return(existing, nil)

	order, err := d.svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, existing.ID(), order.ID())
}

func TestOrderService_CreateOrder_IdempotencyKeyForOtherOrderRejected(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := createReq()
	req.IdempotencyKey = "idem-abc"

	existing, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: "MORDER-OTHER",
		UserID:          req.UserID,
		IdempotencyKey:  req.IdempotencyKey,
		Amount:          req.Amount,
		Method:          req.Method,
		ExpireTime:      req.ExpireTime,
	}, time.Now())
	require.NoError(t, err)

	d.idempCache.EXPECT().Get(ctx, "idem-abc").Return([]byte(existing.ID().String()), nil)
	d.orderRepo.EXPECT().FindByID(ctx, existing.ID()).Return(existing, nil)

	_, err = d.svc.CreateOrder(ctx, req)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_002", appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
}

func TestOrderService_CreateOrder_SecondLiveAttemptRejected(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := createReq()

	live, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: req.MerchantOrderID,
		UserID:          req.UserID,
		Amount:          req.Amount,
		Method:          req.Method,
		ExpireTime:      req.ExpireTime,
	}, time.Now())
	require.NoError(t, err)

	d.orderRepo.EXPECT().FindLiveByMerchantOrderID(ctx, "MORDER-001").Return(live, nil)

	_, err = d.svc.CreateOrder(ctx, req)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_003", appErr.Code)
}

func TestOrderService_CreateOrder_GatewayRejectionFailsOrder(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := createReq()

	d.orderRepo.EXPECT().FindLiveByMerchantOrderID(ctx, "MORDER-001").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().CreatePayment(ctx, gomock.Any()).
		Return(nil, apperror.ErrGatewayRejected("merchant account frozen"))

	var failed *domain.PaymentOrder
	d.orderRepo.EXPECT().Save(ctx, tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, o *domain.PaymentOrder) error {
			failed = o
			return nil
		})
	// Created event, then failed event.
	d.events.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(2)

	_, err := d.svc.CreateOrder(ctx, req)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_004", appErr.Code)
	require.NotNil(t, failed)
	assert.Equal(t, domain.OrderStatusFailed, failed.Status())
}

func TestOrderService_CreateOrder_GatewayUnreachableLeavesPending(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := createReq()

	d.orderRepo.EXPECT().FindLiveByMerchantOrderID(ctx, "MORDER-001").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.events.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().CreatePayment(ctx, gomock.Any()).
		Return(nil, apperror.ErrGatewayUnavailable(context.DeadlineExceeded))
	d.orderRepo.EXPECT().Save(ctx, tx, gomock.Any()).Return(nil)

	order, err := d.svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status())
	assert.Empty(t, order.GatewayOrderID())
}

func TestOrderService_CloseOrder_IdempotentOnClosed(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	passthroughLock(d.lock)

	order, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: "M-1",
		UserID:          "u",
		Amount:          domain.MustMoney("5", "CNY"),
		Method:          domain.MethodWechat,
		ExpireTime:      time.Now().Add(time.Hour),
	}, time.Now())
	require.NoError(t, err)
	order.PullEvents()
	require.NoError(t, order.Close("op-1", time.Now()))

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)

	// Already CLOSED: duplicate close is absorbed, no save, no audit write.
	err = d.svc.CloseOrder(ctx, order.ID(), "op-2")
	require.NoError(t, err)
	assert.Equal(t, "op-1", order.ClosedBy())
}

func TestOrderService_CancelOrder_TerminalOrderRejected(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	passthroughLock(d.lock)

	order, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: "M-2",
		UserID:          "u",
		Amount:          domain.MustMoney("5", "CNY"),
		Method:          domain.MethodWechat,
		ExpireTime:      time.Now().Add(time.Hour),
	}, time.Now())
	require.NoError(t, err)
	order.PullEvents()
	require.NoError(t, order.MarkSucceeded("GW-1", domain.MustMoney("5", "CNY"), time.Now()))
	order.PullEvents()

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)

	err = d.svc.CancelOrder(ctx, order.ID(), "op-1")
	require.Error(t, err)
	assert.Equal(t, domain.OrderStatusSucceeded, order.Status())
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	d := setupOrderService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.orderRepo.EXPECT().FindByID(ctx, id).Return(nil, nil)

	_, err := d.svc.GetOrder(ctx, id)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_004", appErr.Code)
}
