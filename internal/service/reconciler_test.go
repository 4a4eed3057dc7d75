package service

import (
	"context"
	"testing"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/internal/core/ports/mocks"
	"payment-settlement-core/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type reconcilerTestDeps struct {
	svc        *ReconcilerImpl
	orderRepo  *mocks.MockPaymentOrderRepository
	gateways   *mocks.MockGatewayRegistry
	adapter    *mocks.MockGatewayAdapter
	transactor *mocks.MockDBTransactor
	lock       *mocks.MockOrderLock
	source     *mocks.MockConfirmationSource
	events     *mocks.MockEventSink
	ctrl       *gomock.Controller
}

func setupReconciler(t *testing.T) *reconcilerTestDeps {
	ctrl := gomock.NewController(t)
	d := &reconcilerTestDeps{
		orderRepo:  mocks.NewMockPaymentOrderRepository(ctrl),
		gateways:   mocks.NewMockGatewayRegistry(ctrl),
		adapter:    mocks.NewMockGatewayAdapter(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		lock:       mocks.NewMockOrderLock(ctrl),
		source:     mocks.NewMockConfirmationSource(ctrl),
		events:     mocks.NewMockEventSink(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewReconciler(
		d.orderRepo, d.gateways, d.transactor, d.lock,
		NewConfirmationTracker(d.source, zerolog.Nop()),
		d.events, zerolog.Nop(),
	)
	passthroughLock(d.lock)
	return d
}

func pendingOrder(t *testing.T, method domain.PaymentMethod) *domain.PaymentOrder {
	t.Helper()
	order, err := domain.NewPaymentOrder(domain.CreateOrderCommand{
		MerchantOrderID: "M-100",
		UserID:          "u-1",
		Amount:          domain.MustMoney("250.00", "CNY"),
		Method:          method,
		ExpireTime:      time.Now().Add(time.Hour),
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, order.UpdateGatewayInfo("GW-100", "https://pay.example/GW-100", "", time.Now()))
	order.PullEvents()
	return order
}

func paymentCallback(order *domain.PaymentOrder, outcome ports.PaymentOutcome) *ports.CallbackData {
	paidAt := time.Now()
	return &ports.CallbackData{
		Kind:            ports.CallbackKindPayment,
		MerchantOrderID: order.MerchantOrderID(),
		GatewayOrderID:  order.GatewayOrderID(),
		TotalAmount:     order.Amount(),
		Outcome:         outcome,
		PaidAt:          &paidAt,
	}
}

func TestReconciler_HandleCallback_SuccessSettlesOrder(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodAlipay)
	raw := []byte(`{"trade_status":"TRADE_SUCCESS"}`)

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(paymentCallback(order, ports.OutcomeSuccess), nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	d.orderRepo.EXPECT().Save(gomock.Any(), tx, order).Return(nil)
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, events []domain.Event) error {
			require.Len(t, events, 1)
			assert.Equal(t, "payment_order.succeeded", events[0].EventName())
			return nil
		})

	require.NoError(t, d.svc.HandleCallback(ctx, domain.MethodAlipay, raw))
	assert.Equal(t, domain.OrderStatusSucceeded, order.Status())
	require.NotNil(t, order.PaidAmount())
	assert.True(t, order.PaidAmount().Equal(order.Amount()))
}

func TestReconciler_HandleCallback_DuplicateSuccessAcked(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodAlipay)
	require.NoError(t, order.MarkSucceeded("GW-100", order.Amount(), time.Now()))
	order.PullEvents()
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(paymentCallback(order, ports.OutcomeSuccess), nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	// No save, no publish: the duplicate is acknowledged without change.

	require.NoError(t, d.svc.HandleCallback(ctx, domain.MethodAlipay, raw))
	assert.Equal(t, domain.OrderStatusSucceeded, order.Status())
}

func TestReconciler_HandleCallback_CryptoRedeliveryAfterSettleAcked(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodUSDTTRC20)
	require.NoError(t, order.MarkSucceeded("GW-100", order.Amount(), time.Now()))
	order.PullEvents()
	cb := paymentCallback(order, ports.OutcomeSuccess)
	cb.TxHash = "deadbeef"
	cb.Confirmations = 0
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodUSDTTRC20).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(cb, nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	// The settled order never re-enters the confirmation gate, so the
	// confirmation source is not consulted. No save, no publish.

	require.NoError(t, d.svc.HandleCallback(ctx, domain.MethodUSDTTRC20, raw))
	assert.Equal(t, domain.OrderStatusSucceeded, order.Status())
}

func TestReconciler_HandleCallback_ConflictingOutcome(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodAlipay)
	require.NoError(t, order.MarkFailed("payer abandoned", time.Now()))
	order.PullEvents()
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(paymentCallback(order, ports.OutcomeSuccess), nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)

	err := d.svc.HandleCallback(ctx, domain.MethodAlipay, raw)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_005", appErr.Code)
	assert.Equal(t, domain.OrderStatusFailed, order.Status())
}

func TestReconciler_HandleCallback_AmountTamperRejected(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodAlipay)
	cb := paymentCallback(order, ports.OutcomeSuccess)
	cb.TotalAmount = domain.MustMoney("1.00", "CNY")
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(cb, nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)

	err := d.svc.HandleCallback(ctx, domain.MethodAlipay, raw)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_002", appErr.Code)
	assert.Equal(t, domain.OrderStatusPending, order.Status())
	assert.Nil(t, order.PaidAmount())
}

func TestReconciler_HandleCallback_InvalidSignatureRejected(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	raw := []byte(`{"sign":"forged"}`)

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(nil, apperror.ErrInvalidSignature())

	err := d.svc.HandleCallback(ctx, domain.MethodAlipay, raw)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_001", appErr.Code)
}

func TestReconciler_HandleCallback_CryptoBelowThresholdStaysProcessing(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodBTC)
	cb := paymentCallback(order, ports.OutcomeSuccess)
	cb.TxHash = "deadbeef"
	cb.Confirmations = 2
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodBTC).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(cb, nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	d.source.EXPECT().Confirmations(gomock.Any(), "BITCOIN", "deadbeef").Return(3, nil)
	d.orderRepo.EXPECT().Save(gomock.Any(), tx, order).Return(nil)

	require.NoError(t, d.svc.HandleCallback(ctx, domain.MethodBTC, raw))
	assert.Equal(t, domain.OrderStatusProcessing, order.Status())
	assert.Nil(t, order.PaidAmount())
}

func TestReconciler_HandleCallback_CryptoAtThresholdSettles(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodBTC)
	cb := paymentCallback(order, ports.OutcomeSuccess)
	cb.TxHash = "deadbeef"
	cb.Confirmations = 4
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodBTC).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(cb, nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	// The chain is ahead of the stale callback: 6 >= required 6.
	d.source.EXPECT().Confirmations(gomock.Any(), "BITCOIN", "deadbeef").Return(6, nil)
	d.orderRepo.EXPECT().Save(gomock.Any(), tx, order).Return(nil)
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	require.NoError(t, d.svc.HandleCallback(ctx, domain.MethodBTC, raw))
	assert.Equal(t, domain.OrderStatusSucceeded, order.Status())
}

func TestReconciler_HandleCallback_RefundSettled(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodAlipay)
	require.NoError(t, order.MarkSucceeded("GW-100", order.Amount(), time.Now()))
	refund, err := order.CreateRefund(domain.MustMoney("50.00", "CNY"), "damaged goods", "op-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, refund.UpdateGatewayInfo("GWR-5"))
	order.PullEvents()

	cb := &ports.CallbackData{
		Kind:            ports.CallbackKindRefund,
		MerchantOrderID: order.MerchantOrderID(),
		GatewayOrderID:  order.GatewayOrderID(),
		TotalAmount:     order.Amount(),
		Outcome:         ports.OutcomeSuccess,
		GatewayRefundID: "GWR-5",
	}
	raw := []byte(`{}`)

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(cb, nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-100").Return([]*domain.PaymentOrder{order}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	d.orderRepo.EXPECT().Save(gomock.Any(), tx, order).Return(nil)

	require.NoError(t, d.svc.HandleCallback(ctx, domain.MethodAlipay, raw))
	assert.Equal(t, domain.RefundStatusSucceeded, refund.Status())
}

func TestReconciler_ProbeOrder_AppliesQueryResult(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder(t, domain.MethodWechat)
	paidAt := time.Now().Add(-time.Minute)
	paid := order.Amount()

	d.orderRepo.EXPECT().FindByID(ctx, order.ID()).Return(order, nil)
	d.gateways.EXPECT().Adapter(domain.MethodWechat).Return(d.adapter, nil)
	d.adapter.EXPECT().QueryPayment(ctx, "GW-100").Return(&ports.QueryPaymentData{
		GatewayOrderID: "GW-100",
		Outcome:        ports.OutcomeSuccess,
		PaidAmount:     &paid,
		PaidAt:         &paidAt,
	}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orderRepo.EXPECT().FindByIDForUpdate(gomock.Any(), tx, order.ID()).Return(order, nil)
	d.orderRepo.EXPECT().Save(gomock.Any(), tx, order).Return(nil)
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	require.NoError(t, d.svc.ProbeOrder(ctx, order.ID()))
	assert.Equal(t, domain.OrderStatusSucceeded, order.Status())
}

func TestReconciler_ProbeOrder_TerminalOrderIsNoop(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	order := pendingOrder(t, domain.MethodWechat)
	require.NoError(t, order.MarkFailed("expired at gateway", time.Now()))
	order.PullEvents()

	d.orderRepo.EXPECT().FindByID(ctx, order.ID()).Return(order, nil)

	require.NoError(t, d.svc.ProbeOrder(ctx, order.ID()))
}

func TestReconciler_HandleCallback_UnknownOrder(t *testing.T) {
	d := setupReconciler(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	raw := []byte(`{}`)
	cb := &ports.CallbackData{
		Kind:            ports.CallbackKindPayment,
		MerchantOrderID: "M-ghost",
		Outcome:         ports.OutcomeSuccess,
		TotalAmount:     domain.MustMoney("1", "CNY"),
	}

	d.gateways.EXPECT().Adapter(domain.MethodAlipay).Return(d.adapter, nil)
	d.adapter.EXPECT().ParseCallback(raw).Return(cb, nil)
	d.orderRepo.EXPECT().FindByMerchantOrderID(ctx, "M-ghost").Return(nil, nil)

	err := d.svc.HandleCallback(ctx, domain.MethodAlipay, raw)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAY_004", appErr.Code)
}
