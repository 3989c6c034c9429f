package ordersync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/market-chat/order"
)

func TestPurchaseSuccess(t *testing.T) {
	api := &fakeAPI{createResp: held(1)}
	rec := &alertRecorder{}
	cfg := buyerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Purchase(context.Background())

	view := e.Snapshot().View
	assert.True(t, view.HasOrder)
	assert.Equal(t, int64(1), view.OrderID)
	assert.False(t, view.Confirmed)

	snap := e.Snapshot()
	assert.False(t, snap.Purchase.Enabled)
	assert.Equal(t, "구매요청됨", snap.Purchase.Label)

	alerts := rec.all()
	require.Equal(t, 1, len(alerts))
	assert.Equal(t, "구매 요청이 접수되었습니다.", alerts[0])
}

func TestPurchaseGuardedWhenOrderExists(t *testing.T) {
	api := &fakeAPI{createResp: held(1)}
	rec := &alertRecorder{}
	cfg := buyerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Reconcile(held(5))
	e.Purchase(context.Background())

	// The guard swallowed the click: no request, no notification, and
	// the existing order stands.
	assert.Equal(t, int64(5), e.Snapshot().View.OrderID)
	assert.Empty(t, rec.all())
}

func TestPurchaseFailureRestoresControl(t *testing.T) {
	api := &fakeAPI{createErr: &order.APIError{Status: 400, Field: "amount", Msg: "Must be positive"}}
	rec := &alertRecorder{}
	cfg := buyerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Purchase(context.Background())

	alerts := rec.all()
	require.Equal(t, 1, len(alerts))
	assert.Equal(t, "Must be positive", alerts[0])

	snap := e.Snapshot()
	assert.True(t, snap.Purchase.Enabled, "failed purchase restores the control")
	assert.Equal(t, "구매하기", snap.Purchase.Label)
	assert.False(t, snap.View.HasOrder)
}

func TestConfirmSuccessIsTerminal(t *testing.T) {
	api := &fakeAPI{confirmResp: released(1, "AB12")}
	rec := &alertRecorder{}
	cfg := sellerConfig(api, rec)
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Start(context.Background(), View{HasOrder: true, OrderID: 1, EscrowState: order.EscrowHeld})
	e.Confirm(context.Background())

	view := e.Snapshot().View
	assert.True(t, view.Confirmed)
	assert.Equal(t, "AB12", view.ConfirmationCode)
	require.Equal(t, []int64{1}, api.confirmedIDs)

	alerts := rec.all()
	require.Equal(t, 1, len(alerts))
	assert.Equal(t, "구매가 확정되었습니다.", alerts[0])

	// Both pollers are cancelled: no further fetches.
	time.Sleep(30 * time.Millisecond)
	settled := api.calls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, api.calls())
}

func TestConfirmDiscoversOrderFirst(t *testing.T) {
	api := &fakeAPI{latest: held(7), confirmResp: released(7, "ZZ99")}
	rec := &alertRecorder{}
	cfg := sellerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Confirm(context.Background())

	assert.Equal(t, []int64{7}, api.confirmedIDs, "confirm must target the discovered order")
	assert.True(t, e.Snapshot().View.Confirmed)
}

func TestConfirmDiscoveryOfReleasedOrderSkipsMutation(t *testing.T) {
	api := &fakeAPI{latest: released(7, "ZZ99")}
	rec := &alertRecorder{}
	cfg := sellerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Confirm(context.Background())

	assert.Empty(t, api.confirmedIDs, "nothing left to confirm after discovering a released order")
	assert.True(t, e.Snapshot().View.Confirmed)
}

func TestConfirmWithNoOrderAborts(t *testing.T) {
	api := &fakeAPI{}
	rec := &alertRecorder{}
	cfg := sellerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Confirm(context.Background())

	assert.Empty(t, api.confirmedIDs, "no mutating call without an order")
	alerts := rec.all()
	require.Equal(t, 1, len(alerts))
	assert.Equal(t, "대기 중인 주문이 없습니다.", alerts[0])
}

func TestConfirmFailureRestoresControl(t *testing.T) {
	api := &fakeAPI{confirmErr: &order.APIError{Status: 403, Msg: "판매자만 구매확정할 수 있습니다."}}
	rec := &alertRecorder{}
	cfg := sellerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Start(context.Background(), View{HasOrder: true, OrderID: 1, EscrowState: order.EscrowHeld})
	e.Confirm(context.Background())

	alerts := rec.all()
	require.Equal(t, 1, len(alerts))
	assert.Equal(t, "판매자만 구매확정할 수 있습니다.", alerts[0])

	snap := e.Snapshot()
	assert.True(t, snap.Confirm.Enabled, "failed confirm restores the control")
	assert.Equal(t, "구매확정", snap.Confirm.Label)
	assert.False(t, snap.View.Confirmed)
}

func TestConfirmGuardedWhenAlreadyConfirmed(t *testing.T) {
	api := &fakeAPI{confirmResp: released(1, "AB12")}
	rec := &alertRecorder{}
	cfg := sellerConfig(api, rec)
	cfg.PollInterval = time.Hour
	e := NewEngine(cfg, api)
	defer e.Close()

	e.Start(context.Background(), View{HasOrder: true, OrderID: 1, EscrowState: order.EscrowHeld})
	e.Confirm(context.Background())
	e.Confirm(context.Background())

	assert.Equal(t, []int64{1}, api.confirmedIDs, "terminal state blocks further confirms")
}
