package ordersync

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/market-chat/order"
)

// Purchase places a new order for the session's listing. Guarded by the
// control's derived enabled state, so a double invoke while a request is
// in flight is a no-op. On failure the control is restored to its
// original enabled label; on success reconcile takes over.
func (e *Engine) Purchase(ctx context.Context) {
	e.mu.Lock()
	snap := e.snapshotLocked()
	if e.purchasing || !snap.Purchase.Present || !snap.Purchase.Enabled {
		e.mu.Unlock()
		return
	}
	e.purchasing = true
	e.publishLocked()
	listingID, amount := e.cfg.ListingID, e.cfg.Amount
	e.mu.Unlock()

	created, err := e.api.Create(ctx, listingID, amount)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.purchasing = false
	if err != nil {
		log.Warn().Err(err).Msg("[order] purchase failed")
		e.alert(order.Message(err, order.PurchaseErrFallback))
		e.publishLocked()
		return
	}
	e.reconcileLocked(created)
	e.alert("구매 요청이 접수되었습니다.")
}

// Confirm releases escrow on the known order. When no order id is locally
// known yet it first attempts to discover one; with still none it aborts
// with a user alert and no mutating call.
func (e *Engine) Confirm(ctx context.Context) {
	e.mu.Lock()
	// Unlike Purchase, a click with no known order is allowed through:
	// it triggers the discovery fetch below. Only terminal and in-flight
	// states block.
	if e.confirming || !e.cfg.ConfirmControl || e.view.Confirmed {
		e.mu.Unlock()
		return
	}
	e.confirming = true

	if e.view.OrderID == 0 {
		listingID, buyerID := e.cfg.ListingID, e.cfg.BuyerID
		e.mu.Unlock()

		latest, err := e.api.LatestFor(ctx, listingID, buyerID)

		e.mu.Lock()
		if err != nil {
			log.Warn().Err(err).Msg("[order] confirm discovery fetch failed")
		} else if latest != nil {
			e.reconcileLocked(latest)
		}
		if e.view.OrderID == 0 {
			e.confirming = false
			e.alert("대기 중인 주문이 없습니다.")
			e.publishLocked()
			e.mu.Unlock()
			return
		}
		if e.view.Confirmed {
			// Discovery surfaced an already-released order; nothing left
			// to confirm.
			e.confirming = false
			e.publishLocked()
			e.mu.Unlock()
			return
		}
	}

	e.publishLocked()
	orderID := e.view.OrderID
	e.mu.Unlock()

	confirmed, err := e.api.Confirm(ctx, orderID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirming = false
	if err != nil {
		log.Warn().Err(err).Msg("[order] confirm failed")
		e.alert(order.Message(err, order.ConfirmErrFallback))
		e.publishLocked()
		return
	}
	e.reconcileLocked(confirmed)
	e.alert("구매가 확정되었습니다.")
}
