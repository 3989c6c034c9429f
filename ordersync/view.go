package ordersync

import "github.com/gosuda/market-chat/order"

// View is the locally known picture of the order for this session. It is
// seeded once at startup and thereafter mutated only by Reconcile; the UI
// never owns order state of its own.
//
// Invariants: Confirmed implies EscrowState == RELEASED; CodeNotified
// implies Confirmed; when HasOrder is false every other field is zero.
// A non-empty ConfirmationCode is never overwritten by an empty one:
// codes become known exactly once and are never retracted.
type View struct {
	HasOrder         bool              `json:"has_order"`
	OrderID          int64             `json:"order_id,omitempty"`
	EscrowState      order.EscrowState `json:"escrow_state,omitempty"`
	Confirmed        bool              `json:"confirmed"`
	ConfirmationCode string            `json:"confirmation_code,omitempty"`
	CodeNotified     bool              `json:"code_notified"`
}

// merge folds a fetched order record into the view. Passing nil clears
// the view entirely; that path is only reachable from an explicit
// no-result fetch, never from polling.
func (v *View) merge(o *order.Order) {
	if o == nil || o.ID == 0 {
		*v = View{}
		return
	}
	v.HasOrder = true
	v.OrderID = o.ID
	v.EscrowState = o.EscrowState
	v.Confirmed = o.Released()
	if o.ConfirmationCode != "" {
		v.ConfirmationCode = o.ConfirmationCode
	}
}

// AsOrder synthesizes an order record equivalent to the view, used to
// replay a persisted view through Reconcile at startup. Returns nil for
// the empty view.
func (v View) AsOrder() *order.Order {
	if !v.HasOrder {
		return nil
	}
	state := v.EscrowState
	if state == "" {
		if v.Confirmed {
			state = order.EscrowReleased
		} else {
			state = order.EscrowHeld
		}
	}
	return &order.Order{
		ID:               v.OrderID,
		EscrowState:      state,
		ConfirmationCode: v.ConfirmationCode,
	}
}
