package order

import "time"

// EscrowState is the backend-tracked lifecycle stage of a purchase order.
// The client only distinguishes RELEASED from everything else: any other
// state, including ones unknown to this build, is treated as pending.
type EscrowState string

const (
	EscrowHeld     EscrowState = "HELD"
	EscrowReleased EscrowState = "RELEASED"
	EscrowRefunded EscrowState = "REFUNDED"
)

// Order is the order resource as served by the backend. ConfirmationCode
// is populated only once escrow reaches RELEASED.
type Order struct {
	ID               int64       `json:"id"`
	Listing          int64       `json:"listing"`
	Buyer            int64       `json:"buyer"`
	Amount           int64       `json:"amount"`
	EscrowState      EscrowState `json:"escrow_state"`
	ConfirmationCode string      `json:"confirmation_code,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Released reports whether escrow has been released for this order.
func (o *Order) Released() bool {
	return o != nil && o.EscrowState == EscrowReleased
}

// Latest picks the most recently created order. The backend may return
// several historical orders for a listing/buyer pair (re-purchase
// attempts) in no guaranteed order.
func Latest(orders []Order) *Order {
	var best *Order
	for i := range orders {
		if best == nil || orders[i].CreatedAt.After(best.CreatedAt) {
			best = &orders[i]
		}
	}
	return best
}
