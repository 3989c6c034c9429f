package marketdev

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/gosuda/market-chat/order"
)

// Listing is the minimal slice of the listing resource the harness needs:
// enough to validate purchases and route the confirm permission check.
type Listing struct {
	ID       int64
	SellerID int64
	Title    string
	Price    int64
}

// rejection is an API error body: either a detail message or one
// field-level error list, with an HTTP status.
type rejection struct {
	status int
	detail string
	field  string
	msgs   []string
}

func detailErr(status int, detail string) *rejection {
	return &rejection{status: status, detail: detail}
}

func fieldErr(field string, msgs ...string) *rejection {
	return &rejection{status: 400, field: field, msgs: msgs}
}

// orderStore is the in-memory order resource. The real backend is an
// opaque collaborator; this exists so the client runs end to end.
type orderStore struct {
	mu       sync.Mutex
	nextID   int64
	orders   []order.Order
	listings map[int64]Listing
}

func newOrderStore(listings []Listing) *orderStore {
	s := &orderStore{nextID: 1, listings: map[int64]Listing{}}
	for _, l := range listings {
		s.listings[l.ID] = l
	}
	return s
}

func (s *orderStore) AddListing(l Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

// Create validates and places a HELD order, mirroring the production
// rules: the listing must exist, the amount must be positive, and a
// seller cannot buy their own listing.
func (s *orderStore) Create(listingID, buyerID, amount int64) (*order.Order, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[listingID]
	if !ok {
		return nil, fieldErr("listing", "존재하지 않는 상품입니다.")
	}
	if amount <= 0 {
		return nil, fieldErr("amount", "0보다 큰 값을 입력해주세요.")
	}
	if listing.SellerID == buyerID {
		return nil, detailErr(400, "본인 물품은 구매할 수 없습니다.")
	}

	o := order.Order{
		ID:          s.nextID,
		Listing:     listingID,
		Buyer:       buyerID,
		Amount:      amount,
		EscrowState: order.EscrowHeld,
		CreatedAt:   time.Now().UTC(),
	}
	s.nextID++
	s.orders = append(s.orders, o)
	return &o, nil
}

// List returns orders matching the listing/buyer filter, newest first.
// Zero ids match everything, like an absent query parameter.
func (s *orderStore) List(listingID, buyerID int64) []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if listingID != 0 && o.Listing != listingID {
			continue
		}
		if buyerID != 0 && o.Buyer != buyerID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Confirm releases escrow. Seller-only; confirming twice is rejected.
// The 4-digit confirmation code is minted on first release.
func (s *orderStore) Confirm(orderID, userID int64) (*order.Order, *rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o *order.Order
	for i := range s.orders {
		if s.orders[i].ID == orderID {
			o = &s.orders[i]
			break
		}
	}
	if o == nil {
		return nil, detailErr(404, "주문을 찾을 수 없습니다.")
	}
	listing := s.listings[o.Listing]
	if listing.SellerID != userID {
		return nil, detailErr(403, "판매자만 구매확정할 수 있습니다.")
	}
	if o.EscrowState == order.EscrowReleased {
		return nil, detailErr(400, "이미 구매확정이 완료되었습니다.")
	}

	o.EscrowState = order.EscrowReleased
	if o.ConfirmationCode == "" {
		o.ConfirmationCode = newConfirmationCode()
	}
	snapshot := *o
	return &snapshot, nil
}

func newConfirmationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// crypto/rand failing means the process is in deep trouble.
		panic(err)
	}
	return fmt.Sprintf("%04d", n.Int64())
}
