package ordersync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/market-chat/order"
)

// DefaultPollInterval is the fixed poll cadence. Bounded staleness is
// acceptable: marketplace confirmation is human-paced, so no backoff.
const DefaultPollInterval = 5 * time.Second

// OrderAPI is the slice of the order backend the engine drives.
// *order.Client satisfies it.
type OrderAPI interface {
	LatestFor(ctx context.Context, listingID, buyerID int64) (*order.Order, error)
	Create(ctx context.Context, listingID, amount int64) (*order.Order, error)
	Confirm(ctx context.Context, orderID int64) (*order.Order, error)
}

// Notifier receives user-facing notifications (success toasts, error
// alerts, the one-time confirmation-code notice). Implementations must
// not call back into the engine synchronously.
type Notifier interface {
	Alert(text string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(text string)

func (f NotifierFunc) Alert(text string) { f(text) }

// Sink receives an affordance snapshot after every state change.
type Sink interface {
	Apply(s Snapshot)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(s Snapshot)

func (f SinkFunc) Apply(s Snapshot) { f(s) }

// Persister mirrors the view to durable storage on every reconcile so a
// restarted session resumes where it left off. Write-through only: the
// engine never reads it back mid-session.
type Persister interface {
	Save(v View) error
}

// Control is the derived state of one user affordance.
type Control struct {
	Present bool
	Enabled bool
	Label   string
}

// Snapshot is everything the UI renders about the order: the view itself,
// both controls, and the buyer's confirmation-code display text.
type Snapshot struct {
	View     View
	Purchase Control
	Confirm  Control
	CodeText string
}

// CodeTexts are the buyer-side confirmation code display strings.
type CodeTexts struct {
	Empty          string
	Pending        string
	CompletePrefix string
}

// Config wires one session's engine. Exactly one of IsBuyer/IsSeller is
// normally set; the control flags mirror whether the affordance exists in
// this session's UI at all.
type Config struct {
	ListingID int64
	BuyerID   int64
	Amount    int64

	IsBuyer  bool
	IsSeller bool

	PurchaseControl bool
	ConfirmControl  bool

	PollInterval time.Duration
	CodeTexts    CodeTexts

	Notifier  Notifier
	Sink      Sink
	Persister Persister
}

// Engine owns the Local Order View and keeps it converged on the
// backend's order state: it reconciles fetched records, derives the
// control affordances, and drives the per-role polling loops.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	api OrderAPI

	ctx    context.Context
	view   View
	closed bool

	purchasing bool
	confirming bool

	sellerTimer *time.Timer
	buyerTimer  *time.Timer
}

func NewEngine(cfg Config, api OrderAPI) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CodeTexts == (CodeTexts{}) {
		cfg.CodeTexts = CodeTexts{
			Empty:          "아직 구매 내역이 없습니다.",
			Pending:        "구매확정을 기다리는 중입니다.",
			CompletePrefix: "확정 코드: ",
		}
	}
	return &Engine{cfg: cfg, api: api, ctx: context.Background()}
}

// Start seeds the engine from a previously persisted view (zero View for
// a fresh session) and runs the initial reconcile, which arms whatever
// polling the role calls for. ctx bounds all poll fetches.
func (e *Engine) Start(ctx context.Context, initial View) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
	e.view = initial
	// A restored confirmed view must not re-raise the one-time code
	// notice for a notification that already happened last session.
	e.view.CodeNotified = initial.Confirmed && initial.ConfirmationCode != ""
	e.reconcileLocked(initial.AsOrder())
}

// Reconcile merges a fresh order record into the view. Idempotent: a
// stale or duplicate record arriving late can neither regress a terminal
// state nor re-fire the one-time notification.
func (e *Engine) Reconcile(o *order.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconcileLocked(o)
}

// Snapshot returns the current affordance snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Close stops both pollers. The engine stays readable but schedules
// nothing further.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.stopSellerLocked()
	e.stopBuyerLocked()
}

func (e *Engine) reconcileLocked(o *order.Order) {
	// RELEASED is terminal for the session. A stale response arriving
	// after the fact (an in-flight poll losing the race with a confirm)
	// must not regress the view, re-enable a control, or re-arm the
	// notification.
	if e.view.Confirmed && !o.Released() {
		return
	}

	wasConfirmed := e.view.Confirmed
	e.view.merge(o)

	// Re-arm the notification latch so a future confirmation transition
	// notifies exactly once.
	if !e.view.Confirmed {
		e.view.CodeNotified = false
	}

	justConfirmed := !wasConfirmed && e.view.Confirmed
	if e.cfg.IsBuyer && justConfirmed && e.view.ConfirmationCode != "" && !e.view.CodeNotified {
		e.alert(e.cfg.CodeTexts.CompletePrefix + e.view.ConfirmationCode)
		e.view.CodeNotified = true
	}

	e.persistLocked()

	if e.view.Confirmed {
		// Terminal for this session: no further backend calls.
		e.stopSellerLocked()
		e.stopBuyerLocked()
	} else {
		e.scheduleSellerLocked()
		e.scheduleBuyerLocked()
	}

	e.publishLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	v := e.view
	s := Snapshot{View: v}

	s.Purchase.Present = e.cfg.PurchaseControl
	if s.Purchase.Present {
		switch {
		case e.purchasing:
			s.Purchase.Label = "구매 진행 중..."
		case !v.HasOrder:
			s.Purchase.Enabled = true
			s.Purchase.Label = "구매하기"
		case v.Confirmed:
			s.Purchase.Label = "구매완료"
		default:
			s.Purchase.Label = "구매요청됨"
		}
	}

	s.Confirm.Present = e.cfg.ConfirmControl
	if s.Confirm.Present {
		switch {
		case e.confirming:
			s.Confirm.Label = "확정 처리 중..."
		case !v.HasOrder:
			s.Confirm.Label = "구매확정"
		case v.Confirmed:
			s.Confirm.Label = "구매확정 완료"
		default:
			s.Confirm.Enabled = true
			s.Confirm.Label = "구매확정"
		}
	}

	if e.cfg.IsBuyer {
		switch {
		case !v.HasOrder:
			s.CodeText = e.cfg.CodeTexts.Empty
		case v.Confirmed && v.ConfirmationCode != "":
			s.CodeText = e.cfg.CodeTexts.CompletePrefix + v.ConfirmationCode
		default:
			s.CodeText = e.cfg.CodeTexts.Pending
		}
	}
	return s
}

// Polling. One single-slot timer per role: a new fire is armed only once
// the previous one has fully completed and decided not to cancel.

func (e *Engine) scheduleSellerLocked() {
	if !e.cfg.IsSeller || !e.cfg.ConfirmControl {
		return
	}
	if e.closed || e.view.Confirmed {
		e.stopSellerLocked()
		return
	}
	if e.sellerTimer != nil {
		return
	}
	e.sellerTimer = time.AfterFunc(e.cfg.PollInterval, e.pollSeller)
}

func (e *Engine) scheduleBuyerLocked() {
	if !e.cfg.IsBuyer || !e.cfg.PurchaseControl {
		return
	}
	// The buyer only polls after purchasing; before that there is
	// nothing to watch.
	if e.closed || !e.view.HasOrder || e.view.Confirmed {
		e.stopBuyerLocked()
		return
	}
	if e.buyerTimer != nil {
		return
	}
	e.buyerTimer = time.AfterFunc(e.cfg.PollInterval, e.pollBuyer)
}

func (e *Engine) stopSellerLocked() {
	if e.sellerTimer != nil {
		e.sellerTimer.Stop()
		e.sellerTimer = nil
	}
}

func (e *Engine) stopBuyerLocked() {
	if e.buyerTimer != nil {
		e.buyerTimer.Stop()
		e.buyerTimer = nil
	}
}

func (e *Engine) pollSeller() { e.poll(true) }
func (e *Engine) pollBuyer()  { e.poll(false) }

func (e *Engine) poll(seller bool) {
	e.mu.Lock()
	if seller {
		e.sellerTimer = nil
	} else {
		e.buyerTimer = nil
	}
	if e.closed || e.view.Confirmed {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	listingID, buyerID := e.cfg.ListingID, e.cfg.BuyerID
	e.mu.Unlock()

	latest, err := e.api.LatestFor(ctx, listingID, buyerID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err != nil {
		// Self-healing: the next fire retries.
		log.Warn().Err(err).Msg("[order] poll fetch failed")
		e.rearmLocked(seller)
		return
	}
	if latest != nil {
		e.reconcileLocked(latest)
		return
	}
	// No matching order yet is quiescence, not a clear.
	e.rearmLocked(seller)
}

func (e *Engine) rearmLocked(seller bool) {
	if seller {
		e.scheduleSellerLocked()
	} else {
		e.scheduleBuyerLocked()
	}
}

func (e *Engine) alert(text string) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.Alert(text)
	}
}

func (e *Engine) publishLocked() {
	if e.cfg.Sink != nil {
		e.cfg.Sink.Apply(e.snapshotLocked())
	}
}

func (e *Engine) persistLocked() {
	if e.cfg.Persister == nil {
		return
	}
	if err := e.cfg.Persister.Save(e.view); err != nil {
		log.Warn().Err(err).Msg("[order] persist view failed")
	}
}
