package purchase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/imrishuroy/go-attribute-store/internal/ledger"
	"github.com/imrishuroy/go-attribute-store/internal/ownership"
	"github.com/imrishuroy/go-attribute-store/internal/pending"
)

const (
	defaultTransferTimeout = 30 * time.Second
	maxEnterAttempts       = 5
	maxRemoveAttempts      = 3

	reasonAwaitingReply = "awaiting ledger reply"
)

// Deps are the collaborators every Coordinator needs.
type Deps struct {
	Catalog  Catalog
	Pending  pending.Ledger
	Sequence pending.Sequence
	Owners   ownership.Registry
	Ledger   ledger.Client
	// Account is the store's own ledger account, the recipient of every payment.
	Account string
}

// Coordinator drives purchases: one pending purchase per buyer,
// resume on same-item retry, steer on different-item retry.
type Coordinator struct {
	items    Catalog
	pending  pending.Ledger
	seq      pending.Sequence
	owners   ownership.Registry
	ledger   ledger.Client
	account  string
	timeout  time.Duration
	attempts AttemptLog
	metrics  Recorder
	nowFunc  func() time.Time

	buyers  *keyedMutex
	mu      sync.Mutex
	flights map[uint64]*flight
}

// flight is a transfer this process is currently driving.
type flight struct {
	entry   pending.Purchase
	done    chan struct{}
	joined  int // callers waiting on this flight besides its owner
	outcome Outcome
	err     error
}

type Option func(*Coordinator)

// WithTransferTimeout bounds the wait for a ledger reply.
func WithTransferTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAttemptLog records unresolved attempts for Reconcile.
func WithAttemptLog(l AttemptLog) Option {
	return func(c *Coordinator) { c.attempts = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.metrics = r }
}

func New(d Deps, opts ...Option) *Coordinator {
	c := &Coordinator{
		items:   d.Catalog,
		pending: d.Pending,
		seq:     d.Sequence,
		owners:  d.Owners,
		ledger:  d.Ledger,
		account: d.Account,
		timeout: defaultTransferTimeout,
		nowFunc: time.Now,
		buyers:  newKeyedMutex(),
		flights: map[uint64]*flight{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Purchase buys itemID for buyer.
//
// A buyer with no pending purchase gets a fresh transaction id. A buyer
// retrying the item already pending reuses its transaction id: if this
// process is still waiting on that transfer the call joins it, otherwise
// the transfer is re-issued. A buyer with a different item pending gets
// KindCompletePrevious and nothing changes.
func (c *Coordinator) Purchase(ctx context.Context, buyer string, itemID uint32) (Outcome, error) {
	if buyer == "" {
		return Outcome{}, ErrMissingBuyer
	}

	f, owner, steer, err := c.enter(ctx, buyer, itemID)
	if err != nil {
		return Outcome{}, err
	}
	if steer != nil {
		c.count(ctx, MetricSteered, nil)
		return *steer, nil
	}
	if !owner {
		log.Printf("[purchase] joining in-flight tx=%d buyer=%s item=%d", f.entry.TransactionID, buyer, itemID)
		select {
		case <-f.done:
			return f.outcome, f.err
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}

	f.outcome, f.err = c.execute(ctx, f.entry)
	close(f.done)
	return f.outcome, f.err
}

// enter runs the non-suspending prefix under the buyer's lock. It returns
// either a steering outcome or the flight to drive (owner) or wait on.
func (c *Coordinator) enter(ctx context.Context, buyer string, itemID uint32) (*flight, bool, *Outcome, error) {
	unlock := c.buyers.Lock(buyer)
	defer unlock()

	for i := 0; i < maxEnterAttempts; i++ {
		cur, err := c.pending.Get(ctx, buyer)
		if err != nil {
			return nil, false, nil, fmt.Errorf("read pending purchase: %w", err)
		}

		fresh := false
		if cur == nil {
			tx, err := c.seq.Next(ctx)
			if err != nil {
				return nil, false, nil, fmt.Errorf("allocate transaction id: %w", err)
			}
			p := pending.Purchase{Buyer: buyer, TransactionID: tx, ItemID: itemID, CreatedAt: c.nowFunc().UTC()}
			created, err := c.pending.Insert(ctx, p)
			if err != nil {
				return nil, false, nil, fmt.Errorf("insert pending purchase: %w", err)
			}
			if !created {
				// another instance inserted first; route on its entry
				continue
			}
			cur, fresh = &p, true
		}

		if cur.ItemID != itemID {
			log.Printf("[purchase] buyer=%s must complete tx=%d item=%d before item=%d", buyer, cur.TransactionID, cur.ItemID, itemID)
			return nil, false, &Outcome{
				Kind:          KindCompletePrevious,
				PendingItemID: cur.ItemID,
				TransactionID: cur.TransactionID,
			}, nil
		}

		f, owner := c.claim(*cur, fresh)
		return f, owner, nil, nil
	}
	return nil, false, nil, errors.New("pending purchase contention: retries exhausted")
}

// claim returns the local flight for entry, creating it when none exists.
func (c *Coordinator) claim(entry pending.Purchase, fresh bool) (*flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[entry.TransactionID]; ok {
		f.joined++
		return f, false
	}
	f := &flight{entry: entry, done: make(chan struct{})}
	c.flights[entry.TransactionID] = f
	if fresh {
		log.Printf("[purchase] started tx=%d buyer=%s item=%d", entry.TransactionID, entry.Buyer, entry.ItemID)
	} else {
		log.Printf("[purchase] resuming interrupted tx=%d buyer=%s item=%d", entry.TransactionID, entry.Buyer, entry.ItemID)
	}
	return f, true
}

// execute prices the item, performs the transfer and settles the outcome.
// It is detached from the caller's cancellation so the entry is always
// cleared once the transfer resolves.
func (c *Coordinator) execute(ctx context.Context, entry pending.Purchase) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	defer c.finish(ctx, entry)

	item, err := c.items.Get(ctx, entry.ItemID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup item: %w", err)
	}
	if item == nil {
		log.Printf("[purchase] unknown item=%d tx=%d buyer=%s", entry.ItemID, entry.TransactionID, entry.Buyer)
		return Outcome{}, ErrUnknownItem
	}

	// logged before the transfer so a reply reconciled out of band always
	// finds its attempt
	if err := c.record(ctx, entry, item.Price, false, reasonAwaitingReply); err != nil {
		return Outcome{}, fmt.Errorf("record attempt: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	res := c.ledger.Transfer(tctx, ledger.TransferRequest{
		TransactionID: entry.TransactionID,
		From:          entry.Buyer,
		To:            c.account,
		Amount:        item.Price,
	})
	cancel()

	out := Outcome{Kind: KindSold, TransactionID: entry.TransactionID, Result: res}
	dims := map[string]string{"item_id": strconv.FormatUint(uint64(entry.ItemID), 10)}
	switch res {
	case ledger.Confirmed:
		if err := c.owners.Add(ctx, entry.Buyer, entry.ItemID); err != nil {
			// paid but not granted; leave it for SettlePaid
			if rerr := c.record(ctx, entry, item.Price, true, "grant failed: "+err.Error()); rerr != nil {
				log.Printf("[purchase] record attempt tx=%d: %v", entry.TransactionID, rerr)
			}
			return out, fmt.Errorf("grant ownership: %w", err)
		}
		c.closeAttempt(ctx, entry.TransactionID)
		out.Success = true
		c.count(ctx, MetricSucceeded, dims)
	case ledger.Rejected:
		c.closeAttempt(ctx, entry.TransactionID)
		c.count(ctx, MetricFailed, dims)
	default:
		if c.reconciled(ctx, entry) {
			// the reply reached Reconcile instead of this waiter
			out.Result = ledger.Confirmed
			out.Success = true
			c.count(ctx, MetricSucceeded, dims)
			break
		}
		c.count(ctx, MetricUnresolved, dims)
	}
	log.Printf("[purchase] resolved tx=%d buyer=%s item=%d result=%s", entry.TransactionID, entry.Buyer, entry.ItemID, out.Result)
	return out, nil
}

// reconciled reports whether an unresolved attempt was already settled as
// Confirmed by Reconcile while the transfer was waiting.
func (c *Coordinator) reconciled(ctx context.Context, entry pending.Purchase) bool {
	if c.attempts == nil {
		return false
	}
	a, err := c.attempts.Get(ctx, entry.TransactionID)
	if err != nil || a != nil {
		return false
	}
	owned, err := c.owners.Owned(ctx, entry.Buyer)
	if err != nil {
		return false
	}
	for _, id := range owned {
		if id == entry.ItemID {
			return true
		}
	}
	return false
}

func (c *Coordinator) closeAttempt(ctx context.Context, tx uint64) {
	if c.attempts == nil {
		return
	}
	if err := c.attempts.Delete(ctx, tx); err != nil {
		log.Printf("[purchase] close attempt tx=%d: %v", tx, err)
	}
}

// finish clears the buyer's entry, then retires the flight.
func (c *Coordinator) finish(ctx context.Context, entry pending.Purchase) {
	unlock := c.buyers.Lock(entry.Buyer)
	defer unlock()

	var err error
	for i := 0; i < maxRemoveAttempts; i++ {
		if err = c.pending.Remove(ctx, entry.Buyer, entry.TransactionID); err == nil {
			break
		}
	}
	if err != nil {
		// a later same-item call resumes this tx
		log.Printf("[purchase] failed to clear tx=%d buyer=%s: %v", entry.TransactionID, entry.Buyer, err)
	}

	c.mu.Lock()
	if f, ok := c.flights[entry.TransactionID]; ok && f.joined > 0 {
		log.Printf("[purchase] tx=%d shared with %d joined calls", entry.TransactionID, f.joined)
	}
	delete(c.flights, entry.TransactionID)
	c.mu.Unlock()
}

func (c *Coordinator) record(ctx context.Context, entry pending.Purchase, amount uint64, paid bool, reason string) error {
	if c.attempts == nil {
		return nil
	}
	return c.attempts.Record(ctx, Attempt{
		TransactionID: entry.TransactionID,
		Buyer:         entry.Buyer,
		ItemID:        entry.ItemID,
		Amount:        amount,
		Paid:          paid,
		Reason:        reason,
		CreatedAt:     c.nowFunc().UTC(),
	})
}

func (c *Coordinator) count(ctx context.Context, name string, dims map[string]string) {
	if c.metrics == nil {
		return
	}
	if err := c.metrics.Count(context.WithoutCancel(ctx), name, dims); err != nil {
		log.Printf("[purchase] metric %s: %v", name, err)
	}
}

// Owned returns the items buyer owns.
func (c *Coordinator) Owned(ctx context.Context, buyer string) ([]uint32, error) {
	return c.owners.Owned(ctx, buyer)
}

// Owners returns the whole ownership registry.
func (c *Coordinator) Owners(ctx context.Context) (map[string][]uint32, error) {
	return c.owners.All(ctx)
}

// Pending lists every in-flight purchase.
func (c *Coordinator) Pending(ctx context.Context) ([]pending.Purchase, error) {
	return c.pending.List(ctx)
}

// NextTransactionID is the id the next fresh attempt will get.
func (c *Coordinator) NextTransactionID(ctx context.Context) (uint64, error) {
	return c.seq.Peek(ctx)
}

// Account is the store's ledger account.
func (c *Coordinator) Account() string { return c.account }
