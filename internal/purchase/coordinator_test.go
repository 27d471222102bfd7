package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-attribute-store/internal/catalog"
	"github.com/imrishuroy/go-attribute-store/internal/ledger"
	"github.com/imrishuroy/go-attribute-store/internal/ownership"
	"github.com/imrishuroy/go-attribute-store/internal/pending"
)

// gateLedger blocks every transfer until the test resolves its transaction.
type gateLedger struct {
	mu      sync.Mutex
	calls   []ledger.TransferRequest
	results map[uint64]chan ledger.Result
	started chan ledger.TransferRequest
}

func newGateLedger() *gateLedger {
	return &gateLedger{
		results: map[uint64]chan ledger.Result{},
		started: make(chan ledger.TransferRequest, 16),
	}
}

func (g *gateLedger) resultFor(tx uint64) chan ledger.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.results[tx]
	if !ok {
		ch = make(chan ledger.Result, 1)
		g.results[tx] = ch
	}
	return ch
}

func (g *gateLedger) Transfer(ctx context.Context, req ledger.TransferRequest) ledger.Result {
	ch := g.resultFor(req.TransactionID)
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	g.started <- req
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return ledger.Unresolved
	}
}

func (g *gateLedger) resolve(tx uint64, r ledger.Result) { g.resultFor(tx) <- r }

func (g *gateLedger) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gateLedger) waitStarted(t *testing.T) ledger.TransferRequest {
	t.Helper()
	select {
	case req := <-g.started:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("transfer was not issued")
		return ledger.TransferRequest{}
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Count(ctx context.Context, name string, dims map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name]++
	return nil
}

type fixture struct {
	coord    *Coordinator
	ledger   *gateLedger
	pending  *pending.MemoryStore
	owners   *ownership.MemoryStore
	attempts *MemoryAttempts
	metrics  *countingRecorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	items := catalog.NewMemoryStore()
	svc := catalog.NewService(items, "admin")
	ctx := context.Background()
	_, err := svc.CreateItem(ctx, "admin", catalog.Item{ID: 1, Metadata: catalog.Metadata{Title: "Hat"}, Price: 100})
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, "admin", catalog.Item{ID: 2, Metadata: catalog.Metadata{Title: "Sword"}, Price: 50})
	require.NoError(t, err)

	f := &fixture{
		ledger:   newGateLedger(),
		pending:  pending.NewMemoryStore(),
		owners:   ownership.NewMemoryStore(),
		attempts: NewMemoryAttempts(),
		metrics:  &countingRecorder{},
	}
	opts = append([]Option{WithAttemptLog(f.attempts), WithRecorder(f.metrics)}, opts...)
	f.coord = New(Deps{
		Catalog:  svc,
		Pending:  f.pending,
		Sequence: pending.NewMemorySequence(0),
		Owners:   f.owners,
		Ledger:   f.ledger,
		Account:  "store",
	}, opts...)
	return f
}

type result struct {
	out Outcome
	err error
}

func (f *fixture) purchaseAsync(ctx context.Context, buyer string, item uint32) <-chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := f.coord.Purchase(ctx, buyer, item)
		ch <- result{out, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("purchase did not return")
		return result{}
	}
}

func TestPurchase_ConfirmedGrantsOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.purchaseAsync(ctx, "B", 1)
	req := f.ledger.waitStarted(t)
	assert.Equal(t, ledger.TransferRequest{TransactionID: 0, From: "B", To: "store", Amount: 100}, req)

	p, _ := f.pending.Get(ctx, "B")
	require.NotNil(t, p, "entry must exist while the transfer is outstanding")
	assert.Equal(t, uint64(0), p.TransactionID)

	f.ledger.resolve(0, ledger.Confirmed)
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, KindSold, r.out.Kind)
	assert.True(t, r.out.Success)

	owned, _ := f.coord.Owned(ctx, "B")
	assert.Equal(t, []uint32{1}, owned)
	p, _ = f.pending.Get(ctx, "B")
	assert.Nil(t, p)
	assert.Equal(t, 1, f.metrics.counts[MetricSucceeded])
}

func TestPurchase_RejectedLeavesOwnershipAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.purchaseAsync(ctx, "B", 1)
	f.ledger.waitStarted(t)
	f.ledger.resolve(0, ledger.Rejected)
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, KindSold, r.out.Kind)
	assert.False(t, r.out.Success)

	owned, _ := f.coord.Owned(ctx, "B")
	assert.Empty(t, owned)
	p, _ := f.pending.Get(ctx, "B")
	assert.Nil(t, p)

	// retry is a fresh attempt with a new transaction id
	ch = f.purchaseAsync(ctx, "B", 1)
	req := f.ledger.waitStarted(t)
	assert.Equal(t, uint64(1), req.TransactionID)
	f.ledger.resolve(1, ledger.Confirmed)
	r = wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.out.Success)
	assert.Equal(t, 1, f.metrics.counts[MetricFailed])
}

func TestPurchase_DifferentItemSteersToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.purchaseAsync(ctx, "B", 1)
	f.ledger.waitStarted(t)

	out, err := f.coord.Purchase(ctx, "B", 2)
	require.NoError(t, err)
	assert.Equal(t, KindCompletePrevious, out.Kind)
	assert.Equal(t, uint32(1), out.PendingItemID)

	p, _ := f.pending.Get(ctx, "B")
	require.NotNil(t, p)
	assert.Equal(t, pending.Purchase{Buyer: "B", TransactionID: 0, ItemID: 1, CreatedAt: p.CreatedAt}, *p)
	assert.Equal(t, 1, f.ledger.callCount(), "no transfer for item 2 while tx 0 is outstanding")

	f.ledger.resolve(0, ledger.Confirmed)
	require.NoError(t, wait(t, ch).err)
	assert.Equal(t, 1, f.metrics.counts[MetricSteered])
}

func (c *Coordinator) joinedCount(tx uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[tx]; ok {
		return f.joined
	}
	return 0
}

func TestPurchase_SameItemRetryJoinsInFlightTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.purchaseAsync(ctx, "B", 1)
	f.ledger.waitStarted(t)
	second := f.purchaseAsync(ctx, "B", 1)

	require.Eventually(t, func() bool { return f.coord.joinedCount(0) == 1 }, 2*time.Second, 5*time.Millisecond,
		"second call did not join")

	f.ledger.resolve(0, ledger.Confirmed)
	r1, r2 := wait(t, first), wait(t, second)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, r1.out, r2.out)
	assert.Equal(t, uint64(0), r2.out.TransactionID)
	assert.Equal(t, 1, f.ledger.callCount(), "one transfer for both calls")
}

func TestPurchase_ReplyReconciledWhileWaiting(t *testing.T) {
	f := newFixture(t, WithTransferTimeout(50*time.Millisecond))
	ctx := context.Background()

	ch := f.purchaseAsync(ctx, "B", 1)
	f.ledger.waitStarted(t)

	// the confirmation was delivered to Reconcile, not to this waiter
	a, _ := f.attempts.Get(ctx, 0)
	require.NotNil(t, a, "attempt must be logged before the transfer is sent")
	require.NoError(t, f.coord.Reconcile(ctx, ledger.Reply{TransactionID: 0, Status: ledger.StatusOK}))

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.out.Success)
	assert.Equal(t, ledger.Confirmed, r.out.Result)

	owned, _ := f.coord.Owned(ctx, "B")
	assert.Equal(t, []uint32{1}, owned)
	attempts, _ := f.coord.Attempts(ctx)
	assert.Empty(t, attempts, "settled attempt must not be logged again")
	p, _ := f.pending.Get(ctx, "B")
	assert.Nil(t, p)
}

func TestPurchase_AttemptClosedOnResolution(t *testing.T) {
	for _, res := range []ledger.Result{ledger.Confirmed, ledger.Rejected} {
		t.Run(res.String(), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			ch := f.purchaseAsync(ctx, "B", 2)
			f.ledger.waitStarted(t)
			f.ledger.resolve(0, res)
			require.NoError(t, wait(t, ch).err)

			attempts, _ := f.coord.Attempts(ctx)
			assert.Empty(t, attempts)
		})
	}
}

type failingAttempts struct{ *MemoryAttempts }

func (failingAttempts) Record(ctx context.Context, a Attempt) error {
	return errors.New("attempts table unavailable")
}

func TestPurchase_AttemptLogFailureSendsNoTransfer(t *testing.T) {
	f := newFixture(t, WithAttemptLog(failingAttempts{NewMemoryAttempts()}))
	ctx := context.Background()

	_, err := f.coord.Purchase(ctx, "B", 1)
	require.Error(t, err)
	assert.Equal(t, 0, f.ledger.callCount())
	p, _ := f.pending.Get(ctx, "B")
	assert.Nil(t, p)
}

func TestPurchase_ResumesInterruptedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// entry left behind by a process that died mid-transfer
	_, err := f.pending.Insert(ctx, pending.Purchase{Buyer: "B", TransactionID: 5, ItemID: 1})
	require.NoError(t, err)

	out, err := f.coord.Purchase(ctx, "B", 2)
	require.NoError(t, err)
	assert.Equal(t, KindCompletePrevious, out.Kind)
	assert.Equal(t, uint32(1), out.PendingItemID)

	ch := f.purchaseAsync(ctx, "B", 1)
	req := f.ledger.waitStarted(t)
	assert.Equal(t, uint64(5), req.TransactionID, "resume reuses the pending transaction id")
	f.ledger.resolve(5, ledger.Confirmed)
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.out.Success)

	next, _ := f.coord.NextTransactionID(ctx)
	assert.Equal(t, uint64(0), next, "resume does not allocate")
}

func TestPurchase_IndependentBuyers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch1 := f.purchaseAsync(ctx, "B1", 1)
	reqA := f.ledger.waitStarted(t)
	ch2 := f.purchaseAsync(ctx, "B2", 1)
	reqB := f.ledger.waitStarted(t)
	require.NotEqual(t, reqA.TransactionID, reqB.TransactionID)

	txOf := map[string]uint64{reqA.From: reqA.TransactionID, reqB.From: reqB.TransactionID}

	f.ledger.resolve(txOf["B2"], ledger.Rejected)
	r2 := wait(t, ch2)
	require.NoError(t, r2.err)
	assert.False(t, r2.out.Success)

	p1, _ := f.pending.Get(ctx, "B1")
	require.NotNil(t, p1, "B1's entry is untouched by B2's resolution")
	assert.Equal(t, txOf["B1"], p1.TransactionID)

	f.ledger.resolve(txOf["B1"], ledger.Confirmed)
	r1 := wait(t, ch1)
	require.NoError(t, r1.err)
	assert.True(t, r1.out.Success)

	all, _ := f.coord.Owners(ctx)
	assert.Equal(t, map[string][]uint32{"B1": {1}}, all)
	list, _ := f.coord.Pending(ctx)
	assert.Empty(t, list)
}

func TestPurchase_UnknownItemClearsEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Purchase(ctx, "B", 99)
	require.ErrorIs(t, err, ErrUnknownItem)

	p, _ := f.pending.Get(ctx, "B")
	assert.Nil(t, p, "buyer must not be stranded")
	assert.Equal(t, 0, f.ledger.callCount())
}

func TestPurchase_MissingBuyer(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Purchase(context.Background(), "", 1)
	require.ErrorIs(t, err, ErrMissingBuyer)
}

func TestPurchase_TimeoutIsUnresolvedAndLogged(t *testing.T) {
	f := newFixture(t, WithTransferTimeout(20*time.Millisecond))
	ctx := context.Background()

	out, err := f.coord.Purchase(ctx, "B", 2)
	require.NoError(t, err)
	assert.Equal(t, KindSold, out.Kind)
	assert.False(t, out.Success)
	assert.Equal(t, ledger.Unresolved, out.Result)

	p, _ := f.pending.Get(ctx, "B")
	assert.Nil(t, p)
	owned, _ := f.coord.Owned(ctx, "B")
	assert.Empty(t, owned)

	attempts, _ := f.coord.Attempts(ctx)
	require.Len(t, attempts, 1)
	assert.Equal(t, Attempt{TransactionID: 0, Buyer: "B", ItemID: 2, Amount: 50, Reason: reasonAwaitingReply, CreatedAt: attempts[0].CreatedAt}, attempts[0])
	assert.Equal(t, 1, f.metrics.counts[MetricUnresolved])
}

func TestPurchase_CallerCancellationDoesNotAbandonTransfer(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := f.purchaseAsync(ctx, "B", 1)
	f.ledger.waitStarted(t)
	cancel()
	f.ledger.resolve(0, ledger.Confirmed)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.True(t, r.out.Success)
	owned, _ := f.coord.Owned(context.Background(), "B")
	assert.Equal(t, []uint32{1}, owned)
}

type failingOwners struct {
	*ownership.MemoryStore
	fail bool
}

func (o *failingOwners) Add(ctx context.Context, buyer string, itemID uint32) error {
	if o.fail {
		return errors.New("owners table unavailable")
	}
	return o.MemoryStore.Add(ctx, buyer, itemID)
}

func TestPurchase_GrantFailureIsSettledLater(t *testing.T) {
	owners := &failingOwners{MemoryStore: ownership.NewMemoryStore(), fail: true}
	items := catalog.NewMemoryStore()
	require.NoError(t, items.Insert(context.Background(), catalog.Item{ID: 1, Price: 10}))
	attempts := NewMemoryAttempts()
	c := New(Deps{
		Catalog:  items,
		Pending:  pending.NewMemoryStore(),
		Sequence: pending.NewMemorySequence(0),
		Owners:   owners,
		Ledger: ledger.ClientFunc(func(ctx context.Context, req ledger.TransferRequest) ledger.Result {
			return ledger.Confirmed
		}),
		Account: "store",
	}, WithAttemptLog(attempts))
	ctx := context.Background()

	_, err := c.Purchase(ctx, "B", 1)
	require.Error(t, err)
	list, _ := c.Pending(ctx)
	assert.Empty(t, list)

	logged, _ := attempts.List(ctx)
	require.Len(t, logged, 1)
	assert.True(t, logged[0].Paid)

	owners.fail = false
	n, err := c.SettlePaid(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	owned, _ := c.Owned(ctx, "B")
	assert.Equal(t, []uint32{1}, owned)
	logged, _ = attempts.List(ctx)
	assert.Empty(t, logged)
}
