package purchase

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/imrishuroy/go-attribute-store/internal/ledger"
)

// Reconcile settles a ledger reply that arrived after its purchase call
// gave up. Only a Confirmed reply for a logged attempt grants ownership.
func (c *Coordinator) Reconcile(ctx context.Context, r ledger.Reply) error {
	if c.attempts == nil {
		log.Printf("[reconcile] no attempt log configured, ignoring tx=%d", r.TransactionID)
		return nil
	}
	a, err := c.attempts.Get(ctx, r.TransactionID)
	if err != nil {
		return fmt.Errorf("read attempt: %w", err)
	}
	if a == nil {
		log.Printf("[reconcile] no unresolved attempt for tx=%d status=%s", r.TransactionID, r.Status)
		return nil
	}

	switch r.Result() {
	case ledger.Confirmed:
		if err := c.owners.Add(ctx, a.Buyer, a.ItemID); err != nil {
			return fmt.Errorf("grant ownership: %w", err)
		}
		if err := c.attempts.Delete(ctx, a.TransactionID); err != nil {
			return fmt.Errorf("delete attempt: %w", err)
		}
		c.count(ctx, MetricReconciled, map[string]string{"item_id": strconv.FormatUint(uint64(a.ItemID), 10)})
		log.Printf("[reconcile] granted item=%d to buyer=%s tx=%d", a.ItemID, a.Buyer, a.TransactionID)
	case ledger.Rejected:
		if err := c.attempts.Delete(ctx, a.TransactionID); err != nil {
			return fmt.Errorf("delete attempt: %w", err)
		}
		log.Printf("[reconcile] tx=%d rejected, attempt closed", a.TransactionID)
	default:
		log.Printf("[reconcile] tx=%d still unresolved (status=%q)", a.TransactionID, r.Status)
	}
	return nil
}

// SettlePaid grants every attempt that was paid but never granted and
// returns how many were settled.
func (c *Coordinator) SettlePaid(ctx context.Context) (int, error) {
	if c.attempts == nil {
		return 0, nil
	}
	all, err := c.attempts.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list attempts: %w", err)
	}
	settled := 0
	for _, a := range all {
		if !a.Paid {
			continue
		}
		if err := c.owners.Add(ctx, a.Buyer, a.ItemID); err != nil {
			return settled, fmt.Errorf("grant ownership tx=%d: %w", a.TransactionID, err)
		}
		if err := c.attempts.Delete(ctx, a.TransactionID); err != nil {
			return settled, fmt.Errorf("delete attempt tx=%d: %w", a.TransactionID, err)
		}
		settled++
		log.Printf("[reconcile] settled paid tx=%d item=%d buyer=%s", a.TransactionID, a.ItemID, a.Buyer)
	}
	return settled, nil
}

// Attempts lists unresolved attempts awaiting reconciliation.
func (c *Coordinator) Attempts(ctx context.Context) ([]Attempt, error) {
	if c.attempts == nil {
		return []Attempt{}, nil
	}
	return c.attempts.List(ctx)
}
