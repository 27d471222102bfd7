package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// state returns a full snapshot: catalog, owners, pending purchases and
// the attempts still awaiting reconciliation.
func (a *api) state(c *gin.Context) {
	ctx := c.Request.Context()
	co := a.cfg.Coordinator

	items, err := a.cfg.Catalog.List(ctx)
	if err != nil {
		internalError(c, "list_items_failed", err)
		return
	}
	owners, err := co.Owners(ctx)
	if err != nil {
		internalError(c, "list_owners_failed", err)
		return
	}
	next, err := co.NextTransactionID(ctx)
	if err != nil {
		internalError(c, "read_sequence_failed", err)
		return
	}
	pending, err := co.Pending(ctx)
	if err != nil {
		internalError(c, "list_pending_failed", err)
		return
	}
	attempts, err := co.Attempts(ctx)
	if err != nil {
		internalError(c, "list_attempts_failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"admin":               a.cfg.Catalog.Admin(),
		"ledger":              a.cfg.LedgerAddress,
		"account":             co.Account(),
		"items":               items,
		"owners":              owners,
		"next_transaction_id": next,
		"pending":             pending,
		"attempts":            attempts,
	})
}
