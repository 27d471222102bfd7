package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-attribute-store/internal/purchase"
	"github.com/imrishuroy/go-attribute-store/internal/validation"
)

func (a *api) purchase(c *gin.Context) {
	buyer, ok := actor(c)
	if !ok {
		return
	}

	var req validation.PurchaseRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}

	out, err := a.cfg.Coordinator.Purchase(c.Request.Context(), buyer, *req.ItemID)
	switch {
	case errors.Is(err, purchase.ErrUnknownItem):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_item", "item_id": *req.ItemID})
		return
	case err != nil:
		internalError(c, "purchase_failed", err)
		return
	}

	if out.Kind == purchase.KindCompletePrevious {
		// steering, not a failure: the buyer must finish the pending purchase first
		c.JSON(http.StatusOK, gin.H{
			"event":          string(out.Kind),
			"item_id":        out.PendingItemID,
			"transaction_id": out.TransactionID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event":          string(out.Kind),
		"success":        out.Success,
		"transaction_id": out.TransactionID,
		"result":         out.Result.String(),
	})
}

func (a *api) ownedItems(c *gin.Context) {
	buyer := c.Param("buyer")
	items, err := a.cfg.Coordinator.Owned(c.Request.Context(), buyer)
	if err != nil {
		internalError(c, "owned_items_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buyer": buyer, "items": items})
}
