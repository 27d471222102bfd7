package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-attribute-store/internal/catalog"
	"github.com/imrishuroy/go-attribute-store/internal/validation"
)

func (a *api) createItem(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}

	var req validation.CreateItemRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	item := catalog.Item{
		ID: *req.ItemID,
		Metadata: catalog.Metadata{
			Title:       req.Title,
			Description: req.Description,
			Media:       req.Media,
		},
		Price: *req.Price,
	}
	ev, err := a.cfg.Catalog.CreateItem(c.Request.Context(), caller, item)
	switch {
	case errors.Is(err, catalog.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return
	case errors.Is(err, catalog.ErrDuplicateItem):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_item", "item_id": item.ID})
		return
	case err != nil:
		internalError(c, "create_item_failed", err)
		return
	}

	c.Header("Location", fmt.Sprintf("/items/%d", ev.ItemID))
	c.JSON(http.StatusCreated, ev)
}

func (a *api) listItems(c *gin.Context) {
	items, err := a.cfg.Catalog.List(c.Request.Context())
	if err != nil {
		internalError(c, "list_items_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *api) getItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item_id"})
		return
	}
	item, err := a.cfg.Catalog.Get(c.Request.Context(), catalog.ItemID(id))
	if err != nil {
		internalError(c, "get_item_failed", err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_item"})
		return
	}
	c.JSON(http.StatusOK, item)
}
