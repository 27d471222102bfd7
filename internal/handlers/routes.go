package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-attribute-store/internal/catalog"
	"github.com/imrishuroy/go-attribute-store/internal/purchase"
	"github.com/imrishuroy/go-attribute-store/internal/validation"
)

// ActorHeader carries the caller's identity on every mutating request.
const ActorHeader = "X-Actor-Id"

// HandlerConfig groups dependencies for the store routes.
type HandlerConfig struct {
	Catalog     *catalog.Service
	Coordinator *purchase.Coordinator
	// LedgerAddress is reported by GET /state (the ledger request queue URL).
	LedgerAddress string
}

type api struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

// RegisterRoutes registers the catalog, purchase and query routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	a := &api{cfg: cfg, v: validation.New()}

	r.POST("/items", a.createItem)
	r.GET("/items", a.listItems)
	r.GET("/items/:id", a.getItem)
	r.POST("/purchases", a.purchase)
	r.GET("/owners/:buyer/items", a.ownedItems)
	r.GET("/state", a.state)
}

// actor returns the caller identity or writes a 401.
func actor(c *gin.Context) (string, bool) {
	id := c.GetHeader(ActorHeader)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_actor_id"})
		return "", false
	}
	return id, true
}

func internalError(c *gin.Context, code string, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": code, "detail": err.Error()})
}
