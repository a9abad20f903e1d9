package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"api_negotiations/internal/discount"
	"api_negotiations/internal/listing"
	"api_negotiations/internal/negotiation"
)

// negotiationHandler holds the negotiation service and the discount issuer
// and implements HTTP handlers for the negotiation engine.
type negotiationHandler struct {
	service *negotiation.Service
	issuer  *discount.Issuer
	logger  *zap.Logger
}

// NewNegotiationHandler creates a new negotiation handler.
func NewNegotiationHandler(service *negotiation.Service, issuer *discount.Issuer, logger *zap.Logger) *negotiationHandler {
	return &negotiationHandler{
		service: service,
		issuer:  issuer,
		logger:  logger,
	}
}

// handleCreateNegotiation handles the POST /negotiations endpoint.
func (h *negotiationHandler) handleCreateNegotiation(ctx *gin.Context) {
	var req struct {
		BuyerID   string `json:"buyer_id"`
		ListingID string `json:"listing_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	n, err := h.service.Create(req.BuyerID, req.ListingID)
	if err != nil {
		switch {
		case errors.Is(err, negotiation.ErrAlreadyActive):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, listing.ErrNotFound):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err.Error() == "buyer_id and listing_id are required" ||
			err.Error() == "buyer cannot negotiate own listing" ||
			err.Error() == "listing has no negotiable price":
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to create negotiation",
				zap.Error(err),
				zap.String("buyer_id", req.BuyerID),
				zap.String("listing_id", req.ListingID),
			)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create negotiation"})
		}
		return
	}

	ctx.JSON(http.StatusCreated, n.View(negotiation.RoleBuyer))
}

// handleSubmitOffer handles POST /negotiations/:id/offers. A body with a
// price is a proposal; without one it is a pure message.
func (h *negotiationHandler) handleSubmitOffer(ctx *gin.Context) {
	id := ctx.Param("id")
	var req struct {
		Actor   string `json:"actor"`
		Price   *int64 `json:"price"`
		Message string `json:"message"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	actor := negotiation.Role(req.Actor)

	var n *negotiation.Negotiation
	var err error
	if req.Price != nil {
		n, err = h.service.Propose(id, actor, *req.Price, req.Message)
	} else {
		n, err = h.service.Message(id, actor, req.Message)
	}
	if err != nil {
		switch {
		case errors.Is(err, negotiation.ErrTerminal):
			// The thread is closed; return the stored record so the
			// caller can see the terminal state it missed.
			ctx.JSON(http.StatusGone, gin.H{"error": err.Error(), "negotiation": n.View(actor)})
		case errors.Is(err, negotiation.ErrNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": "negotiation not found"})
		case errors.Is(err, negotiation.ErrInvalidPrice):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, negotiation.ErrWrongTurn):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, negotiation.ErrInvalidActor):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err.Error() == "message must not be empty":
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to submit offer", zap.String("negotiation_id", id), zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit offer"})
		}
		return
	}

	ctx.JSON(http.StatusOK, n.View(actor))
}

// AcceptNegotiationHandler returns the handler for POST /negotiations/:id/accept.
func (h *negotiationHandler) AcceptNegotiationHandler(service *negotiation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			Actor string `json:"actor"`
			Price int64  `json:"price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		actor := negotiation.Role(req.Actor)

		n, code, err := service.Accept(id, actor, req.Price)
		if err != nil {
			switch {
			case errors.Is(err, negotiation.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "negotiation not found"})
			case errors.Is(err, negotiation.ErrNothingToAccept):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, negotiation.ErrWrongTurn):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, negotiation.ErrInvalidActor):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				h.logger.Error("failed to accept negotiation", zap.String("negotiation_id", id), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept negotiation"})
			}
			return
		}

		resp := gin.H{"negotiation": n.View(actor)}
		if code != nil {
			resp["discount_code"] = code
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleRejectNegotiation handles POST /negotiations/:id/reject.
func (h *negotiationHandler) handleRejectNegotiation(ctx *gin.Context) {
	h.handleClose(ctx, h.service.Reject)
}

// handleCancelNegotiation handles POST /negotiations/:id/cancel.
func (h *negotiationHandler) handleCancelNegotiation(ctx *gin.Context) {
	h.handleClose(ctx, h.service.Cancel)
}

func (h *negotiationHandler) handleClose(ctx *gin.Context, op func(string, negotiation.Role) (*negotiation.Negotiation, error)) {
	id := ctx.Param("id")
	var req struct {
		Actor string `json:"actor"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	actor := negotiation.Role(req.Actor)

	n, err := op(id, actor)
	if err != nil {
		switch {
		case errors.Is(err, negotiation.ErrNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": "negotiation not found"})
		case errors.Is(err, negotiation.ErrCancelDenied):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, negotiation.ErrInvalidActor):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to close negotiation", zap.String("negotiation_id", id), zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close negotiation"})
		}
		return
	}

	ctx.JSON(http.StatusOK, n.View(actor))
}

// handleGetNegotiation handles GET /negotiations/:id. The viewer query
// parameter decides which side's flagged messages stay readable.
func (h *negotiationHandler) handleGetNegotiation(ctx *gin.Context) {
	id := ctx.Param("id")
	viewer := negotiation.Role(ctx.Query("viewer"))

	n, err := h.service.Get(id)
	if err != nil {
		if errors.Is(err, negotiation.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "negotiation not found"})
			return
		}
		h.logger.Error("failed to get negotiation", zap.String("negotiation_id", id), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get negotiation"})
		return
	}

	ctx.JSON(http.StatusOK, n.View(viewer))
}

// handleListNegotiations handles GET /negotiations with buyer, seller and
// listing filters.
func (h *negotiationHandler) handleListNegotiations(ctx *gin.Context) {
	buyerID := ctx.Query("buyer")
	sellerID := ctx.Query("seller")
	listingID := ctx.Query("listing")

	results, metadata, err := h.service.ListActive(buyerID, sellerID, listingID)
	if err != nil {
		h.logger.Error("error searching negotiations",
			zap.String("buyer_filter", buyerID),
			zap.String("seller_filter", sellerID),
			zap.Error(err),
		)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search negotiations: " + err.Error()})
		return
	}

	views := make([]*negotiation.Negotiation, 0, len(results))
	for _, n := range results {
		views = append(views, n.View(""))
	}
	ctx.JSON(http.StatusOK, gin.H{"results": views, "metadata": metadata})
}

// handleRedeemCode handles POST /discount-codes/:code/redeem.
func (h *negotiationHandler) handleRedeemCode(ctx *gin.Context) {
	code := ctx.Param("code")
	var req struct {
		ListingID string `json:"listing_id"`
		BuyerID   string `json:"buyer_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	redeemed, err := h.issuer.Redeem(code, req.ListingID, req.BuyerID)
	if err != nil {
		switch {
		case errors.Is(err, discount.ErrCodeNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": "discount code not found"})
		case errors.Is(err, discount.ErrCodeExpired):
			ctx.JSON(http.StatusGone, gin.H{"error": err.Error()})
		case errors.Is(err, discount.ErrAlreadyRedeemed):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, discount.ErrMismatch):
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to redeem discount code", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem discount code"})
		}
		return
	}

	ctx.JSON(http.StatusOK, redeemed)
}
