package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reverie-gm/reverie/internal/crypto"
	"github.com/reverie-gm/reverie/internal/logger"
	"github.com/reverie-gm/reverie/internal/store"
)

// AuthHandler exchanges session tokens for connection tickets.
type AuthHandler struct {
	store   *store.Store
	tickets *crypto.TicketManager
}

func NewAuthHandler(st *store.Store, tickets *crypto.TicketManager) *AuthHandler {
	return &AuthHandler{store: st, tickets: tickets}
}

// PostTicket validates the session token and issues a short-lived ticket for
// the websocket handshake.
// POST /v1/auth
func (h *AuthHandler) PostTicket(c *gin.Context) {
	var req TicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	adv, err := h.store.Load(req.AdventureID, req.SessionToken)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	ticket, err := h.tickets.CreateTicket(adv.ID(), adv.SessionToken())
	if err != nil {
		logger.Errorf("PostTicket: CreateTicket failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create ticket"})
		return
	}

	c.JSON(http.StatusOK, TicketResponse{
		Ticket:    ticket,
		ExpiresIn: int(h.tickets.TTL().Seconds()),
	})
}
