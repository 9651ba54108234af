package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reverie-gm/reverie/internal/api/middleware"
	"github.com/reverie-gm/reverie/internal/archive"
	"github.com/reverie-gm/reverie/internal/crypto"
	"github.com/reverie-gm/reverie/internal/logger"
	"github.com/reverie-gm/reverie/internal/store"
)

// AdventureHandler serves adventure provisioning and inspection.
type AdventureHandler struct {
	store   *store.Store
	archive *archive.Store
	tickets *crypto.TicketManager
}

func NewAdventureHandler(st *store.Store, arc *archive.Store, tickets *crypto.TicketManager) *AdventureHandler {
	return &AdventureHandler{store: st, archive: arc, tickets: tickets}
}

// CreateAdventure provisions a new adventure and returns its session token.
// POST /v1/adventures
func (h *AdventureHandler) CreateAdventure(c *gin.Context) {
	var req CreateAdventureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	adv, err := h.store.Create(req.ID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidID) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid adventure id"})
			return
		}
		logger.Errorf("CreateAdventure: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create adventure"})
		return
	}

	resp := CreateAdventureResponse{
		AdventureID:  adv.ID(),
		SessionToken: adv.SessionToken(),
	}
	if h.tickets != nil {
		ticket, err := h.tickets.CreateTicket(adv.ID(), adv.SessionToken())
		if err != nil {
			logger.Warnf("CreateAdventure: ticket issue failed: %v", err)
		} else {
			resp.Ticket = ticket
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetAdventure returns metadata for one adventure.
// GET /v1/adventures/:id (bearer session token)
func (h *AdventureHandler) GetAdventure(c *gin.Context) {
	adv, ok := h.authorized(c)
	if !ok {
		return
	}

	state, history := adv.Snapshot()
	resp := AdventureResponse{
		AdventureID:  state.ID,
		CreatedAt:    state.CreatedAt,
		LastActiveAt: state.LastActiveAt,
		EntryCount:   len(history.Entries),
		Theme:        state.Theme,
	}
	if history.Summary != nil {
		text := history.Summary.Text
		resp.Summary = &text
	}
	c.JSON(http.StatusOK, resp)
}

// GetArchive returns the compacted-away history prefix from the archive.
// GET /v1/adventures/:id/archive (bearer session token)
func (h *AdventureHandler) GetArchive(c *gin.Context) {
	adv, ok := h.authorized(c)
	if !ok {
		return
	}
	if h.archive == nil {
		c.JSON(http.StatusOK, ArchiveResponse{AdventureID: adv.ID(), Entries: []ArchivedEntry{}})
		return
	}

	entries, err := h.archive.EntriesForAdventure(c.Request.Context(), adv.ID())
	if err != nil {
		logger.Errorf("GetArchive: reading archive for %s: %v", adv.ID(), err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read archive"})
		return
	}

	out := make([]ArchivedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ArchivedEntry{
			ID:        e.ID,
			Seq:       e.Seq,
			Timestamp: e.Timestamp.UnixMilli(),
			Type:      string(e.Type),
			Content:   e.Content,
		})
	}
	c.JSON(http.StatusOK, ArchiveResponse{AdventureID: adv.ID(), Entries: out})
}

// authorized loads the adventure named by the :id param with the bearer
// token, writing the error response itself when the credentials do not hold.
func (h *AdventureHandler) authorized(c *gin.Context) (*store.Adventure, bool) {
	token, ok := middleware.GetSessionToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return nil, false
	}

	adv, err := h.store.Load(c.Param("id"), token)
	if err != nil {
		writeStoreError(c, err)
		return nil, false
	}
	return adv, true
}

func writeStoreError(c *gin.Context, err error) {
	var corrupted *store.CorruptedError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "adventure not found"})
	case errors.Is(err, store.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid session token"})
	case errors.As(err, &corrupted):
		logger.Errorf("store: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "adventure state is unreadable"})
	default:
		logger.Errorf("store: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
