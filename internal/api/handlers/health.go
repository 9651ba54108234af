package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionCounter reports how many live sessions are connected.
type SessionCounter interface {
	ActiveSessions() int
}

// HealthHandler serves liveness checks.
type HealthHandler struct {
	sessions SessionCounter
}

func NewHealthHandler(sessions SessionCounter) *HealthHandler {
	return &HealthHandler{sessions: sessions}
}

// GetHealth reports server status.
// GET /v1/health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.ActiveSessions()
	}
	c.JSON(http.StatusOK, resp)
}
