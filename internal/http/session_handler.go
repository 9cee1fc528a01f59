package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/repository"
	"screen-server/internal/service"
)

// Announcer publica en tiempo real los cambios hechos por la API REST.
type Announcer interface {
	AnnounceAssignment(res service.AssignResult)
	AnnounceSessionEnded(res service.CloseResult, closedBy string)
	AnnounceOperatorStatus(op domain.Operator)
}

// SessionHandler expone la consulta y administracion de sesiones.
type SessionHandler struct {
	logger     *zap.Logger
	sessions   *service.SessionService
	assignment *service.AssignmentService
	announcer  Announcer
}

func NewSessionHandler(logger *zap.Logger, sessions *service.SessionService, assignment *service.AssignmentService, announcer Announcer) *SessionHandler {
	return &SessionHandler{
		logger:     logger,
		sessions:   sessions,
		assignment: assignment,
		announcer:  announcer,
	}
}

// ListSessions maneja GET /api/sessions?status=&limit=&offset=.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	status := domain.SessionStatus(c.DefaultQuery("status", string(domain.SessionStatusWaiting)))
	limit := queryInt(c, "limit", 0)
	offset := queryInt(c, "offset", 0)

	sessions, err := h.sessions.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, h.logger, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession maneja GET /api/sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "get session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// GetMessages maneja GET /api/sessions/:id/messages?limit=&offset=&order=.
func (h *SessionHandler) GetMessages(c *gin.Context) {
	page, err := h.sessions.History(c.Request.Context(), c.Param("id"), repository.HistoryQuery{
		Limit:      queryInt(c, "limit", 0),
		Offset:     queryInt(c, "offset", 0),
		Descending: strings.EqualFold(c.Query("order"), "desc"),
	})
	if err != nil {
		writeError(c, h.logger, "get messages", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// AssignSession maneja POST /api/sessions/:id/assign.
func (h *SessionHandler) AssignSession(c *gin.Context) {
	var req struct {
		Strategy            string   `json:"strategy"`
		PreferredOperatorID string   `json:"preferredOperatorId"`
		ExcludeOperatorIDs  []string `json:"excludeOperatorIds"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "assign session", err)
			return
		}
	}

	res, sel, err := h.assignment.AssignSession(c.Request.Context(), c.Param("id"), service.AssignRequest{
		Strategy:            service.Strategy(req.Strategy),
		PreferredOperatorID: req.PreferredOperatorID,
		ExcludeOperatorIDs:  req.ExcludeOperatorIDs,
	})
	if err != nil {
		writeError(c, h.logger, "assign session", err)
		return
	}
	if h.announcer != nil {
		h.announcer.AnnounceAssignment(res)
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  res.Session,
		"operator": sel.Operator,
		"strategy": sel.Strategy,
	})
}

// CloseSession maneja POST /api/sessions/:id/close.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	var req struct {
		Status   string `json:"status"`
		ClosedBy string `json:"closedBy"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "close session", err)
			return
		}
	}
	status := domain.SessionStatusClosed
	if req.Status != "" {
		status = domain.SessionStatus(req.Status)
	}

	res, err := h.sessions.Finish(c.Request.Context(), c.Param("id"), status, req.ClosedBy)
	if err != nil {
		writeError(c, h.logger, "close session", err)
		return
	}
	if h.announcer != nil {
		h.announcer.AnnounceSessionEnded(res, req.ClosedBy)
	}
	c.JSON(http.StatusOK, gin.H{"session": res.Session, "alreadyClosed": res.AlreadyClosed})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
