package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/service"
)

// OperatorHandler expone el registro de operadores.
type OperatorHandler struct {
	logger    *zap.Logger
	operators *service.OperatorService
	announcer Announcer
}

func NewOperatorHandler(logger *zap.Logger, operators *service.OperatorService, announcer Announcer) *OperatorHandler {
	return &OperatorHandler{
		logger:    logger,
		operators: operators,
		announcer: announcer,
	}
}

// ListOperators maneja GET /api/operators?status=online,busy.
func (h *OperatorHandler) ListOperators(c *gin.Context) {
	var statuses []domain.OperatorStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.OperatorStatus(strings.TrimSpace(s)))
		}
	}
	ops, err := h.operators.List(c.Request.Context(), statuses...)
	if err != nil {
		writeError(c, h.logger, "list operators", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operators": ops})
}

// CreateOperator maneja POST /api/operators.
func (h *OperatorHandler) CreateOperator(c *gin.Context) {
	var req struct {
		ID    string `json:"id"`
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "create operator", err)
		return
	}

	op, err := h.operators.Create(c.Request.Context(), service.CreateOperatorInput{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeError(c, h.logger, "create operator", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"operator": op})
}

// UpdateStatus maneja PUT /api/operators/:id/status.
func (h *OperatorHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "update operator status", err)
		return
	}

	op, err := h.operators.SetStatus(c.Request.Context(), c.Param("id"), domain.OperatorStatus(req.Status))
	if err != nil {
		writeError(c, h.logger, "update operator status", err)
		return
	}
	if h.announcer != nil {
		h.announcer.AnnounceOperatorStatus(op)
	}
	c.JSON(http.StatusOK, gin.H{"operator": op})
}
