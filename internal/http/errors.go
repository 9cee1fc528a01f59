package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screen-server/internal/service"
)

var statusByCode = map[service.Code]int{
	service.CodeValidation:             http.StatusBadRequest,
	service.CodeSessionNotFound:        http.StatusNotFound,
	service.CodeOperatorNotFound:       http.StatusNotFound,
	service.CodeSessionClosed:          http.StatusConflict,
	service.CodeSessionAlreadyAssigned: http.StatusConflict,
	service.CodeOperatorUnavailable:    http.StatusConflict,
	service.CodeEmailTaken:             http.StatusConflict,
	service.CodeNoAvailableOperators:   http.StatusServiceUnavailable,
	service.CodeNoSuitableOperators:    http.StatusServiceUnavailable,
}

// writeError responde con el codigo estable del error y su status HTTP.
func writeError(c *gin.Context, logger *zap.Logger, action string, err error) {
	code := service.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		logger.Error(action+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": service.CodeInternal})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, logger *zap.Logger, action string, err error) {
	logger.Warn("invalid "+action+" request", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "code": service.CodeValidation})
}
