package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-config/internal/api/http/dto"
)

type HealthHandler struct {
	version   string
	runtimeID string
}

func NewHealthHandler(version, runtimeID string) *HealthHandler {
	return &HealthHandler{version: version, runtimeID: runtimeID}
}

func (h *HealthHandler) Check(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Version: h.version, RuntimeID: h.runtimeID})
}
