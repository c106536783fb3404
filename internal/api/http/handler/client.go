package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/pkg/configapi"
)

// ClientHandler serves the endpoints config clients call.
type ClientHandler struct {
	svc *registration.Service
}

func NewClientHandler(svc *registration.Service) *ClientHandler {
	return &ClientHandler{svc: svc}
}

func caller(c *gin.Context, host string) registration.Caller {
	return registration.Caller{IP: c.ClientIP(), Host: host}
}

func (h *ClientHandler) Register(c *gin.Context) {
	var req configapi.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.RegisterClient(c.Request.Context(), registration.RegisterRequest{
		Identity: registry.Identity{ClientName: req.ClientName, Instance: req.Instance},
		Secret:   req.Secret,
		Schema:   req.Schema,
		Caller:   caller(c, req.Hostname),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, configapi.RegisterResponse{
		Status:        res.Status.String(),
		Outcome:       res.Outcome.String(),
		Added:         res.Diff.Added,
		Removed:       res.Diff.Removed,
		Changed:       res.Diff.Changed,
		Metadata:      res.Diff.Metadata,
		SchemaVersion: res.SchemaVersion,
		ChangedAt:     res.ValuesChangedAt,
	})
}

func (h *ClientHandler) Heartbeat(c *gin.Context) {
	var req configapi.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Heartbeat(c.Request.Context(), registration.HeartbeatRequest{
		Identity:        registry.Identity{ClientName: req.ClientName, Instance: req.Instance},
		Secret:          req.Secret,
		SessionID:       req.SessionID,
		Uptime:          configapi.FromMillis(req.UptimeMs),
		LastLocalUpdate: req.LastLocalUpdate,
		PollInterval:    configapi.FromMillis(req.PollIntervalMs),
		LiveReload:      req.LiveReload,
		Host:            hostMeta(req.Host),
		Caller:          caller(c, req.Host.Hostname),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, configapi.HeartbeatResponse{
		PollIntervalMs:  configapi.Millis(res.PollInterval),
		LiveReload:      res.LiveReload,
		UpdateAvailable: res.UpdateAvailable,
		ChangedAt:       res.ChangedAt,
	})
}

func (h *ClientHandler) Values(c *gin.Context) {
	var req configapi.ValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := registry.Identity{ClientName: req.ClientName, Instance: req.Instance}
	res, err := h.svc.GetValues(c.Request.Context(), id, req.Secret, caller(c, ""))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, configapi.ValuesResponse{
		Values:        res.Values,
		ChangedAt:     res.ChangedAt,
		LiveReload:    res.LiveReload,
		SchemaVersion: res.SchemaVersion,
	})
}

func hostMeta(h configapi.HostInfo) liveness.HostMeta {
	return liveness.HostMeta{
		Hostname:    h.Hostname,
		IP:          h.IP,
		MemoryBytes: int64(h.MemoryBytes),
		Version:     h.Version,
	}
}
