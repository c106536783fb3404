package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-config/internal/api/http/dto"
	"github.com/EternisAI/silo-config/internal/api/http/middleware"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/rotation"
	"github.com/EternisAI/silo-config/pkg/configapi"
)

type AdminHandler struct {
	svc     *registration.Service
	rotator *rotation.Coordinator
	tracker *liveness.Tracker
}

func NewAdminHandler(svc *registration.Service, rotator *rotation.Coordinator, tracker *liveness.Tracker) *AdminHandler {
	return &AdminHandler{
		svc:     svc,
		rotator: rotator,
		tracker: tracker,
	}
}

func actor(c *gin.Context) string {
	if a := c.GetString(middleware.ActorKey); a != "" {
		return a
	}
	return "unknown"
}

func (h *AdminHandler) RotateSecret(c *gin.Context) {
	var req dto.RotateSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.rotator.RotateSecret(c.Request.Context(), rotation.Request{
		Identity:        registry.Identity{ClientName: req.ClientName, Instance: req.Instance},
		NewSecret:       req.NewSecret,
		OldSecretExpiry: req.OldSecretExpiry,
		Actor:           actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	instances := res.Instances
	if instances == nil {
		instances = []string{}
	}
	c.JSON(http.StatusOK, dto.RotateSecretResponse{
		RotatedAt:            res.RotatedAt,
		PreviousSecretExpiry: res.PreviousSecretExpiry,
		Instances:            instances,
	})
}

func (h *AdminHandler) SetValues(c *gin.Context) {
	var req dto.SetValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.SetValues(c.Request.Context(), registration.SetValuesRequest{
		Identity:       registry.Identity{ClientName: req.ClientName, Instance: req.Instance},
		Values:         req.Values,
		ClearOverrides: req.ClearOverrides,
		Actor:          actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	changed := res.Changed
	if changed == nil {
		changed = []string{}
	}
	c.JSON(http.StatusOK, dto.SetValuesResponse{Changed: changed, ChangedAt: res.ChangedAt})
}

func (h *AdminHandler) SetLiveReload(c *gin.Context) {
	var req dto.LiveReloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := registry.Identity{ClientName: req.ClientName, Instance: req.Instance}
	if err := h.svc.SetLiveReload(c.Request.Context(), id, *req.Enabled, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) DeleteClient(c *gin.Context) {
	id := registry.Identity{ClientName: c.Param("name"), Instance: c.Query("instance")}
	if err := h.svc.DeleteClient(c.Request.Context(), id, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListClients(c *gin.Context) {
	clients, err := h.svc.ListClients(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ClientsResponse{Clients: clients, Count: len(clients)})
}

func (h *AdminHandler) History(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}

	id := registry.Identity{ClientName: c.Param("name"), Instance: c.Query("instance")}
	entries, err := h.svc.History(c.Request.Context(), id, c.Query("setting"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]dto.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.HistoryEntry{
			Name:      e.Name,
			Kind:      string(e.Kind),
			Value:     e.Value.String(),
			Source:    string(e.Source),
			ChangedAt: e.ChangedAt,
		})
	}
	c.JSON(http.StatusOK, dto.HistoryResponse{
		ClientName: id.ClientName,
		Instance:   id.Instance,
		Entries:    out,
		Count:      len(out),
	})
}

func (h *AdminHandler) Sessions(c *gin.Context) {
	sessions := h.tracker.Sessions(c.Query("client"), c.Query("include_inactive") == "true")
	if sessions == nil {
		sessions = []liveness.ClientRunSession{}
	}
	c.JSON(http.StatusOK, dto.SessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (h *AdminHandler) Instances(c *gin.Context) {
	instances := h.tracker.Instances(c.Query("include_inactive") == "true")
	if instances == nil {
		instances = []liveness.ApiInstanceStatus{}
	}
	c.JSON(http.StatusOK, dto.InstancesResponse{Instances: instances, Count: len(instances)})
}

// InstanceHeartbeat lets another server replica report itself alive.
func (h *AdminHandler) InstanceHeartbeat(c *gin.Context) {
	var req configapi.InstanceHeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	host := hostMeta(req.Host)
	if host.IP == "" {
		host.IP = c.ClientIP()
	}
	rec := h.tracker.InstanceHeartbeat(req.RuntimeID, host)
	c.JSON(http.StatusOK, configapi.InstanceHeartbeatResponse{Generation: rec.Generation})
}

func (h *AdminHandler) Audit(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}

	events, err := h.svc.AuditEvents(c.Request.Context(), registry.AuditFilter{
		ClientName: c.Query("client"),
		Type:       c.Query("type"),
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AuditResponse{Events: events, Count: len(events)})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
