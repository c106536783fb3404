package dto

import (
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registration"
)

type RotateSecretRequest struct {
	ClientName      string    `json:"client_name" binding:"required"`
	Instance        string    `json:"instance"`
	NewSecret       string    `json:"new_secret" binding:"required"`
	OldSecretExpiry time.Time `json:"old_secret_expiry" binding:"required"`
}

type RotateSecretResponse struct {
	RotatedAt            time.Time `json:"rotated_at"`
	PreviousSecretExpiry time.Time `json:"previous_secret_expiry"`
	Instances            []string  `json:"instances"`
}

type SetValuesRequest struct {
	ClientName     string            `json:"client_name" binding:"required"`
	Instance       string            `json:"instance"`
	Values         map[string]string `json:"values"`
	ClearOverrides []string          `json:"clear_overrides"`
}

type SetValuesResponse struct {
	Changed   []string  `json:"changed"`
	ChangedAt time.Time `json:"changed_at"`
}

type LiveReloadRequest struct {
	ClientName string `json:"client_name" binding:"required"`
	Instance   string `json:"instance"`
	Enabled    *bool  `json:"enabled" binding:"required"`
}

type ClientsResponse struct {
	Clients []registration.ClientSummary `json:"clients"`
	Count   int                          `json:"count"`
}

type HistoryEntry struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	ChangedAt time.Time `json:"changed_at"`
}

type HistoryResponse struct {
	ClientName string         `json:"client_name"`
	Instance   string         `json:"instance,omitempty"`
	Entries    []HistoryEntry `json:"entries"`
	Count      int            `json:"count"`
}

type SessionsResponse struct {
	Sessions []liveness.ClientRunSession `json:"sessions"`
	Count    int                         `json:"count"`
}

type InstancesResponse struct {
	Instances []liveness.ApiInstanceStatus `json:"instances"`
	Count     int                          `json:"count"`
}

type AuditResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}
