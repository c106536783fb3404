package dto

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	RuntimeID string `json:"runtime_id,omitempty"`
}
