package models

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Engine   string `json:"engine"`
}
