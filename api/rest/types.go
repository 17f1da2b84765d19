package rest

import "time"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID      string    `json:"runId"`
	WorkflowID string    `json:"workflowId"`
	Status     string    `json:"status"`
	Steps      int       `json:"steps"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WorkflowSummary is one row of the workflow listing.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       int    `json:"steps"`
}
