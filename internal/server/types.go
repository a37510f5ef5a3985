package server

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// NodesResponse lists indexed nodes.
type NodesResponse struct {
	Nodes []string `json:"nodes"`
}

// RunAccepted acknowledges an upserted run.
type RunAccepted struct {
	Job      string `json:"job"`
	Number   int    `json:"number"`
	HasGraph bool   `json:"has_graph"`
}

// TaskSummary is a maintenance task with its schedule state.
type TaskSummary struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus *string    `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// ExecutionResponse reports a manually triggered task run.
type ExecutionResponse struct {
	ExecID     string  `json:"exec_id"`
	Task       string  `json:"task"`
	Status     string  `json:"status"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}
