package models

// AskResponse is the body returned by POST /ask. Error is only set when the
// question could not be answered because of a system failure.
type AskResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Error   string   `json:"error,omitempty"`
}

// RootResponse is the body returned by GET /.
type RootResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Skipped   int    `json:"skipped"`
	Stale     bool   `json:"stale"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse is returned for malformed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
