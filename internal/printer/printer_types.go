// Package printer contains shared types to avoid import cycles.
package printer

// Info is one entry returned by the OS printer enumeration.
type Info struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// StatusResult is the outcome of an online/offline check.
type StatusResult struct {
	IsOnline bool   `json:"isOnline"`
	Message  string `json:"message"`
}

// Summary provides lightweight overview for health checks
type Summary struct {
	Status        string `json:"status"` // "ok", "error"
	DetectedCount int    `json:"detected_count"`
	DefaultName   string `json:"default_name,omitempty"`
}

// DetailDTO is the JSON response format for a listed printer
type DetailDTO struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Payload is an already-rendered document ready for the spooler.
type Payload struct {
	JobID   string `json:"job_id"`
	Title   string `json:"title,omitempty"`
	Content []byte `json:"content"`
}
