package httphandler

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/ericfisherdev/gradewatch/internal/application"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// StatusResponse is the JSON representation of the status endpoint.
type StatusResponse struct {
	Subjects      int            `json:"subjects"`
	StaleSubjects int            `json:"stale_subjects"`
	LastCycle     *CycleResponse `json:"last_cycle"`
	CheckedAt     string         `json:"checked_at"`
}

// CycleResponse summarizes one completed poll cycle.
type CycleResponse struct {
	ID         string  `json:"id"`
	StartedAt  string  `json:"started_at"`
	DurationMS float64 `json:"duration_ms"`
	Subjects   int     `json:"subjects"`
	Stale      int     `json:"stale"`
	Notified   int     `json:"notified"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
}

// toStatusResponse converts an application StatusReport to its JSON representation.
// LastCycle stays null until the first cycle has completed.
func toStatusResponse(r *application.StatusReport) StatusResponse {
	resp := StatusResponse{
		Subjects:      r.Subjects,
		StaleSubjects: r.StaleSubjects,
		CheckedAt:     r.CheckedAt.UTC().Format(time.RFC3339),
	}

	if c := r.LastCycle; c != nil {
		resp.LastCycle = &CycleResponse{
			ID:         c.ID,
			StartedAt:  c.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: float64(c.Duration) / float64(time.Millisecond),
			Subjects:   c.Subjects,
			Stale:      c.Stale,
			Notified:   c.Notified,
			Failed:     c.Failed,
			Skipped:    c.Skipped,
		}
	}

	return resp
}
