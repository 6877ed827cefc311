package validate

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReportResponse is the JSON form of a Report.
type ReportResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Duration  string           `json:"duration"`
	Scenarios []ResultResponse `json:"scenarios"`
}

// ResultResponse is the JSON form of a scenario Result.
type ResultResponse struct {
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// NewReportResponse converts a report for JSON encoding.
func NewReportResponse(report Report) ReportResponse {
	resp := ReportResponse{
		Status:    StatusPassed.String(),
		Timestamp: report.Timestamp.UTC().Format(time.RFC3339),
		Duration:  report.Duration.String(),
		Scenarios: make([]ResultResponse, 0, len(report.Results)),
	}
	if !report.Passed {
		resp.Status = StatusFailed.String()
	}

	for _, res := range report.Results {
		r := ResultResponse{
			Name:     res.Scenario,
			Status:   res.Status.String(),
			Message:  res.Message,
			Duration: res.Duration.String(),
			Details:  res.Details,
		}
		if res.Error != nil {
			r.Error = res.Error.Error()
		}
		resp.Scenarios = append(resp.Scenarios, r)
	}
	return resp
}

// Handler returns an HTTP handler that runs the harness against target and
// writes the JSON report, answering 503 when any scenario failed.
func Handler(h *Harness, target Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		report := h.Run(ctx, target)

		w.Header().Set("Content-Type", "application/json")
		if report.Passed {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(NewReportResponse(report))
	}
}
