// Package api implements the client-side API for code wishing to talk
// to the dashboard service. The command-line client uses this package
// to query runs and metrics from a running server.
package api

import "time"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return e.Status + ": " + e.ErrorMessage
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the server logs for details"
	}
}

// VersionResponse reports the server build version.
type VersionResponse struct {
	Version string `json:"version"`
}

// RunSummary is one training run as listed by the server.
type RunSummary struct {
	ID        string    `json:"id"`
	Group     string    `json:"group,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Finished  bool      `json:"finished"`
}

// RunsResponse lists all known runs.
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// MetricPoint is one scalar value at an iteration.
type MetricPoint struct {
	Iteration int     `json:"iteration"`
	Value     float64 `json:"value"`
}

// MetricsResponse holds the recorded series of one run.
type MetricsResponse struct {
	Run     string                   `json:"run"`
	Metrics map[string][]MetricPoint `json:"metrics"`
}

// RunDetailResponse is one run with its stored configuration.
type RunDetailResponse struct {
	RunSummary
	Config string   `json:"config,omitempty"`
	Plots  []string `json:"plots,omitempty"`
}
