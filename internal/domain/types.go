package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Receiver is the delivery contact snapshot copied onto an order at checkout.
type Receiver struct {
	Name        string
	Phone       string
	Email       string
	AddressLine string
	Ward        string
	District    string
	Province    string
}

// Shipment holds carrier handoff details recorded while the order moves through fulfilment.
type Shipment struct {
	DeliveryMethod string
	Carrier        string
	TrackingNumber string
}

// Event is the envelope published after a workflow commits.
type Event struct {
	ID         string
	Type       string
	OrderID    uint64
	OccurredAt time.Time
	Payload    map[string]any
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
