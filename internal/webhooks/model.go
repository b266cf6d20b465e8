package webhooks

import (
	"time"
)

// Event types dispatched by the notary.
const (
	// EventAuditCompleted is sent for a completion with full evidence.
	EventAuditCompleted = "audit.completed"
	// EventAuditDegraded is sent when a completion is missing its published
	// copy or its ledger anchor.
	EventAuditDegraded = "audit.completed_degraded"
)

// Event is the JSON body POSTed to every subscriber.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	URL          string
	EventType    string
	StatusCode   int
	Attempt      int
	Success      bool
	ErrorMessage string
}
