package dispatch

import "time"

// Action names what the worker should do with a request document.
type Action string

const (
	// ActionDeliver emails the rendered document to the recipient.
	ActionDeliver Action = "DELIVER"
	// ActionRender pre-renders the document so a later fetch is cheap.
	ActionRender Action = "RENDER"
)

// Command is the dispatch.commands message payload. Commands are retries or
// deferred work queued by the composition API; the worker processes them
// through the idempotency inbox so redeliveries are harmless.
type Command struct {
	TenantID  string    `json:"tenant_id"`
	RequestID string    `json:"request_id"`
	Action    Action    `json:"action"`
	Recipient string    `json:"recipient,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}
