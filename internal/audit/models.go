// Package audit captures security-relevant lifecycle events and ships them to
// a sink without ever blocking the request path.
package audit

import "time"

// EventType names a security-relevant action.
type EventType string

const (
	EventInvitationCreated  EventType = "invitation.created"
	EventInvitationRevoked  EventType = "invitation.revoked"
	EventInvitationRedeemed EventType = "invitation.redeemed"
	EventVerificationFailed EventType = "verification.failed"
	EventVerificationLocked EventType = "verification.locked"
	EventVerificationPassed EventType = "verification.passed"
	EventDebtorRegistered   EventType = "debtor.registered"
)

// Event is emitted from domain logic. Keep it transport-agnostic so sinks can
// fan out; Fields carries event-specific detail and must never contain full
// debtor identity data.
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	Type           EventType      `json:"type"`
	OrganizationID string         `json:"organization_id,omitempty"`
	CaseID         string         `json:"case_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
}
