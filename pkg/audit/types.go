// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventSobrietyDateCreated EventType = "sobriety_date.created"
	EventSobrietyDateUpdated EventType = "sobriety_date.updated"

	EventSupportFormSubmitted EventType = "support_form.submitted"
	EventSupportEmailSent     EventType = "support_form.email_sent"
	EventSupportEmailFailed   EventType = "support_form.email_failed"
	EventSupportEmailResent   EventType = "support_form.email_resent"

	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is the record the event is about
	Target Target `json:"target"`

	Details map[string]any `json:"details,omitempty"`

	// RequestID correlates the event with the HTTP request that caused it
	RequestID string `json:"requestId,omitempty"`
}

// Actor represents who triggered an audit event. Devices and submitters are
// anonymous, so only the identifiers they send are recorded.
type Actor struct {
	DeviceID string `json:"deviceId,omitempty"`
	Email    string `json:"email,omitempty"`
	// System is set for events raised by background workers
	System string `json:"system,omitempty"`
}

type Target struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventSupportEmailFailed:
		return SeverityCritical
	case EventSupportEmailResent, EventSystemShutdown:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
