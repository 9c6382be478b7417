// Package model defines the wire-level event and transport types shared by
// every internal package, grounded on the teacher's own internal/model
// package: a domain record kept independent of the root package so the
// rest of the internal tree never imports its parent. The root eventlog
// package type-aliases these types for its public surface.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an event within a process's lifecycle.
type EventType string

const (
	EventProcessStart EventType = "PROCESS_START"
	EventStep         EventType = "STEP"
	EventProcessEnd   EventType = "PROCESS_END"
	EventError        EventType = "ERROR"
)

// EventStatus is the outcome of the step or process the event describes.
type EventStatus string

const (
	StatusSuccess    EventStatus = "SUCCESS"
	StatusFailure    EventStatus = "FAILURE"
	StatusInProgress EventStatus = "IN_PROGRESS"
	StatusSkipped    EventStatus = "SKIPPED"
	StatusWarning    EventStatus = "WARNING"
)

// HTTPMetadata captures the HTTP call an event describes, when applicable.
type HTTPMetadata struct {
	Method     string `json:"method,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// SpanLink references a related span outside the current trace, e.g. a
// fan-out/fan-in point or a link established after the fact.
type SpanLink struct {
	TraceID string         `json:"traceId"`
	SpanID  string         `json:"spanId"`
	Attrs   map[string]any `json:"attributes,omitempty"`
}

// Event is an immutable structured business-event record. Construct one
// with NewEvent or a literal; callers never mutate an Event after it is
// submitted — the core treats every field as read-only from that point on.
type Event struct {
	CorrelationID     string      `json:"correlationId"`
	TraceID           string      `json:"traceId,omitempty"`
	ApplicationID     string      `json:"applicationId"`
	TargetSystem      string      `json:"targetSystem,omitempty"`
	OriginatingSystem string      `json:"originatingSystem,omitempty"`
	ProcessName       string      `json:"processName"`
	StepSequence      int         `json:"stepSequence,omitempty"`
	StepName          string      `json:"stepName,omitempty"`
	EventType         EventType   `json:"eventType"`
	EventStatus       EventStatus `json:"eventStatus"`

	OccurredAt time.Time `json:"occurredAt"`

	HTTP *HTTPMetadata `json:"http,omitempty"`

	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	RequestPayload  map[string]any `json:"requestPayload,omitempty"`
	ResponsePayload map[string]any `json:"responsePayload,omitempty"`

	Identifiers map[string]string `json:"identifiers,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`

	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	SpanID       string     `json:"spanId,omitempty"`
	ParentSpanID string     `json:"parentSpanId,omitempty"`
	SpanLinks    []SpanLink `json:"spanLinks,omitempty"`

	BatchID string `json:"batchId,omitempty"`

	ExecutionTimeMs int64 `json:"executionTimeMs,omitempty"`
}

// NewEvent returns an Event with CorrelationID and OccurredAt defaulted.
// All other fields are the caller's responsibility.
func NewEvent(applicationID, processName string, eventType EventType, status EventStatus) Event {
	return Event{
		CorrelationID: uuid.NewString(),
		ApplicationID: applicationID,
		ProcessName:   processName,
		EventType:     eventType,
		EventStatus:   status,
		OccurredAt:    time.Now().UTC(),
	}
}
