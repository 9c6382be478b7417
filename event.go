// Package eventlog is an asynchronous, durable event-logging client: it
// accepts structured business-event records from application code and
// reliably delivers them to a remote event-log service over HTTP, buffering
// in memory, batching, retrying, breaking the circuit on sustained failure,
// and spilling to disk when neither memory nor the network can absorb the
// load.
//
// Construct a Logger with New, submit events with Log/LogBatch, and call
// Shutdown before the process exits so buffered and in-flight events are
// either delivered or durably spilled.
package eventlog

import "github.com/relaylog/eventlog/internal/model"

// EventType categorizes an event within a process's lifecycle.
type EventType = model.EventType

const (
	EventProcessStart = model.EventProcessStart
	EventStep         = model.EventStep
	EventProcessEnd   = model.EventProcessEnd
	EventError        = model.EventError
)

// EventStatus is the outcome of the step or process the event describes.
type EventStatus = model.EventStatus

const (
	StatusSuccess    = model.StatusSuccess
	StatusFailure    = model.StatusFailure
	StatusInProgress = model.StatusInProgress
	StatusSkipped    = model.StatusSkipped
	StatusWarning    = model.StatusWarning
)

// HTTPMetadata captures the HTTP call an event describes, when applicable.
type HTTPMetadata = model.HTTPMetadata

// SpanLink references a related span outside the current trace, e.g. a
// fan-out/fan-in point or a link established after the fact.
type SpanLink = model.SpanLink

// Event is an immutable structured business-event record. Construct one
// with NewEvent or a literal; callers never mutate an Event after it is
// submitted to a Logger — the core treats every field as read-only from
// that point on.
type Event = model.Event

// NewEvent returns an Event with a freshly generated CorrelationID and
// OccurredAt set to the current UTC time. All other fields are the caller's
// responsibility.
func NewEvent(applicationID, processName string, eventType EventType, status EventStatus) Event {
	return model.NewEvent(applicationID, processName, eventType, status)
}
