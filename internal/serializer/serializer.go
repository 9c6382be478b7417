// Package serializer encodes events into the wire and spill-file formats
// spec.md §6 fixes: a flat camelCase JSON object per event, null fields
// omitted, and a batch envelope of the form {"events": [...]}.
package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/relaylog/eventlog/internal/model"
)

// batchBody is the wire envelope for POST /v1/events/batch.
type batchBody struct {
	Events []model.Event `json:"events"`
}

// Single marshals one event as the flat JSON object POST /v1/events sends.
func Single(ev model.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("serializer: marshal event: %w", err)
	}
	return b, nil
}

// Batch marshals two or more events as the {"events": [...]} envelope
// POST /v1/events/batch sends.
func Batch(events []model.Event) ([]byte, error) {
	b, err := json.Marshal(batchBody{Events: events})
	if err != nil {
		return nil, fmt.Errorf("serializer: marshal batch: %w", err)
	}
	return b, nil
}

// SpillLine marshals one event as a newline-terminated spill-file line.
func SpillLine(ev model.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("serializer: marshal spill line: %w", err)
	}
	return append(b, '\n'), nil
}

// ParseSpillLine decodes one spill-file line back into an Event.
func ParseSpillLine(line []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return model.Event{}, fmt.Errorf("serializer: unmarshal spill line: %w", err)
	}
	return ev, nil
}

// singleResponse is the shape of a successful single-event response.
type singleResponse struct {
	Success       bool     `json:"success"`
	ExecutionIDs  []string `json:"executionIds"`
	CorrelationID string   `json:"correlationId"`
}

// batchResponse is the shape of a successful batch response.
type batchResponse struct {
	Success        bool     `json:"success"`
	TotalReceived  int      `json:"totalReceived"`
	TotalInserted  int      `json:"totalInserted"`
	ExecutionIDs   []string `json:"executionIds"`
	CorrelationIDs []string `json:"correlationIds"`
	Errors         []string `json:"errors"`
}

// ParseSingleResponse decodes a successful POST /v1/events response body.
// The sender pool only needs to know the call succeeded; the decoded
// fields are surfaced for callers that want them (e.g. logging).
func ParseSingleResponse(body []byte) (success bool, executionIDs []string, correlationID string, err error) {
	var r singleResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return false, nil, "", fmt.Errorf("serializer: unmarshal single response: %w", err)
	}
	return r.Success, r.ExecutionIDs, r.CorrelationID, nil
}

// ParseBatchResponse decodes a successful POST /v1/events/batch response body.
func ParseBatchResponse(body []byte) (success bool, totalReceived, totalInserted int, errs []string, err error) {
	var r batchResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return false, 0, 0, nil, fmt.Errorf("serializer: unmarshal batch response: %w", err)
	}
	return r.Success, r.TotalReceived, r.TotalInserted, r.Errors, nil
}
