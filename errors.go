package eventlog

import (
	"errors"

	"github.com/relaylog/eventlog/internal/model"
)

// Structural errors returned by Logger construction and lifecycle methods.
// Per-event delivery failure never surfaces as an error — see LossReason.
var (
	// ErrClosed reports that the logger is closed. Log and LogBatch do not
	// return it: after shutdown they report rejection through their return
	// value and the loss callback (ReasonShutdownInProgress).
	ErrClosed = errors.New("eventlog: logger is closed")

	// ErrInvalidConfig is wrapped around every rejected construction option.
	ErrInvalidConfig = errors.New("eventlog: invalid configuration")
)

// LossReason is the closed set of reasons an event was lost or deferred to
// disk. Exactly one LossFunc invocation occurs per lost/deferred event.
type LossReason = model.LossReason

const (
	ReasonQueueFull          = model.ReasonQueueFull
	ReasonShutdownInProgress = model.ReasonShutdownInProgress
	ReasonSpilloverMaxSize   = model.ReasonSpilloverMaxSize
	ReasonSpilloverMaxEvents = model.ReasonSpilloverMaxEvents
	ReasonSpilloverIOError   = model.ReasonSpilloverIOError
	ReasonRetriesExhausted   = model.ReasonRetriesExhausted
	ReasonRetryRejected      = model.ReasonRetryRejected
)
