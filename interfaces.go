package eventlog

import "github.com/relaylog/eventlog/internal/model"

// Request is a transport-agnostic outbound HTTP request.
type Request = model.Request

// Response is the result of a completed round trip. A non-2xx StatusCode is
// not itself an error from the Transport's perspective — classification of
// the status code into retriable/terminal is the sender pool's concern.
type Response = model.Response

// Result pairs a Response with a transport-level error (network failure,
// timeout, DNS, TLS, etc.), delivered over the channel returned by
// Transport.SendAsync.
type Result = model.Result

// Transport sends requests to the event-log service. The core never
// constructs an HTTP client directly — connection management, TLS, and
// authentication are the Transport implementation's concern. The default
// implementation is internal/transport.HTTPTransport, used automatically
// when Config.Endpoint is set and no WithTransport override is supplied.
type Transport = model.Transport

// TokenProvider supplies the bearer token set on the Authorization header of
// every outbound request. Token caching and refresh are the provider's
// concern; the core calls Token once per request attempt and never caches
// the result itself.
type TokenProvider = model.TokenProvider

// LossFunc is invoked at most once per event that is dropped or deferred to
// disk. Implementations must not panic — a panicking LossFunc is recovered
// and logged, never allowed to disturb the pipeline.
type LossFunc = model.LossFunc
