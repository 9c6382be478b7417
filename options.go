package eventlog

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

// Option configures injectable collaborators on a Logger. Plain tunables
// live on Config; Option is reserved for values that don't have a sane
// zero-value default or that tests need to substitute (spec.md §4.1's
// senderExecutor/retryExecutor/spilloverExecutor/lossCallback, plus
// Transport/TokenProvider/Logger/MeterProvider which spec.md §6 and §4.8
// treat as pluggable collaborators, not plain config values).
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after defaults are applied.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger *slog.Logger
	meter  metric.Meter

	transport     Transport
	tokenProvider TokenProvider

	lossCallback LossFunc

	senderRunner    Runner
	retryRunner     Runner
	spilloverRunner Runner
}

// WithLogger sets the structured logger for the Logger and its
// collaborators. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithMeter sets the OTEL meter used to register the observable gauges
// internal/metrics exposes. Defaults to a meter obtained from
// otel.GetMeterProvider(), the way internal/telemetry.Meter() does it — the
// host application owns exporter wiring, this module only ever calls
// otel.Meter on a provider it's handed or that's globally registered.
func WithMeter(m metric.Meter) Option {
	return func(o *resolvedOptions) { o.meter = m }
}

// WithTransport overrides the default internal/transport.HTTPTransport
// built from Config.Endpoint. Set this to point the Logger at a fake
// transport in tests, or to share a transport across multiple Loggers.
func WithTransport(t Transport) Option {
	return func(o *resolvedOptions) { o.transport = t }
}

// WithTokenProvider sets the bearer-token source consulted before every
// request. If unset, requests carry no Authorization header.
func WithTokenProvider(tp TokenProvider) Option {
	return func(o *resolvedOptions) { o.tokenProvider = tp }
}

// WithLossCallback overrides the default no-op-that-logs loss callback.
// Called at most once per lost or deferred-to-disk event; must not panic.
func WithLossCallback(fn LossFunc) Option {
	return func(o *resolvedOptions) { o.lossCallback = fn }
}

// WithSenderRunner overrides how sender-pool workers are launched. Tests
// substitute a synchronous Runner to make batch dispatch deterministic.
func WithSenderRunner(r Runner) Option {
	return func(o *resolvedOptions) { o.senderRunner = r }
}

// WithRetryRunner overrides how the retry scheduler's requeue callbacks
// are launched.
func WithRetryRunner(r Runner) Option {
	return func(o *resolvedOptions) { o.retryRunner = r }
}

// WithSpilloverRunner overrides how the replay loop's background goroutine
// is launched — the loop that periodically rotates and drains the
// spillover file. Tests substitute a synchronous Runner to drive a single
// pass deterministically instead of waiting out a real ticker interval.
func WithSpilloverRunner(r Runner) Option {
	return func(o *resolvedOptions) { o.spilloverRunner = r }
}
