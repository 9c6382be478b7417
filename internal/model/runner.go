package model

import "context"

// Runner launches fn under ctx. The default runner spawns a goroutine;
// tests substitute a synchronous runner (fn run inline, ctx ignored) to
// make the sender pool, retry scheduler, or replay loop deterministic
// — the Go realization of the builder's injectable executor fields.
type Runner func(ctx context.Context, fn func())

// GoRunner is the default Runner: spawn fn as a goroutine, ignoring ctx
// (the function itself is expected to respect cancellation internally).
func GoRunner(_ context.Context, fn func()) {
	go fn()
}
