// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncsched

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bytecodealliance/wasmtime-sub013/internal/telemetry"
)

// DeadlockPolicy controls what Store.Run does when it detects deadlock.
type DeadlockPolicy int

const (
	// DeadlockTrap (the default) returns a *Trap from Store.Run,
	// per spec §4.4 item 3 and §7.
	DeadlockTrap DeadlockPolicy = iota
	// DeadlockPanic panics instead of returning an error, for embedders
	// that want deadlock to behave like any other core-Wasm trap that
	// unwinds through a panic/recover boundary they already have.
	DeadlockPanic
)

// storeOptions holds configuration options for Store creation.
type storeOptions struct {
	logger          telemetry.Logger
	metrics         *telemetry.Metrics
	metricsEnabled  bool
	registerer      prometheus.Registerer
	deadlockPolicy  DeadlockPolicy
	strictEventFIFO bool
	syncStreamReads bool
}

// StoreOption configures a Store instance.
type StoreOption interface {
	applyStore(*storeOptions)
}

// storeOptionFunc implements StoreOption, mirroring the teacher's
// loopOptionImpl adapter-struct pattern.
type storeOptionFunc struct {
	fn func(*storeOptions)
}

func (o *storeOptionFunc) applyStore(opts *storeOptions) { o.fn(opts) }

// WithLogger sets the structured logger used for task-state
// transitions and deadlock detection; other traps are returned to the
// caller without being logged. The default,
// if unset, is a disabled logiface logger (see [telemetry.Disabled]).
func WithLogger(logger telemetry.Logger) StoreOption {
	return &storeOptionFunc{func(opts *storeOptions) {
		opts.logger = logger
	}}
}

// WithMetrics enables Prometheus metrics collection on the Store,
// registered against reg (or a private registry, if reg is nil).
// Disabled by default, matching the teacher's opt-in WithMetrics.
func WithMetrics(reg prometheus.Registerer) StoreOption {
	return &storeOptionFunc{func(opts *storeOptions) {
		opts.metricsEnabled = true
		opts.registerer = reg
	}}
}

// WithDeadlockPolicy overrides how Store.Run reports deadlock.
func WithDeadlockPolicy(policy DeadlockPolicy) StoreOption {
	return &storeOptionFunc{func(opts *storeOptions) {
		opts.deadlockPolicy = policy
	}}
}

// WithStrictEventFIFO makes waitable-set.wait assert, on every call,
// that the waitable it pops from the set's ready queue is still a
// member of that set, panicking otherwise (a cheap assertion, disabled
// by default for throughput), mirroring the teacher's
// WithStrictMicrotaskOrdering.
func WithStrictEventFIFO(enabled bool) StoreOption {
	return &storeOptionFunc{func(opts *storeOptions) {
		opts.strictEventFIFO = enabled
	}}
}

// WithSyncStreamReads enables `stream.read`/`future.read` calls made
// from a sync-lowered call context, a feature the canonical ABI leaves
// optional. Disabled by default: every sync-lowered read then traps
// with a stable, checkable message, matching spec §7's "synchronous stream and future reads not yet
// supported (when that feature is disabled)".
func WithSyncStreamReads(enabled bool) StoreOption {
	return &storeOptionFunc{func(opts *storeOptions) {
		opts.syncStreamReads = enabled
	}}
}

// resolveStoreOptions applies StoreOption instances to storeOptions.
func resolveStoreOptions(opts []StoreOption) *storeOptions {
	cfg := &storeOptions{
		deadlockPolicy: DeadlockTrap,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyStore(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = telemetry.Disabled()
	}
	if cfg.metricsEnabled {
		cfg.metrics = telemetry.NewMetrics(cfg.registerer)
	}
	return cfg
}
