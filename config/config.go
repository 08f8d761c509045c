// Package config provides configuration structures for the operation
// engine, following the tau-core convention: configuration exists only at
// construction time and is resolved (observer names to Observer values,
// defaults merged) before being handed to the domain objects that use it.
package config

// EngineConfig governs the cross-cutting knobs of a Template: which
// observer to emit events to, and the default retry policy new Handles
// inherit when Exec/Undo are called without an explicit numTries/interval.
//
// Example:
//
//	cfg := config.DefaultEngineConfig()
//	cfg.DefaultNumTries = 3
//	tmpl := ops.New(cfg, idgen.UUIDSource{}, clock.Real{}, opts)
type EngineConfig struct {
	// Observer specifies which observer implementation to resolve via the
	// observability registry ("noop", "slog", etc.)
	Observer string `json:"observer"`

	// DefaultNumTries is the retry budget applied when Exec/Undo are
	// called with numTries <= 0.
	DefaultNumTries int `json:"default_num_tries"`

	// DefaultRetryIntervalMS is the backoff between attempts, in
	// milliseconds, applied when Exec/Undo are called with
	// retryInterval <= 0.
	DefaultRetryIntervalMS int `json:"default_retry_interval_ms"`
}

// DefaultEngineConfig returns the baseline defaults: one attempt, one
// second between retries, logging via slog.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Observer:               "slog",
		DefaultNumTries:        1,
		DefaultRetryIntervalMS: 1000,
	}
}

// Merge overlays non-zero fields of source onto c.
func (c *EngineConfig) Merge(source *EngineConfig) {
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.DefaultNumTries > 0 {
		c.DefaultNumTries = source.DefaultNumTries
	}
	if source.DefaultRetryIntervalMS > 0 {
		c.DefaultRetryIntervalMS = source.DefaultRetryIntervalMS
	}
}

// ParallelConfig controls the worker pool behind the parallel composite
// (see package parallel). Adapted from orchestrate/config.ParallelConfig
// without its fail-fast setting: the composite always runs every child,
// so there is no fail-fast field to configure.
type ParallelConfig struct {
	// MaxWorkers specifies exact worker pool size (0 = auto-detect).
	MaxWorkers int `json:"max_workers"`

	// WorkerCap limits auto-detected workers.
	WorkerCap int `json:"worker_cap"`

	// Observer specifies which observer implementation to resolve.
	Observer string `json:"observer"`
}

// DefaultParallelConfig returns sensible defaults: auto-detected worker
// count capped at 16, slog observer.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		MaxWorkers: 0,
		WorkerCap:  16,
		Observer:   "slog",
	}
}

// Merge overlays non-zero fields of source onto c.
func (c *ParallelConfig) Merge(source *ParallelConfig) {
	if source.MaxWorkers > 0 {
		c.MaxWorkers = source.MaxWorkers
	}
	if source.WorkerCap > 0 {
		c.WorkerCap = source.WorkerCap
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}
