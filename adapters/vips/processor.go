// Package vips wraps libvips process-wide lifecycle management. The actual
// per-image decode work lives in decoder/jpeg and decoder/png, which call
// govips directly; this package only owns Startup/Shutdown, since govips
// requires exactly one of each per process regardless of how many decoder
// backends use it concurrently.
package vips

import (
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"
)

// RuntimeConfig configures the libvips process-wide runtime.
type RuntimeConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Runtime owns the libvips process lifecycle. Exactly one must be started
// before any decoder.jpeg/decoder.png backend is used, and Shutdown must run
// after every decode has finished.
type Runtime struct {
	cfg RuntimeConfig
}

// Startup initializes libvips and returns a Runtime. Call Shutdown when the
// process exits.
func Startup(cfg RuntimeConfig) *Runtime {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Runtime{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (r *Runtime) Shutdown() {
	govips.Shutdown()
}
