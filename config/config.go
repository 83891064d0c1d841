package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct. Callers start from Default()
// and override only what they need; a zero Config{} fails Validate.
type Config struct {
	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued decode tasks per priority class; default: 256

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"

	// Decode pipeline: decoder state machine and task scheduler.
	Decode DecodeConfig

	// Directory worker: enumeration, pairing, filesystem watch.
	Directory DirectoryConfig

	// Sectioned sorted model.
	Model ModelConfig

	// On-disk metadata cache (SQLite), optional.
	Cache CacheConfig
}

// DecodeConfig tunes the decoder state machine and task scheduler.
type DecodeConfig struct {
	// PoolMultiplier sizes the scheduler pool to max(MinPoolSize,
	// PoolMultiplier * runtime.NumCPU()).
	PoolMultiplier float64
	MinPoolSize    int

	// ShutdownDrainTimeout bounds how long Stop waits for in-flight decodes.
	ShutdownDrainTimeout time.Duration
}

// DirectoryConfig tunes directory enumeration, pairing, and filesystem watch.
type DirectoryConfig struct {
	// ReconcileDebounce coalesces bursts of filesystem-watch events.
	ReconcileDebounce time.Duration

	// CombineRAWAndJPEG hides a RAW file when an equally-named JPEG or TIFF
	// exists.
	CombineRAWAndJPEG bool

	// RAWExtensions lists the suffixes (without the dot) treated as RAW.
	RAWExtensions []string

	// SyncMetadataForSort decodes Metadata synchronously during enumeration,
	// for when the active sort/section field requires EXIF up front;
	// otherwise Metadata is scheduled as a background task.
	SyncMetadataForSort bool
}

// ModelConfig tunes the sectioned sorted model's presentation defaults.
type ModelConfig struct {
	IconHeight int // pixels; the model's global icon height

	// LayoutChangedCoalesceFactor scales the last observed layout time into
	// the coalescing delay for layout-changed events.
	LayoutChangedCoalesceFactor float64
}

// CacheConfig configures the optional SQLite-backed metadata cache.
type CacheConfig struct {
	Enabled bool
	Path    string // e.g. "$XDG_CACHE_HOME/imgbrowser/cache.db"
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount: 0, // resolved at runtime to NumCPU
		QueueSize:   256,
		LogLevel:    "info",
		Decode: DecodeConfig{
			PoolMultiplier:       1.0,
			MinPoolSize:          2,
			ShutdownDrainTimeout: 5 * time.Second,
		},
		Directory: DirectoryConfig{
			ReconcileDebounce: time.Second,
			CombineRAWAndJPEG: true,
			RAWExtensions: []string{
				"cr2", "cr3", "nef", "arw", "rw2", "raf", "dng", "orf", "pef", "srw",
			},
			SyncMetadataForSort: false,
		},
		Model: ModelConfig{
			IconHeight:                  128,
			LayoutChangedCoalesceFactor: 3.0,
		},
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.QueueSize <= 0 {
		return errors.New("config: QueueSize must be positive")
	}
	if c.Decode.MinPoolSize < 2 {
		return errors.New("config: Decode.MinPoolSize must be at least 2")
	}
	if c.Directory.ReconcileDebounce < 0 {
		return errors.New("config: Directory.ReconcileDebounce must not be negative")
	}
	return nil
}
