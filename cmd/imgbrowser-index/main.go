// Command imgbrowser-index wires the decode pipeline, directory worker, and
// sectioned model together over a single directory, printing the resulting
// section layout once enumeration settles. It exercises the stack end to
// end without a widget toolkit in the loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skryldev/imgbrowser/adapters/vips"
	"github.com/skryldev/imgbrowser/config"
	"github.com/skryldev/imgbrowser/directory"
	"github.com/skryldev/imgbrowser/events"
	"github.com/skryldev/imgbrowser/model"
	"github.com/skryldev/imgbrowser/scheduler"

	// Format backends register themselves with the decoder factory.
	_ "github.com/skryldev/imgbrowser/decoder/jpeg"
	_ "github.com/skryldev/imgbrowser/decoder/jxl"
	_ "github.com/skryldev/imgbrowser/decoder/png"
	_ "github.com/skryldev/imgbrowser/decoder/raw"
	_ "github.com/skryldev/imgbrowser/decoder/tiff"
)

func main() {
	dir := flag.String("dir", ".", "directory to browse")
	cachePath := flag.String("cache", "", "path to an optional SQLite metadata cache (empty disables caching)")
	flag.Parse()

	absDir, err := filepath.Abs(*dir)
	mustNoErr(err)

	// ── 1. Config ─────────────────────────────────────────────────────────
	cfg := config.Default()
	mustNoErr(config.Validate(cfg))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	// ── 2. libvips runtime + scheduler pool ──────────────────────────────
	runtime := vips.Startup(vips.RuntimeConfig{MaxWorkers: cfg.WorkerCount})
	defer runtime.Shutdown()

	sched := scheduler.New(cfg, logger)
	defer sched.Stop(context.Background())

	// ── 3. Sectioned model + directory worker ────────────────────────────
	m := model.New(model.SectionByDate, model.Descending, model.FieldName, model.Ascending,
		cfg.Model.IconHeight, cfg.Model.LayoutChangedCoalesceFactor)
	m.Bus.Subscribe(logModelEvent)

	w := directory.New(cfg.Directory, m, sched, logger)
	defer w.Close()
	if *cachePath != "" {
		cache, err := directory.OpenCache(*cachePath, logger)
		if err != nil {
			log.Fatalf("open cache: %v", err)
		}
		defer cache.Close()
		w.SetCache(cache)
	}

	// ── 4. Change into the requested directory and wait for it to settle ──
	ctx := context.Background()
	future := w.ChangeDir(ctx, absDir)
	if _, err := future.Wait(ctx); err != nil {
		log.Fatalf("change dir: %v", err)
	}

	printLayout(m)
}

func logModelEvent(ev events.ModelEvent) {
	switch ev.Kind {
	case events.ModelRowsInserted:
		fmt.Printf("  + rows [%d,%d]\n", ev.First, ev.Last)
	case events.ModelRowsRemoved:
		fmt.Printf("  - rows [%d,%d]\n", ev.First, ev.Last)
	case events.ModelReset, events.ModelAboutToReset:
		fmt.Println("  reset")
	case events.ModelDataChanged:
		// layout-coalesced repaint signal; nothing to print per occurrence.
	}
}

func printLayout(m *model.Model) {
	fmt.Printf("\n%d rows\n", m.RowCount())
	for i := 0; i < m.RowCount(); i++ {
		if m.IsHeader(i) {
			fmt.Printf("-- %s --\n", m.SectionHeaderAt(i))
			continue
		}
		img := m.ImageAt(i)
		if img == nil {
			continue
		}
		w, h := img.Dimensions()
		fmt.Printf("  %-40s %5dx%-5d %-10s %s\n", img.Name, w, h, img.Format, img.State())
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func mustNoErr(err error) {
	if err != nil {
		log.Fatalf("error: %v", err)
	}
}
