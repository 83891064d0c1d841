// Package directory implements the directory worker: batched non-recursive
// enumeration, RAW/JPEG/TIFF stem-based sibling pairing, incremental model
// population, and filesystem-watch-driven reconcile. Change detection is
// stat-based; a debounce timer coalesces watch events into single
// reconcile passes.
package directory

import (
	"bytes"
	"context"
	"image"
	stdjpeg "image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skryldev/imgbrowser/config"
	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
	apperrors "github.com/skryldev/imgbrowser/errors"
	"github.com/skryldev/imgbrowser/exif"
	"github.com/skryldev/imgbrowser/model"
	"github.com/skryldev/imgbrowser/scheduler"
)

// enumerateConcurrency bounds how many entries addEntry (which may run a
// synchronous Open+Init when SyncMetadataForSort is set) processes at once.
const enumerateConcurrency = 8

// stemSuffix splits a filename into its stem and lowercase suffix (without
// the dot), the unit the pairing rule groups on.
func stemSuffix(name string) (stem, suffix string) {
	ext := filepath.Ext(name)
	stem = strings.TrimSuffix(name, ext)
	suffix = strings.ToLower(strings.TrimPrefix(ext, "."))
	return stem, suffix
}

var jpegSuffixes = map[string]bool{"jpg": true, "jpeg": true}
var tiffSuffixes = map[string]bool{"tif": true, "tiff": true}

// siblingSet is the stem -> {present suffixes} map the "has-sibling"
// predicate is computed against. Shared (by pointer)
// across the worker and every Image's hide predicate for the active
// directory so a reconcile's sibling removal is visible without rebuilding
// every Image's closure.
type siblingSet struct {
	mu     sync.RWMutex
	byStem map[string]map[string]bool
}

func newSiblingSet() *siblingSet {
	return &siblingSet{byStem: make(map[string]map[string]bool)}
}

func (s *siblingSet) add(stem, suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byStem[stem]
	if !ok {
		m = make(map[string]bool)
		s.byStem[stem] = m
	}
	m[suffix] = true
}

func (s *siblingSet) remove(stem, suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byStem[stem]; ok {
		delete(m, suffix)
		if len(m) == 0 {
			delete(s.byStem, stem)
		}
	}
}

func (s *siblingSet) hasAny(stem string, suffixes map[string]bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.byStem[stem]
	for suf := range suffixes {
		if m[suf] {
			return true
		}
	}
	return false
}

// entry is one enumerated filesystem child, tracked across reconcile passes
// so a watch event can diff against the last known listing.
type entry struct {
	name    string
	stem    string
	suffix  string
	modTime time.Time
	size    int64
}

// Worker drives the directory lifecycle: ChangeDir enumerates into Model,
// pairing RAW/JPEG/TIFF siblings and scheduling per-file Metadata decodes;
// a filesystem watch debounces reconcile passes thereafter.
type Worker struct {
	cfg   config.DirectoryConfig
	model *model.Model
	sched *scheduler.Pool
	log   *slog.Logger

	mu       sync.Mutex
	dir      string
	future   *decoder.Future
	cancelFn context.CancelFunc
	entries  map[string]entry
	siblings *siblingSet
	watcher  *watch

	cache *MetadataCache
}

// New constructs a Worker over model m, submitting per-file Metadata decodes
// to sched.
func New(cfg config.DirectoryConfig, m *model.Model, sched *scheduler.Pool, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{cfg: cfg, model: m, sched: sched, log: log, entries: make(map[string]entry)}
}

// SetCache attaches an optional on-disk EXIF metadata cache; nil disables
// caching (every MetadataCache method is a no-op on a nil receiver, so
// callers needn't guard access themselves).
func (w *Worker) SetCache(c *MetadataCache) { w.cache = c }

// Close cancels any in-flight enumeration, waits for it to settle, and tears
// down the filesystem watch. The attached cache is not closed; its opener
// owns it.
func (w *Worker) Close() {
	w.mu.Lock()
	future, cancel := w.future, w.cancelFn
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if future != nil && !future.IsTerminal() {
		future.Wait(context.Background())
	}
	w.closeWatcher()
}

func (w *Worker) closeWatcher() {
	w.mu.Lock()
	v := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	v.close()
}

// ChangeDir switches the worker to dir. A previous in-flight enumeration is
// cancelled and awaited first; the model is reset; the directory is
// enumerated non-recursively; each file is paired, given an Image + decoder,
// inserted into the model, and the filesystem watch is (re)armed.
func (w *Worker) ChangeDir(ctx context.Context, dir string) *decoder.Future {
	w.mu.Lock()
	prevFuture, prevCancel := w.future, w.cancelFn
	w.mu.Unlock()
	if prevFuture != nil && !prevFuture.IsTerminal() {
		if prevCancel != nil {
			prevCancel()
		}
		prevFuture.Wait(context.Background())
	}
	w.closeWatcher()

	w.model.Reset()

	future := decoder.NewFuture()
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.dir = dir
	w.future = future
	w.cancelFn = cancel
	w.entries = make(map[string]entry)
	w.siblings = newSiblingSet()
	w.mu.Unlock()

	go w.enumerate(runCtx, dir, future)
	return future
}

func (w *Worker) enumerate(ctx context.Context, dir string, future *decoder.Future) {
	items, err := os.ReadDir(dir)
	if err != nil {
		future.Complete(decoder.StateError, apperrors.New(apperrors.CategoryDirectory, "directory.enumerate", err))
		return
	}

	// Group entries by stem first so every Image's hide predicate sees the
	// complete sibling set, independent of enumeration order.
	var siblingsSeed []entry
	for _, de := range items {
		info, err := de.Info()
		if err != nil {
			continue
		}
		stem, suffix := stemSuffix(de.Name())
		e := entry{name: de.Name(), stem: stem, suffix: suffix, modTime: info.ModTime(), size: info.Size()}
		siblingsSeed = append(siblingsSeed, e)
		if !de.IsDir() {
			w.siblings.add(stem, suffix)
		}
	}

	sort.Slice(siblingsSeed, func(i, j int) bool { return siblingsSeed[i].name < siblingsSeed[j].name })

	// Entries are independent of one another (Model.Insert and the siblings
	// map are both internally locked), so fan them out bounded by
	// enumerateConcurrency rather than running addEntry's synchronous Open+
	// Init path one file at a time.
	limit := enumerateConcurrency
	if n := runtime.NumCPU(); n < limit {
		limit = n
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, e := range siblingsSeed {
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w.mu.Lock()
			w.entries[e.name] = e
			w.mu.Unlock()
			w.addEntry(gctx, dir, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		future.Complete(decoder.StateCancelled, apperrors.Cancellation("directory.enumerate"))
		return
	}

	v := newWatch(w, dir, w.cfg.ReconcileDebounce, w.log)
	w.mu.Lock()
	w.watcher = v
	w.mu.Unlock()
	future.Complete(decoder.StateFullImage, nil)
}

// addEntry builds an Image for one directory entry (file or subdirectory),
// wires its decoder and hide predicate, and inserts it into the model.
func (w *Worker) addEntry(ctx context.Context, dir string, e entry) {
	path := filepath.Join(dir, e.name)
	info, err := os.Lstat(path)
	if err != nil {
		return
	}

	format, rawKind := core.FormatUnknown, core.RAWKindUnknown
	if !info.IsDir() {
		format, rawKind = decoder.DetectByExtension(e.name)
		if format == core.FormatUnknown {
			if head, err := readHead(path, 32); err == nil {
				format, rawKind = decoder.DetectByMagic(head)
			}
		}
	}

	img := model.NewImage(path, e.name, info, format, rawKind)
	w.wireHidePredicate(img, e)

	if !info.IsDir() && format != core.FormatUnknown {
		if backend, ok := decoder.NewBackend(format); ok {
			d := decoder.New(path, backend, w.sched, img, w.log)
			img.AttachDecoder(d)

			if w.cfg.SyncMetadataForSort {
				if err := d.Open(ctx); err == nil {
					d.Init(ctx)
					w.attachEXIF(d, img, path, e)
				}
			} else {
				f := d.DecodeAsync(ctx, decoder.StateMetadata, decoder.PriorityBackground, image.Point{}, image.Rectangle{})
				w.model.RegisterTask(path, f)
				go func() {
					<-f.Done()
					w.attachEXIF(d, img, path, e)
				}()
			}
		}
	}

	w.model.Insert(img)
}

// attachEXIF extracts and attaches EXIF once a decode has reached Metadata,
// consulting (and populating) the metadata cache when one is attached.
func (w *Worker) attachEXIF(d *decoder.Decoder, img *model.Image, path string, e entry) {
	if d.State() < decoder.StateMetadata {
		return
	}

	if cached, ok := w.cache.Get(path, e.size, e.modTime); ok {
		img.SetEXIF(cached)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	ed, err := exif.Extract(data)
	if err != nil {
		return
	}
	img.SetEXIF(ed)
	if x, y := ed.DPI(); x > 0 || y > 0 {
		img.SetDPI(x, y)
	}
	attachEXIFThumbnail(img, ed)
	w.cache.Put(path, e.size, e.modTime, ed)
}

// attachEXIFThumbnail decodes the embedded thumbnail stream and applies the
// maker-note crop rules before handing it to the image. The monotonic-
// quality guard in SetThumbnail keeps it from downgrading a thumbnail the
// decoder already derived from a larger surface.
func attachEXIFThumbnail(img *model.Image, ed exif.Data) {
	if len(ed.ThumbnailJPEG) == 0 {
		return
	}
	t, err := stdjpeg.Decode(bytes.NewReader(ed.ThumbnailJPEG))
	if err != nil {
		return
	}
	if r := exif.CropThumbnail(t, ed); r != t.Bounds() {
		if sub, ok := t.(interface {
			SubImage(image.Rectangle) image.Image
		}); ok {
			t = sub.SubImage(r)
		}
	}
	img.SetThumbnail(t)
}

// wireHidePredicate closes over w.siblings so the predicate reflects live
// reconcile state instead of a point-in-time snapshot.
func (w *Worker) wireHidePredicate(img *model.Image, e entry) {
	if img.Format != core.FormatRAW {
		return
	}
	stem := e.stem
	img.HideIfJPEGSiblingFn = func() bool {
		if !w.cfg.CombineRAWAndJPEG {
			return false
		}
		return w.siblings.hasAny(stem, jpegSuffixes) || w.siblings.hasAny(stem, tiffSuffixes)
	}
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}
