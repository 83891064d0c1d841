// Package decoder implements the format-agnostic decoder state machine
// Unknown -> Ready -> Metadata -> PreviewImage -> FullImage, plus the sink
// states Error, Fatal, and Cancelled. A Decoder drives exactly one
// in-flight operation per owned resource and never holds its lock across a
// suspension point or a signal emission.
package decoder

import (
	"context"
	"image"
	"log/slog"
	"os"
	"sync"

	apperrors "github.com/skryldev/imgbrowser/errors"
	"github.com/skryldev/imgbrowser/utils"
)

// Decoder owns a single on-disk encoded image and drives it through the
// state machine. It is safe for concurrent use: State, Open, Init, Decode,
// DecodeAsync, Reset, Close, and CancelOrTake may all be called from any
// goroutine, though the intended threading model has Open/Init/Decode
// invoked from the directory worker or a scheduler pool goroutine and
// Reset/Close from the thread that owns the Image.
type Decoder struct {
	path    string
	backend Backend
	sched   Scheduler
	sink    ImageSink
	log     *slog.Logger

	mu              sync.Mutex
	state           State
	open            bool
	file            *os.File
	data            []byte
	width, height   int // captured at Init, used for progress percentages
	lastErr         error
	metadataReached bool // governs Reset's target from Cancelled/Error
	running         bool // a decode pass (sync or async) is in flight

	current       *Future
	currentHandle *TaskHandle
	currentTarget State
}

// New creates a Decoder for path. sink may be decoder.NopSink{} if the
// caller has not wired an owning Image yet.
func New(path string, backend Backend, sched Scheduler, sink ImageSink, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		path:    path,
		backend: backend,
		sched:   sched,
		sink:    sink,
		log:     log,
		state:   StateUnknown,
	}
}

// State returns the decoder's current state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// transition mutates state under the lock and publishes the change with the
// lock released: no lock is ever held across a signal emission.
func (d *Decoder) transition(newState State) {
	d.mu.Lock()
	old := d.state
	d.state = newState
	if newState == StateMetadata {
		d.metadataReached = true
	}
	d.mu.Unlock()

	if old == newState {
		return
	}
	d.log.Debug("decoder state transition", "path", d.path, "from", old.String(), "to", newState.String())
	d.sink.PublishStateChanged(old, newState)
}

func (d *Decoder) setLastErr(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
	if err != nil {
		d.sink.SetLastError(err)
	}
}

// LastError returns the error captured by the most recent Fatal or Error
// transition, or nil.
func (d *Decoder) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Open acquires the file handle and reads the encoded bytes into memory,
// standing in for a memory-mapped view of the file — this module has no
// mmap dependency in its stack, and utils.DrainReader already favors a
// single in-memory buffer over streaming, so Open follows that idiom
// rather than reaching for an unproven syscall-level mmap package.
func (d *Decoder) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		return apperrors.Programming("decoder.open", apperrors.ErrAlreadyOpen)
	}
	d.mu.Unlock()

	f, err := os.Open(d.path)
	if err != nil {
		d.transition(StateFatal)
		d.setLastErr(err)
		return apperrors.Fatal("decoder.open", err)
	}

	buf, err := utils.DrainReader(ctx, f, 256*1024)
	if err != nil {
		f.Close()
		d.transition(StateFatal)
		d.setLastErr(err)
		return apperrors.Fatal("decoder.open", err)
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	d.mu.Lock()
	d.open = true
	d.file = f
	d.data = data
	d.mu.Unlock()

	d.transition(StateReady)
	return nil
}

// Init must be called with an open decoder. It parses the header, pushes
// dimensions/orientation/color-space/ICC onto the sink, and emits Metadata.
func (d *Decoder) Init(ctx context.Context) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return apperrors.Programming("decoder.init", apperrors.ErrNotOpen)
	}
	data := d.data
	d.mu.Unlock()

	hdr, err := d.backend.DecodeHeader(ctx, data)
	if err != nil {
		d.transition(StateFatal)
		d.setLastErr(err)
		return apperrors.HeaderErr("decoder.init", err)
	}

	d.mu.Lock()
	d.width, d.height = hdr.Width, hdr.Height
	d.mu.Unlock()

	d.sink.SetDimensions(hdr.Width, hdr.Height)
	d.sink.SetOrientation(hdr.Orientation)
	d.sink.SetColorSpace(hdr.ColorSpace)
	if hdr.XDPI > 0 || hdr.YDPI > 0 {
		d.sink.SetDPI(hdr.XDPI, hdr.YDPI)
	}
	if hdr.ICCProfile != nil {
		d.sink.SetICCProfile(hdr.ICCProfile)
	}

	d.transition(StateMetadata)
	return nil
}

// Decode runs synchronously to targetState. It is idempotent: calling it
// again with a state already reached is a no-op success. If the current
// state is below Metadata it runs Init first.
func (d *Decoder) Decode(ctx context.Context, target State, desiredResolution image.Point, roi image.Rectangle) (State, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return StateUnknown, apperrors.Programming("decoder.decode", apperrors.ErrResetWhileRunning)
	}
	d.running = true
	cur := d.state
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	if cur < StateMetadata {
		if err := d.Init(ctx); err != nil {
			return StateFatal, err
		}
		cur = StateMetadata
	}

	// Idempotent across repeat calls: a target already reached by a previous
	// successful pass is a no-op success.
	if cur >= target && cur <= StateFullImage {
		return cur, nil
	}

	d.mu.Lock()
	data := d.data
	d.mu.Unlock()

	cancelCh := make(chan struct{})
	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		select {
		case <-ctx.Done():
			close(cancelCh)
		case <-loopDone:
		}
	}()

	result, err := d.backend.DecodingLoop(ctx, data, DecodeParams{
		Target:            target,
		DesiredResolution: desiredResolution,
		ROI:               roi,
	}, cancelCh, func(rect image.Rectangle) {
		d.sink.SetDecodedROI(rect)
		d.sink.PublishDecodedRegionGrew(rect)
		d.reportProgress(rect)
	})
	if err != nil {
		if apperrors.IsCancellation(err) {
			d.transition(StateCancelled)
			return StateCancelled, err
		}
		d.transition(StateError)
		d.setLastErr(err)
		return StateError, apperrors.New(apperrors.CategoryDecode, "decoder.decode", err)
	}

	d.sink.SetDecodedROI(result.DecodedROI)
	if result.PageScale > 0 {
		d.sink.SetPageScale(result.PageScale)
	}
	if result.Pixels != nil {
		// Ownership of the decoded buffer transfers out of the decoder into
		// the Image at the end of the pass, for PreviewImage as well as
		// FullImage, so a later cancelled refine still leaves the Image
		// holding whatever was decoded so far.
		d.sink.SetSurface(result.Pixels)
	}
	d.transition(result.Final)
	return result.Final, nil
}

// DecodeAsync schedules target via the Scheduler and returns a Future. A
// second call with the same target while one is already in flight returns
// the same Future. A call with a different target cancels the in-flight one
// (waiting for it to resolve) before scheduling the new one.
func (d *Decoder) DecodeAsync(ctx context.Context, target State, prio Priority, desiredResolution image.Point, roi image.Rectangle) *Future {
	d.mu.Lock()
	if d.current != nil && !d.current.IsTerminal() {
		if d.currentTarget == target {
			f := d.current
			d.mu.Unlock()
			return f
		}
		prevHandle := d.currentHandle
		prevFuture := d.current
		d.mu.Unlock()

		d.cancelOrTake(context.Background(), prevFuture, prevHandle)
	} else {
		d.mu.Unlock()
	}

	future := newFuture()
	d.mu.Lock()
	d.current = future
	d.currentTarget = target
	d.mu.Unlock()

	handle := d.sched.Submit(prio, func(cancel <-chan struct{}) {
		future.markStarted()

		mergedCtx, cancelFn := context.WithCancel(ctx)
		defer cancelFn()
		go func() {
			select {
			case <-cancel:
				cancelFn()
			case <-mergedCtx.Done():
			}
		}()

		state, err := d.Decode(mergedCtx, target, desiredResolution, roi)
		future.complete(state, err)
	})

	d.mu.Lock()
	d.currentHandle = handle
	d.mu.Unlock()

	return future
}

// CancelOrTake cancels or takes the queued task: if the task has
// not yet started it is removed from the queue and its future resolves
// Cancelled without ever running; otherwise the cooperative cancel flag is
// set and the call blocks until the future is terminal. f must be a future
// previously returned by DecodeAsync on this decoder.
func (d *Decoder) CancelOrTake(ctx context.Context, f *Future) (State, error) {
	d.mu.Lock()
	handle := d.currentHandle
	if d.current != f {
		handle = nil
	}
	d.mu.Unlock()

	return d.cancelOrTake(ctx, f, handle)
}

func (d *Decoder) cancelOrTake(ctx context.Context, f *Future, handle *TaskHandle) (State, error) {
	if handle != nil && handle.Claim() {
		f.complete(StateCancelled, apperrors.Cancellation("decoder.cancelOrTake"))
		d.transition(StateCancelled)
		return f.Wait(ctx)
	}
	if handle != nil {
		handle.Cancel()
	}
	return f.Wait(ctx)
}

// reportProgress translates a refinement rectangle into a coalesced
// percentage-of-rows progress notification on the in-flight future, if any.
func (d *Decoder) reportProgress(rect image.Rectangle) {
	d.mu.Lock()
	fut := d.current
	h := d.height
	d.mu.Unlock()
	if fut == nil || fut.IsTerminal() || h <= 0 {
		return
	}
	pct := rect.Max.Y * 100 / h
	if pct > 100 {
		pct = 100
	}
	fut.publishProgress(Progress{Value: pct, Text: "decoding " + d.path})
}

// Reset transitions the decoder back toward Ready/Metadata, releasing any
// decoded surface but preserving metadata already captured. Must not be
// called while a decode pass is in flight.
func (d *Decoder) Reset() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return apperrors.Programming("decoder.reset", apperrors.ErrResetWhileRunning)
	}
	cur := d.state
	reached := d.metadataReached
	d.lastErr = nil
	d.mu.Unlock()

	switch cur {
	case StateFatal:
		d.transition(StateReady)
	case StateError, StateCancelled, StateFullImage, StatePreviewImage:
		d.sink.ReleaseSurface()
		if reached {
			d.transition(StateMetadata)
		} else {
			d.transition(StateReady)
		}
	}
	return nil
}

// Close releases the file handle and the in-memory buffer standing in for
// the mmap. Must not be called during a decode.
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return apperrors.Programming("decoder.close", apperrors.ErrCloseWhileRunning)
	}
	f := d.file
	d.file = nil
	d.data = nil
	d.open = false
	d.mu.Unlock()

	if err := d.backend.Close(); err != nil {
		d.log.Warn("backend close failed", "path", d.path, "err", err)
	}
	if f != nil {
		return f.Close()
	}
	return nil
}
