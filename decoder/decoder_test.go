package decoder_test

import (
	"context"
	"image"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skryldev/imgbrowser/core"
	"github.com/skryldev/imgbrowser/decoder"
)

// ── test doubles ──────────────────────────────────────────────────────────────

// fakeBackend decodes nothing real; it reports a header immediately and lets
// the test control when DecodingLoop finishes via a channel, so tests can
// observe mid-decode cancellation.
type fakeBackend struct {
	header      decoder.Header
	startGate   chan struct{} // non-nil: DecodingLoop waits on it before refining
	blockUntil  chan struct{} // closed to let DecodingLoop return
	refinements int
	decodeErr   error
	finalState  decoder.State
	decodedRect image.Rectangle
}

func (b *fakeBackend) DecodeHeader(ctx context.Context, data []byte) (decoder.Header, error) {
	return b.header, nil
}

func (b *fakeBackend) DecodingLoop(ctx context.Context, data []byte, params decoder.DecodeParams, cancel <-chan struct{}, onRefine decoder.RefinementFunc) (decoder.DecodeResult, error) {
	if b.startGate != nil {
		select {
		case <-b.startGate:
		case <-cancel:
			return decoder.DecodeResult{}, context.Canceled
		}
	}
	for i := 0; i < b.refinements; i++ {
		onRefine(image.Rect(0, 0, b.header.Width, i+1))
	}
	if b.blockUntil != nil {
		select {
		case <-b.blockUntil:
		case <-cancel:
			return decoder.DecodeResult{}, context.Canceled
		}
	}
	if b.decodeErr != nil {
		return decoder.DecodeResult{}, b.decodeErr
	}
	return decoder.DecodeResult{
		Final:      b.finalState,
		Width:      b.header.Width,
		Height:     b.header.Height,
		DecodedROI: b.decodedRect,
	}, nil
}

func (b *fakeBackend) Close() error { return nil }

// fakeSink records the last values pushed by the decoder, standing in for
// model.Image in these unit tests.
type fakeSink struct {
	decoder.NopSink
	states []decoder.State
}

func (s *fakeSink) PublishStateChanged(old, new decoder.State) {
	s.states = append(s.states, new)
}

// immediateScheduler runs every submitted task on its own goroutine right
// away, giving the test a TaskHandle it can use to exercise tryTake/cancel.
type immediateScheduler struct{}

func (immediateScheduler) Submit(prio decoder.Priority, run func(cancel <-chan struct{})) *decoder.TaskHandle {
	h := decoder.NewTaskHandle()
	go func() {
		h.Claim()
		run(h.CancelCh())
	}()
	return h
}

func tempFile(t *testing.T, contents []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "decoder-test-*.bin")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(contents); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestDecoderSyncLifecycleReachesFullImage(t *testing.T) {
	path := tempFile(t, []byte("fake-jpeg-bytes"))
	backend := &fakeBackend{
		header:      decoder.Header{Width: 100, Height: 80, ColorSpace: core.ColorSpaceRGB},
		finalState:  decoder.StateFullImage,
		decodedRect: image.Rect(0, 0, 100, 80),
	}
	sink := &fakeSink{}
	d := decoder.New(path, backend, immediateScheduler{}, sink, nil)

	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	state, err := d.Decode(ctx, decoder.StateFullImage, image.Point{}, image.Rectangle{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if state != decoder.StateFullImage {
		t.Fatalf("want FullImage, got %v", state)
	}
	if d.State() != decoder.StateFullImage {
		t.Fatalf("decoder.State() = %v, want FullImage", d.State())
	}
	wantStates := []decoder.State{decoder.StateReady, decoder.StateMetadata, decoder.StateFullImage}
	if len(sink.states) != len(wantStates) {
		t.Fatalf("got %v state events, want %v", sink.states, wantStates)
	}
	for i, s := range wantStates {
		if sink.states[i] != s {
			t.Fatalf("state event %d = %v, want %v", i, sink.states[i], s)
		}
	}
}

func TestDecoderDoubleOpenIsProgrammingError(t *testing.T) {
	path := tempFile(t, []byte("data"))
	d := decoder.New(path, &fakeBackend{}, immediateScheduler{}, decoder.NopSink{}, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := d.Open(ctx); err == nil {
		t.Fatal("second Open should fail")
	}
}

func TestDecoderOpenMissingFileIsFatal(t *testing.T) {
	d := decoder.New("/nonexistent/path/for/test", &fakeBackend{}, immediateScheduler{}, decoder.NopSink{}, nil)
	if err := d.Open(context.Background()); err == nil {
		t.Fatal("Open of missing file should fail")
	}
	if d.State() != decoder.StateFatal {
		t.Fatalf("want Fatal, got %v", d.State())
	}
}

func TestDecodeAsyncCancelMidDecodeResolvesCancelled(t *testing.T) {
	path := tempFile(t, []byte("data"))
	block := make(chan struct{})
	backend := &fakeBackend{
		header:      decoder.Header{Width: 4000, Height: 3000},
		refinements: 2,
		blockUntil:  block,
	}
	d := decoder.New(path, backend, immediateScheduler{}, decoder.NopSink{}, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	f := d.DecodeAsync(ctx, decoder.StateFullImage, decoder.PriorityImportant, image.Point{}, image.Rectangle{})

	deadline := time.After(2 * time.Second)
	for d.State() != decoder.StateMetadata && d.State() != decoder.StatePreviewImage {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for decode to start")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	state, err := d.CancelOrTake(ctx, f)
	if state != decoder.StateCancelled {
		t.Fatalf("want Cancelled, got %v (err=%v)", state, err)
	}
	if !f.IsTerminal() {
		t.Fatal("future should be terminal after CancelOrTake")
	}

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d.State() != decoder.StateMetadata {
		t.Fatalf("after Reset from Cancelled (metadata reached) want Metadata, got %v", d.State())
	}
}

func TestDecodeAsyncSameTargetReturnsSameFuture(t *testing.T) {
	path := tempFile(t, []byte("data"))
	block := make(chan struct{})
	backend := &fakeBackend{
		header:     decoder.Header{Width: 100, Height: 100},
		blockUntil: block,
		finalState: decoder.StateFullImage,
	}
	d := decoder.New(path, backend, immediateScheduler{}, decoder.NopSink{}, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	f1 := d.DecodeAsync(ctx, decoder.StateFullImage, decoder.PriorityNormal, image.Point{}, image.Rectangle{})
	f2 := d.DecodeAsync(ctx, decoder.StateFullImage, decoder.PriorityNormal, image.Point{}, image.Rectangle{})
	if f1 != f2 {
		t.Fatal("second DecodeAsync with same target should return the same future")
	}
	close(block)
	if _, err := f1.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestFutureReportsStartedAndProgress(t *testing.T) {
	path := tempFile(t, []byte("data"))
	gate := make(chan struct{})
	backend := &fakeBackend{
		header:      decoder.Header{Width: 100, Height: 100},
		startGate:   gate,
		refinements: 3,
		finalState:  decoder.StateFullImage,
		decodedRect: image.Rect(0, 0, 100, 100),
	}
	d := decoder.New(path, backend, immediateScheduler{}, decoder.NopSink{}, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	f := d.DecodeAsync(ctx, decoder.StateFullImage, decoder.PriorityNormal, image.Point{}, image.Rectangle{})

	var progress []decoder.Progress
	var mu sync.Mutex
	f.OnProgress(func(p decoder.Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	close(gate)

	select {
	case <-f.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("future never reported started")
	}
	if _, err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 {
		t.Fatal("expected at least one coalesced progress notification")
	}
	for _, p := range progress {
		if p.Value < 0 || p.Value > 100 {
			t.Fatalf("progress value %d out of range", p.Value)
		}
	}
}

func TestDecodeIsIdempotentAcrossRepeatCalls(t *testing.T) {
	path := tempFile(t, []byte("data"))
	backend := &fakeBackend{
		header:      decoder.Header{Width: 10, Height: 10},
		finalState:  decoder.StateFullImage,
		decodedRect: image.Rect(0, 0, 10, 10),
		refinements: 1,
	}
	sink := &fakeSink{}
	d := decoder.New(path, backend, immediateScheduler{}, sink, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := d.Decode(ctx, decoder.StateFullImage, image.Point{}, image.Rectangle{}); err != nil {
		t.Fatalf("first Decode: %v", err)
	}
	events := len(sink.states)

	state, err := d.Decode(ctx, decoder.StateFullImage, image.Point{}, image.Rectangle{})
	if err != nil {
		t.Fatalf("repeat Decode: %v", err)
	}
	if state != decoder.StateFullImage {
		t.Fatalf("repeat Decode = %v, want FullImage", state)
	}
	if len(sink.states) != events {
		t.Fatal("a repeat Decode at the same target must not re-emit state events")
	}
}

func TestResetWhileRunningIsProgrammingError(t *testing.T) {
	path := tempFile(t, []byte("data"))
	block := make(chan struct{})
	backend := &fakeBackend{
		header:      decoder.Header{Width: 100, Height: 100},
		blockUntil:  block,
		finalState:  decoder.StateFullImage,
		refinements: 1,
	}
	d := decoder.New(path, backend, immediateScheduler{}, decoder.NopSink{}, nil)
	ctx := context.Background()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	f := d.DecodeAsync(ctx, decoder.StateFullImage, decoder.PriorityNormal, image.Point{}, image.Rectangle{})

	deadline := time.After(2 * time.Second)
	for d.State() == decoder.StateReady || d.State() == decoder.StateUnknown {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for decode to start")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := d.Reset(); err == nil {
		t.Fatal("Reset while running should fail with ProgrammingError")
	}

	close(block)
	if _, err := f.Wait(ctx); err != nil {
		t.Fatalf("future should still complete: %v", err)
	}
}
