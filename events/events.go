// Package events defines the typed event bus the core publishes and a UI
// layer consumes. Publishing never holds the originating lock: every Bus
// method copies its payload and hands it to subscribers on the caller's
// goroutine after releasing any lock the caller held.
package events

import "image"

// ImageEvent is published by a single decoder/Image pair.
type ImageEvent struct {
	Kind ImageEventKind
	Path string

	// StateChanged fields.
	NewState int
	OldState int

	// DecodedRegionGrew fields.
	Rect image.Rectangle
}

// ImageEventKind enumerates the image-scoped notifications a decoder/Image
// pair can publish.
type ImageEventKind int

const (
	ImageStateChanged ImageEventKind = iota
	ImageThumbnailChanged
	ImageDecodedRegionGrew
)

// ModelEvent is published by the sectioned sorted model.
type ModelEvent struct {
	Kind  ModelEventKind
	First int
	Last  int
}

// ModelEventKind enumerates the model-scoped notifications the sectioned
// sorted model can publish.
type ModelEventKind int

const (
	ModelRowsInserted ModelEventKind = iota
	ModelRowsRemoved
	ModelAboutToReset
	ModelReset
	ModelDataChanged
)

// ImageSubscriber receives ImageEvents. Implementations must not block for
// long; the bus calls subscribers synchronously on the publisher's goroutine.
type ImageSubscriber func(ImageEvent)

// ModelSubscriber receives ModelEvents.
type ModelSubscriber func(ModelEvent)

// ImageBus fans an Image's events out to zero or more subscribers.
type ImageBus struct {
	subs []ImageSubscriber
}

// Subscribe registers fn. Not safe to call concurrently with Publish; callers
// subscribe during setup, before the Image is shared across goroutines.
func (b *ImageBus) Subscribe(fn ImageSubscriber) {
	b.subs = append(b.subs, fn)
}

// Publish fans ev out to every subscriber. Must be called with no lock held.
func (b *ImageBus) Publish(ev ImageEvent) {
	for _, fn := range b.subs {
		fn(ev)
	}
}

// ModelBus fans a Model's events out to zero or more subscribers.
type ModelBus struct {
	subs []ModelSubscriber
}

// Subscribe registers fn.
func (b *ModelBus) Subscribe(fn ModelSubscriber) {
	b.subs = append(b.subs, fn)
}

// Publish fans ev out to every subscriber. Must be called with no lock held.
func (b *ModelBus) Publish(ev ModelEvent) {
	for _, fn := range b.subs {
		fn(ev)
	}
}
