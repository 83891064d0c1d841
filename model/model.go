package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skryldev/imgbrowser/decoder"
	"github.com/skryldev/imgbrowser/events"
)

// SectionField identifies which attribute partitions images into sections.
type SectionField int

const (
	SectionByDate SectionField = iota
	SectionByFirstLetter
	SectionByFileType
	SectionByApertureBucket
)

// SectionItem is a tagged key plus the ordered sequence of Images matching
// it under the current image-field/order.
type SectionItem struct {
	Key   string
	Items []*Image
}

// rowKind distinguishes a flat-index entry.
type rowKind int

const (
	rowHeader rowKind = iota
	rowImage
)

type row struct {
	kind    rowKind
	section int
	item    int // meaningful only when kind == rowImage
}

// Model is the single indexed, sectioned, sorted view over the directory
// worker's Images: an ordered section slice with a flat row index kept in
// lockstep under one RWMutex. All mutating methods publish their
// ModelEvent with the lock released.
type Model struct {
	mu sync.RWMutex

	sections []*SectionItem
	flat     []row

	sectionField SectionField
	sectionOrder Order
	imageField   Field
	imageOrder   Order

	checked    map[string]bool
	iconHeight int

	// tasks is the authoritative (image path -> in-flight future) registry
	// while a background decode runs; cleared on Finished.
	tasks map[string]*decoder.Future

	Bus events.ModelBus

	layoutCoalesceFactor float64
	lastLayoutDuration   time.Duration
	layoutTimer          *time.Timer
	layoutPending        bool
}

// New returns an empty Model sectioned by field/order, with iconHeight as
// the global icon height reported by IconHeight.
func New(sectionField SectionField, sectionOrder Order, imageField Field, imageOrder Order, iconHeight int, layoutCoalesceFactor float64) *Model {
	return &Model{
		sectionField:         sectionField,
		sectionOrder:         sectionOrder,
		imageField:           imageField,
		imageOrder:           imageOrder,
		checked:              make(map[string]bool),
		tasks:                make(map[string]*decoder.Future),
		iconHeight:           iconHeight,
		layoutCoalesceFactor: layoutCoalesceFactor,
	}
}

// sectionKey computes the section-grouping key for img under the model's
// active section field.
func (m *Model) sectionKey(img *Image) string {
	switch m.sectionField {
	case SectionByFirstLetter:
		name := strings.TrimSpace(img.Name)
		if name == "" {
			return "#"
		}
		r := []rune(strings.ToUpper(name))[0]
		return string(r)
	case SectionByFileType:
		return string(img.Format)
	case SectionByApertureBucket:
		if img.EXIF.FNumber == 0 {
			return "f/—"
		}
		return fmt.Sprintf("f/%.1f", img.EXIF.FNumber)
	default: // SectionByDate
		t := img.EXIF.DateTimeOriginal
		if t.IsZero() {
			t = img.ModTime
		}
		if t.IsZero() {
			return "Unknown date"
		}
		return t.Format("2006-01-02")
	}
}

func sectionLess(a, b string, order Order) bool {
	if order == Descending {
		return a > b
	}
	return a < b
}

// Reset clears the model, emitting ModelAboutToReset / ModelReset. Used by
// the directory worker at the start of ChangeDir.
func (m *Model) Reset() {
	m.Bus.Publish(events.ModelEvent{Kind: events.ModelAboutToReset})
	m.mu.Lock()
	m.sections = nil
	m.flat = nil
	m.checked = make(map[string]bool)
	m.tasks = make(map[string]*decoder.Future)
	m.mu.Unlock()
	m.Bus.Publish(events.ModelEvent{Kind: events.ModelReset})
}

// Insert places img into its section at the position its current
// section/image field+order mandate, creating the section if absent, and
// emits ModelRowsInserted around the resulting flat-index span.
func (m *Model) Insert(img *Image) {
	key := m.sectionKey(img)

	m.mu.Lock()
	si, _ := m.findOrCreateSectionLocked(key)
	pos := sort.Search(len(si.Items), func(i int) bool {
		return CompareImages(si.Items[i], img, m.imageField, m.imageOrder) >= 0
	})
	si.Items = append(si.Items, nil)
	copy(si.Items[pos+1:], si.Items[pos:])
	si.Items[pos] = img

	m.rebuildFlatLocked()
	first, last := m.rowSpanForItemLocked(key, pos)
	if len(si.Items) == 1 {
		// A newly created section's header row was inserted too, immediately
		// above the item.
		first--
	}
	m.mu.Unlock()

	m.Bus.Publish(events.ModelEvent{Kind: events.ModelRowsInserted, First: first, Last: last})
}

// findOrCreateSectionLocked must be called with m.mu held.
func (m *Model) findOrCreateSectionLocked(key string) (*SectionItem, int) {
	idx := sort.Search(len(m.sections), func(i int) bool {
		if m.sectionOrder == Descending {
			return m.sections[i].Key <= key
		}
		return m.sections[i].Key >= key
	})
	if idx < len(m.sections) && m.sections[idx].Key == key {
		return m.sections[idx], idx
	}
	si := &SectionItem{Key: key}
	m.sections = append(m.sections, nil)
	copy(m.sections[idx+1:], m.sections[idx:])
	m.sections[idx] = si
	return si, idx
}

// rowSpanForItemLocked computes the flat-index span for the single item at
// itemIdx within section key, used to report a minimal insert span.
func (m *Model) rowSpanForItemLocked(key string, itemIdx int) (first, last int) {
	n := 0
	for _, si := range m.sections {
		n++ // section header row
		if si.Key == key {
			return n + itemIdx, n + itemIdx
		}
		n += len(si.Items)
	}
	return 0, 0
}

// rebuildFlatLocked recomputes the header/item -> flat-row bijection. Called
// with m.mu held after any structural mutation.
func (m *Model) rebuildFlatLocked() {
	m.flat = m.flat[:0]
	for si, s := range m.sections {
		m.flat = append(m.flat, row{kind: rowHeader, section: si})
		for ii := range s.Items {
			m.flat = append(m.flat, row{kind: rowImage, section: si, item: ii})
		}
	}
}

// Remove finds the Image with the given path, removes it, removes an
// emptied section, and emits ModelRowsRemoved around the affected span.
// The image's check-state and task-registry entry go atomically with it.
func (m *Model) Remove(path string) {
	m.mu.Lock()
	var first, last int = -1, -1
	for si, s := range m.sections {
		for ii, it := range s.Items {
			if it.Path != path {
				continue
			}
			n := 0
			for k := 0; k < si; k++ {
				n += 1 + len(m.sections[k].Items)
			}
			first = n + 1 + ii
			last = first

			s.Items = append(s.Items[:ii], s.Items[ii+1:]...)
			if len(s.Items) == 0 {
				m.sections = append(m.sections[:si], m.sections[si+1:]...)
				// Removing the last item removes the section's header row
				// too, which sits immediately above the item.
				first--
			}
			delete(m.checked, path)
			delete(m.tasks, path)
			m.rebuildFlatLocked()
			m.mu.Unlock()
			m.Bus.Publish(events.ModelEvent{Kind: events.ModelRowsRemoved, First: first, Last: last})
			return
		}
	}
	m.mu.Unlock()
}

// Resort re-sorts every section and its items under a new field/order pair,
// emitting ModelAboutToReset / ModelReset. Re-sorting twice with the same
// field/order is idempotent: sort.SliceStable preserves the already-sorted
// relative order of equal elements.
func (m *Model) Resort(sectionField SectionField, sectionOrder Order, imageField Field, imageOrder Order) {
	m.Bus.Publish(events.ModelEvent{Kind: events.ModelAboutToReset})

	m.mu.Lock()
	m.sectionField, m.sectionOrder = sectionField, sectionOrder
	m.imageField, m.imageOrder = imageField, imageOrder

	byKey := make(map[string]*SectionItem)
	var all []*Image
	for _, si := range m.sections {
		all = append(all, si.Items...)
	}
	m.sections = nil
	for _, img := range all {
		key := m.sectionKey(img)
		si, ok := byKey[key]
		if !ok {
			si = &SectionItem{Key: key}
			byKey[key] = si
			m.sections = append(m.sections, si)
		}
		si.Items = append(si.Items, img)
	}
	sort.SliceStable(m.sections, func(i, j int) bool {
		return sectionLess(m.sections[i].Key, m.sections[j].Key, m.sectionOrder)
	})
	for _, si := range m.sections {
		items := si.Items
		sort.SliceStable(items, func(i, j int) bool {
			return CompareImages(items[i], items[j], m.imageField, m.imageOrder) < 0
		})
	}
	m.rebuildFlatLocked()
	m.mu.Unlock()

	m.Bus.Publish(events.ModelEvent{Kind: events.ModelReset})
}

// IconHeight returns the global icon height the view renders decorations at.
func (m *Model) IconHeight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.iconHeight
}

// RowCount returns the number of flat rows (section headers + images).
func (m *Model) RowCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flat)
}

// IsHeader reports whether row i is a section header.
func (m *Model) IsHeader(i int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.flat) {
		return false
	}
	return m.flat[i].kind == rowHeader
}

// ImageAt returns the Image at flat row i, or nil if i addresses a section
// header or is out of range.
func (m *Model) ImageAt(i int) *Image {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.flat) {
		return nil
	}
	r := m.flat[i]
	if r.kind != rowImage {
		return nil
	}
	return m.sections[r.section].Items[r.item]
}

// SectionHeaderAt returns the section key at flat row i, valid only when
// IsHeader(i).
func (m *Model) SectionHeaderAt(i int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.flat) || m.flat[i].kind != rowHeader {
		return ""
	}
	return m.sections[m.flat[i].section].Key
}

// ── Per-item background task registry ───────────────────────────────────────

// RegisterTask records that path has an in-flight decode future, and arms a
// goroutine to clear it and coalesce a layout-changed event on completion.
func (m *Model) RegisterTask(path string, f *decoder.Future) {
	m.mu.Lock()
	m.tasks[path] = f
	m.mu.Unlock()

	go func() {
		<-f.Done()
		m.mu.Lock()
		if m.tasks[path] == f {
			delete(m.tasks, path)
		}
		m.mu.Unlock()
		m.scheduleLayoutChanged()
	}()
}

// HasTask reports whether path currently has a registered in-flight future
// (used by the view to decide whether to show an animated progress icon in
// place of the thumbnail).
func (m *Model) HasTask(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[path]
	return ok
}

// scheduleLayoutChanged coalesces repeated task completions into a single
// ModelDataChanged event fired after ~3x the last observed layout duration.
func (m *Model) scheduleLayoutChanged() {
	start := time.Now()
	m.mu.Lock()
	if m.layoutPending {
		m.mu.Unlock()
		return
	}
	m.layoutPending = true
	delay := time.Duration(float64(m.lastLayoutDuration) * m.layoutCoalesceFactor)
	if delay <= 0 {
		delay = 16 * time.Millisecond
	}
	if m.layoutTimer != nil {
		m.layoutTimer.Stop()
	}
	m.layoutTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.layoutPending = false
		m.lastLayoutDuration = time.Since(start)
		m.mu.Unlock()
		m.Bus.Publish(events.ModelEvent{Kind: events.ModelDataChanged})
	})
	m.mu.Unlock()
}

// ── Checked images ───────────────────────────────────────────────────────────

// SetChecked mutates path's check membership.
func (m *Model) SetChecked(path string, checked bool) {
	m.mu.Lock()
	if checked {
		m.checked[path] = true
	} else {
		delete(m.checked, path)
	}
	m.mu.Unlock()
}

// CheckedPaths returns a stable snapshot of every currently checked path.
func (m *Model) CheckedPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.checked))
	for p := range m.checked {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsSafeToChangeDir reports whether no image is currently checked; the UI
// must gate a directory change behind explicit confirmation otherwise.
func (m *Model) IsSafeToChangeDir() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checked) == 0
}

// ── Row data exposure ────────────────────────────────────────────────────────

// Tooltip formats the EXIF+stat summary a view displays for row i's image.
func Tooltip(img *Image) string {
	w, h := img.Dimensions()
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%d x %d\n%s", img.Name, w, h, img.ModTime.Format(time.RFC1123))
	if img.EXIF.FNumber != 0 {
		fmt.Fprintf(&b, "\nf/%.1f", img.EXIF.FNumber)
	}
	if img.EXIF.ExposureTime != 0 {
		fmt.Fprintf(&b, "  %.0f/%.0fs", 1.0, 1.0/img.EXIF.ExposureTime)
	}
	if img.EXIF.ISO != 0 {
		fmt.Fprintf(&b, "  ISO%d", img.EXIF.ISO)
	}
	if img.EXIF.LensModel != "" {
		fmt.Fprintf(&b, "\n%s", img.EXIF.LensModel)
	}
	return b.String()
}
