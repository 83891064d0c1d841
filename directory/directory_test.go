package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skryldev/imgbrowser/config"
	"github.com/skryldev/imgbrowser/decoder"
	"github.com/skryldev/imgbrowser/model"
	"github.com/skryldev/imgbrowser/scheduler"
)

// No format backend package is imported here, so decoder.NewBackend reports
// false for every format and the worker exercises its enumeration/pairing
// path without touching libvips or libraw.

func newTestWorker(t *testing.T, cfg config.DirectoryConfig) (*Worker, *model.Model) {
	t.Helper()
	m := model.New(model.SectionByFirstLetter, model.Ascending, model.FieldName, model.Ascending, 128, 3.0)
	pool := scheduler.New(config.Default(), nil)
	t.Cleanup(func() { pool.Stop(context.Background()) })
	w := New(cfg, m, pool, nil)
	t.Cleanup(w.Close)
	return w, m
}

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("not really an image"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func findByName(m *model.Model, name string) *model.Image {
	for i := 0; i < m.RowCount(); i++ {
		if img := m.ImageAt(i); img != nil && img.Name == name {
			return img
		}
	}
	return nil
}

func TestStemSuffixNormalisation(t *testing.T) {
	stem, suffix := stemSuffix("IMG_0001.CR2")
	if stem != "IMG_0001" || suffix != "cr2" {
		t.Fatalf("got (%q, %q), want (IMG_0001, cr2)", stem, suffix)
	}
	stem, suffix = stemSuffix("noext")
	if stem != "noext" || suffix != "" {
		t.Fatalf("got (%q, %q), want (noext, '')", stem, suffix)
	}
}

func TestChangeDirPairsRAWWithJPEGSibling(t *testing.T) {
	cfg := config.Default().Directory
	cfg.CombineRAWAndJPEG = true
	w, m := newTestWorker(t, cfg)

	dir := writeFiles(t, "a.cr2", "a.jpg", "b.tif")

	future := w.ChangeDir(context.Background(), dir)
	state, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}
	if state != decoder.StateFullImage {
		t.Fatalf("ChangeDir resolved %v, want FullImage", state)
	}

	raw := findByName(m, "a.cr2")
	if raw == nil {
		t.Fatal("a.cr2 missing from model")
	}
	if raw.Enabled() {
		t.Fatal("a.cr2 has a JPEG sibling and combine-RAW-JPEG is on; it must be hidden")
	}
	jpeg := findByName(m, "a.jpg")
	if jpeg == nil || !jpeg.Enabled() {
		t.Fatal("a.jpg must be present and enabled")
	}
	tif := findByName(m, "b.tif")
	if tif == nil || !tif.Enabled() {
		t.Fatal("b.tif has no RAW pairing rule applied; it must be enabled")
	}
}

func TestCombineFlagOffKeepsRAWEnabled(t *testing.T) {
	cfg := config.Default().Directory
	cfg.CombineRAWAndJPEG = false
	w, m := newTestWorker(t, cfg)

	dir := writeFiles(t, "a.cr2", "a.jpg")
	if _, err := w.ChangeDir(context.Background(), dir).Wait(context.Background()); err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}

	raw := findByName(m, "a.cr2")
	if raw == nil || !raw.Enabled() {
		t.Fatal("with combine-RAW-JPEG off the RAW item stays enabled")
	}
}

func TestReconcileRemovesDeletedSiblingAndReenablesRAW(t *testing.T) {
	cfg := config.Default().Directory
	cfg.CombineRAWAndJPEG = true
	w, m := newTestWorker(t, cfg)

	dir := writeFiles(t, "a.cr2", "a.jpg", "b.tif")
	if _, err := w.ChangeDir(context.Background(), dir).Wait(context.Background()); err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}
	before := m.RowCount()

	if err := os.Remove(filepath.Join(dir, "a.jpg")); err != nil {
		t.Fatal(err)
	}
	w.reconcile(context.Background())

	if findByName(m, "a.jpg") != nil {
		t.Fatal("a.jpg should have been removed from the model")
	}
	if m.RowCount() >= before {
		t.Fatalf("RowCount = %d, want fewer than %d", m.RowCount(), before)
	}
	raw := findByName(m, "a.cr2")
	if raw == nil {
		t.Fatal("a.cr2 missing from model")
	}
	if !raw.Enabled() {
		t.Fatal("a.cr2 must become enabled once its JPEG sibling is gone")
	}
}

func TestReconcileAddsNewEntries(t *testing.T) {
	cfg := config.Default().Directory
	w, m := newTestWorker(t, cfg)

	dir := writeFiles(t, "a.jpg")
	if _, err := w.ChangeDir(context.Background(), dir).Wait(context.Background()); err != nil {
		t.Fatalf("ChangeDir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "c.png"), []byte("png-ish"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.reconcile(context.Background())

	if findByName(m, "c.png") == nil {
		t.Fatal("c.png should have been added by the reconcile pass")
	}
}

func TestChangeDirCancelsPreviousEnumeration(t *testing.T) {
	cfg := config.Default().Directory
	w, _ := newTestWorker(t, cfg)

	dir1 := writeFiles(t, "a.jpg", "b.jpg", "c.jpg")
	dir2 := writeFiles(t, "z.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	f1 := w.ChangeDir(ctx, dir1)
	cancel()

	f2 := w.ChangeDir(context.Background(), dir2)
	if !f1.IsTerminal() {
		t.Fatal("previous future must be terminal before the new enumeration is observable")
	}
	if state, err := f2.Wait(context.Background()); err != nil || state != decoder.StateFullImage {
		t.Fatalf("second ChangeDir: state=%v err=%v", state, err)
	}

	deadline := time.After(2 * time.Second)
	for !f1.IsTerminal() {
		select {
		case <-deadline:
			t.Fatal("cancelled enumeration never terminated")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
