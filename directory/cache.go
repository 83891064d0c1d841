package directory

import (
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/skryldev/imgbrowser/exif"
)

// MetadataCache is an optional on-disk cache of EXIF-derived fields keyed by
// path+size+mtime, so a directory re-scan of unchanged files skips the
// (relatively expensive) EXIF read-and-parse. Change detection is
// stat-based, matching the directory worker's own reconcile diffing.
type MetadataCache struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenCache opens (creating if absent) a SQLite-backed MetadataCache at path.
func OpenCache(path string, log *slog.Logger) (*MetadataCache, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS exif_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime_unix INTEGER NOT NULL,
	date_taken_unix INTEGER,
	fnumber REAL,
	exposure_seconds REAL,
	iso INTEGER,
	focal_length_mm REAL,
	lens_model TEXT,
	orientation INTEGER
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &MetadataCache{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (c *MetadataCache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached EXIF data for path if size/mtime still match what
// was stored, reporting ok=false on a miss (not present, or the file has
// changed since it was cached).
func (c *MetadataCache) Get(path string, size int64, mtime time.Time) (exif.Data, bool) {
	if c == nil {
		return exif.Data{}, false
	}
	row := c.db.QueryRow(`SELECT date_taken_unix, fnumber, exposure_seconds, iso, focal_length_mm, lens_model, orientation
		FROM exif_cache WHERE path = ? AND size = ? AND mtime_unix = ?`, path, size, mtime.Unix())

	var dateTaken sql.NullInt64
	var fnumber, exposure, focal sql.NullFloat64
	var iso, orientation sql.NullInt64
	var lens sql.NullString
	if err := row.Scan(&dateTaken, &fnumber, &exposure, &iso, &focal, &lens, &orientation); err != nil {
		return exif.Data{}, false
	}

	var d exif.Data
	if dateTaken.Valid {
		d.DateTimeOriginal = time.Unix(dateTaken.Int64, 0)
	}
	d.FNumber = fnumber.Float64
	d.ExposureTime = exposure.Float64
	d.ISO = int(iso.Int64)
	d.FocalLengthMM = focal.Float64
	d.LensModel = lens.String
	d.Orientation = int(orientation.Int64)
	return d, true
}

// Put upserts path's EXIF data keyed by its current size/mtime.
func (c *MetadataCache) Put(path string, size int64, mtime time.Time, d exif.Data) {
	if c == nil {
		return
	}
	var dateTaken sql.NullInt64
	if !d.DateTimeOriginal.IsZero() {
		dateTaken = sql.NullInt64{Int64: d.DateTimeOriginal.Unix(), Valid: true}
	}
	_, err := c.db.Exec(`INSERT INTO exif_cache
			(path, size, mtime_unix, date_taken_unix, fnumber, exposure_seconds, iso, focal_length_mm, lens_model, orientation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size=excluded.size, mtime_unix=excluded.mtime_unix, date_taken_unix=excluded.date_taken_unix,
			fnumber=excluded.fnumber, exposure_seconds=excluded.exposure_seconds, iso=excluded.iso,
			focal_length_mm=excluded.focal_length_mm, lens_model=excluded.lens_model, orientation=excluded.orientation`,
		path, size, mtime.Unix(), dateTaken, d.FNumber, d.ExposureTime, d.ISO, d.FocalLengthMM, d.LensModel, d.Orientation)
	if err != nil {
		c.log.Warn("directory: metadata cache write failed", "path", path, "err", err)
	}
}
