// Package archive moves task records between stores as a zstd-compressed
// JSON-lines file: one header line, then one record per line.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tutu-network/pregen/internal/domain"
)

// Format identifies archive files in the header line.
const (
	Format  = "pregen-records"
	Version = 1
)

// ErrBadArchive is returned for files without a valid header.
var ErrBadArchive = errors.New("not a pregen record archive")

// Header is the first line of every archive.
type Header struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
}

// Write encodes recs to w.
func Write(w io.Writer, recs []domain.TaskRecord) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	lines := make([]any, 0, len(recs)+1)
	lines = append(lines, Header{Format: Format, Version: Version, ExportedAt: time.Now().UTC(), Count: len(recs)})
	for _, rec := range recs {
		lines = append(lines, rec)
	}
	for _, v := range lines {
		b, err := json.Marshal(v)
		if err != nil {
			enc.Close()
			return err
		}
		if _, err := bw.Write(b); err != nil {
			enc.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes an archive. Records that fail validation are skipped with a
// warning; a missing or foreign header is an error.
func Read(r io.Reader) (Header, []domain.TaskRecord, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Header{}, nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
		}
		return Header{}, nil, ErrBadArchive
	}
	var h Header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil || h.Format != Format {
		return Header{}, nil, ErrBadArchive
	}
	if h.Version > Version {
		return h, nil, fmt.Errorf("%w: version %d is newer than %d", ErrBadArchive, h.Version, Version)
	}

	var recs []domain.TaskRecord
	line := 1
	for sc.Scan() {
		line++
		var rec domain.TaskRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			log.Printf("[archive] WARNING: line %d: %v", line, err)
			continue
		}
		if err := rec.Validate(); err != nil {
			log.Printf("[archive] WARNING: line %d (%s): %v", line, rec.World, err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return h, recs, err
	}
	return h, recs, nil
}

// Export writes every record in store, terminal ones included, to path.
func Export(store domain.TaskStore, path string) (int, error) {
	recs, err := store.List()
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	if err := Write(f, recs); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// ImportOptions controls how archived records are merged into a store.
type ImportOptions struct {
	// Overwrite replaces records that already exist for a world.
	Overwrite bool
}

// ImportResult counts what Import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import reads the archive at path and saves its records into store. Worlds
// that already have a record are skipped unless opts.Overwrite is set.
func Import(store domain.TaskStore, path string, opts ImportOptions) (ImportResult, error) {
	var res ImportResult
	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close()

	_, recs, err := Read(f)
	if err != nil {
		return res, err
	}
	for _, rec := range recs {
		if !opts.Overwrite {
			if _, err := store.Load(rec.World); err == nil {
				res.Skipped++
				continue
			} else if !errors.Is(err, domain.ErrRecordNotFound) {
				return res, fmt.Errorf("load %s: %w", rec.World, err)
			}
		}
		if err := store.Save(rec); err != nil {
			return res, fmt.Errorf("save %s: %w", rec.World, err)
		}
		res.Imported++
	}
	return res, nil
}
