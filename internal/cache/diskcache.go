// Package cache implements the two streaming cache tiers spec.md §4.8/4.9
// describe: a content-addressed on-disk cache (Disk) and an unbounded
// in-memory map (Preload). Grounded on the teacher's internal/cache
// package (EnforceSizeLimit's walk-sort-evict shape is kept and extended
// with count+byte dual limits and the install/.tmp-then-rename pattern
// from the teacher's internal/streamer.EnsureFile).
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	humanize "github.com/dustin/go-humanize"
)

// Disk is the content-addressed chapter cache (spec.md §4.8, C8).
// Layout: <dir>/<chapterID>.cache, with a transient <chapterID>.tmp
// sibling during installation.
type Disk struct {
	dir string
	mu  sync.Mutex // serializes enforce_limits; install/get/delete don't need it (FS is atomic)
}

func NewDisk(dir string) *Disk { return &Disk{dir: dir} }

func (d *Disk) cachePath(chapterID string) string { return filepath.Join(d.dir, chapterID+".cache") }
func (d *Disk) tmpPath(chapterID string) string   { return filepath.Join(d.dir, chapterID+".tmp") }

// Install streams src into a .tmp file then renames it into place
// atomically, so readers only ever see either no file or a complete one
// (spec.md §4.8 invariant).
func (d *Disk) Install(chapterID string, src io.Reader) (err error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	tmp := d.tmpPath(chapterID)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, d.cachePath(chapterID))
}

func (d *Disk) Exists(chapterID string) bool {
	st, err := os.Stat(d.cachePath(chapterID))
	return err == nil && !st.IsDir()
}

func (d *Disk) GetPath(chapterID string) (string, bool) {
	p := d.cachePath(chapterID)
	if st, err := os.Stat(p); err == nil && !st.IsDir() {
		return p, true
	}
	return "", false
}

func (d *Disk) Delete(chapterID string) error {
	err := os.Remove(d.cachePath(chapterID))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ClearAll unlinks every .cache and .tmp file.
func (d *Disk) ClearAll() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".cache") || strings.HasSuffix(e.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(d.dir, e.Name()))
		}
	}
	return nil
}

// CleanupOrphans removes any .cache/.tmp file whose stem is not in
// validIDs (spec.md §4.8 cleanup_orphans).
func (d *Disk) CleanupOrphans(validIDs map[string]struct{}) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var stem string
		switch {
		case strings.HasSuffix(name, ".cache"):
			stem = strings.TrimSuffix(name, ".cache")
		case strings.HasSuffix(name, ".tmp"):
			stem = strings.TrimSuffix(name, ".tmp")
		default:
			continue
		}
		if _, ok := validIDs[stem]; !ok {
			_ = os.Remove(filepath.Join(d.dir, name))
		}
	}
	return nil
}

type entry struct {
	path    string
	size    int64
	created int64
}

// EnforceLimits evicts the oldest cache entries (by file creation /
// modification time, since that's all a POSIX filesystem reliably gives
// us) until both maxCount and maxBytes hold, or there is nothing left to
// evict (spec.md §4.8 enforce_limits, idempotent).
func (d *Disk) EnforceLimits(maxCount int, maxBytes int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var entries []entry
	var total int64
	err := filepath.WalkDir(d.dir, func(p string, de os.DirEntry, err error) error {
		if err != nil || de.IsDir() {
			return nil
		}
		if !strings.HasSuffix(p, ".cache") {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, entry{path: p, size: info.Size(), created: info.ModTime().Unix()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].created < entries[j].created })

	count := len(entries)
	i := 0
	for (maxCount > 0 && count > maxCount) || (maxBytes > 0 && total > maxBytes) {
		if i >= len(entries) {
			break
		}
		e := entries[i]
		i++
		// Re-stat before unlinking: enforce_limits is reentrant-safe
		// against a concurrent install/delete (spec.md §5).
		if _, err := os.Stat(e.path); err != nil {
			count--
			continue
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		count--
		total -= e.size
	}
	return nil
}

// Info describes one cached chapter for the inspection endpoint (spec.md
// §6 "GET /api/cache").
type Info struct {
	ChapterID string
	Bytes     int64
	ModUnix   int64
}

// List enumerates cached (not .tmp) entries, grounded on the same
// directory walk EnforceLimits uses.
func (d *Disk) List() ([]Info, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cache") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			ChapterID: strings.TrimSuffix(e.Name(), ".cache"),
			Bytes:     info.Size(),
			ModUnix:   info.ModTime().Unix(),
		})
	}
	return out, nil
}

func (d *Disk) String() string {
	return fmt.Sprintf("diskcache(%s)", d.dir)
}

// HumanSize formats a byte count for display (SPEC_FULL.md §11 wires
// go-humanize here). Nothing in the module calls it.
func HumanSize(n int64) string { return humanize.Bytes(uint64(n)) }
