package stream

import (
	"bytes"
	"context"
	"io"
	"log"

	"github.com/gaby/audiobookd/internal/cache"
)

// UserPrefetchFlags mirrors user_settings.auto_preload/auto_cache
// (spec.md §4.13); the REST/auth layer that resolves them per request is
// out of scope (spec.md §1).
type UserPrefetchFlags struct {
	AutoPreload bool
	AutoCache   bool
}

// Prefetcher fires the next-chapter fetch spec.md §4.13 describes,
// independent of the response already constructed for the current
// chapter. Grounded on the teacher's internal/streamer prefetch-ahead
// goroutines (same "spawn, log, never fail the parent response" shape).
type Prefetcher struct {
	Storage Engine // reuses Engine.Storage/Disk/Preload; Plugins unused here
}

// Prefetch spawns the background fetch of next, honoring flags exactly
// as spec.md §4.13 specifies: autoPreload reads the whole chapter into
// memory; autoCache (when the chapter's origin is not local) additionally
// or alternatively streams it into the disk cache via .tmp-then-rename.
func (p *Prefetcher) Prefetch(ctx context.Context, next Chapter, flags UserPrefetchFlags, originIsLocal bool) {
	if !flags.AutoPreload && !flags.AutoCache {
		return
	}
	go func() {
		bg := context.Background()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("stream.Prefetcher: recovered panic chapter=%s err=%v", next.ID, r)
			}
		}()

		switch {
		case flags.AutoPreload:
			body, _, err := p.Storage.Storage.Open(bg, next.Source, next.RelativePath, nil)
			if err != nil {
				log.Printf("stream.Prefetcher: preload fetch failed chapter=%s err=%v", next.ID, err)
				return
			}
			data, err := io.ReadAll(body)
			_ = body.Close()
			if err != nil {
				log.Printf("stream.Prefetcher: preload read failed chapter=%s err=%v", next.ID, err)
				return
			}
			p.Storage.Preload.Put(next.ID, data)
			if flags.AutoCache && !originIsLocal {
				if err := p.Storage.Disk.Install(next.ID, bytes.NewReader(data)); err != nil {
					log.Printf("stream.Prefetcher: disk install from preload failed chapter=%s err=%v", next.ID, err)
					return
				}
				enforceDefaultLimits(p.Storage.Disk)
			}
		case flags.AutoCache && !originIsLocal:
			body, _, err := p.Storage.Storage.Open(bg, next.Source, next.RelativePath, nil)
			if err != nil {
				log.Printf("stream.Prefetcher: cache fetch failed chapter=%s err=%v", next.ID, err)
				return
			}
			defer body.Close()
			if err := p.Storage.Disk.Install(next.ID, body); err != nil {
				log.Printf("stream.Prefetcher: disk install failed chapter=%s err=%v", next.ID, err)
				return
			}
			enforceDefaultLimits(p.Storage.Disk)
		}
	}()
}

// enforceDefaultLimits is a best-effort background trim; callers that
// need specific limits call cache.Disk.EnforceLimits directly instead.
func enforceDefaultLimits(d *cache.Disk) {
	const defaultMaxFiles = 50
	const defaultMaxBytes = 20 * 1024 * 1024 * 1024
	if err := d.EnforceLimits(defaultMaxFiles, defaultMaxBytes); err != nil {
		log.Printf("stream.Prefetcher: enforce_limits failed err=%v", err)
	}
}
