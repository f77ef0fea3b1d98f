package metadata

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"
)

// themeColorFor computes a CSS rgba() string approximating the cover's
// dominant color, mirroring the original backend's color_thief-based
// calculate_theme_color (its description/background-tint use case).
// The pack carries no palette-quantization library, so this is a
// stdlib image/color average rather than a true k-means palette; see
// DESIGN.md for the justification. Results are cached by cover content
// hash (SPEC_FULL.md §12) so re-scanning an unchanged cover is free.
func (e *Extractor) themeColorFor(coverPath string) (string, bool) {
	if strings.HasPrefix(coverPath, "http://") || strings.HasPrefix(coverPath, "https://") {
		// Remote scraper-provided covers aren't fetched, so no theme
		// color is computed for them.
		return "", false
	}
	data, err := os.ReadFile(coverPath)
	if err != nil {
		return "", false
	}
	hash := contentHash(data)
	if color, ok := e.covers.get(hash); ok {
		return color, true
	}
	color, ok := calculateThemeColor(data)
	if ok {
		e.covers.put(hash, color)
	}
	return color, ok
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// calculateThemeColor decodes data and returns the average pixel color
// as "rgba(r, g, b, 0.1)", the same low-alpha UI-background convention
// the original backend's color.rs uses.
func calculateThemeColor(data []byte) (string, bool) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	bounds := img.Bounds()
	var rSum, gSum, bSum, count uint64
	const stride = 4 // sample every 4th pixel in each axis to keep this cheap
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += uint64(r >> 8)
			gSum += uint64(g >> 8)
			bSum += uint64(b >> 8)
			count++
		}
	}
	if count == 0 {
		return "", false
	}
	return fmt.Sprintf("rgba(%d, %d, %d, 0.1)", rSum/count, gSum/count, bSum/count), true
}

// coverCache is a small in-memory LRU keyed by cover content hash.
type coverCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type coverCacheEntry struct {
	hash  string
	color string
}

func newCoverCache(capacity int) *coverCache {
	return &coverCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *coverCache) get(hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[hash]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*coverCacheEntry).color, true
}

func (c *coverCache) put(hash, color string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[hash]; ok {
		el.Value.(*coverCacheEntry).color = color
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&coverCacheEntry{hash: hash, color: color})
	c.entries[hash] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*coverCacheEntry).hash)
		}
	}
}
