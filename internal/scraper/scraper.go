// Package scraper implements the scraper orchestrator (spec.md §4.5):
// given a query and a library's scraper config, fan out a one-result
// search to every referenced source plugin, merge per field (first
// non-empty wins, walking per-field override then defaults), and cache
// by (source_id, query, page, page_size) with a TTL+LRU bound.
package scraper

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/plugin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Fields is one source's contribution to a query, or the final merged
// result. Title has no per-field override (spec.md §4.5).
type Fields struct {
	Title       string
	Author      string
	Narrator    string
	CoverURL    string
	Description string
	Tags        []string
}

func (f Fields) empty() bool {
	return f.Title == "" && f.Author == "" && f.Narrator == "" &&
		f.CoverURL == "" && f.Description == "" && len(f.Tags) == 0
}

type sourceSearchResponse struct {
	Results []Fields `json:"results"`
}

// Orchestrator fans out queries to scraper plugins found by source ID
// (a plugin's Descriptor.Name) through the shared plugin.Gateway, and
// caches per-source single-result lookups.
type Orchestrator struct {
	Plugins *plugin.Gateway
	cache   *resultCache
	sf      singleflight.Group
}

func NewOrchestrator(g *plugin.Gateway) *Orchestrator {
	return &Orchestrator{Plugins: g, cache: newResultCache()}
}

// Scrape computes the union of source IDs referenced by cfg, issues one
// search per source (deduped/cached), and merges fields per spec.md
// §4.5's per-field walk order. Returns apperr.NotFound if no source
// yielded anything.
func (o *Orchestrator) Scrape(ctx context.Context, cfg config.ScraperDefaults, query string, page, pageSize int) (Fields, error) {
	sources := unionSources(cfg)
	if len(sources) == 0 {
		return Fields{}, apperr.New(apperr.NotFound, "scraper.Scrape", errNoSources)
	}

	perSource := make(map[string]Fields, len(sources))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	maxSize := cfg.CacheMaxSize
	if maxSize <= 0 {
		maxSize = 100
	}

	for _, src := range sources {
		src := src
		g.Go(func() error {
			f, err := o.searchOne(gctx, src, query, page, pageSize, ttl, maxSize)
			if err != nil {
				// Individual source failures are logged and skipped
				// (spec.md §4.5), never abort the whole merge.
				log.Printf("scraper.Orchestrator: source search failed source=%s query=%q err=%v", src, query, err)
				return nil
			}
			mu.Lock()
			perSource[src] = f
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Fields{}, apperr.New(apperr.Network, "scraper.Scrape", err)
	}

	merged := mergeFields(cfg, perSource)
	if merged.empty() {
		return Fields{}, apperr.New(apperr.NotFound, "scraper.Scrape", errNoResult)
	}
	return merged, nil
}

// GetDetail fetches a single source's detail record directly, with no
// merge fallback — "a caller-specified source is not falled back from"
// (spec.md §4.5).
func (o *Orchestrator) GetDetail(ctx context.Context, sourceID, bookID string) (Fields, error) {
	d, ok := o.Plugins.FindByName(sourceID)
	if !ok {
		return Fields{}, apperr.New(apperr.NotFound, "scraper.GetDetail", errUnknownSource)
	}
	raw, err := o.Plugins.GetDetail(ctx, d, bookID)
	if err != nil {
		return Fields{}, err
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return Fields{}, apperr.New(apperr.Serialization, "scraper.GetDetail", err)
	}
	return f, nil
}

func (o *Orchestrator) searchOne(ctx context.Context, sourceID, query string, page, pageSize int, ttl time.Duration, maxSize int) (Fields, error) {
	key := cacheKey{sourceID, query, page, pageSize}
	if f, ok := o.cache.get(key); ok {
		return f, nil
	}

	sfKey := sourceID + "\x00" + query + "\x00" + itoa(page) + "\x00" + itoa(pageSize)
	v, err, _ := o.sf.Do(sfKey, func() (any, error) {
		d, ok := o.Plugins.FindByName(sourceID)
		if !ok {
			return Fields{}, apperr.New(apperr.NotFound, "scraper.searchOne", errUnknownSource)
		}
		raw, err := o.Plugins.Search(ctx, d, query, page)
		if err != nil {
			return Fields{}, err
		}
		var resp sourceSearchResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return Fields{}, apperr.New(apperr.Serialization, "scraper.searchOne", err)
		}
		if len(resp.Results) == 0 {
			return Fields{}, apperr.New(apperr.NotFound, "scraper.searchOne", errNoResult)
		}
		f := resp.Results[0]
		o.cache.put(key, f, ttl, maxSize)
		return f, nil
	})
	if err != nil {
		return Fields{}, err
	}
	return v.(Fields), nil
}

// unionSources returns DefaultSources plus every per-field override
// value, deduplicated, in a stable order (defaults first).
func unionSources(cfg config.ScraperDefaults) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range cfg.DefaultSources {
		add(s)
	}
	keys := make([]string, 0, len(cfg.FieldSources))
	for k := range cfg.FieldSources {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic union order across map iteration
	for _, k := range keys {
		add(cfg.FieldSources[k])
	}
	return out
}

// fieldOrder returns the ordered source list to walk for one field:
// its override (if any) first, then the defaults. Title never has an
// override.
func fieldOrder(cfg config.ScraperDefaults, field string) []string {
	if field == "title" {
		return cfg.DefaultSources
	}
	if override, ok := cfg.FieldSources[field]; ok && override != "" {
		out := []string{override}
		return append(out, cfg.DefaultSources...)
	}
	return cfg.DefaultSources
}

func mergeFields(cfg config.ScraperDefaults, perSource map[string]Fields) Fields {
	var out Fields
	for _, src := range fieldOrder(cfg, "title") {
		if f, ok := perSource[src]; ok && f.Title != "" {
			out.Title = f.Title
			break
		}
	}
	for _, src := range fieldOrder(cfg, "author") {
		if f, ok := perSource[src]; ok && f.Author != "" {
			out.Author = f.Author
			break
		}
	}
	for _, src := range fieldOrder(cfg, "narrator") {
		if f, ok := perSource[src]; ok && f.Narrator != "" {
			out.Narrator = f.Narrator
			break
		}
	}
	for _, src := range fieldOrder(cfg, "cover_url") {
		if f, ok := perSource[src]; ok && f.CoverURL != "" {
			out.CoverURL = f.CoverURL
			break
		}
	}
	for _, src := range fieldOrder(cfg, "description") {
		if f, ok := perSource[src]; ok && f.Description != "" {
			out.Description = f.Description
			break
		}
	}
	for _, src := range fieldOrder(cfg, "tags") {
		if f, ok := perSource[src]; ok && len(f.Tags) > 0 {
			out.Tags = f.Tags
			break
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const (
	errNoSources     = sentinelErr("scraper: no sources configured")
	errNoResult      = sentinelErr("scraper: no source yielded a result")
	errUnknownSource = sentinelErr("scraper: unknown source id")
)
