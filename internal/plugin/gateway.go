package plugin

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gaby/audiobookd/internal/apperr"
)

// Method names are the canonical RPC constants (spec.md §4.10/§6).
const (
	MethodExtractMetadata     = "extract_metadata"
	MethodGetMetadataReadSize = "get_metadata_read_size"
	MethodGetDecryptionPlan   = "get_decryption_plan"
	MethodDecryptChunk        = "decrypt_chunk"
	MethodGarbageCollect      = "garbage_collect"
	MethodSearch              = "search"
	MethodGetDetail           = "get_detail"
)

// Transport is the host-supplied RPC channel to one loaded plugin
// process. The loader/sandbox that implements it is out of scope
// (spec.md §1); the gateway only needs to call a method with a JSON
// payload and get a JSON reply back.
type Transport interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// Descriptor is what the gateway knows about a loaded plugin independent
// of transport: its declared extensions and a stable name for counters.
type Descriptor struct {
	Name                string
	SupportedExtensions []string
	Transport           Transport
}

func (d Descriptor) handles(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range d.SupportedExtensions {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

// CallCounters is a per-plugin snapshot of total/success/fail RPC calls.
type CallCounters struct {
	Total, Success, Fail int64
}

type counters struct {
	total, success, fail atomic.Int64
}

func (c *counters) snapshot() CallCounters {
	return CallCounters{Total: c.total.Load(), Success: c.success.Load(), Fail: c.fail.Load()}
}

// Gateway fans out typed calls to loaded format/scraper plugins and
// tracks call counters plus a GC hook the scanner invokes between
// directories to keep plugin native memory bounded (spec.md §4.10, §5).
type Gateway struct {
	mu      sync.RWMutex
	plugins []Descriptor
	stats   map[string]*counters
}

func NewGateway(plugins []Descriptor) *Gateway {
	g := &Gateway{plugins: plugins, stats: make(map[string]*counters, len(plugins))}
	for _, p := range plugins {
		g.stats[p.Name] = &counters{}
	}
	return g
}

// FindForExtension returns any loaded plugin whose supported_extensions
// list contains ext (case-insensitive), or ok=false.
func (g *Gateway) FindForExtension(ext string) (Descriptor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.plugins {
		if p.handles(ext) {
			return p, true
		}
	}
	return Descriptor{}, false
}

// FindByName returns the loaded plugin registered under name (a scraper
// source ID), or ok=false. Used to resolve a config-referenced source
// to its transport.
func (g *Gateway) FindByName(name string) (Descriptor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.plugins {
		if p.Name == name {
			return p, true
		}
	}
	return Descriptor{}, false
}

func (g *Gateway) Counters(name string) CallCounters {
	g.mu.RLock()
	c, ok := g.stats[name]
	g.mu.RUnlock()
	if !ok {
		return CallCounters{}
	}
	return c.snapshot()
}

func (g *Gateway) call(ctx context.Context, d Descriptor, method string, req, resp any) error {
	c := g.stats[d.Name]
	if c == nil {
		c = &counters{}
	}
	c.total.Add(1)
	params, err := json.Marshal(req)
	if err != nil {
		c.fail.Add(1)
		return apperr.New(apperr.Serialization, "plugin.Gateway.call", err)
	}
	raw, err := d.Transport.Call(ctx, method, params)
	if err != nil {
		c.fail.Add(1)
		return apperr.New(apperr.PluginExecution, "plugin.Gateway.call:"+method, err)
	}
	if resp != nil {
		if err := json.Unmarshal(raw, resp); err != nil {
			c.fail.Add(1)
			return apperr.New(apperr.Serialization, "plugin.Gateway.call:"+method, err)
		}
	}
	c.success.Add(1)
	return nil
}

func (g *Gateway) ExtractMetadata(ctx context.Context, d Descriptor, filePath string) (ExtractMetadataResponse, error) {
	var resp ExtractMetadataResponse
	err := g.call(ctx, d, MethodExtractMetadata, ExtractMetadataRequest{FilePath: filePath}, &resp)
	return resp, err
}

// GetMetadataReadSize returns the plugin's requested header size, or
// DefaultHeaderReadSize on any failure (spec.md §4.12 step 1).
func (g *Gateway) GetMetadataReadSize(ctx context.Context, d Descriptor, header []byte) int64 {
	var resp MetadataReadSizeResponse
	if err := g.call(ctx, d, MethodGetMetadataReadSize, MetadataReadSizeRequest{Header: header}, &resp); err != nil {
		return DefaultHeaderReadSize
	}
	if resp.Size <= 0 {
		return DefaultHeaderReadSize
	}
	return resp.Size
}

func (g *Gateway) GetDecryptionPlan(ctx context.Context, d Descriptor, header []byte) (DecryptionPlan, error) {
	var resp DecryptionPlan
	err := g.call(ctx, d, MethodGetDecryptionPlan, DecryptionPlanRequest{Header: header}, &resp)
	return resp, err
}

func (g *Gateway) DecryptChunk(ctx context.Context, d Descriptor, data []byte, params map[string]string) ([]byte, error) {
	var resp DecryptChunkResponse
	err := g.call(ctx, d, MethodDecryptChunk, DecryptChunkRequest{Data: data, Params: params}, &resp)
	return resp.Data, err
}

// GarbageCollectAll calls the GC hook on every loaded plugin, best
// effort. The scan pipeline calls this between directories.
func (g *Gateway) GarbageCollectAll(ctx context.Context) {
	g.mu.RLock()
	plugins := append([]Descriptor(nil), g.plugins...)
	g.mu.RUnlock()
	for _, p := range plugins {
		_ = g.call(ctx, p, MethodGarbageCollect, struct{}{}, nil)
	}
}

func (g *Gateway) Search(ctx context.Context, d Descriptor, query string, page int) (json.RawMessage, error) {
	var resp json.RawMessage
	err := g.call(ctx, d, MethodSearch, SearchRequest{Query: query, Page: page}, &resp)
	return resp, err
}

func (g *Gateway) GetDetail(ctx context.Context, d Descriptor, bookID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := g.call(ctx, d, MethodGetDetail, GetDetailRequest{BookID: bookID}, &resp)
	return resp, err
}
