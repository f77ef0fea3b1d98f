package scraper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/plugin"
)

type fakeTransport struct {
	searchResp map[string]json.RawMessage // keyed by query
	detailResp json.RawMessage
	calls      int
	err        error
}

func (f *fakeTransport) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	switch method {
	case plugin.MethodSearch:
		var req plugin.SearchRequest
		_ = json.Unmarshal(params, &req)
		if resp, ok := f.searchResp[req.Query]; ok {
			return resp, nil
		}
		return json.RawMessage(`{"results":[]}`), nil
	case plugin.MethodGetDetail:
		return f.detailResp, nil
	}
	return nil, nil
}

func descFor(name string, t *fakeTransport) plugin.Descriptor {
	return plugin.Descriptor{Name: name, Transport: t}
}

func newGateway(descs ...plugin.Descriptor) *plugin.Gateway {
	return plugin.NewGateway(descs)
}

func TestScrapeMergesFieldsAcrossSources(t *testing.T) {
	audible := &fakeTransport{searchResp: map[string]json.RawMessage{
		"dune": json.RawMessage(`{"results":[{"Title":"Dune","Author":"Frank Herbert"}]}`),
	}}
	openLibrary := &fakeTransport{searchResp: map[string]json.RawMessage{
		"dune": json.RawMessage(`{"results":[{"Title":"Dune (1965)","Narrator":"Scott Brick","CoverURL":"http://x/cover.jpg"}]}`),
	}}
	g := newGateway(descFor("audible", audible), descFor("open_library", openLibrary))
	o := NewOrchestrator(g)

	cfg := config.ScraperDefaults{
		DefaultSources: []string{"audible", "open_library"},
		FieldSources:   map[string]string{"narrator": "open_library"},
		CacheTTLSecs:   300,
		CacheMaxSize:   100,
	}

	out, err := o.Scrape(context.Background(), cfg, "dune", 1, 10)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if out.Title != "Dune" {
		t.Fatalf("title = %q, want first default source's title", out.Title)
	}
	if out.Author != "Frank Herbert" {
		t.Fatalf("author = %q", out.Author)
	}
	if out.Narrator != "Scott Brick" {
		t.Fatalf("narrator = %q, want override source's narrator", out.Narrator)
	}
	if out.CoverURL != "http://x/cover.jpg" {
		t.Fatalf("cover_url = %q", out.CoverURL)
	}
}

func TestScrapeNotFoundWhenNoSourceYieldsResult(t *testing.T) {
	empty := &fakeTransport{}
	g := newGateway(descFor("audible", empty))
	o := NewOrchestrator(g)

	cfg := config.ScraperDefaults{DefaultSources: []string{"audible"}}
	_, err := o.Scrape(context.Background(), cfg, "nonexistent book", 1, 10)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestScrapeSkipsFailingSource(t *testing.T) {
	failing := &fakeTransport{err: context.DeadlineExceeded}
	good := &fakeTransport{searchResp: map[string]json.RawMessage{
		"dune": json.RawMessage(`{"results":[{"Title":"Dune"}]}`),
	}}
	g := newGateway(descFor("broken", failing), descFor("audible", good))
	o := NewOrchestrator(g)

	cfg := config.ScraperDefaults{DefaultSources: []string{"broken", "audible"}}
	out, err := o.Scrape(context.Background(), cfg, "dune", 1, 10)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if out.Title != "Dune" {
		t.Fatalf("title = %q, want fallback source result", out.Title)
	}
}

func TestScrapeNoSourcesConfigured(t *testing.T) {
	g := newGateway()
	o := NewOrchestrator(g)
	_, err := o.Scrape(context.Background(), config.ScraperDefaults{}, "q", 1, 10)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestSearchOneUsesCacheOnSecondCall(t *testing.T) {
	tr := &fakeTransport{searchResp: map[string]json.RawMessage{
		"dune": json.RawMessage(`{"results":[{"Title":"Dune"}]}`),
	}}
	g := newGateway(descFor("audible", tr))
	o := NewOrchestrator(g)

	ctx := context.Background()
	if _, err := o.searchOne(ctx, "audible", "dune", 1, 10, 300*time.Second, 100); err != nil {
		t.Fatalf("first searchOne: %v", err)
	}
	if _, err := o.searchOne(ctx, "audible", "dune", 1, 10, 300*time.Second, 100); err != nil {
		t.Fatalf("second searchOne: %v", err)
	}
	if tr.calls != 1 {
		t.Fatalf("transport calls = %d, want 1 (second lookup should hit cache)", tr.calls)
	}
}

func TestGetDetailDoesNotFallBack(t *testing.T) {
	tr := &fakeTransport{detailResp: json.RawMessage(`{"Title":"Dune","Author":"Frank Herbert"}`)}
	g := newGateway(descFor("audible", tr))
	o := NewOrchestrator(g)

	out, err := o.GetDetail(context.Background(), "audible", "book-123")
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if out.Title != "Dune" || out.Author != "Frank Herbert" {
		t.Fatalf("out = %+v", out)
	}

	if _, err := o.GetDetail(context.Background(), "unknown_source", "book-123"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("err = %v, want NotFound for unknown source", err)
	}
}

func TestUnionSourcesDeduplicatesAndOrdersDefaultsFirst(t *testing.T) {
	cfg := config.ScraperDefaults{
		DefaultSources: []string{"audible", "open_library"},
		FieldSources:   map[string]string{"narrator": "open_library", "cover_url": "google_books"},
	}
	got := unionSources(cfg)
	want := []string{"audible", "open_library", "google_books"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFieldOrderTitleHasNoOverride(t *testing.T) {
	cfg := config.ScraperDefaults{
		DefaultSources: []string{"audible", "open_library"},
		FieldSources:   map[string]string{"title": "should_be_ignored"},
	}
	got := fieldOrder(cfg, "title")
	if len(got) != 2 || got[0] != "audible" || got[1] != "open_library" {
		t.Fatalf("fieldOrder(title) = %v, want defaults only", got)
	}
}
