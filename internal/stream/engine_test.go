package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gaby/audiobookd/internal/cache"
	"github.com/gaby/audiobookd/internal/plugin"
	"github.com/gaby/audiobookd/internal/storage"
)

func newEngine(t *testing.T, plugins *plugin.Gateway) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	if plugins == nil {
		plugins = plugin.NewGateway(nil)
	}
	return &Engine{
		Storage: storage.New(),
		Plugins: plugins,
		Disk:    cache.NewDisk(t.TempDir()),
		Preload: cache.NewPreload(),
	}, root
}

func TestRangeOnCachedChapter(t *testing.T) {
	e, _ := newEngine(t, nil)
	if err := e.Disk.Install("ch1", strings.NewReader("abcdefghij")); err != nil {
		t.Fatalf("install: %v", err)
	}
	ch := Chapter{ID: "ch1", RelativePath: "ch1.mp3"}

	resp, err := e.Serve(context.Background(), ch, "bytes=2-5")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if resp.Status != 206 {
		t.Fatalf("status = %d want 206", resp.Status)
	}
	if resp.Headers["Content-Range"] != "bytes 2-5/10" {
		t.Fatalf("content-range = %q", resp.Headers["Content-Range"])
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "cdef" {
		t.Fatalf("got %q want cdef", body)
	}
}

func TestSuffixRangeOnCachedChapter(t *testing.T) {
	e, _ := newEngine(t, nil)
	_ = e.Disk.Install("ch1", strings.NewReader("abcdefghij"))
	ch := Chapter{ID: "ch1", RelativePath: "ch1.mp3"}

	resp, err := e.Serve(context.Background(), ch, "bytes=-3")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if resp.Headers["Content-Range"] != "bytes 7-9/10" {
		t.Fatalf("content-range = %q", resp.Headers["Content-Range"])
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hij" {
		t.Fatalf("got %q want hij", body)
	}
}

func TestPreloadServedBeforeDisk(t *testing.T) {
	e, _ := newEngine(t, nil)
	_ = e.Disk.Install("ch1", strings.NewReader("disk-body-1"))
	e.Preload.Put("ch1", []byte("memory-body"))
	ch := Chapter{ID: "ch1", RelativePath: "ch1.mp3"}

	resp, err := e.Serve(context.Background(), ch, "")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "memory-body" {
		t.Fatalf("expected preload tier served, got %q", body)
	}
}

type fakeSpliceTransport struct {
	origin []byte
}

func (f *fakeSpliceTransport) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case plugin.MethodGetMetadataReadSize:
		return json.Marshal(plugin.MetadataReadSizeResponse{Size: 100})
	case plugin.MethodGetDecryptionPlan:
		return json.Marshal(plugin.DecryptionPlan{Segments: []plugin.Segment{
			{Kind: plugin.SegmentEncrypted, Offset: 0, Length: 100, Params: map[string]string{"k": "v"}},
			{Kind: plugin.SegmentPlain, Offset: 64},
		}})
	case plugin.MethodDecryptChunk:
		var req plugin.DecryptChunkRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		// stub "decryption": first 80 bytes of a deterministic buffer
		out := make([]byte, 80)
		for i := range out {
			out[i] = byte('A' + i%26)
		}
		return json.Marshal(plugin.DecryptChunkResponse{Data: out})
	}
	return nil, errors.New("unhandled method " + method)
}

func TestEncryptedSplice(t *testing.T) {
	root := t.TempDir()
	originPath := filepath.Join(root, "ch.bin")
	origin := make([]byte, 1000)
	for i := range origin {
		origin[i] = byte(i % 256)
	}
	if err := os.WriteFile(originPath, origin, 0o644); err != nil {
		t.Fatalf("write origin: %v", err)
	}

	tr := &fakeSpliceTransport{origin: origin}
	gw := plugin.NewGateway([]plugin.Descriptor{{Name: "fmt", SupportedExtensions: []string{"bin"}, Transport: tr}})

	e := &Engine{
		Storage: storage.New(),
		Plugins: gw,
		Disk:    cache.NewDisk(t.TempDir()),
		Preload: cache.NewPreload(),
	}
	ch := Chapter{ID: "ch", RelativePath: "ch.bin", Source: storage.Source{Kind: storage.Local, LocalRoot: root}}

	resp, err := e.Serve(context.Background(), ch, "")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if resp.TotalBytes != 80+(1000-64) {
		t.Fatalf("logical size = %d want %d", resp.TotalBytes, 80+(1000-64))
	}
	if resp.Headers["Content-Range"] != "bytes 0-1015/1016" {
		t.Fatalf("content-range = %q", resp.Headers["Content-Range"])
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != 1016 {
		t.Fatalf("body len = %d want 1016", len(body))
	}
	wantTail := origin[64:]
	if string(body[80:]) != string(wantTail) {
		t.Fatalf("tail mismatch")
	}
}
