package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeTransport struct {
	handlers map[string]func(json.RawMessage) (json.RawMessage, error)
}

func (f *fakeTransport) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	h, ok := f.handlers[method]
	if !ok {
		return nil, errors.New("method not implemented: " + method)
	}
	return h(params)
}

func TestGatewayExtractMetadata(t *testing.T) {
	tr := &fakeTransport{handlers: map[string]func(json.RawMessage) (json.RawMessage, error){
		MethodExtractMetadata: func(p json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(ExtractMetadataResponse{Title: "Ch 1", Artist: "A"})
		},
	}}
	g := NewGateway([]Descriptor{{Name: "fmt1", SupportedExtensions: []string{"m4b"}, Transport: tr}})
	d, ok := g.FindForExtension(".M4B")
	if !ok {
		t.Fatalf("expected plugin match for .M4B")
	}
	resp, err := g.ExtractMetadata(context.Background(), d, "/x/a.m4b")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if resp.Title != "Ch 1" {
		t.Fatalf("got %q", resp.Title)
	}
	if c := g.Counters("fmt1"); c.Total != 1 || c.Success != 1 || c.Fail != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestGatewayMetadataReadSizeDefaultsOnFailure(t *testing.T) {
	tr := &fakeTransport{handlers: map[string]func(json.RawMessage) (json.RawMessage, error){}}
	g := NewGateway([]Descriptor{{Name: "fmt1", Transport: tr}})
	d := Descriptor{Name: "fmt1", Transport: tr}
	size := g.GetMetadataReadSize(context.Background(), d, []byte{1, 2, 3})
	if size != DefaultHeaderReadSize {
		t.Fatalf("got %d want default %d", size, DefaultHeaderReadSize)
	}
	if c := g.Counters("fmt1"); c.Fail != 1 {
		t.Fatalf("expected failure counted, got %+v", c)
	}
}

func TestDecryptionPlanValidateRejectsPlainNotAtTail(t *testing.T) {
	plan := DecryptionPlan{Segments: []Segment{
		{Kind: SegmentPlain, Offset: 10},
		{Kind: SegmentEncrypted, Offset: 0, Length: 5},
	}}
	if err := plan.Validate(100); err == nil {
		t.Fatalf("expected validation error for segment after Plain")
	}
}

func TestDecryptionPlanValidateAcceptsWellFormed(t *testing.T) {
	plan := DecryptionPlan{Segments: []Segment{
		{Kind: SegmentEncrypted, Offset: 0, Length: 100},
		{Kind: SegmentPlain, Offset: 64},
	}}
	if err := plan.Validate(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	off, ok := plan.PlainOffset()
	if !ok || off != 64 {
		t.Fatalf("got offset=%d ok=%v", off, ok)
	}
}

func TestSegmentJSONRoundTrip(t *testing.T) {
	seg := Segment{Kind: SegmentEncrypted, Offset: 1, Length: 2, Params: map[string]string{"k": "v"}}
	b, err := json.Marshal(seg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Segment
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != seg.Kind || got.Offset != seg.Offset || got.Length != seg.Length {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSegmentUnmarshalRejectsUnknownType(t *testing.T) {
	var s Segment
	if err := json.Unmarshal([]byte(`{"type":"bogus","offset":0}`), &s); err == nil {
		t.Fatalf("expected error for unknown segment type")
	}
}
