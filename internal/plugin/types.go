// Package plugin implements the typed RPC contract between the core and
// externally loaded format/scraper plugins (spec.md §4.10, §4.12). The
// plugin loader/sandbox itself is out of scope (spec.md §1); this package
// only defines the envelope, the gateway, and the decryption-plan sum
// type, calling through a Transport the host process wires up.
package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/gaby/audiobookd/internal/apperr"
)

// Binary payloads are plain []byte fields: encoding/json already encodes
// []byte as base64 on the wire, which is exactly the envelope spec.md §6
// describes ("all binary data base64; all structured data JSON") — no
// manual base64 framing needed at this layer.

type ExtractMetadataRequest struct {
	FilePath string `json:"file_path"`
}

type ExtractMetadataResponse struct {
	Album    string `json:"album,omitempty"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Narrator string `json:"narrator,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type MetadataReadSizeRequest struct {
	Header []byte `json:"header_base64"`
}

type MetadataReadSizeResponse struct {
	Size int64 `json:"size"`
}

// DefaultHeaderReadSize is used whenever get_metadata_read_size fails
// (spec.md §4.12 step 1).
const DefaultHeaderReadSize = 8192

type DecryptionPlanRequest struct {
	Header []byte `json:"header_base64"`
}

// SegmentKind distinguishes the two variants of the plan sum type.
type SegmentKind string

const (
	SegmentEncrypted SegmentKind = "encrypted"
	SegmentPlain     SegmentKind = "plain"
)

// Segment is one entry of a DecryptionPlan. The Encrypted-only fields
// (Length, Params) are meaningful only when Kind == SegmentEncrypted;
// Plain segments only use Offset.
type Segment struct {
	Kind   SegmentKind       `json:"type"`
	Offset int64             `json:"offset"`
	Length int64             `json:"length,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type   string            `json:"type"`
		Offset int64             `json:"offset"`
		Length int64             `json:"length,omitempty"`
		Params map[string]string `json:"params,omitempty"`
	}
	return json.Marshal(wire{Type: string(s.Kind), Offset: s.Offset, Length: s.Length, Params: s.Params})
}

func (s *Segment) UnmarshalJSON(b []byte) error {
	var wire struct {
		Type   string            `json:"type"`
		Offset int64             `json:"offset"`
		Length int64             `json:"length"`
		Params map[string]string `json:"params"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	switch SegmentKind(wire.Type) {
	case SegmentEncrypted, SegmentPlain:
		s.Kind = SegmentKind(wire.Type)
	default:
		return fmt.Errorf("plugin: unknown segment type %q", wire.Type)
	}
	s.Offset = wire.Offset
	s.Length = wire.Length
	s.Params = wire.Params
	return nil
}

// DecryptionPlan is the plugin's reply describing how to splice a
// decrypted header prefix onto a plaintext tail.
type DecryptionPlan struct {
	Segments []Segment `json:"segments"`
}

// Validate enforces the structural invariant from spec.md §4.12/§9:
// any number of Encrypted segments, in order, followed by at most one
// terminal Plain segment. A Plain segment anywhere but the tail, or more
// than one Plain segment, is rejected — the REDESIGN FLAG behavior
// (spec.md §9 calls the silent-drop the buggy legacy behavior).
func (p DecryptionPlan) Validate(totalFileSize int64) error {
	seenPlain := false
	for i, seg := range p.Segments {
		if seenPlain {
			return apperr.New(apperr.Validation, "DecryptionPlan.Validate", fmt.Errorf("segment after terminal Plain at index %d", i))
		}
		switch seg.Kind {
		case SegmentEncrypted:
			if seg.Length < 0 || seg.Offset < 0 {
				return apperr.New(apperr.Validation, "DecryptionPlan.Validate", fmt.Errorf("negative offset/length at index %d", i))
			}
		case SegmentPlain:
			if seg.Offset < 0 || seg.Offset > totalFileSize {
				return apperr.New(apperr.Validation, "DecryptionPlan.Validate", fmt.Errorf("plain offset %d out of bounds [0,%d]", seg.Offset, totalFileSize))
			}
			seenPlain = true
		default:
			return apperr.New(apperr.Validation, "DecryptionPlan.Validate", fmt.Errorf("unknown segment kind at index %d", i))
		}
	}
	return nil
}

// PlainOffset returns the terminal Plain segment's offset, if any.
func (p DecryptionPlan) PlainOffset() (int64, bool) {
	for _, seg := range p.Segments {
		if seg.Kind == SegmentPlain {
			return seg.Offset, true
		}
	}
	return 0, false
}

// Encrypted returns only the Encrypted segments, in order.
func (p DecryptionPlan) Encrypted() []Segment {
	out := make([]Segment, 0, len(p.Segments))
	for _, seg := range p.Segments {
		if seg.Kind == SegmentEncrypted {
			out = append(out, seg)
		}
	}
	return out
}

type DecryptChunkRequest struct {
	Data   []byte            `json:"data_base64"`
	Params map[string]string `json:"params"`
}

type DecryptChunkResponse struct {
	Data []byte `json:"data_base64"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Page  int    `json:"page"`
}

type GetDetailRequest struct {
	BookID string `json:"book_id"`
}
