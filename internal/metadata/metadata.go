// Package metadata implements the extractor of C4 (spec.md §4.4): for a
// directory group or a single file, resolve book- and chapter-level
// fields in NFO sidecar → standard audio tags → format plugin order,
// first non-empty value wins per field.
package metadata

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gaby/audiobookd/internal/plugin"
)

// Tags is the normalized output of every standard-tag decoder
// (id3.go, flac.go, oggvorbis.go, mp4tags.go, riff.go, asf.go), before
// the author/narrator precedence rules in resolve.go are applied.
type Tags struct {
	Title       string
	Album       string
	Artist      string
	AlbumArtist string
	Composer    string
	Duration    float64 // seconds, 0 if unknown
}

func (t Tags) empty() bool { return t == (Tags{}) }

// standardExtensions is the set spec.md §4.4 names for built-in decoding.
var standardExtensions = map[string]bool{
	"mp3": true, "m4a": true, "m4b": true, "flac": true,
	"ogg": true, "wav": true, "opus": true, "wma": true, "aac": true,
}

// SupportsStandardTags reports whether ext has a built-in decoder.
func SupportsStandardTags(ext string) bool {
	return standardExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// readStandardTags dispatches by extension to the matching decoder. Any
// decode failure yields zero-value Tags, not an error — a damaged or
// unrecognized tag block just means that source contributes nothing,
// and extraction falls through to the next source in the precedence
// chain instead of aborting the whole resolve.
func readStandardTags(path string) Tags {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !standardExtensions[ext] {
		return Tags{}
	}
	f, err := os.Open(path)
	if err != nil {
		return Tags{}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Tags{}
	}
	size := info.Size()

	switch ext {
	case "mp3", "aac":
		t, _ := readID3(f, size)
		return t
	case "m4a", "m4b":
		t, _ := readMP4Tags(f, size)
		return t
	case "flac":
		t, _ := readFLACTags(f, size)
		return t
	case "ogg", "opus":
		t, _ := readOggVorbisComment(f, size)
		return t
	case "wav":
		t, _ := readRIFFTags(f, size)
		return t
	case "wma":
		t, _ := readASFTags(f, size)
		return t
	}
	return Tags{}
}

// BookFields is the book-level candidate a scan writes into books.*
// (title, author, narrator, cover_url, intro→description).
type BookFields struct {
	Title       string
	Author      string
	Narrator    string
	Intro       string
	CoverURL    string
	Tags        []string
	ThemeColor  string
}

// ChapterFields is the track-level candidate a scan writes into
// chapters.* (title, duration; narrator rarely varies per-track but is
// resolved the same way in case a plugin supplies it per file).
type ChapterFields struct {
	Title    string
	Narrator string
	Duration float64
}

// Extractor ties together NFO parsing, the standard-tag decoders, and
// the format-plugin fallback (spec.md §4.4, §4.10).
type Extractor struct {
	Plugins *plugin.Gateway
	covers  *coverCache
}

func NewExtractor(g *plugin.Gateway) *Extractor {
	return &Extractor{Plugins: g, covers: newCoverCache(64)}
}

// ExtractBook resolves book-level fields for the directory dir,
// containing audioFiles (paths relative to nothing in particular — full
// paths as passed in by the scanner). Precedence: dir/book.nfo, then
// the first audio file's standard tags, then a format plugin for any
// extension none of the standard decoders cover.
func (e *Extractor) ExtractBook(ctx context.Context, dir string, audioFiles []string) BookFields {
	var out BookFields

	if nfo, ok := readBookNFO(filepath.Join(dir, "book.nfo")); ok {
		out.Title = nfo.Title
		out.Author = nfo.Author
		out.Narrator = nfo.Narrator
		out.Intro = nfo.Intro
		out.CoverURL = nfo.CoverURL
		out.Tags = nfo.Tags.Items
	}

	var tags Tags
	var pluginResp *plugin.ExtractMetadataResponse
	for _, f := range audioFiles {
		ext := strings.TrimPrefix(filepath.Ext(f), ".")
		if SupportsStandardTags(ext) {
			t := readStandardTags(f)
			if !t.empty() {
				tags = t
				break
			}
			continue
		}
		if d, ok := e.Plugins.FindForExtension(ext); ok {
			resp, err := e.Plugins.ExtractMetadata(ctx, d, f)
			if err == nil {
				pluginResp = &resp
				break
			}
		}
	}

	author, narrator := resolveAuthorNarrator(tags)
	if out.Title == "" {
		out.Title = tags.Album
	}
	if out.Author == "" {
		out.Author = author
	}
	if out.Narrator == "" {
		out.Narrator = narrator
	}

	if pluginResp != nil {
		if out.Title == "" {
			out.Title = pluginResp.Album
		}
		if out.Author == "" {
			out.Author = pluginResp.Artist
		}
		if out.Narrator == "" {
			out.Narrator = pluginResp.Narrator
		}
		if out.CoverURL == "" {
			out.CoverURL = pluginResp.CoverURL
		}
	}

	if cover := e.localCoverFile(dir); cover != "" {
		out.CoverURL = cover
	}
	if out.CoverURL != "" {
		if color, ok := e.themeColorFor(out.CoverURL); ok {
			out.ThemeColor = color
		}
	}
	return out
}

// ExtractChapter resolves track-level fields for one chapter file.
// sidecarPath, if non-empty, is the chapter_NNN.nfo path the scanner
// already located for this track.
func (e *Extractor) ExtractChapter(ctx context.Context, filePath, sidecarPath string) ChapterFields {
	var out ChapterFields
	if sidecarPath != "" {
		if nfo, ok := readChapterNFO(sidecarPath); ok {
			out.Title = nfo.Title
			out.Duration = nfo.Duration
		}
	}

	ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
	var tags Tags
	if SupportsStandardTags(ext) {
		tags = readStandardTags(filePath)
	} else if d, ok := e.Plugins.FindForExtension(ext); ok {
		resp, err := e.Plugins.ExtractMetadata(ctx, d, filePath)
		if err == nil {
			if out.Title == "" {
				out.Title = resp.Title
			}
			if out.Narrator == "" {
				out.Narrator = resp.Narrator
			}
			if out.Duration == 0 {
				out.Duration = resp.Duration
			}
		}
	}

	_, narrator := resolveAuthorNarrator(tags)
	if out.Title == "" {
		out.Title = tags.Title
	}
	if out.Narrator == "" {
		out.Narrator = narrator
	}
	if out.Duration == 0 {
		out.Duration = tags.Duration
	}
	return out
}

// localCoverFile prefers a directory-local cover image over anything a
// scraper or plugin supplied (spec.md §4.3 step 2: "Prefer a
// directory-local cover image file if present over scraper-provided
// covers").
func (e *Extractor) localCoverFile(dir string) string {
	for _, name := range []string{"cover.jpg", "cover.jpeg", "cover.png", "folder.jpg"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
