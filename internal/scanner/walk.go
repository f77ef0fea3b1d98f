package scanner

import (
	"context"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gaby/audiobookd/internal/crypto"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/metadata"
	"github.com/gaby/audiobookd/internal/natsort"
	"github.com/gaby/audiobookd/internal/storage"
)

// fileEntry is one audio file discovered by the walk.
type fileEntry struct {
	Name     string // base filename
	StorePath string // what gets written into chapters.path: an absolute fs path or a full WebDAV URL
	LocalPath string // non-empty only for Kind == Local; the path metadata.Extractor reads directly
}

// group is one directory's worth of audio files (spec.md §4.6 "Group").
type group struct {
	DirName string // directory base name, tested against a book's match_pattern
	DirPath string // absolute directory path or normalized directory URL; hashutil.BookHash input
	Files   []fileEntry
}

// maxWebDAVDirs is the BFS hard cap (spec.md §4.6).
const maxWebDAVDirs = 1000

func (p *Pipeline) walk(ctx context.Context, lib library.Library) ([]group, error) {
	if lib.Kind == library.KindWebDAV {
		return p.walkWebDAV(ctx, lib)
	}
	return p.walkLocal(lib)
}

func (p *Pipeline) isAudioExt(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if metadata.SupportsStandardTags(ext) {
		return true
	}
	_, ok := p.Plugins.FindForExtension(ext)
	return ok
}

// walkLocal performs the depth-first local walk (spec.md §4.6 "Walk").
func (p *Pipeline) walkLocal(lib library.Library) ([]group, error) {
	groups := make(map[string]*group)
	var order []string

	err := filepath.WalkDir(lib.LocalPath, func(p2 string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // per-entry walk errors are non-fatal; just skip
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p2)
		if !p.isAudioExt(ext) {
			return nil
		}
		dir := filepath.Dir(p2)
		g, ok := groups[dir]
		if !ok {
			g = &group{DirName: filepath.Base(dir), DirPath: dir}
			groups[dir] = g
			order = append(order, dir)
		}
		g.Files = append(g.Files, fileEntry{Name: filepath.Base(p2), StorePath: p2, LocalPath: p2})
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]group, 0, len(order))
	for _, dir := range order {
		g := groups[dir]
		sortNatural(g.Files)
		out = append(out, *g)
	}
	return out, nil
}

// walkWebDAV performs the BFS PROPFIND walk (spec.md §4.6 "Walk"):
// depth-1 PROPFIND per directory, visited-set keyed by normalized URL,
// hard-capped at maxWebDAVDirs.
func (p *Pipeline) walkWebDAV(ctx context.Context, lib library.Library) ([]group, error) {
	client := http.DefaultClient
	password := crypto.ResolvePassword(p.CryptoKey, lib.WebDAVPasswordEnc)

	queue := []string{storage.NormalizeDirURL(lib.WebDAVURL)}
	visited := make(map[string]bool)
	groups := make(map[string]*group)
	var order []string

	for len(queue) > 0 && len(visited) < maxWebDAVDirs {
		dirURL := queue[0]
		queue = queue[1:]
		norm := storage.NormalizeDirURL(dirURL)
		if visited[norm] {
			continue
		}
		visited[norm] = true

		entries, err := storage.Propfind(ctx, client, dirURL+"/", lib.WebDAVUsername, password)
		if err != nil {
			continue // per-directory failures are local; spec.md §7 "warn, skip directory"
		}

		g := &group{DirName: path.Base(norm), DirPath: norm}
		for _, e := range entries {
			entryNorm := storage.NormalizeDirURL(e.Href)
			if entryNorm == norm {
				continue // PROPFIND depth:1 includes the directory itself
			}
			if e.Collection {
				if !visited[entryNorm] {
					queue = append(queue, e.Href)
				}
				continue
			}
			ext := path.Ext(e.Href)
			if !p.isAudioExt(ext) {
				continue
			}
			g.Files = append(g.Files, fileEntry{Name: path.Base(e.Href), StorePath: e.Href})
		}
		if len(g.Files) > 0 {
			sortNatural(g.Files)
			groups[norm] = g
			order = append(order, norm)
		}
	}

	out := make([]group, 0, len(order))
	for _, dir := range order {
		out = append(out, *groups[dir])
	}
	return out, nil
}

func sortNatural(files []fileEntry) {
	sort.Slice(files, func(i, j int) bool {
		return natsort.Less(files[i].Name, files[j].Name)
	})
}
