package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/plugin"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("fake audio data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWalkLocalGroupsByDirectoryAndSortsNaturally(t *testing.T) {
	root := t.TempDir()
	bookDir := filepath.Join(root, "My Book")
	writeFile(t, filepath.Join(bookDir, "ch2.mp3"))
	writeFile(t, filepath.Join(bookDir, "ch10.mp3"))
	writeFile(t, filepath.Join(bookDir, "ch1.mp3"))
	writeFile(t, filepath.Join(bookDir, "cover.jpg")) // non-audio, must be skipped

	p := &Pipeline{Plugins: plugin.NewGateway(nil)}
	groups, err := p.walkLocal(library.Library{LocalPath: root})
	if err != nil {
		t.Fatalf("walkLocal: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if len(g.Files) != 3 {
		t.Fatalf("files = %d, want 3 (cover.jpg must be excluded)", len(g.Files))
	}
	want := []string{"ch1.mp3", "ch2.mp3", "ch10.mp3"}
	for i, f := range g.Files {
		if f.Name != want[i] {
			t.Fatalf("files[%d] = %s, want %s (natural sort)", i, f.Name, want[i])
		}
	}
}

func TestWalkLocalSkipsUnknownExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.txt"))

	p := &Pipeline{Plugins: plugin.NewGateway(nil)}
	groups, err := p.walkLocal(library.Library{LocalPath: root})
	if err != nil {
		t.Fatalf("walkLocal: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("groups = %d, want 0", len(groups))
	}
}

func TestIsAudioExtRecognizesPluginExtensions(t *testing.T) {
	desc := plugin.Descriptor{Name: "aax", SupportedExtensions: []string{"aax"}}
	p := &Pipeline{Plugins: plugin.NewGateway([]plugin.Descriptor{desc})}

	if !p.isAudioExt(".aax") {
		t.Fatal("expected .aax to be recognized via the plugin gateway")
	}
	if p.isAudioExt(".jpg") {
		t.Fatal("did not expect .jpg to be recognized as audio")
	}
}

func TestWalkDispatchesOnLibraryKind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b", "ch1.mp3"))

	p := &Pipeline{Plugins: plugin.NewGateway(nil)}
	groups, err := p.walk(context.Background(), library.Library{Kind: library.KindLocal, LocalPath: root})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
}
