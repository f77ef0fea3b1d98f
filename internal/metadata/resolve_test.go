package metadata

import "testing"

func TestResolveAuthorNarratorAlbumArtistWins(t *testing.T) {
	author, narrator := resolveAuthorNarrator(Tags{AlbumArtist: "Publisher House", Artist: "Jane Narrator"})
	if author != "Publisher House" {
		t.Fatalf("author = %q", author)
	}
	if narrator != "Jane Narrator" {
		t.Fatalf("narrator = %q", narrator)
	}
}

func TestResolveAuthorNarratorArtistOnlyIsAuthor(t *testing.T) {
	author, narrator := resolveAuthorNarrator(Tags{Artist: "Solo Author"})
	if author != "Solo Author" {
		t.Fatalf("author = %q", author)
	}
	if narrator != "" {
		t.Fatalf("narrator = %q, want empty", narrator)
	}
}

func TestResolveAuthorNarratorComposerFallback(t *testing.T) {
	_, narrator := resolveAuthorNarrator(Tags{AlbumArtist: "Author Name", Composer: "Some Composer"})
	if narrator != "Some Composer" {
		t.Fatalf("narrator = %q, want composer fallback", narrator)
	}
}

func TestResolveAuthorNarratorSameArtistAndAlbumArtist(t *testing.T) {
	author, narrator := resolveAuthorNarrator(Tags{AlbumArtist: "Same Name", Artist: "Same Name"})
	if author != "Same Name" {
		t.Fatalf("author = %q", author)
	}
	if narrator != "" {
		t.Fatalf("narrator = %q, want empty when artist == album_artist", narrator)
	}
}
