package metadata

// resolveAuthorNarrator implements spec.md §4.4's standard-tag precedence:
// album_artist takes precedence over artist for author; when both are
// present and differ, artist becomes narrator; composer, if present and
// narrator still unset, becomes narrator.
func resolveAuthorNarrator(t Tags) (author, narrator string) {
	switch {
	case t.AlbumArtist != "" && t.Artist != "" && t.AlbumArtist != t.Artist:
		author = t.AlbumArtist
		narrator = t.Artist
	case t.AlbumArtist != "":
		author = t.AlbumArtist
	default:
		author = t.Artist
	}
	if narrator == "" {
		narrator = t.Composer
	}
	return author, narrator
}
