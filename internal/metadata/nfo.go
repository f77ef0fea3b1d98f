package metadata

import (
	"encoding/xml"
	"os"
)

// bookNFO mirrors the Kodi/Jellyfin-style sidecar the original backend
// writes (nfo_manager.rs's BookMetadata): root element <audiobook> with
// title/author/narrator/intro/cover_url/tags. NFO *writing* is out of
// scope (spec.md §1); only reading is implemented.
type bookNFO struct {
	XMLName  xml.Name `xml:"audiobook"`
	Title    string   `xml:"title"`
	Author   string   `xml:"author"`
	Narrator string   `xml:"narrator"`
	Intro    string   `xml:"intro"`
	CoverURL string   `xml:"cover_url"`
	Tags     struct {
		Items []string `xml:"tag"`
	} `xml:"tags"`
}

type chapterNFO struct {
	XMLName  xml.Name `xml:"chapter"`
	Title    string   `xml:"title"`
	Duration float64  `xml:"duration"`
}

func readBookNFO(path string) (bookNFO, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return bookNFO{}, false
	}
	var out bookNFO
	if err := xml.Unmarshal(data, &out); err != nil {
		return bookNFO{}, false
	}
	return out, true
}

func readChapterNFO(path string) (chapterNFO, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chapterNFO{}, false
	}
	var out chapterNFO
	if err := xml.Unmarshal(data, &out); err != nil {
		return chapterNFO{}, false
	}
	return out, true
}
