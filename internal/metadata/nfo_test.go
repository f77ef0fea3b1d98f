package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadBookNFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.nfo")
	xml := `<?xml version="1.0" encoding="UTF-8"?>
<audiobook>
  <title>三体：地球往事</title>
  <author>刘慈欣</author>
  <narrator>冯雪松</narrator>
  <intro>A science fiction epic.</intro>
  <source>ximalaya</source>
  <source_id>12345678</source_id>
  <cover_url>https://example.com/cover.jpg</cover_url>
  <tags>
    <tag>科幻</tag>
    <tag>硬科幻</tag>
  </tags>
  <chapter_count>42</chapter_count>
  <created_at>1700000000</created_at>
  <updated_at>1700000000</updated_at>
</audiobook>`
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatalf("write nfo: %v", err)
	}

	got, ok := readBookNFO(path)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got.Title != "三体：地球往事" || got.Author != "刘慈欣" || got.Narrator != "冯雪松" {
		t.Fatalf("got %+v", got)
	}
	if len(got.Tags.Items) != 2 || got.Tags.Items[0] != "科幻" {
		t.Fatalf("tags = %+v", got.Tags.Items)
	}
}

func TestReadBookNFOMissingFile(t *testing.T) {
	_, ok := readBookNFO(filepath.Join(t.TempDir(), "missing.nfo"))
	if ok {
		t.Fatal("expected ok=false for missing file")
	}
}

func TestReadChapterNFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chapter_001.nfo")
	xml := `<?xml version="1.0" encoding="UTF-8"?>
<chapter>
  <title>第一章 科学边界</title>
  <index>1</index>
  <duration>1800</duration>
  <is_free>true</is_free>
  <created_at>1700000000</created_at>
</chapter>`
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatalf("write nfo: %v", err)
	}

	got, ok := readChapterNFO(path)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got.Title != "第一章 科学边界" || got.Duration != 1800 {
		t.Fatalf("got %+v", got)
	}
}
