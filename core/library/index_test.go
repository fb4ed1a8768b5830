package library

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanIndexesMediaFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Queen - Bohemian Rhapsody---fJ9rUzIMcZQ.mp4"))
	writeFile(t, filepath.Join(dir, "Plain Song.mkv"))
	writeFile(t, filepath.Join(dir, "notes.txt"))

	ix := NewIndex(dir)
	if err := ix.Scan(); err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 2 {
		t.Fatalf("indexed %d files, want 2", ix.Len())
	}

	e, ok := ix.Get(filepath.Join(dir, "Queen - Bohemian Rhapsody---fJ9rUzIMcZQ.mp4"))
	if !ok {
		t.Fatal("expected entry for parsed file")
	}
	if e.Artist != "Queen" || e.Title != "Bohemian Rhapsody" || e.ExternalID != "fJ9rUzIMcZQ" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestAddIgnoresNonMedia(t *testing.T) {
	ix := NewIndex(t.TempDir())
	ix.Add("/songs/readme.txt")
	if ix.Len() != 0 {
		t.Errorf("non-media file was indexed")
	}
	ix.Add("/songs/song.mp4")
	if ix.Len() != 1 {
		t.Errorf("media file was not indexed")
	}
}

func TestAllSortsByTitle(t *testing.T) {
	ix := NewIndex(t.TempDir())
	ix.Add("/songs/zebra.mp4")
	ix.Add("/songs/Apple.mp4")
	ix.Add("/songs/mango.mp4")

	all := ix.All()
	if len(all) != 3 {
		t.Fatalf("got %d entries", len(all))
	}
	if all[0].Title != "Apple" || all[1].Title != "mango" || all[2].Title != "zebra" {
		t.Errorf("entries not sorted by title: %v, %v, %v",
			all[0].Title, all[1].Title, all[2].Title)
	}
}

func TestRandomRespectsExclusionsAndExhaustion(t *testing.T) {
	ix := NewIndex(t.TempDir())
	ix.Add("/songs/a.mp4")
	ix.Add("/songs/b.mp4")
	ix.Add("/songs/c.mp4")

	picks := ix.Random(10, map[string]bool{"/songs/b.mp4": true})
	if len(picks) != 2 {
		t.Fatalf("got %d picks, want 2", len(picks))
	}
	for _, p := range picks {
		if p.FilePath == "/songs/b.mp4" {
			t.Errorf("excluded song was picked")
		}
	}

	if got := ix.Random(2, nil); len(got) != 2 {
		t.Errorf("bounded pick returned %d entries, want 2", len(got))
	}
}

func TestRemove(t *testing.T) {
	ix := NewIndex(t.TempDir())
	ix.Add("/songs/a.mp4")
	ix.Remove("/songs/a.mp4")
	if ix.Len() != 0 {
		t.Errorf("entry not removed")
	}
	// removing an unknown path must not panic or error
	ix.Remove("/songs/missing.mp4")
}
