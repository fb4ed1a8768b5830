package library

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"KaraFM/logger"
	"KaraFM/model"

	"github.com/fsnotify/fsnotify"
)

// mediaExtensions lists the file types the index considers playable.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".mov":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
}

// Index is the in-memory catalog of playable files under a single directory.
// It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]model.LibraryEntry // keyed by absolute file path
}

// NewIndex creates an empty index rooted at dir.
func NewIndex(dir string) *Index {
	return &Index{
		dir:     dir,
		entries: make(map[string]model.LibraryEntry),
	}
}

// Dir returns the library root directory.
func (ix *Index) Dir() string {
	return ix.dir
}

// Scan rebuilds the index from the files currently on disk.
func (ix *Index) Scan() error {
	found := make(map[string]model.LibraryEntry)

	err := filepath.Walk(ix.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isMediaFile(path) {
			return nil
		}
		found[path] = entryForPath(path, info.ModTime())
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.entries = found
	ix.mu.Unlock()

	logger.Info("library scanned",
		logger.String("dir", ix.dir),
		logger.Int("songs", len(found)))
	return nil
}

// Add registers a single file. Non-media paths are ignored.
func (ix *Index) Add(path string) {
	if !isMediaFile(path) {
		return
	}
	ix.mu.Lock()
	ix.entries[path] = entryForPath(path, time.Now())
	ix.mu.Unlock()
}

// Remove drops a file from the index. Unknown paths are a no-op.
func (ix *Index) Remove(path string) {
	ix.mu.Lock()
	delete(ix.entries, path)
	ix.mu.Unlock()
}

// Get returns the entry for a path, if indexed.
func (ix *Index) Get(path string) (model.LibraryEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[path]
	return e, ok
}

// Len returns the number of indexed songs.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// All returns every entry sorted by title.
func (ix *Index) All() []model.LibraryEntry {
	ix.mu.RLock()
	result := make([]model.LibraryEntry, 0, len(ix.entries))
	for _, e := range ix.entries {
		result = append(result, e)
	}
	ix.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Title) < strings.ToLower(result[j].Title)
	})
	return result
}

// Random returns up to n entries whose paths are not in exclude, in random
// order. Fewer than n are returned once the library is exhausted.
func (ix *Index) Random(n int, exclude map[string]bool) []model.LibraryEntry {
	ix.mu.RLock()
	pool := make([]model.LibraryEntry, 0, len(ix.entries))
	for path, e := range ix.entries {
		if !exclude[path] {
			pool = append(pool, e)
		}
	}
	ix.mu.RUnlock()

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool
}

// Watch keeps the index in sync with out-of-band file changes until ctx is
// cancelled. It returns once the watcher is installed.
func (ix *Index) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(ix.dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				switch {
				case event.Has(fsnotify.Create) || event.Has(fsnotify.Rename):
					ix.Add(event.Name)
				case event.Has(fsnotify.Remove):
					ix.Remove(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("library watcher error", logger.ErrorField(err))
			}
		}
	}()

	return nil
}

func isMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

func entryForPath(path string, added time.Time) model.LibraryEntry {
	title, id := ParseFilename(path)
	artist, song := SplitArtist(title)
	return model.LibraryEntry{
		FilePath:   path,
		Title:      song,
		Artist:     artist,
		ExternalID: id,
		AddedAt:    added,
	}
}
