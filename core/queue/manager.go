package queue

import (
	"errors"
	"sync"
	"time"

	"KaraFM/logger"
	"KaraFM/model"

	"github.com/google/uuid"
)

var (
	// ErrQuotaExceeded is returned when an enqueue would push a user past
	// the configured per-user limit.
	ErrQuotaExceeded = errors.New("queue: user quota exceeded")
	// ErrNotFound is returned when the referenced entry is no longer queued,
	// e.g. it already started playing. Callers treat this as benign.
	ErrNotFound = errors.New("queue: entry not found")
)

// Position selects where Enqueue inserts an entry.
type Position int

const (
	Bottom Position = iota
	Top
)

// picker abstracts the library lookup AddRandom needs.
type picker interface {
	Random(n int, exclude map[string]bool) []model.LibraryEntry
}

// Store persists the queue across restarts. Failures are non-fatal.
type Store interface {
	Save(entries []model.QueueEntry) error
	Load() ([]model.QueueEntry, error)
}

// Manager owns the ordered list of pending song requests. All structural
// mutations are serialized through a single lock so interleaved operations
// from different clients can never corrupt ordering.
type Manager struct {
	mu       sync.Mutex
	entries  []model.QueueEntry
	revision int64
	limit    int // 0 = unlimited

	library  picker
	store    Store
	onChange func()
}

// NewManager creates an empty queue with the given per-user limit.
// library may be nil when AddRandom is not used; store may be nil.
func NewManager(limit int, library picker, store Store) *Manager {
	return &Manager{
		limit:   limit,
		library: library,
		store:   store,
	}
}

// OnChange registers a callback invoked after every successful mutation.
// It runs outside the queue lock.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetLimit updates the per-user quota.
func (m *Manager) SetLimit(limit int) {
	m.mu.Lock()
	m.limit = limit
	m.mu.Unlock()
}

// Restore loads persisted entries, replacing the in-memory queue. Used once
// at startup before any clients connect.
func (m *Manager) Restore() {
	if m.store == nil {
		return
	}
	entries, err := m.store.Load()
	if err != nil {
		logger.Warn("queue restore failed", logger.ErrorField(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	m.mu.Lock()
	m.entries = entries
	m.revision++
	m.mu.Unlock()
	logger.Info("queue restored", logger.Int("entries", len(entries)))
}

// NewEntry builds a queue entry for a library file.
func NewEntry(filePath, title, singer string) model.QueueEntry {
	return model.QueueEntry{
		ID:       uuid.NewString(),
		FilePath: filePath,
		Title:    title,
		Singer:   singer,
		AddedAt:  time.Now(),
	}
}

// Enqueue appends (or prepends, for Top) an entry. It fails with
// ErrQuotaExceeded when the singer's active count would exceed a positive
// limit; the queue is left untouched in that case.
func (m *Manager) Enqueue(entry model.QueueEntry, pos Position) error {
	m.mu.Lock()
	if m.limit > 0 && entry.Singer != model.RandomizerName {
		count := 0
		for _, e := range m.entries {
			if e.Singer == entry.Singer {
				count++
			}
		}
		if count >= m.limit {
			m.mu.Unlock()
			return ErrQuotaExceeded
		}
	}

	if pos == Top {
		m.entries = append([]model.QueueEntry{entry}, m.entries...)
	} else {
		m.entries = append(m.entries, entry)
	}
	m.bumpLocked()
	m.mu.Unlock()

	m.changed()
	return nil
}

// Remove drops the entry with the given id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	m.bumpLocked()
	m.mu.Unlock()

	m.changed()
	return nil
}

// MoveUp swaps the entry with its predecessor. Already-first entries are a
// no-op, not an error.
func (m *Manager) MoveUp(id string) error {
	return m.move(id, -1)
}

// MoveDown swaps the entry with its successor. Already-last entries are a
// no-op, not an error.
func (m *Manager) MoveDown(id string) error {
	return m.move(id, +1)
}

func (m *Manager) move(id string, delta int) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	target := idx + delta
	if target < 0 || target >= len(m.entries) {
		m.mu.Unlock()
		return nil
	}
	m.entries[idx], m.entries[target] = m.entries[target], m.entries[idx]
	m.bumpLocked()
	m.mu.Unlock()

	m.changed()
	return nil
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.mu.Lock()
	changed := len(m.entries) > 0
	m.entries = nil
	if changed {
		m.bumpLocked()
	}
	m.mu.Unlock()

	if changed {
		m.changed()
	}
}

// Peek returns a copy of the next entry without removing it.
func (m *Manager) Peek() (model.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return model.QueueEntry{}, false
	}
	return m.entries[0], true
}

// PopNext removes and returns the next entry. Ownership of the entry passes
// to the caller; it is no longer part of the queue.
func (m *Manager) PopNext() (model.QueueEntry, bool) {
	m.mu.Lock()
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return model.QueueEntry{}, false
	}
	entry := m.entries[0]
	m.entries = m.entries[1:]
	m.bumpLocked()
	m.mu.Unlock()

	m.changed()
	return entry, true
}

// AddRandom enqueues up to n random library songs under the Randomizer
// identity, skipping songs already queued when avoidable. It returns how
// many were added and whether the library ran out before n.
func (m *Manager) AddRandom(n int) (added int, exhausted bool) {
	if m.library == nil {
		return 0, true
	}

	m.mu.Lock()
	exclude := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		exclude[e.FilePath] = true
	}
	m.mu.Unlock()

	picks := m.library.Random(n, exclude)
	for _, song := range picks {
		title := song.Title
		if song.Artist != "" {
			title = song.Artist + " - " + song.Title
		}
		if err := m.Enqueue(NewEntry(song.FilePath, title, model.RandomizerName), Bottom); err != nil {
			// Randomizer is quota-exempt, so this cannot happen today.
			logger.Warn("random enqueue rejected", logger.ErrorField(err))
			continue
		}
		added++
	}
	return added, added < n
}

// Entries returns a copy of the queue in order.
func (m *Manager) Entries() []model.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]model.QueueEntry, len(m.entries))
	copy(result, m.entries)
	return result
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Revision returns the mutation counter consumed by the sync broadcaster.
func (m *Manager) Revision() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

// CountFor returns how many entries a singer currently has queued.
func (m *Manager) CountFor(singer string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.Singer == singer {
			count++
		}
	}
	return count
}

func (m *Manager) indexLocked(id string) int {
	for i, e := range m.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) bumpLocked() {
	m.revision++
}

// changed persists the queue and notifies the change listener. Runs without
// the lock held; Save receives a snapshot taken under the lock.
func (m *Manager) changed() {
	m.mu.Lock()
	fn := m.onChange
	var snapshot []model.QueueEntry
	if m.store != nil {
		snapshot = make([]model.QueueEntry, len(m.entries))
		copy(snapshot, m.entries)
	}
	store := m.store
	m.mu.Unlock()

	if store != nil {
		if err := store.Save(snapshot); err != nil {
			logger.Warn("queue persist failed", logger.ErrorField(err))
		}
	}
	if fn != nil {
		fn()
	}
}
