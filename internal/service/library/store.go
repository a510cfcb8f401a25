package library

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/reelpick/internal/metrics"
	"github.com/reelpick/internal/service/recommend"
	"github.com/reelpick/pkg/logger"
)

// List names one of the stored lists.
type List string

const (
	Favorites List = "favorites"
	Watched   List = "watched"
)

var (
	ErrUnknownList  = errors.New("unknown list")
	ErrInvalidEntry = errors.New("entry must be an object with an id")
)

// Entry is a stored media item kept in the caller's shape.
type Entry = map[string]any

// ParseList validates a list name from a route.
func ParseList(name string) (List, error) {
	switch List(name) {
	case Favorites, Watched:
		return List(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownList, name)
}

// Store mirrors the favorites and watched lists between memory and a JSON
// file. Reads and writes hit memory; Flush persists pending writes.
type Store struct {
	path    string
	flushMu sync.Mutex // held for a whole Flush

	mu        sync.RWMutex
	lists     map[List][]Entry
	updatedAt time.Time
	gen       uint64 // bumped on every write
	flushed   uint64 // gen last written to disk
}

// Open loads the store from path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		lists: map[List][]Entry{Favorites: {}, Watched: {}},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("📚 Library: no file at %s, starting empty", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading library: %w", err)
	}

	doc, migrated, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decoding library %s: %w", path, err)
	}

	s.lists[Favorites] = normalizeList(doc.Favorites)
	s.lists[Watched] = normalizeList(doc.Watched)
	s.updatedAt = doc.UpdatedAt

	if migrated {
		// force a rewrite in the current format
		s.gen = 1
		logger.Infof("📚 Library: migrated %s to version %d", path, currentVersion)
	}

	logger.Infof("📚 Library: %d favorites, %d watched", len(s.lists[Favorites]), len(s.lists[Watched]))
	return s, nil
}

// Favorites returns a copy of the favorites list.
func (s *Store) Favorites() []map[string]any {
	return s.snapshot(Favorites)
}

// Watched returns a copy of the watched list.
func (s *Store) Watched() []map[string]any {
	return s.snapshot(Watched)
}

// Get returns a copy of the named list.
func (s *Store) Get(list List) []Entry {
	return s.snapshot(list)
}

// Replace swaps a whole list. Invalid entries are dropped and duplicates
// collapse onto the first position with the last value.
func (s *Store) Replace(list List, entries []any) []Entry {
	normalized := normalizeList(entries)

	s.mu.Lock()
	s.lists[list] = normalized
	s.touch()
	s.mu.Unlock()

	return cloneEntries(normalized)
}

// Upsert adds an entry or replaces the stored one with the same mediaType and id.
func (s *Store) Upsert(list List, raw any) (Entry, error) {
	entry, key, ok := normalizeEntry(raw)
	if !ok {
		return nil, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.lists[list]
	replaced := false
	for i, existing := range entries {
		if entryKey(existing) == key {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	s.lists[list] = entries
	s.touch()

	return maps.Clone(entry), nil
}

// Merge updates the entry with fields' mediaType and id, creating it when absent.
// Keys in fields overwrite stored values; keys in defaults only fill gaps.
func (s *Store) Merge(list List, fields, defaults Entry) (Entry, error) {
	_, key, ok := normalizeEntry(fields)
	if !ok {
		return nil, ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.lists[list]
	idx := -1
	merged := Entry{}
	for i, existing := range entries {
		if entryKey(existing) == key {
			idx = i
			merged = maps.Clone(existing)
			break
		}
	}
	for k, v := range defaults {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	maps.Copy(merged, fields)

	entry, _, _ := normalizeEntry(merged)
	if idx >= 0 {
		entries[idx] = entry
	} else {
		entries = append(entries, entry)
	}
	s.lists[list] = entries
	s.touch()

	return maps.Clone(entry), nil
}

// Remove deletes the entry with the given mediaType and id. It reports whether anything was removed.
func (s *Store) Remove(list List, mediaType, id string) bool {
	key := mediaType + ":" + id

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.lists[list]
	for i, existing := range entries {
		if entryKey(existing) == key {
			s.lists[list] = append(entries[:i:i], entries[i+1:]...)
			s.touch()
			return true
		}
	}
	return false
}

// Dirty reports whether memory holds writes not yet flushed.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.flushed
}

// Flush writes the lists to disk if anything changed since the last flush.
// The file is replaced atomically.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	if s.gen == s.flushed {
		s.mu.RUnlock()
		return nil
	}
	gen := s.gen
	doc := document{
		Version:   currentVersion,
		UpdatedAt: s.updatedAt,
		Favorites: cloneEntries(s.lists[Favorites]),
		Watched:   cloneEntries(s.lists[Watched]),
	}
	s.mu.RUnlock()

	if err := writeDocument(s.path, doc); err != nil {
		metrics.LibraryFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("flushing library: %w", err)
	}
	metrics.LibraryFlushes.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.flushed = gen
	s.mu.Unlock()

	logger.Debugf("💾 Library flushed: %d favorites, %d watched", len(doc.Favorites), len(doc.Watched))
	return nil
}

// touch marks a write. Must be called with the lock held.
func (s *Store) touch() {
	s.gen++
	s.updatedAt = time.Now().UTC()
}

func (s *Store) snapshot(list List) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.lists[list])
}

func writeDocument(path string, doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".library-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// normalizeEntry validates a raw entry and stamps its resolved mediaType.
func normalizeEntry(raw any) (Entry, string, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, "", false
	}
	id, ok := recommend.CoerceID(m["id"])
	if !ok {
		return nil, "", false
	}
	kind := recommend.InferKind(m)

	entry := maps.Clone(m)
	entry["mediaType"] = string(kind)
	return entry, string(kind) + ":" + id.String(), true
}

func normalizeList[T any](raw []T) []Entry {
	out := make([]Entry, 0, len(raw))
	index := make(map[string]int, len(raw))
	for _, r := range raw {
		entry, key, ok := normalizeEntry(any(r))
		if !ok {
			continue
		}
		if i, seen := index[key]; seen {
			out[i] = entry
			continue
		}
		index[key] = len(out)
		out = append(out, entry)
	}
	return out
}

func entryKey(e Entry) string {
	id, _ := recommend.CoerceID(e["id"])
	kind, _ := e["mediaType"].(string)
	return kind + ":" + id.String()
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = maps.Clone(e)
	}
	return out
}
