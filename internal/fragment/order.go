package fragment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

// entry is the lightweight record kept per fragment while sorting.
type entry struct {
	key  string
	name string
}

// Sequence yields the fragments of one group in ascending numeric order.
// It is single-pass: once drained it keeps returning false and the sorted
// name list is released.
type Sequence struct {
	dir     string
	entries []entry
	next    int
}

// Order lists group's directory and returns its numeric fragments as a
// Sequence. Only names are held in memory; files are not opened.
// Non-numeric files are skipped with a warning.
func Order(group LeafGroup, logger *slog.Logger) (*Sequence, error) {
	dirEntries, err := os.ReadDir(group.Path)
	if err != nil {
		return nil, fmt.Errorf("list fragments in %s: %w", group.Path, err)
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if classify(group.Path, de) != kindFile {
			continue
		}
		key, ok := NumericKey(de.Name())
		if !ok {
			logger.Warn("skipping non-numeric file", "path", filepath.Join(group.Path, de.Name()))
			continue
		}
		entries = append(entries, entry{key: key, name: de.Name()})
	}

	// "7" and "007" name the same fragment number; the name breaks the tie
	// so the order stays total.
	slices.SortFunc(entries, func(a, b entry) int {
		if c := CompareKeys(a.key, b.key); c != 0 {
			return c
		}
		return CompareKeys(a.name, b.name)
	})

	return &Sequence{dir: group.Path, entries: entries}, nil
}

// Next returns the next fragment, or false once the sequence is drained.
func (s *Sequence) Next() (Fragment, bool) {
	if s == nil || s.next >= len(s.entries) {
		if s != nil {
			s.entries = nil
		}
		return Fragment{}, false
	}
	e := s.entries[s.next]
	s.next++
	if s.next == len(s.entries) {
		s.entries, s.next = nil, 0
	}
	return Fragment{Key: e.key, Name: e.name, Path: filepath.Join(s.dir, e.name)}, true
}

// Len reports how many fragments have not been handed out yet.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries) - s.next
}
