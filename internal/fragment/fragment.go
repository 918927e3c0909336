// Package fragment discovers multi-volume leaf directories and orders the
// numbered fragment files inside them.
package fragment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrConfig marks a source tree that cannot be used at all.
var ErrConfig = errors.New("configuration error")

// LeafGroup is a directory without subdirectories holding at least one
// numbered fragment. It reassembles into exactly one output file.
type LeafGroup struct {
	Path    string // absolute directory path; identity of the group
	RelPath string // path relative to the source root, OS separators
}

// Fragment is one numbered piece of a reassembled file.
type Fragment struct {
	Key  string // decimal value of Name without leading zeros
	Name string // file name as found on disk
	Path string
}

// NumericKey reports whether name is a non-negative base-10 integer and
// returns its canonical digits. Leading zeros are stripped; "000" is "0".
func NumericKey(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return "", false
		}
	}
	key := strings.TrimLeft(name, "0")
	if key == "" {
		key = "0"
	}
	return key, true
}

// CompareKeys orders canonical keys by numeric value. Keys carry no leading
// zeros, so a shorter key is always the smaller number.
func CompareKeys(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// entryKind classifies a directory entry, resolving symlinks the way a
// directory walk sees them.
type entryKind int

const (
	kindOther entryKind = iota
	kindFile
	kindDir
)

func classify(dir string, entry fs.DirEntry) entryKind {
	mode := entry.Type()
	switch {
	case mode.IsDir():
		return kindDir
	case mode.IsRegular():
		return kindFile
	case mode&fs.ModeSymlink != 0:
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil {
			return kindOther
		}
		if info.IsDir() {
			return kindDir
		}
		if info.Mode().IsRegular() {
			return kindFile
		}
	}
	return kindOther
}
