package fragment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Locate walks root and returns every leaf group beneath it, sorted by
// relative path. A directory is a leaf when it holds at least one file and
// no subdirectories; it becomes a group when one of those files has a
// numeric name. Unreadable directories are logged and skipped.
//
// A missing root, or a root that is not a directory, fails with ErrConfig
// before anything is read.
func Locate(ctx context.Context, root string, logger *slog.Logger) ([]LeafGroup, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve %s: %v", ErrConfig, root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: multi-volume directory does not exist: %s", ErrConfig, absRoot)
		}
		return nil, fmt.Errorf("%w: cannot access %s: %v", ErrConfig, absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrConfig, absRoot)
	}

	logger.Info("scanning for leaf directories", "root", absRoot)

	l := &locator{root: absRoot, logger: logger}
	if err := l.visit(ctx, absRoot); err != nil {
		return nil, err
	}
	sort.Slice(l.groups, func(i, j int) bool {
		return l.groups[i].RelPath < l.groups[j].RelPath
	})

	logger.Info("found leaf directories to reassemble", "count", len(l.groups), "skipped", l.skipped)
	return l.groups, nil
}

type locator struct {
	root    string
	logger  *slog.Logger
	groups  []LeafGroup
	skipped int
}

// visit reads dir once and either records it as a group or descends into
// its subdirectories. Only subdirectories found here are ever visited, so
// each directory is read exactly once.
func (l *locator) visit(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == l.root {
			return fmt.Errorf("%w: cannot read %s: %v", ErrConfig, dir, err)
		}
		l.logger.Warn("cannot read directory, skipping", "dir", dir, "err", err)
		l.skipped++
		return nil
	}

	var subdirs []string
	hasDir, hasFile, hasNumeric := false, false, false
	for _, entry := range entries {
		switch classify(dir, entry) {
		case kindDir:
			hasDir = true
			// Symlinked directories disqualify the parent as a leaf but are
			// not followed.
			if entry.IsDir() {
				subdirs = append(subdirs, filepath.Join(dir, entry.Name()))
			}
		case kindFile:
			hasFile = true
			if !hasNumeric {
				_, hasNumeric = NumericKey(entry.Name())
			}
		}
	}

	if !hasDir {
		if hasFile && hasNumeric {
			rel, err := filepath.Rel(l.root, dir)
			if err != nil {
				return fmt.Errorf("cannot compute relative path for %s: %w", dir, err)
			}
			l.groups = append(l.groups, LeafGroup{Path: dir, RelPath: rel})
		} else if hasFile {
			l.logger.Debug("leaf directory has no numeric fragments", "dir", dir)
		}
		return nil
	}

	for _, sub := range subdirs {
		if err := l.visit(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}
