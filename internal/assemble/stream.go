// Package assemble turns one leaf group into one reassembled file.
package assemble

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brianhouk/duplicity-recovery-tools/internal/bufpool"
	"github.com/brianhouk/duplicity-recovery-tools/internal/fragment"
)

// PartialSuffix ends the name of the hidden temp file a group is written to
// while it is being assembled. The final name only appears once every
// fragment was copied.
const PartialSuffix = ".partial"

// Result counts what Stream copied.
type Result struct {
	Fragments int
	Bytes     int64
}

// Source is what Stream consumes: fragments in assembly order.
type Source interface {
	Next() (fragment.Fragment, bool)
	Len() int
}

// Stream concatenates the fragments of seq into outPath through a single
// chunk buffer borrowed from pool. Parent directories are created as needed.
//
// An empty source creates nothing and returns a zero Result. Bytes are
// written to a uniquely named ".<base>.*.partial" file next to outPath and
// renamed into place on success; on failure the partial file is removed and
// any earlier file at outPath is left as it was.
func Stream(seq Source, outPath string, pool *bufpool.Pool) (res Result, err error) {
	if seq.Len() == 0 {
		return Result{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}

	out, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".*"+PartialSuffix)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	temp := out.Name()
	if err := out.Chmod(0644); err != nil {
		_ = out.Close()
		_ = os.Remove(temp)
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(temp)
		}
	}()

	buf := pool.Get()
	defer pool.Put(buf)

	for {
		frag, ok := seq.Next()
		if !ok {
			break
		}
		n, err := copyFragment(out, frag.Path, buf)
		res.Bytes += n
		if err != nil {
			return res, err
		}
		res.Fragments++
	}

	if err := out.Close(); err != nil {
		return res, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(temp, outPath); err != nil {
		return res, fmt.Errorf("finalize output: %w", err)
	}
	return res, nil
}

// copyFragment appends the file at path to dst using buf as the only
// staging memory.
func copyFragment(dst io.Writer, path string, buf []byte) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open fragment: %w", err)
	}
	defer f.Close()

	var written int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, fmt.Errorf("write output: %w", werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read fragment %s: %w", path, rerr)
		}
	}
}
