package walk

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// Entry is a regular file found by a walk.
type Entry interface {
	// Path is the file path prefixed with the name of the walked tree.
	Path() string
	// Rel is the slash separated path inside the walked tree.
	Rel() string
	Open() (io.ReadCloser, error)
	Stat() (fs.FileInfo, error)
}

// Root walks an os.Root. See FS for details.
func Root(ctx context.Context, root *os.Root) iter.Seq2[Entry, error] {
	return FS(ctx, root.FS(), root.Name())
}

// FS recursively walks fsys and yields every regular file, or an error when
// a directory can't be read. Symlinks are not followed. Breaking the loop or
// cancelling ctx ends the walk.
func FS(ctx context.Context, fsys fs.FS, name string) iter.Seq2[Entry, error] {
	if fsys == nil {
		panic("fsys is nil")
	}

	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			entry := fsEntry{
				fsys:    fsys,
				abspath: filepath.Join(name, filepath.FromSlash(path)),
				rel:     path,
			}
			if err == nil {
				var info fs.FileInfo
				info, err = d.Info()
				if err == nil && !info.Mode().IsRegular() {
					return nil
				}
				entry.info = info
				entry.infoErr = err
			}
			if !yield(entry, err) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(fsys, ".", fn)
	}
}

type fsEntry struct {
	fsys    fs.FS
	abspath string
	rel     string
	info    fs.FileInfo
	infoErr error
}

func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Rel() string {
	return e.rel
}

func (e fsEntry) Open() (io.ReadCloser, error) {
	if e.infoErr != nil {
		return nil, e.infoErr
	}
	return e.fsys.Open(e.rel)
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
