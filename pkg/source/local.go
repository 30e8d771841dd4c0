package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local reads from a directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal returns a Local rooted at dir, which must exist.
func NewLocal(dir string) (*Local, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open data root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open data root: %s is not a directory", dir)
	}
	return &Local{root: dir}, nil
}

func (l *Local) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// URI returns the filesystem path of name.
func (l *Local) URI(name string) string { return l.path(name) }

// ReadDir lists dir sorted by name.
func (l *Local) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	des, err := os.ReadDir(l.path(dir))
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err == nil && info.Mode()&fs.ModeSymlink != 0 {
			// Report the target; a dangling link is skipped below.
			info, err = os.Stat(filepath.Join(l.path(dir), de.Name()))
		}
		if err != nil {
			// Removed between listing and stat.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		out = append(out, Entry{
			Name:    de.Name(),
			Dir:     info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// Open opens name for random access.
func (l *Local) Open(ctx context.Context, name string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(name))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", name)
	}
	return &fileObject{File: f, size: info.Size()}, nil
}

type fileObject struct {
	*os.File
	size int64
}

func (o *fileObject) Size() int64 { return o.size }
