// Package source lists and opens files under a data root, either a local
// directory or an S3 prefix.
package source

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one directory listing entry.
type Entry struct {
	Name    string
	Dir     bool
	Size    int64
	ModTime time.Time
	// ETag is set by object stores and empty for local files.
	ETag string
}

// Object is an opened file supporting random access.
type Object interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Source is a read-only view of a data root. Names are slash separated and
// relative to the root; "" is the root itself. Missing directories and files
// yield errors matching fs.ErrNotExist.
type Source interface {
	ReadDir(ctx context.Context, dir string) ([]Entry, error)
	Open(ctx context.Context, name string) (Object, error)
	// URI returns the location of name for display.
	URI(name string) string
}

// Open returns the source for a data root: an s3:// URI or a local path.
func Open(ctx context.Context, root string, cfg DownloaderConfig) (Source, error) {
	if strings.HasPrefix(root, "s3://") {
		return NewS3FromDefaultConfig(ctx, root, cfg)
	}
	return NewLocal(root)
}

// Join joins name elements with slashes.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}
