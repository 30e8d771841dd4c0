// Package fileutil publishes output files with tmp+fsync+rename semantics so
// readers only ever observe complete files.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thomasteisberg/xopr/pkg/logging"
)

// TmpSuffix marks unpublished files.
const TmpSuffix = ".tmp"

// TmpPath returns the temporary path used while writing outPath.
func TmpPath(tmpDir, outPath string) string {
	return filepath.Join(tmpDir, filepath.Base(outPath)+TmpSuffix)
}

// WriteTmpThenMove writes to a temporary file then atomically moves it to the final path.
// The writeFunc receives the temporary path and should write the complete file.
// On success, the file is moved to outPath atomically and the directory entry is synced.
// On failure, outPath is left untouched.
func WriteTmpThenMove(tmpDir, outPath string, writeFunc func(tmpPath string) error) error {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}

	tmpPath := TmpPath(tmpDir, outPath)

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	outDir := filepath.Dir(outPath)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	if err := SyncDir(outDir); err != nil {
		return fmt.Errorf("sync output dir: %w", err)
	}
	return nil
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte) error {
	return WriteTmpThenMove(filepath.Dir(path), path, func(tmpPath string) error {
		return os.WriteFile(tmpPath, data, 0644)
	})
}

// syncFile opens, syncs, and closes a file.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// SyncDir fsyncs a directory to ensure entries are persisted.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Sync()
}

// CleanupTmpFiles removes leftover temporary files in dir. With names, only
// the temporaries of those output files are removed; without, every .tmp
// file under dir is.
func CleanupTmpFiles(dir string, names ...string) error {
	log := logging.L()

	var removed int
	if len(names) > 0 {
		for _, name := range names {
			err := os.Remove(TmpPath(dir, name))
			if err == nil {
				removed++
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("remove stale tmp for %s: %w", name, err)
			}
		}
	} else {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				// Continue walking even if individual paths fail
				return nil //nolint:nilerr
			}
			if !info.IsDir() && strings.HasSuffix(path, TmpSuffix) {
				if rmErr := os.Remove(path); rmErr == nil {
					removed++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if removed > 0 {
		log.Debug().Int("files_removed", removed).Str("dir", dir).Msg("cleaned up tmp files")
	}
	return nil
}
