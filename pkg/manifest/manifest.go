// Package manifest records the size and SHA-256 of every published catalog
// file so a catalog directory can be verified after copying or serving.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thomasteisberg/xopr/pkg/fileutil"
)

// Version is the current manifest format version.
const Version = 1

// FileName is the manifest's name inside the catalog directory.
const FileName = "manifest.json"

// Verification failures.
var (
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Manifest describes the contents of a catalog directory.
type Manifest struct {
	Version     int                 `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	CatalogID   string              `json:"catalog_id"`
	Collections int                 `json:"collections"`
	Items       int64               `json:"items"`
	Files       map[string]FileInfo `json:"files"`
}

// FileInfo describes a single file in the catalog.
type FileInfo struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // SHA-256 hex
}

// Names returns the listed file names, sorted.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Write checksums the named files of dir and atomically writes the manifest
// next to them. Every name must exist.
func Write(dir string, m Manifest, names []string) (*Manifest, error) {
	m.Version = Version
	m.CreatedAt = m.CreatedAt.UTC()
	m.Files = make(map[string]FileInfo, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		checksum, err := checksumFile(path)
		if err != nil {
			return nil, fmt.Errorf("checksum %s: %w", name, err)
		}
		m.Files[name] = FileInfo{Size: info.Size(), Checksum: checksum}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fileutil.WriteFile(filepath.Join(dir, FileName), append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &m, nil
}

// Read reads the manifest of a catalog directory.
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// Verify reads the manifest of dir and checks every listed file. All
// mismatches are reported, joined.
func Verify(dir string) (*Manifest, error) {
	m, err := Read(dir)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, name := range m.Names() {
		if err := verifyFile(filepath.Join(dir, name), m.Files[name]); err != nil {
			errs = append(errs, fmt.Errorf("file %s: %w", name, err))
		}
	}
	return m, errors.Join(errs...)
}

func verifyFile(path string, want FileInfo) error {
	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	if stat.Size() != want.Size {
		return fmt.Errorf("%w (got %d, want %d)", ErrSizeMismatch, stat.Size(), want.Size)
	}
	checksum, err := checksumFile(path)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	if checksum != want.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// checksumFile computes the SHA-256 checksum of a file.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
