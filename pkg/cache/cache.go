// Package cache persists extracted granule records in SQLite keyed by a
// content fingerprint, so unchanged granules are not decoded again.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thomasteisberg/xopr/pkg/logging"
	_ "modernc.org/sqlite"
)

// Config holds configuration for the granule cache.
type Config struct {
	// Path is the SQLite database file.
	Path string
	// Synchronous sets the SQLite synchronous pragma: OFF, NORMAL or FULL.
	Synchronous string
	// CacheSizeKB is the SQLite page cache size in KB.
	CacheSizeKB int
}

// DefaultConfig returns the default configuration for a database path.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		Synchronous: "NORMAL",
		CacheSizeKB: 65536, // 64MB
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("Path is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("CacheSizeKB must be non-negative, got %d", c.CacheSizeKB)
	}
	return nil
}

// Cache is a content-addressed record store. It is safe for concurrent use.
type Cache struct {
	db  *sql.DB
	cfg Config

	// writeMu serializes writers; readers go straight to the pool.
	writeMu sync.Mutex
}

// Open creates or opens the cache database.
func Open(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logging.WithPhase("cache_open")

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS granules (
		key        TEXT PRIMARY KEY,
		record     BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Debug().Str("path", cfg.Path).Msg("granule cache opened")
	return &Cache{db: db, cfg: cfg}, nil
}

// dsn carries every pragma as a _pragma parameter, which the driver applies
// to each pooled connection it opens.
func dsn(cfg Config) string {
	pragmas := []string{"busy_timeout(5000)", "journal_mode(WAL)", "temp_store(MEMORY)"}
	if cfg.Synchronous != "" {
		pragmas = append(pragmas, "synchronous("+cfg.Synchronous+")")
	}
	if cfg.CacheSizeKB > 0 {
		pragmas = append(pragmas, "cache_size(-"+strconv.Itoa(cfg.CacheSizeKB)+")")
	}
	return "file:" + cfg.Path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Get returns the record stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec []byte
	err := c.db.QueryRowContext(ctx, "SELECT record FROM granules WHERE key = ?", key).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, true, nil
}

// Put stores a record, replacing any previous one under key.
func (c *Cache) Put(ctx context.Context, key string, record []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO granules (key, record, created_at) VALUES (?, ?, ?)",
		key, record, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Len returns the number of stored records.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM granules").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// Stamp identifies one input file's content.
type Stamp struct {
	Path    string
	Size    int64
	ModTime time.Time
	ETag    string
}

// Key fingerprints a set of input files and the version of the code that
// derives records from them. Stamp order does not matter.
func Key(version string, stamps ...Stamp) string {
	sorted := append([]Stamp(nil), stamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	fmt.Fprintf(h, "v=%s\n", version)
	for _, s := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s\n", s.Path, s.Size, s.ModTime.UnixNano(), s.ETag)
	}
	return hex.EncodeToString(h.Sum(nil))
}
