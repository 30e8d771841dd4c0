package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestOpenClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v; want miss", ok, err)
	}
	if err := c.Put(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, "k", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Put replace failed: %v", err)
	}
	c.Close()

	// Records survive reopening.
	c, err = Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c.Close()
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get(k) = %v, %v", ok, err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("expected replaced record, got %s", got)
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestPragmasApplyToEveryConnection(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "cache.db"))
	cfg.Synchronous = "FULL"
	cfg.CacheSizeKB = 1024
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	// Holding each connection forces the pool to open a new one.
	var conns []*sql.Conn
	for i := 0; i < 3; i++ {
		conn, err := c.db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn %d: %v", i, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}

	want := map[string]int{"synchronous": 2, "cache_size": -1024, "temp_store": 2, "busy_timeout": 5000}
	for i, conn := range conns {
		for pragma, v := range want {
			var got int
			if err := conn.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(&got); err != nil {
				t.Fatalf("conn %d: PRAGMA %s: %v", i, pragma, err)
			}
			if got != v {
				t.Errorf("conn %d: %s = %d, want %d", i, pragma, got, v)
			}
		}
	}
}

func TestConcurrentPut(t *testing.T) {
	ctx := context.Background()
	c, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "cache.db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Put(ctx, fmt.Sprintf("key-%d", i), []byte("v")); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Put: %v", err)
	}
	if n, _ := c.Len(ctx); n != 32 {
		t.Errorf("expected 32 records, got %d", n)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid default config", DefaultConfig("/tmp/cache.db"), false},
		{"empty path", Config{}, true},
		{"bad synchronous", Config{Path: "x.db", Synchronous: "SOMETIMES"}, true},
		{"negative cache size", Config{Path: "x.db", CacheSizeKB: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKey(t *testing.T) {
	mtime := time.Unix(1476450000, 0)
	a := Stamp{Path: "CSARP_standard/20161014_03/Data_20161014_03_001.mat", Size: 100, ModTime: mtime}
	b := Stamp{Path: "CSARP_qlook/20161014_03/Data_20161014_03_001.mat", Size: 50, ModTime: mtime}

	base := Key("1", a, b)
	if Key("1", b, a) != base {
		t.Error("key should not depend on stamp order")
	}

	changed := a
	changed.Size = 101
	tests := []struct {
		name string
		key  string
	}{
		{"size", Key("1", changed, b)},
		{"mtime", Key("1", Stamp{Path: a.Path, Size: a.Size, ModTime: mtime.Add(time.Second)}, b)},
		{"etag", Key("1", Stamp{Path: a.Path, Size: a.Size, ModTime: mtime, ETag: "x"}, b)},
		{"version", Key("2", a, b)},
		{"file set", Key("1", a)},
	}
	for _, tt := range tests {
		if tt.key == base {
			t.Errorf("changing %s should change the key", tt.name)
		}
	}
}
