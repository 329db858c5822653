package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tokudb-go/cachetable/internal/bytesize"
)

// fakeDisk is an in-memory backing store for tests: fetch/flush/clone
// callbacks read and write pages keyed by BlockKey against it, so tests
// can assert on what actually reached "disk" independent of the cache's
// in-memory state.
type flushCall struct {
	key                                 BlockKey
	write, keep, forCheckpoint, isClone bool
}

type fakeDisk struct {
	mu    sync.Mutex
	pages map[BlockKey][]byte

	flushDelay chan struct{} // if non-nil, flush blocks until this is closed
	flushCount int
	calls      []flushCall
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{pages: make(map[BlockKey][]byte)}
}

func (d *fakeDisk) fetch(_ context.Context, _ *Cachefile, key BlockKey, hash uint64, _ any) (any, any, Attr, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	page, ok := d.pages[key]
	if !ok {
		page = make([]byte, 4)
	}
	cp := append([]byte(nil), page...)
	return cp, nil, Attr{Size: uint32(len(cp))}, false, nil
}

func (d *fakeDisk) flush(_ context.Context, _ *Cachefile, key BlockKey, value any, _ any, _ any, _ Attr, write, keep, forCheckpoint, isClone, _ bool) (Attr, error) {
	if d.flushDelay != nil {
		<-d.flushDelay
	}
	buf, _ := value.([]byte)

	d.mu.Lock()
	d.calls = append(d.calls, flushCall{key: key, write: write, keep: keep, forCheckpoint: forCheckpoint, isClone: isClone})
	if write {
		d.pages[key] = append([]byte(nil), buf...)
		d.flushCount++
	}
	d.mu.Unlock()

	return Attr{Size: uint32(len(buf))}, nil
}

func (d *fakeDisk) callsFor(key BlockKey) []flushCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []flushCall
	for _, c := range d.calls {
		if c.key == key {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDisk) clone(value any, oldAttr Attr, forCheckpoint bool, extra any) (any, Attr, error) {
	buf, _ := value.([]byte)
	cp := append([]byte(nil), buf...)
	return cp, oldAttr, nil
}

func (d *fakeDisk) get(key BlockKey) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.pages[key]...)
}

func (d *fakeDisk) flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushCount
}

func (d *fakeDisk) callbacks() PairCallbacks {
	return PairCallbacks{Flush: d.flush, Clone: d.clone}
}

func testCachefile(t *testing.T, c *Cache) *Cachefile {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("file-%d.db", os.Getpid()))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create backing file: %v", err)
	}
	f.Close()

	cf, err := c.OpenFile(path, os.O_RDWR, 0o644, NopFileCallbacks{})
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	return cf
}

func testCache(t *testing.T, sizeLimit uint64) *Cache {
	t.Helper()
	c := Create(Config{SizeLimit: bytesize.ByteSize(sizeLimit)})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func statPath(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
