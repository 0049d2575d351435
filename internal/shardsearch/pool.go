// Package shardsearch runs one SQL statement over many minute shard files
// and renders the rows the way the sqlite3 shell does in list mode, so the
// native engine is a drop-in replacement for `parallel sqlite3`.
package shardsearch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Pool manages read-only SQLite handles to shard files.
type Pool struct {
	mu sync.Mutex

	// handles maps shard paths to their open handle
	handles map[string]*handle

	// maxOpen bounds the number of open shard handles
	maxOpen int

	closed bool
}

type handle struct {
	db       *sql.DB
	refCount int
}

// NewPool creates a pool holding at most maxOpen shard handles.
func NewPool(maxOpen int) *Pool {
	if maxOpen <= 0 {
		maxOpen = 64
	}
	return &Pool{
		handles: make(map[string]*handle),
		maxOpen: maxOpen,
	}
}

// Get returns a handle for the shard at path, opening it if needed. The
// caller must call Release when done.
func (p *Pool) Get(ctx context.Context, path string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("shardsearch: pool is closed")
	}
	if h, ok := p.handles[path]; ok {
		h.refCount++
		return h.db, nil
	}
	if len(p.handles) >= p.maxOpen && !p.evictIdle() {
		return nil, fmt.Errorf("shardsearch: maximum open shards reached (%d)", p.maxOpen)
	}

	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	p.handles[path] = &handle{db: db, refCount: 1}
	return db, nil
}

// Release returns a handle obtained from Get.
func (p *Pool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[path]; ok && h.refCount > 0 {
		h.refCount--
	}
}

// Open returns the number of open handles.
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close closes every handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var lastErr error
	for path, h := range p.handles {
		if err := h.db.Close(); err != nil {
			lastErr = err
		}
		delete(p.handles, path)
	}
	return lastErr
}

// open opens a shard read-only. A missing file fails here rather than on
// the first query because read-only mode never creates files.
func open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// evictIdle closes one unreferenced handle. Must be called with the lock
// held.
func (p *Pool) evictIdle() bool {
	for path, h := range p.handles {
		if h.refCount == 0 {
			h.db.Close()
			delete(p.handles, path)
			return true
		}
	}
	return false
}
