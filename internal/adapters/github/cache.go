// Package github provides the typed remote client for the hosting API along
// with its conditional request cache and rate governed transport
package github

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"
)

// CacheEntry is one cached response keyed by request URL
type CacheEntry struct {
	ETag      string            `json:"etag"`
	Body      []byte            `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Cache keeps ETag and body per URL so repeat GETs go out conditional.
// The whole mapping persists as one JSON document; a flush writes a temporary
// sibling and renames it into place so restarts keep 304 semantics
type Cache struct {
	path string
	log  logger.Logger

	mu      sync.Mutex
	entries map[string]CacheEntry
	dirty   bool
	gen     uint64 // bumped on every mutation so Flush can tell stale snapshots apart

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewCache loads the document at path when present. A positive flushEvery
// starts a background flusher; otherwise flushing happens only on Flush/Close.
// An empty path keeps the cache memory only
func NewCache(path string, flushEvery time.Duration) *Cache {
	c := &Cache{
		path:    path,
		log:     *logger.Named("httpcache"),
		entries: make(map[string]CacheEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if path != "" {
		if err := c.load(); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("cache load failed, starting empty")
		}
	}
	if path != "" && flushEvery > 0 {
		go c.flusher(flushEvery)
	} else {
		close(c.done)
	}
	return c
}

func (c *Cache) load() error {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	m := make(map[string]CacheEntry)
	if err := json.Unmarshal(b, &m); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "cache document corrupt")
	}
	c.mu.Lock()
	c.entries = m
	c.mu.Unlock()
	return nil
}

// ETag returns the stored validator for url, if any
func (c *Cache) ETag(url string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[url].ETag
}

// Get returns a copy of the entry for url. Entries without a body are never
// served as results
func (c *Cache) Get(url string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok || len(e.Body) == 0 {
		return CacheEntry{}, false
	}
	cp := e
	cp.Body = append([]byte(nil), e.Body...)
	if e.Headers != nil {
		cp.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			cp.Headers[k] = v
		}
	}
	return cp, true
}

// Put stores a fresh 200 response for url
func (c *Cache) Put(url, etag string, body []byte, headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = CacheEntry{
		ETag:      etag,
		Body:      append([]byte(nil), body...),
		Headers:   headers,
		FetchedAt: time.Now().UTC(),
	}
	c.dirty = true
	c.gen++
}

// Note304 refreshes fetched_at after a 304. When the stored entry has no body
// the entry is evicted so the next request fetches a fresh copy
func (c *Cache) Note304(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok {
		return false
	}
	if len(e.Body) == 0 {
		delete(c.entries, url)
		c.dirty = true
		c.gen++
		return false
	}
	e.FetchedAt = time.Now().UTC()
	c.entries[url] = e
	c.dirty = true
	c.gen++
	return true
}

// Drop evicts one URL
func (c *Cache) Drop(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; ok {
		delete(c.entries, url)
		c.dirty = true
		c.gen++
	}
}

// Len reports the number of cached URLs
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush persists the mapping atomically. The snapshot is taken under the lock
// and written outside it; dirty clears only once the rename lands, so a failed
// write leaves the data marked for the next flush
func (c *Cache) Flush() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	snap := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		snap[k] = v
	}
	gen := c.gen
	c.mu.Unlock()

	b, err := json.Marshal(snap)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "cache marshal failed")
	}
	tmp := c.path + ".part"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	c.mu.Lock()
	if c.gen == gen {
		c.dirty = false
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) flusher(every time.Duration) {
	defer close(c.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if err := c.Flush(); err != nil {
				c.log.Error().Err(err).Msg("periodic cache flush failed")
			}
		}
	}
}

// Close stops the flusher and writes a final snapshot
func (c *Cache) Close() error {
	c.once.Do(func() { close(c.stop) })
	<-c.done
	return c.Flush()
}
