package github

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache("", 0)
	defer func() { _ = c.Close() }()

	if _, ok := c.Get("u"); ok {
		t.Fatalf("empty cache should miss")
	}
	c.Put("u", `"abc"`, []byte(`[1,2]`), map[string]string{"Content-Type": "application/json"})
	e, ok := c.Get("u")
	if !ok || string(e.Body) != `[1,2]` || e.ETag != `"abc"` {
		t.Fatalf("entry = %+v ok=%v", e, ok)
	}

	// copies on read: mutating the returned body must not touch the cache
	e.Body[0] = 'X'
	e2, _ := c.Get("u")
	if string(e2.Body) != `[1,2]` {
		t.Fatalf("cache body mutated through a read copy")
	}
}

func TestCacheNote304(t *testing.T) {
	c := NewCache("", 0)
	defer func() { _ = c.Close() }()

	if c.Note304("missing") {
		t.Fatalf("304 for unknown url should report false")
	}
	c.Put("u", `"e"`, []byte("x"), nil)
	before, _ := c.Get("u")
	if !c.Note304("u") {
		t.Fatalf("304 with stored body should succeed")
	}
	after, _ := c.Get("u")
	if after.FetchedAt.Before(before.FetchedAt) {
		t.Fatalf("304 must refresh fetched_at")
	}
	if string(after.Body) != "x" {
		t.Fatalf("304 must not change the body")
	}
}

func TestCachePersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c := NewCache(path, 0)
	c.Put("https://api/x", `"tag"`, []byte(`{"a":1}`), map[string]string{"ETag": `"tag"`})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// the document on disk is a single JSON object keyed by URL
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]CacheEntry
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("document not valid JSON: %v", err)
	}
	if _, ok := doc["https://api/x"]; !ok {
		t.Fatalf("document missing entry: %v", doc)
	}

	// restart: same etag and body come back
	c2 := NewCache(path, 0)
	defer func() { _ = c2.Close() }()
	if got := c2.ETag("https://api/x"); got != `"tag"` {
		t.Fatalf("etag after restart = %q", got)
	}
	e, ok := c2.Get("https://api/x")
	if !ok || string(e.Body) != `{"a":1}` {
		t.Fatalf("body after restart = %+v ok=%v", e, ok)
	}
}

func TestCacheCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c := NewCache(path, 0)
	defer func() { _ = c.Close() }()
	if c.Len() != 0 {
		t.Fatalf("corrupt document should load as empty, got %d entries", c.Len())
	}
}

func TestCacheFlushCleanSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := NewCache(path, 0)
	defer func() { _ = c.Close() }()
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("clean cache should not write a file")
	}
}

func TestFlushFailureKeepsEntriesMarked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	// occupy the target path with a directory so the rename cannot land
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	c := NewCache(path, 0)
	c.Put("u", `"e1"`, []byte(`{"n":1}`), nil)
	if err := c.Flush(); err == nil {
		t.Fatalf("flush over a directory must fail")
	}

	// clear the obstruction; the retried flush must still see the entry dirty
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	c2 := NewCache(path, 0)
	e, ok := c2.Get("u")
	if !ok || string(e.Body) != `{"n":1}` {
		t.Fatalf("entry after failed-then-retried flush = %+v ok=%v", e, ok)
	}
}
