package classifier

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Cache is the persisted Signature Cache: Map<SourcePath ->
// SignatureHash>, stored as one `<path>|<base64>` line per entry so it
// survives a host reload.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// NewCache loads an existing cache file at path, if any, or starts empty.
func NewCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: map[string]string{}}
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("classifier: opening signature cache %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.LastIndex(line, "|")
		if idx < 0 {
			continue
		}
		c.entries[line[:idx]] = line[idx+1:]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("classifier: reading signature cache %s: %w", path, err)
	}
	return c, nil
}

// Get returns the cached hash for sourcePath, if any.
func (c *Cache) Get(sourcePath string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[sourcePath]
	return h, ok
}

// Put records hash for sourcePath and persists the cache (if backed by a file).
func (c *Cache) Put(sourcePath, hash string) {
	c.mu.Lock()
	c.entries[sourcePath] = hash
	c.mu.Unlock()
	_ = c.flush()
}

// Forget removes a cached signature, e.g. when a stale replay record for
// that path is discarded.
func (c *Cache) Forget(sourcePath string) {
	c.mu.Lock()
	delete(c.entries, sourcePath)
	c.mu.Unlock()
	_ = c.flush()
}

// Snapshot returns a copy of the cache contents for diagnostics.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *Cache) flush() error {
	if c.path == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("classifier: writing signature cache: %w", err)
	}
	w := bufio.NewWriter(f)
	for path, hash := range c.entries {
		if _, err := fmt.Fprintf(w, "%s|%s\n", path, hash); err != nil {
			f.Close()
			return fmt.Errorf("classifier: writing signature cache: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("classifier: flushing signature cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("classifier: closing signature cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}
