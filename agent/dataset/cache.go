package dataset

import (
	"fmt"
	"os"
	"sync"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

const defaultCacheEntries = 8

// Cache shares parsed tables between agents of the same turn and across
// turns. An entry is reused only while the file's size and mtime are
// unchanged. Cached tables must be treated as read-only.
type Cache struct {
	mu      sync.Mutex
	maxRows int
	entries map[string]cacheEntry
	order   []string
}

type cacheEntry struct {
	table   *Table
	size    int64
	modTime time.Time
}

func NewCache(maxRows int) *Cache {
	return &Cache{maxRows: maxRows, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Load(ref *contractx.DatasetRef) (*Table, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: no dataset attached", contractx.ErrDataset)
	}
	info, err := os.Stat(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrDataset, err)
	}

	c.mu.Lock()
	if e, ok := c.entries[ref.Path]; ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		c.mu.Unlock()
		return e.table, nil
	}
	c.mu.Unlock()

	table, err := Load(ref, c.maxRows)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[ref.Path]; !ok {
		c.order = append(c.order, ref.Path)
	}
	c.entries[ref.Path] = cacheEntry{table: table, size: info.Size(), modTime: info.ModTime()}
	for len(c.order) > defaultCacheEntries {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	return table, nil
}
