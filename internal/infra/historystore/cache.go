package historystore

import (
	"sync"

	"taskhistory/internal/domain/history"

	lru "github.com/hashicorp/golang-lru/v2"
)

// itemCache holds decoded items by id. Entries are never expired; callers
// invalidate explicitly.
type itemCache interface {
	Get(id string) (history.HistoryItem, bool)
	Add(item history.HistoryItem)
	Remove(id string)
	Purge()
	Len() int
}

// newItemCache returns an unbounded map cache when maxItems <= 0, otherwise an
// LRU holding at most maxItems entries.
func newItemCache(maxItems int) (itemCache, error) {
	if maxItems <= 0 {
		return &mapCache{items: make(map[string]history.HistoryItem)}, nil
	}
	cache, err := lru.New[string, history.HistoryItem](maxItems)
	if err != nil {
		return nil, err
	}
	return &lruCache{cache: cache}, nil
}

type mapCache struct {
	mu    sync.RWMutex
	items map[string]history.HistoryItem
}

func (c *mapCache) Get(id string) (history.HistoryItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

func (c *mapCache) Add(item history.HistoryItem) {
	c.mu.Lock()
	c.items[item.ID] = item
	c.mu.Unlock()
}

func (c *mapCache) Remove(id string) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

func (c *mapCache) Purge() {
	c.mu.Lock()
	c.items = make(map[string]history.HistoryItem)
	c.mu.Unlock()
}

func (c *mapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

type lruCache struct {
	cache *lru.Cache[string, history.HistoryItem]
}

func (c *lruCache) Get(id string) (history.HistoryItem, bool) {
	return c.cache.Get(id)
}

func (c *lruCache) Add(item history.HistoryItem) {
	c.cache.Add(item.ID, item)
}

func (c *lruCache) Remove(id string) {
	c.cache.Remove(id)
}

func (c *lruCache) Purge() {
	c.cache.Purge()
}

func (c *lruCache) Len() int {
	return c.cache.Len()
}
