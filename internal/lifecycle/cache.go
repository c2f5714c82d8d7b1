// cache.go — кэш размеров директорий для статистики очистки.
// Размер живёт в expirable LRU до истечения TTL или до инвалидации после задачи очистки.
package lifecycle

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// dirSizeCacheSize — число кэшируемых директорий (uploads, quarantine, temp с запасом).
const dirSizeCacheSize = 16

// DirSizeCache — кэш размеров директорий с TTL.
type DirSizeCache struct {
	cache *expirable.LRU[string, int64]
}

// NewDirSizeCache создаёт кэш с временем жизни записи ttl.
func NewDirSizeCache(ttl time.Duration) *DirSizeCache {
	return &DirSizeCache{cache: expirable.NewLRU[string, int64](dirSizeCacheSize, nil, ttl)}
}

// Get возвращает размер директории из кэша.
func (c *DirSizeCache) Get(dir string) (int64, bool) {
	size, ok := c.cache.Get(dir)
	if ok {
		statsCacheHitsTotal.Inc()
		return size, true
	}
	statsCacheMissesTotal.Inc()
	return 0, false
}

// Set запоминает размер директории.
func (c *DirSizeCache) Set(dir string, size int64) {
	c.cache.Add(dir, size)
}

// Invalidate сбрасывает все размеры.
func (c *DirSizeCache) Invalidate() {
	c.cache.Purge()
}
