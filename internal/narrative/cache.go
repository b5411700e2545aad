package narrative

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Cache stores generated summaries as text files keyed by run ID.
type Cache struct {
	dir    string
	maxAge time.Duration
}

func NewCache(dir string, maxAge time.Duration) *Cache {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("narrative: could not create cache directory: %v", err)
	}
	return &Cache{dir: dir, maxAge: maxAge}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, "summary_"+key+".txt")
}

// Get returns a cached summary unless it is missing or older than maxAge.
func (c *Cache) Get(key string) (string, bool) {
	if !safeKey.MatchString(key) {
		return "", false
	}
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if c.maxAge > 0 && time.Since(info.ModTime()) > c.maxAge {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (c *Cache) Set(key, summary string) error {
	if !safeKey.MatchString(key) {
		return nil
	}
	return os.WriteFile(c.path(key), []byte(summary), 0o644)
}
