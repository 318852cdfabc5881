package generator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"quizquest/internal/domain/creation"
)

// Cache stores generated creations on disk keyed by the hash of their source
// text, so pasting the same material twice costs one model call.
type Cache struct {
	cacheDir string
	maxAge   time.Duration
	next     Generator
}

// cachedCreation is the on-disk record
type cachedCreation struct {
	Creation    creation.Creation `json:"creation"`
	LastUpdated time.Time         `json:"last_updated"`
}

func NewCache(cacheDir string, maxAge time.Duration, next Generator) *Cache {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logrus.WithError(err).Warn("Failed to create cache directory")
	}

	return &Cache{
		cacheDir: cacheDir,
		maxAge:   maxAge,
		next:     next,
	}
}

// Generate returns the cached creation when fresh. Otherwise it asks the
// wrapped generator and, if that fails, falls back to a stale entry.
func (gc *Cache) Generate(ctx context.Context, req Request) (*creation.Creation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	file := gc.cacheFile(req)
	if gc.isCacheFresh(file) {
		if c, err := gc.loadFromCache(file); err == nil {
			logrus.WithField("id", c.ID).Debug("Loaded creation from cache")
			return c, nil
		}
	}

	c, err := gc.next.Generate(ctx, req)
	if err != nil {
		logrus.WithError(err).Warn("Generation failed, trying stale cache")
		if cached, cacheErr := gc.loadFromCache(file); cacheErr == nil {
			return cached, nil
		}
		return nil, err
	}

	if err := gc.saveToCache(file, c); err != nil {
		logrus.WithError(err).Warn("Failed to save to cache")
	}
	return c, nil
}

func (gc *Cache) cacheFile(req Request) string {
	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentTypeText
	}
	sum := blake3.Sum256([]byte(contentType + "\x00" + req.Content))
	return filepath.Join(gc.cacheDir, hex.EncodeToString(sum[:])+".json")
}

func (gc *Cache) isCacheFresh(file string) bool {
	info, err := os.Stat(file)
	if err != nil {
		return false
	}

	return time.Since(info.ModTime()) < gc.maxAge
}

func (gc *Cache) loadFromCache(file string) (*creation.Creation, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	var cached cachedCreation
	if err := json.NewDecoder(f).Decode(&cached); err != nil {
		return nil, fmt.Errorf("failed to decode cache file: %w", err)
	}
	return &cached.Creation, nil
}

func (gc *Cache) saveToCache(file string, c *creation.Creation) error {
	cached := cachedCreation{
		Creation:    *c,
		LastUpdated: time.Now(),
	}

	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cached); err != nil {
		return fmt.Errorf("failed to encode cache data: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"id":   c.ID,
		"file": file,
	}).Debug("Saved creation to cache")
	return nil
}

// Close releases the wrapped generator.
func (gc *Cache) Close() error {
	if gc.next == nil {
		return nil
	}
	return Close(gc.next)
}

// ClearCache removes every cached creation
func (gc *Cache) ClearCache() error {
	entries, err := os.ReadDir(gc.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(gc.cacheDir, e.Name())); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	logrus.Info("Cleared generation cache")
	return nil
}

// GetCacheInfo returns information about the cache
func (gc *Cache) GetCacheInfo() (map[string]interface{}, error) {
	info := make(map[string]interface{})

	entries, err := os.ReadDir(gc.cacheDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	var files, size int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if stat, err := e.Info(); err == nil {
			files++
			size += stat.Size()
		}
	}

	info["cache_directory"] = gc.cacheDir
	info["cached_creations"] = files
	info["size"] = size
	info["max_age_hours"] = gc.maxAge.Hours()
	return info, nil
}
