// Package images warms a URL-keyed cache of the alphabet pictures.
package images

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPreloadInProgress is returned when a preload pass is already running.
var ErrPreloadInProgress = errors.New("images: preload already in progress")

// Cache maps image URLs to their bodies.
type Cache struct {
	mu    sync.RWMutex
	items map[string]Image
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]Image)}
}

func (c *Cache) Get(url string) (Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.items[url]
	return img, ok
}

func (c *Cache) Put(img Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[img.URL] = img
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}

// Stats summarizes the cache for health reporting.
type Stats struct {
	Total        int     `json:"total"`
	Preloaded    int     `json:"preloaded"`
	IsPreloading bool    `json:"is_preloading"`
	HitRate      float64 `json:"hit_rate"`
}

// Preloader fetches images into a Cache, at most one pass at a time.
type Preloader struct {
	fetcher     Fetcher
	cache       *Cache
	urls        []string
	concurrency int
	log         *zap.Logger

	preloading atomic.Bool
}

// NewPreloader preloads urls through fetcher with at most concurrency
// fetches in flight.
func NewPreloader(fetcher Fetcher, urls []string, concurrency int, logger *zap.Logger) *Preloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preloader{
		fetcher:     fetcher,
		cache:       NewCache(),
		urls:        append([]string(nil), urls...),
		concurrency: concurrency,
		log:         logger,
	}
}

// PreloadAll fetches every URL not yet cached. Individual failures are
// logged and skipped; only cancellation is returned as an error.
func (p *Preloader) PreloadAll(ctx context.Context) error {
	if !p.preloading.CompareAndSwap(false, true) {
		return ErrPreloadInProgress
	}
	defer p.preloading.Store(false)

	var loaded, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, url := range p.urls {
		if _, ok := p.cache.Get(url); ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			img, err := p.fetcher.Fetch(ctx, url)
			if err != nil {
				failed.Add(1)
				p.log.Warn("image preload failed", zap.String("url", url), zap.Error(err))
				return nil
			}
			p.cache.Put(img)
			loaded.Add(1)
			p.log.Debug("image preloaded", zap.String("url", url), zap.Int("bytes", len(img.Data)))
			return nil
		})
	}
	_ = g.Wait()

	p.log.Info("image preload completed",
		zap.Int32("loaded", loaded.Load()),
		zap.Int32("failed", failed.Load()),
		zap.Int("cached", p.cache.Len()))
	return ctx.Err()
}

// Get returns a cached image.
func (p *Preloader) Get(url string) (Image, bool) {
	return p.cache.Get(url)
}

func (p *Preloader) IsPreloaded(url string) bool {
	_, ok := p.cache.Get(url)
	return ok
}

// ClearCache forgets every cached image.
func (p *Preloader) ClearCache() {
	p.cache.Clear()
	p.log.Info("image cache cleared")
}

func (p *Preloader) Stats() Stats {
	total := len(p.urls)
	n := p.cache.Len()
	var rate float64
	if total > 0 {
		rate = float64(n) / float64(total)
	}
	return Stats{Total: total, Preloaded: n, IsPreloading: p.preloading.Load(), HitRate: rate}
}
