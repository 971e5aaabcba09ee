package catalog

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/registration/internal/port"
)

const (
	DefaultExpiration = 1 * time.Hour
	loadedMarker      = "\x00loaded"
	maxPages          = 1000
)

var _ port.CatalogClient = (*CachedClient)(nil)

type pageFetcher interface {
	FetchIsoCategories(ctx context.Context, page, size int) (*Page, error)
}

// CachedClient answers lookups from an in-memory copy of the catalog that
// is reloaded in full once it expires.
type CachedClient struct {
	source   pageFetcher
	cache    *gocache.Cache
	ttl      time.Duration
	pageSize int
	group    singleflight.Group
	log      *slog.Logger
}

func NewCachedClient(source pageFetcher, ttl time.Duration, pageSize int, log *slog.Logger) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedClient{
		source:   source,
		cache:    gocache.New(ttl, 2*ttl),
		ttl:      ttl,
		pageSize: pageSize,
		log:      log.With(slog.String("component", "catalog")),
	}
}

func (c *CachedClient) IsoCategoryExists(ctx context.Context, code string) (bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return false, err
	}
	_, found := c.cache.Get(code)
	return found, nil
}

// Lookup returns the category for code if the catalog knows it.
func (c *CachedClient) Lookup(ctx context.Context, code string) (IsoCategory, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return IsoCategory{}, false, err
	}
	v, found := c.cache.Get(code)
	if !found {
		return IsoCategory{}, false, nil
	}
	cat, ok := v.(IsoCategory)
	return cat, ok, nil
}

func (c *CachedClient) ensureLoaded(ctx context.Context) error {
	if _, ok := c.cache.Get(loadedMarker); ok {
		return nil
	}
	_, err, _ := c.group.Do("load", func() (any, error) {
		if _, ok := c.cache.Get(loadedMarker); ok {
			return nil, nil
		}
		return nil, c.load(ctx)
	})
	return err
}

func (c *CachedClient) load(ctx context.Context) error {
	start := time.Now()
	total := 0
	for page := 0; page < maxPages; page++ {
		p, err := c.source.FetchIsoCategories(ctx, page, c.pageSize)
		if err != nil {
			return err
		}
		for _, cat := range p.Content {
			c.cache.Set(cat.Code, cat, c.ttl)
		}
		total += len(p.Content)
		if p.Last || len(p.Content) == 0 {
			break
		}
	}
	// The marker expires slightly before the entries so a reload never
	// races an eviction.
	c.cache.Set(loadedMarker, true, c.ttl-c.ttl/10)
	c.log.Info("iso categories loaded", slog.Int("count", total), slog.Duration("took", time.Since(start)))
	return nil
}
