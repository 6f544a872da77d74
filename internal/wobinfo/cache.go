// Package wobinfo lazily fetches and caches the detail behind rich
// references: wob info for wob refs and property blobs for image refs.
//
// Lookups are fire-and-forget from the terminal's point of view. A response
// that lands after the player has moved is still cached and shown; nothing
// guards against that ordering.
package wobinfo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder for DecodeConfig
	_ "image/jpeg" // register decoder for DecodeConfig
	_ "image/png"  // register decoder for DecodeConfig
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/internal/logx"
	"pkt.systems/wobterm/schema"
)

// Source is the server surface used for hydration.
type Source interface {
	WobInfo(ctx context.Context, id schema.WobID) (schema.WobInfo, error)
	Property(ctx context.Context, id schema.WobID, name string) (schema.Blob, error)
}

// Image is a fetched image property.
type Image struct {
	ContentType string
	Width       int
	Height      int
	Data        []byte
}

// Size returns the payload size in bytes.
func (i Image) Size() int {
	return len(i.Data)
}

type imageKey struct {
	id   schema.WobID
	prop string
}

// Cache de-duplicates concurrent lookups per reference and keeps successful
// results for the life of the session. Failures are not cached.
type Cache struct {
	src   Source
	group singleflight.Group
	log   pslog.Logger

	mu     sync.RWMutex
	infos  map[schema.WobID]schema.WobInfo
	images map[imageKey]Image
}

// New returns an empty cache over src.
func New(src Source, logger pslog.Logger) *Cache {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Cache{
		src:    src,
		log:    logger,
		infos:  make(map[schema.WobID]schema.WobInfo),
		images: make(map[imageKey]Image),
	}
}

// Peek returns cached info without fetching.
func (c *Cache) Peek(id schema.WobID) (schema.WobInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[id]
	return info, ok
}

// Info returns wob info, fetching it once per id.
func (c *Cache) Info(ctx context.Context, id schema.WobID) (schema.WobInfo, error) {
	if info, ok := c.Peek(id); ok {
		return info, nil
	}
	v, err, shared := c.group.Do("info:"+strconv.FormatInt(int64(id), 10), func() (any, error) {
		info, err := c.src.WobInfo(ctx, id)
		if err != nil {
			return schema.WobInfo{}, err
		}
		c.mu.Lock()
		c.infos[id] = info
		c.mu.Unlock()
		return info, nil
	})
	log := logx.WithWob(c.log, id)
	if err != nil {
		log.Debug("wob info fetch failed", "err", err)
		return schema.WobInfo{}, err
	}
	log.Trace("wob info fetched", "shared", shared)
	return v.(schema.WobInfo), nil
}

// PeekImage returns a cached image without fetching.
func (c *Cache) PeekImage(ref schema.RichRef) (Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[imageKey{id: ref.ID, prop: ref.Property}]
	return img, ok
}

// Image returns the image behind ref, fetching it once per (id, property).
func (c *Cache) Image(ctx context.Context, ref schema.RichRef) (Image, error) {
	if ref.Kind != schema.RefImage || ref.Property == "" {
		return Image{}, fmt.Errorf("%w: not an image reference", schema.ErrInvalidRequest)
	}
	if img, ok := c.PeekImage(ref); ok {
		return img, nil
	}
	key := imageKey{id: ref.ID, prop: ref.Property}
	v, err, _ := c.group.Do("image:"+strconv.FormatInt(int64(ref.ID), 10)+":"+ref.Property, func() (any, error) {
		blob, err := c.src.Property(ctx, ref.ID, ref.Property)
		if err != nil {
			return Image{}, err
		}
		img := Image{ContentType: blob.ContentType, Data: blob.Data}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(blob.Data)); err == nil {
			img.Width = cfg.Width
			img.Height = cfg.Height
		}
		c.mu.Lock()
		c.images[key] = img
		c.mu.Unlock()
		return img, nil
	})
	if err != nil {
		logx.WithWob(c.log, ref.ID).Debug("image fetch failed", "prop", ref.Property, "err", err)
		return Image{}, err
	}
	return v.(Image), nil
}

// Reset drops everything cached, for example after logging in as someone else.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.infos = make(map[schema.WobID]schema.WobInfo)
	c.images = make(map[imageKey]Image)
	c.mu.Unlock()
}
