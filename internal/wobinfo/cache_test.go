package wobinfo

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/wobterm/schema"
)

type fakeSource struct {
	infoCalls  atomic.Int32
	propCalls  atomic.Int32
	release    chan struct{}
	failInfo   bool
	pngPayload []byte
}

func (f *fakeSource) WobInfo(_ context.Context, id schema.WobID) (schema.WobInfo, error) {
	f.infoCalls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.failInfo {
		return schema.WobInfo{}, schema.ErrConnectivity
	}
	return schema.WobInfo{Success: true, ID: id, Name: "lamp"}, nil
}

func (f *fakeSource) Property(_ context.Context, _ schema.WobID, _ string) (schema.Blob, error) {
	f.propCalls.Add(1)
	return schema.Blob{ContentType: "image/png", Data: f.pngPayload}, nil
}

func TestInfoDeduplicatesConcurrentLookups(t *testing.T) {
	src := &fakeSource{release: make(chan struct{})}
	cache := New(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := cache.Info(context.Background(), 5)
			if err != nil || info.Name != "lamp" {
				t.Errorf("unexpected info %+v err=%v", info, err)
			}
		}()
	}
	// Let every lookup reach the in-flight fetch before it completes.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	if _, err := cache.Info(context.Background(), 5); err != nil {
		t.Fatalf("cached info: %v", err)
	}
	if calls := src.infoCalls.Load(); calls != 1 {
		t.Fatalf("expected de-duplicated fetches, got %d", calls)
	}
	if _, ok := cache.Peek(5); !ok {
		t.Fatalf("expected cached info")
	}
}

func TestInfoFailureNotCached(t *testing.T) {
	src := &fakeSource{failInfo: true}
	cache := New(src, nil)
	if _, err := cache.Info(context.Background(), 1); !errors.Is(err, schema.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if _, ok := cache.Peek(1); ok {
		t.Fatalf("failures must not be cached")
	}
	src.failInfo = false
	if _, err := cache.Info(context.Background(), 1); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if src.infoCalls.Load() != 2 {
		t.Fatalf("expected a second fetch after failure")
	}
}

func TestImageReadsDimensionsOnce(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.White)
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	src := &fakeSource{pngPayload: buf.Bytes()}
	cache := New(src, nil)
	ref := schema.RichRef{Kind: schema.RefImage, ID: 9, Property: "portrait"}

	got, err := cache.Image(context.Background(), ref)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if got.Width != 3 || got.Height != 2 || got.Size() != buf.Len() {
		t.Fatalf("unexpected image %dx%d (%d bytes)", got.Width, got.Height, got.Size())
	}
	if _, err := cache.Image(context.Background(), ref); err != nil {
		t.Fatalf("cached image: %v", err)
	}
	if src.propCalls.Load() != 1 {
		t.Fatalf("expected one property fetch, got %d", src.propCalls.Load())
	}
	cache.Reset()
	if _, ok := cache.PeekImage(ref); ok {
		t.Fatalf("expected reset to drop images")
	}
}

func TestImageRejectsWobRef(t *testing.T) {
	cache := New(&fakeSource{}, nil)
	_, err := cache.Image(context.Background(), schema.RichRef{Kind: schema.RefWob, ID: 1})
	if !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
