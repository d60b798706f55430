package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// maxImageBytes bounds a single fetched image.
const maxImageBytes = 8 << 20

var (
	ErrNotImage      = errors.New("not an image")
	ErrImageTooLarge = errors.New("image too large")
)

// Image is a cached image body.
type Image struct {
	URL         string
	ContentType string
	Data        []byte
	FetchedAt   time.Time
}

// Fetcher loads the image served at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Image, error)
}

// DirFetcher reads images from an asset tree; the URL path is the file path
// relative to the tree root.
type DirFetcher struct {
	FS fs.FS
}

func (d DirFetcher) Fetch(ctx context.Context, url string) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	name := strings.TrimPrefix(url, "/")
	if !fs.ValidPath(name) {
		return Image{}, fmt.Errorf("invalid asset path %q", url)
	}
	data, err := fs.ReadFile(d.FS, name)
	if err != nil {
		return Image{}, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("%s: %w (over %d bytes)", url, ErrImageTooLarge, maxImageBytes)
	}
	return newImage(url, data)
}

// HTTPFetcher loads images from a remote asset host.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
}

func (h HTTPFetcher) Fetch(ctx context.Context, url string) (Image, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(h.BaseURL, "/")+url, nil)
	if err != nil {
		return Image{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("%s: %w (over %d bytes)", url, ErrImageTooLarge, maxImageBytes)
	}
	return newImage(url, data)
}

func newImage(url string, data []byte) (Image, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("%s: %w (%s)", url, ErrNotImage, mt.String())
	}
	return Image{URL: url, ContentType: mt.String(), Data: data, FetchedAt: time.Now()}, nil
}
