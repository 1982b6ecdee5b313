package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
	"golang.org/x/sync/singleflight"
)

// DecodeError reports a single file that could not be read or decoded.
// It is recoverable: the caller skips every pair that needs the file.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Image is a decoded file together with the identity used for caching.
type Image struct {
	// Path is the file the image was read from.
	Path string

	// Digest is the hex SHA-256 of the file contents. Two paths with the
	// same bytes share a digest.
	Digest string

	// Pixels is the decoded raster in its native color model.
	Pixels image.Image
}

// Name returns the base file name of the image.
func (i *Image) Name() string {
	return filepath.Base(i.Path)
}

// ImageCache provides thread-safe caching of loaded images to avoid redundant
// disk reads and decodes.
//
// Each path is decoded at most once, even when many goroutines ask for it at
// the same moment: concurrent callers for the same path wait on a single
// decode, callers for other paths proceed independently. Failures are cached
// too, so a corrupt file is reported once rather than once per pair.
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/path/to/image.png")
//	if err != nil {
//	    var decodeErr *imaging.DecodeError
//	    if errors.As(err, &decodeErr) { ... }
//	}
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]*Image
	errs   map[string]error
	group  singleflight.Group
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]*Image),
		errs:   make(map[string]error),
	}
}

// Load retrieves an image from the cache or reads and decodes it from disk.
//
// Supported formats are PNG, JPEG, GIF, BMP, TIFF, WebP, HEIC/HEIF and PDF
// (first page). EXIF orientation is applied for JPEG files.
//
// # Errors
//
// Every failure is returned as a *DecodeError and remembered; subsequent
// calls for the same path return the same error without touching the disk.
func (c *ImageCache) Load(path string) (*Image, error) {
	if img, ok, err := c.lookup(path); ok {
		return img, err
	}

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		// A previous flight may have finished between lookup and Do.
		if img, ok, err := c.lookup(path); ok {
			return img, err
		}

		img, err := decodeFile(path)

		c.mu.Lock()
		if err != nil {
			c.errs[path] = err
		} else {
			c.images[path] = img
		}
		c.mu.Unlock()

		return img, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Image), nil
}

func (c *ImageCache) lookup(path string) (*Image, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if img, ok := c.images[path]; ok {
		return img, true, nil
	}
	if err, ok := c.errs[path]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

// Evict removes a specific image (or remembered failure) from the cache.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	delete(c.errs, path)
	c.mu.Unlock()
}

// Clear removes all images from the cache, freeing the associated memory.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]*Image)
	c.errs = make(map[string]error)
	c.mu.Unlock()
}

// Len returns the number of successfully decoded images held by the cache.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

func decodeFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("failed to read file: %w", err)}
	}

	pixels, err := Decode(data)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	sum := sha256.Sum256(data)
	return &Image{
		Path:   path,
		Digest: hex.EncodeToString(sum[:]),
		Pixels: pixels,
	}, nil
}

// Decode decodes raw file contents, sniffing HEIC and PDF containers before
// falling back to the registered standard decoders.
func Decode(data []byte) (image.Image, error) {
	switch {
	case isHEIC(data):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC/HEIF: %w", err)
		}
		return img, nil
	case isPDF(data):
		return renderPDF(data)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image has empty bounds %v", b)
	}
	return img, nil
}

// isHEIC checks for an ISO-BMFF ftyp box with a HEIC-family brand.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// renderPDF rasterizes the first page of a scanned archive document.
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF page: %w", err)
	}
	return img, nil
}

// supportedExt lists the extensions picked up by ListImages.
var supportedExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".heic": true,
	".heif": true,
	".pdf":  true,
}

// ListImages returns the image files directly inside dir, sorted by name.
//
// Sub-directories, hidden files and files with an unrecognised extension are
// skipped. Files are not opened, so a corrupt image still appears in the list
// and surfaces later as a DecodeError.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if !supportedExt[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}
