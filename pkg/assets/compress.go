package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
)

// JPEGQuality is used when re-encoding JPEG images
const JPEGQuality = 85

// Compressor shrinks images. Results are cached by content so unchanged images aren't
// re-encoded on every rebuild in watch mode.
type Compressor struct {
	cache    *lru.Cache[string, []byte]
	minifier *minify.M
}

// NewCompressor returns a compressor that remembers up to size results
func NewCompressor(size int) (*Compressor, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create compression cache")
	}

	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)

	return &Compressor{cache: cache, minifier: m}, nil
}

// Compress returns the smaller of data and its compressed form. Unknown formats are returned as is.
func (c *Compressor) Compress(name string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(name))
	sum := sha256.Sum256(data)
	key := ext + ":" + hex.EncodeToString(sum[:])

	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	var compressed []byte
	var err error
	switch ext {
	case ".png":
		compressed, err = compressPNG(data)
	case ".jpg", ".jpeg":
		compressed, err = compressJPEG(data)
	case ".svg":
		compressed, err = c.minifier.Bytes("image/svg+xml", data)
	default:
		return data, nil
	}

	if err != nil {
		return nil, eris.Wrapf(err, "failed to compress %s", name)
	}

	if len(compressed) >= len(data) {
		compressed = data
	}

	c.cache.Add(key, compressed)
	return compressed, nil
}

func compressPNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	err = encoder.Encode(&out, img)
	if err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

func compressJPEG(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	err = jpeg.Encode(&out, img, &jpeg.Options{Quality: JPEGQuality})
	if err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}
