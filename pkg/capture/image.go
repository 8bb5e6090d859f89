// Package capture obtains still images for recognition.
//
// Images come from a live preview bound to a Session, from a delegated
// capture application (ExternalApp), from bytes posted back by a client, or
// from the screen. Every path produces an *Image holding PNG bytes and an
// average hash for spotting repeated scenes.
package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Source identifies where an image came from.
type Source string

const (
	SourcePreview  Source = "preview"
	SourceExternal Source = "external"
	SourceUpload   Source = "upload"
	SourceScreen   Source = "screen"
)

// DuplicateDistance is the largest average-hash distance at which two
// captures are considered the same scene.
const DuplicateDistance = 4

// Image is a captured still.
type Image struct {
	ID         string    `json:"id"`
	Source     Source    `json:"source"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`

	// PNG holds the encoded image handed to the recognizer.
	PNG []byte `json:"-"`

	hash *goimagehash.ImageHash
}

// NewImage wraps a decoded image, encoding it to PNG and hashing it.
func NewImage(img image.Image, source Source) (*Image, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	hash, err := goimagehash.AverageHash(img)
	if err != nil {
		return nil, fmt.Errorf("hash image: %w", err)
	}

	return &Image{
		ID:         uuid.NewString(),
		Source:     source,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
		PNG:        buf.Bytes(),
		hash:       hash,
	}, nil
}

// Decode decodes PNG, JPEG, GIF, BMP or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// FromBytes decodes data and wraps it as an Image, scaling it down so the
// long side is at most maxSide pixels. A maxSide of 0 keeps the original size.
func FromBytes(data []byte, source Source, maxSide int) (*Image, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return NewImage(Thumbnail(img, maxSide), source)
}

// Thumbnail scales img so its long side is at most maxSide pixels.
// Images already within bounds are returned unchanged.
func Thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}

	var tw, th int
	if w >= h {
		tw = maxSide
		th = h * maxSide / w
	} else {
		th = maxSide
		tw = w * maxSide / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// SameScene reports whether other looks like the same picture.
func (i *Image) SameScene(other *Image) bool {
	if i == nil || other == nil || i.hash == nil || other.hash == nil {
		return false
	}
	d, err := i.hash.Distance(other.hash)
	if err != nil {
		return false
	}
	return d <= DuplicateDistance
}
