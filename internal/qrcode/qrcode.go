// Package qrcode renders and stores the per-session attendance codes.
package qrcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image edge in pixels.
const DefaultSize = 256

// placeholder is a 1x1 PNG served when encoding fails.
var placeholder = func() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1)))
	return buf.Bytes()
}()

// Placeholder returns a copy of the fallback image.
func Placeholder() []byte { return append([]byte(nil), placeholder...) }

// AttendURL is the address a student's device opens after scanning.
func AttendURL(baseURL, sessionID string) string {
	return strings.TrimRight(baseURL, "/") + "/attend/" + sessionID + "/"
}

// Render encodes content as a PNG. It never fails; callers must not assume a minimum size.
func Render(content string, size int) []byte {
	if size <= 0 {
		size = DefaultSize
	}
	b, err := goqrcode.Encode(content, goqrcode.Medium, size)
	if err != nil || len(b) == 0 {
		return Placeholder()
	}
	return b
}

// Backend persists rendered images.
type Backend interface {
	// Put stores the image under name and returns a reference for Get.
	Put(ctx context.Context, name string, png []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Generator renders session codes and keeps them in a Backend.
type Generator struct {
	backend Backend
	size    int
}

// NewGenerator creates a generator over backend.
func NewGenerator(backend Backend, size int) *Generator {
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{backend: backend, size: size}
}

// Generate renders {baseURL}/attend/{sessionID}/ and stores it.
func (g *Generator) Generate(ctx context.Context, sessionID, baseURL string) (string, error) {
	img := Render(AttendURL(baseURL, sessionID), g.size)
	ref, err := g.backend.Put(ctx, "qr_"+sessionID, img)
	if err != nil {
		return "", fmt.Errorf("store qr for %s: %w", sessionID, err)
	}
	return ref, nil
}

// Load returns the stored PNG behind ref.
func (g *Generator) Load(ctx context.Context, ref string) ([]byte, error) {
	return g.backend.Get(ctx, ref)
}
