package qrcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/zulandar/pneumaticqc/internal/models"
)

// TimestampLayout is the second-precision timestamp used in QR payloads.
const TimestampLayout = "2006-01-02T15:04:05"

// RenderRequest carries what a renderer needs to draw one code.
type RenderRequest struct {
	QRData    string
	ModelName string
	ModelType string
	Peak      float64
	Timestamp time.Time
}

// RequestFromCycle builds a RenderRequest from a recorded cycle.
func RequestFromCycle(c models.Cycle) RenderRequest {
	return RenderRequest{
		QRData:    c.QR(),
		ModelName: c.ModelName,
		ModelType: c.ModelType,
		Peak:      c.PeakHeight,
		Timestamp: c.Timestamp,
	}
}

// Renderer turns a code into an image file and returns its path.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

type payload struct {
	ID    string  `json:"id"`
	Model string  `json:"model,omitempty"`
	Type  string  `json:"type,omitempty"`
	Peak  float64 `json:"peak"`
	TS    string  `json:"ts"`
}

// Payload returns the compact JSON encoded in the QR symbol. Peak is rounded
// to two decimals.
func Payload(req RenderRequest) ([]byte, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(payload{
		ID:    req.QRData,
		Model: req.ModelName,
		Type:  req.ModelType,
		Peak:  math.Round(req.Peak*100) / 100,
		TS:    ts.Format(TimestampLayout),
	})
}

// PNGRenderer writes QR symbols as PNG files named <qr_data>.png.
type PNGRenderer struct {
	Dir  string
	Size int
}

// NewPNGRenderer returns a renderer writing size x size images into dir.
func NewPNGRenderer(dir string, size int) *PNGRenderer {
	if size <= 0 {
		size = 300
	}
	return &PNGRenderer{Dir: dir, Size: size}
}

// Render implements Renderer.
func (r *PNGRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.ContainsAny(req.QRData, `/\`) || req.QRData == "" {
		return "", fmt.Errorf("qrcode: unusable file name %q", req.QRData)
	}

	img, err := EncodePNG(req, r.Size)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fmt.Errorf("qrcode: create image dir: %w", err)
	}
	path := filepath.Join(r.Dir, req.QRData+".png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("qrcode: write %s: %w", path, err)
	}
	return path, nil
}

// EncodePNG renders the QR symbol for req as PNG bytes.
func EncodePNG(req RenderRequest, size int) ([]byte, error) {
	data, err := Payload(req)
	if err != nil {
		return nil, fmt.Errorf("qrcode: payload: %w", err)
	}
	code, err := qr.Encode(string(data), qr.H, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode %s: %w", req.QRData, err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: scale %s: %w", req.QRData, err)
	}

	bounds := scaled.Bounds()
	rgba := image.NewNRGBA(bounds)
	draw.Draw(rgba, bounds, scaled, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("qrcode: png %s: %w", req.QRData, err)
	}
	return buf.Bytes(), nil
}
