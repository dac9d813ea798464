// Package label renders 2"x1" traceability labels and hands them to a
// station printer.
package label

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qrcode"
)

// Label dimensions in millimetres.
const (
	WidthMM  = 50.8
	HeightMM = 25.4
	qrSideMM = 22.0
)

// Label is the content printed for one PASS cycle.
type Label struct {
	QRData    string
	ModelName string
	ModelType string
	Peak      float64
	Timestamp time.Time
	// ImagePath is the rendered QR image; when empty the symbol is encoded
	// on the fly.
	ImagePath string
}

// FromCycle builds a Label for c, using imagePath when already rendered.
func FromCycle(c models.Cycle, imagePath string) Label {
	return Label{
		QRData:    c.QR(),
		ModelName: c.ModelName,
		ModelType: c.ModelType,
		Peak:      c.PeakHeight,
		Timestamp: c.Timestamp,
		ImagePath: imagePath,
	}
}

func (l Label) request() qrcode.RenderRequest {
	return qrcode.RenderRequest{
		QRData:    l.QRData,
		ModelName: l.ModelName,
		ModelType: l.ModelType,
		Peak:      l.Peak,
		Timestamp: l.Timestamp,
	}
}

// Printer prints a label. Implementations must honour ctx cancellation.
type Printer interface {
	Print(ctx context.Context, l Label) error
}

func symbolPNG(l Label) ([]byte, error) {
	if l.ImagePath != "" {
		data, err := os.ReadFile(l.ImagePath)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("label: read %s: %w", l.ImagePath, err)
		}
	}
	return qrcode.EncodePNG(l.request(), 600)
}

// RenderPDF lays out a single-page label: QR symbol on the left, code, model
// and peak on the right.
func RenderPDF(l Label) ([]byte, error) {
	if strings.TrimSpace(l.QRData) == "" {
		return nil, fmt.Errorf("label: no code to print")
	}
	symbol, err := symbolPNG(l)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "L",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: WidthMM, Ht: HeightMM},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("QC Label "+l.QRData, false)
	pdf.AddPage()

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	imageName := "qr-" + l.QRData
	pdf.RegisterImageOptionsReader(imageName, opt, bytes.NewReader(symbol))
	y := (HeightMM - qrSideMM) / 2
	pdf.ImageOptions(imageName, 1.5, y, qrSideMM, qrSideMM, false, opt, 0, "")

	textX := qrSideMM + 3
	textW := WidthMM - textX - 1

	modelType := strings.TrimSpace(l.ModelType)
	if modelType != "" {
		pdf.SetXY(textX, 2)
		pdf.SetFont("Helvetica", "B", 20)
		pdf.CellFormat(textW, 9, modelType, "", 1, "C", false, 0, "")
	}

	pdf.SetX(textX)
	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(textW, 4, l.QRData, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 6)
	if l.ModelName != "" {
		pdf.SetX(textX)
		pdf.CellFormat(textW, 3, l.ModelName, "", 1, "C", false, 0, "")
	}
	pdf.SetX(textX)
	pdf.CellFormat(textW, 3, fmt.Sprintf("%.2f mm", l.Peak), "", 1, "C", false, 0, "")
	if !l.Timestamp.IsZero() {
		pdf.SetX(textX)
		pdf.CellFormat(textW, 3, l.Timestamp.Format("02/01/2006 15:04:05"), "", 1, "C", false, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("label: render %s: %w", l.QRData, err)
	}
	return out.Bytes(), nil
}
