package scanner

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/go-pdf/fpdf"
)

// WritePDF combines scanned pages into a single PDF file.
func WritePDF(pages []Page, dpi int, outputPath string) error {
	data, err := GeneratePDF(pages, dpi)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

// GeneratePDF combines scanned pages into a PDF in memory. Bitonal pages are
// embedded as 1-bit PNG, everything else as JPEG. dpi is used for pages the
// source did not report a resolution for.
func GeneratePDF(pages []Page, dpi int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to write")
	}
	if dpi <= 0 {
		dpi = defaultDPI
	}

	pdf := fpdf.New("P", "mm", "", "")
	pdf.SetAutoPageBreak(false, 0)

	for i, p := range pages {
		b := p.Image.Bounds()
		pageDPI := p.Dpi(dpi)
		widthMM := float64(b.Dx()) / float64(pageDPI) * 25.4
		heightMM := float64(b.Dy()) / float64(pageDPI) * 25.4

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: widthMM, Ht: heightMM})

		name := fmt.Sprintf("page%d", i)
		var buf bytes.Buffer
		if isBitonal(p.Image) {
			if err := png.Encode(&buf, toBitonalPNG(p.Image)); err != nil {
				return nil, fmt.Errorf("encode page %d PNG: %w", i+1, err)
			}
			pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, &buf)
		} else {
			if err := jpeg.Encode(&buf, p.Image, &jpeg.Options{Quality: 90}); err != nil {
				return nil, fmt.Errorf("encode page %d JPEG: %w", i+1, err)
			}
			pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPEG"}, &buf)
		}
		pdf.ImageOptions(name, 0, 0, widthMM, heightMM, false, fpdf.ImageOptions{}, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("generate PDF: %w", err)
	}
	return out.Bytes(), nil
}

// isBitonal reports whether img is a two-colour palette image, the shape the
// DIB decoder produces for 1-bit sources.
func isBitonal(img image.Image) bool {
	p, ok := img.(*image.Paletted)
	return ok && len(p.Palette) <= 2
}

// toBitonalPNG converts an image to a 1-bit paletted image (black & white).
func toBitonalPNG(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	palette := color.Palette{color.White, color.Black}
	dst := image.NewPaletted(bounds, palette)

	// Fast path for greyscale sources.
	if gray, ok := img.(*image.Gray); ok {
		w := bounds.Dx()
		for y := range bounds.Dy() {
			srcRow := gray.Pix[y*gray.Stride : y*gray.Stride+w]
			dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			for x, v := range srcRow {
				if v < 128 {
					dstRow[x] = 1 // black
				}
			}
		}
		return dst
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if (r+g+b)/3 < 0x8000 {
				dst.SetColorIndex(x, y, 1)
			}
		}
	}
	return dst
}
