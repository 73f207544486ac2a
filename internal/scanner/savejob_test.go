package scanner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/mzyy94/twainscan/internal/config"
	"github.com/mzyy94/twainscan/internal/twain"
)

func testPage(w, h int, dpi float64) Page {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return Page{Image: img, DpiX: dpi, DpiY: dpi}
}

func bitonalPage(w, h int) Page {
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, color.White})
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 2)
	}
	return Page{Image: img, DpiX: 200, DpiY: 200}
}

func TestPageDpi(t *testing.T) {
	tests := []struct {
		name string
		page Page
		want int
	}{
		{"decoded", Page{DpiX: 299.6}, 300},
		{"image info", Page{Info: twain.ImageInfo{XResolution: twain.Fix32FromFloat(150)}}, 150},
		{"fallback", Page{}, 72},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.Dpi(72); got != tt.want {
				t.Errorf("Dpi = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGeneratePDF(t *testing.T) {
	data, err := GeneratePDF([]Page{testPage(300, 600, 300), bitonalPage(200, 100)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", data[:min(len(data), 8)])
	}

	if _, err := GeneratePDF(nil, 300); err == nil {
		t.Error("empty page list accepted")
	}
}

func TestToBitonalPNG(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix[0] = 10
	gray.Pix[1] = 250
	got := toBitonalPNG(gray)
	if got.ColorIndexAt(0, 0) != 1 || got.ColorIndexAt(1, 0) != 0 {
		t.Errorf("gray fast path = %v", got.Pix)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{A: 0xFF})
	rgba.Set(1, 0, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	got = toBitonalPNG(rgba)
	if got.ColorIndexAt(0, 0) != 1 || got.ColorIndexAt(1, 0) != 0 {
		t.Errorf("rgba path = %v", got.Pix)
	}

	if !isBitonal(bitonalPage(1, 1).Image) || isBitonal(rgba) {
		t.Error("isBitonal misclassifies")
	}
}

func TestSavePages(t *testing.T) {
	pages := []Page{testPage(4, 4, 100), testPage(4, 4, 100)}
	tests := []struct {
		format string
		files  int
		ext    string
	}{
		{"application/pdf", 1, ".pdf"},
		{"image/jpeg", 2, ".jpg"},
		{"image/png", 2, ".png"},
		{"image/tiff", 2, ".tiff"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := t.TempDir()
			files, err := SavePages(pages, tt.format, 100, dir, "scan")
			if err != nil {
				t.Fatal(err)
			}
			if len(files) != tt.files {
				t.Fatalf("files = %v", files)
			}
			for _, f := range files {
				if !strings.HasSuffix(f, tt.ext) {
					t.Errorf("file %s lacks %s", f, tt.ext)
				}
				if st, err := os.Stat(f); err != nil || st.Size() == 0 {
					t.Errorf("file %s not written: %v", f, err)
				}
			}
		})
	}

	if _, err := SavePages(pages, "image/gif", 100, t.TempDir(), "scan"); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestSavePages_TIFFRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files, err := SavePages([]Page{testPage(6, 3, 300)}, "image/tiff", 300, dir, "page")
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 3 {
		t.Errorf("bounds = %v", b)
	}
}

func TestRunSaveJob(t *testing.T) {
	sc, host := newTestScanner(t, "Flatbed")
	queuePages(host.Gateway, 2)
	host.Script(twain.MsgXferReady)

	settings := config.DefaultSettings()
	settings.Format = "image/png"
	settings.SavePath = filepath.Join(t.TempDir(), "out")

	pages, files, err := RunSaveJob(context.Background(), sc, settings)
	if err != nil {
		t.Fatal(err)
	}
	if pages != 2 || len(files) != 2 {
		t.Errorf("pages = %d, files = %v", pages, files)
	}
}

func TestRunSaveJob_ScanError(t *testing.T) {
	sc, host := newTestScanner(t, "Flatbed")
	host.Gateway.EnableResult = twain.Failure

	settings := config.DefaultSettings()
	settings.SavePath = t.TempDir()
	_, _, err := RunSaveJob(context.Background(), sc, settings)
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestScanJobStatus(t *testing.T) {
	var s ScanJobStatus
	if !s.TryStart() {
		t.Fatal("first start refused")
	}
	first := s.Snapshot().JobID
	if first == "" {
		t.Error("job has no ID")
	}
	if s.TryStart() {
		t.Error("second start accepted while scanning")
	}
	s.SetResult(errors.New("paper jam"), 1, []string{"a.pdf"})
	snap := s.Snapshot()
	if snap.Scanning || snap.LastError != "paper jam" || snap.Pages != 1 || snap.LastScan == "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !s.TryStart() {
		t.Error("start refused after result")
	}
	if snap := s.Snapshot(); snap.LastError != "" || snap.JobID == first {
		t.Errorf("restart snapshot = %+v", snap)
	}
}
