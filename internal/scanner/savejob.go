package scanner

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/tiff"

	"github.com/mzyy94/twainscan/internal/config"
)

// ScanJobStatus tracks the state of a scan-to-disk job.
type ScanJobStatus struct {
	mu        sync.RWMutex
	JobID     string   `json:"jobId,omitempty"`
	Scanning  bool     `json:"scanning"`
	LastError string   `json:"lastError,omitempty"`
	LastScan  string   `json:"lastScan,omitempty"` // RFC3339
	Pages     int      `json:"pages"`
	FilePaths []string `json:"filePaths,omitempty"`
}

// Snapshot returns a copy of the current status.
func (s *ScanJobStatus) Snapshot() ScanJobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ScanJobStatus{
		JobID:     s.JobID,
		Scanning:  s.Scanning,
		LastError: s.LastError,
		LastScan:  s.LastScan,
		Pages:     s.Pages,
		FilePaths: append([]string(nil), s.FilePaths...),
	}
}

// TryStart marks a new job as in progress. It reports false if one already is.
func (s *ScanJobStatus) TryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Scanning {
		return false
	}
	s.JobID = uuid.NewString()
	s.Scanning = true
	s.LastError = ""
	return true
}

// SetResult records the outcome of a completed scan.
func (s *ScanJobStatus) SetResult(err error, pages int, files []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scanning = false
	s.LastScan = time.Now().UTC().Format(time.RFC3339)
	s.Pages = pages
	s.FilePaths = files
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
	}
}

// RunSaveJob scans with settings and writes the pages to settings.SavePath
// in settings.Format. It returns the page count and the files written.
func RunSaveJob(ctx context.Context, sc *Scanner, settings config.Settings) (int, []string, error) {
	savePath := settings.SavePath
	if savePath == "" {
		savePath = "."
	}
	if err := os.MkdirAll(savePath, 0755); err != nil {
		return 0, nil, fmt.Errorf("create save directory: %w", err)
	}

	slog.Info("scan job starting", "format", settings.Format, "savePath", savePath)
	pages, err := sc.Scan(ctx, settings.ToScanSettings(), nil)
	if err != nil {
		return len(pages), nil, fmt.Errorf("scan: %w", err)
	}
	if len(pages) == 0 {
		return 0, nil, fmt.Errorf("scan returned no pages")
	}

	timestamp := time.Now().Format("20060102_150405")
	files, err := SavePages(pages, settings.Format, settings.Resolution, savePath, "scan_"+timestamp)
	if err != nil {
		return len(pages), files, err
	}
	slog.Info("scan saved", "format", settings.Format, "path", savePath, "pages", len(pages), "files", len(files))
	return len(pages), files, nil
}

// SavePages writes pages to dir as one PDF or as one image file per page,
// named after base.
func SavePages(pages []Page, format string, dpi int, dir, base string) ([]string, error) {
	if format == "application/pdf" {
		outPath := filepath.Join(dir, base+".pdf")
		if err := WritePDF(pages, dpi, outPath); err != nil {
			return nil, fmt.Errorf("write PDF: %w", err)
		}
		return []string{outPath}, nil
	}

	var (
		ext    string
		encode func(io.Writer, image.Image) error
	)
	switch format {
	case "image/jpeg":
		ext = "jpg"
		encode = func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
		}
	case "image/png":
		ext = "png"
		encode = png.Encode
	case "image/tiff":
		ext = "tiff"
		encode = func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	files := make([]string, 0, len(pages))
	for i, p := range pages {
		outPath := filepath.Join(dir, fmt.Sprintf("%s_%03d.%s", base, i+1, ext))
		if err := writeImage(outPath, p.Image, encode); err != nil {
			return files, fmt.Errorf("write page %d: %w", i+1, err)
		}
		files = append(files, outPath)
	}
	return files, nil
}

func writeImage(path string, img image.Image, encode func(io.Writer, image.Image) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
