package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"

	"github.com/OpenPrinting/go-mfp/abstract"
	"github.com/OpenPrinting/go-mfp/util/generic"
	"github.com/OpenPrinting/go-mfp/util/uuid"

	"github.com/mzyy94/twainscan/internal/twain"
)

// ErrADFUnknown is returned by CheckADFStatus before any feeder scan ran.
var ErrADFUnknown = errors.New("scanner: ADF state unknown")

const defaultDPI = 300

// ESCLAdapter implements abstract.Scanner over a TWAIN source.
type ESCLAdapter struct {
	scanner *Scanner
	caps    *abstract.ScannerCapabilities

	mu       sync.Mutex
	adfKnown bool
	adfEmpty bool
}

// NewESCLAdapter creates an eSCL adapter for the current source of s.
func NewESCLAdapter(ctx context.Context, s *Scanner) (*ESCLAdapter, error) {
	id, err := s.SourceIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("source identity: %w", err)
	}
	a := &ESCLAdapter{scanner: s}
	a.caps = buildCapabilities(id)
	return a, nil
}

func buildCapabilities(id twain.Identity) *abstract.ScannerCapabilities {
	profile := abstract.SettingsProfile{
		ColorModes: generic.MakeBitset(
			abstract.ColorModeColor,
			abstract.ColorModeMono,
			abstract.ColorModeBinary,
		),
		Depths: generic.MakeBitset(abstract.ColorDepth8),
		BinaryRenderings: generic.MakeBitset(
			abstract.BinaryRenderingThreshold,
		),
		Resolutions: []abstract.Resolution{
			{XResolution: 100, YResolution: 100},
			{XResolution: 150, YResolution: 150},
			{XResolution: 200, YResolution: 200},
			{XResolution: 300, YResolution: 300},
			{XResolution: 600, YResolution: 600},
		},
	}

	input := &abstract.InputCapabilities{
		MinWidth:              10 * abstract.Millimeter,
		MaxWidth:              216 * abstract.Millimeter,
		MinHeight:             10 * abstract.Millimeter,
		MaxHeight:             356 * abstract.Millimeter,
		MaxOpticalXResolution: 600,
		MaxOpticalYResolution: 600,
		Intents: generic.MakeBitset(
			abstract.IntentDocument,
			abstract.IntentPhoto,
			abstract.IntentTextAndGraphic,
		),
		Profiles: []abstract.SettingsProfile{profile},
	}

	name := id.ProductName
	if name == "" {
		name = "TWAIN Scanner"
	}
	manufacturer := id.Manufacturer
	if manufacturer == "" {
		manufacturer = "Unknown"
	}

	return &abstract.ScannerCapabilities{
		UUID:            uuid.SHA1(uuid.NameSpaceDNS, "twainscan."+manufacturer+"."+name),
		MakeAndModel:    name,
		Manufacturer:    manufacturer,
		SerialNumber:    fmt.Sprintf("%s-%d.%d", id.ProductFamily, id.Version.MajorNum, id.Version.MinorNum),
		DocumentFormats: []string{"image/jpeg", "application/pdf"},
		ADFCapacity:     50,
		Platen:          input,
		ADFSimplex:      input,
		ADFDuplex:       input,
	}
}

// Capabilities returns the scanner capabilities.
func (a *ESCLAdapter) Capabilities() *abstract.ScannerCapabilities {
	return a.caps
}

// Scan converts an eSCL request to TWAIN settings and executes the scan.
func (a *ESCLAdapter) Scan(ctx context.Context, req abstract.ScannerRequest) (abstract.Document, error) {
	if err := req.Validate(a.caps); err != nil {
		return nil, err
	}

	settings := mapScanSettings(req)
	slog.Info("scan requested",
		"input", req.Input,
		"colorMode", req.ColorMode,
		"resolution", req.Resolution,
		"adfMode", req.ADFMode,
	)

	pages, err := a.scanner.Scan(ctx, settings, nil)
	a.recordFeeder(req, len(pages), err)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("scan returned no pages")
	}

	res := req.Resolution
	if res.IsZero() {
		dpi := pages[0].Dpi(settings.Resolution.Dpi)
		res = abstract.Resolution{XResolution: dpi, YResolution: dpi}
	}

	jpegs := make([][]byte, len(pages))
	for i, p := range pages {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, p.Image, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		jpegs[i] = buf.Bytes()
	}
	doc := &jpegDocument{res: res, pages: jpegs}

	if req.DocumentFormat != "" && req.DocumentFormat != "image/jpeg" {
		return abstract.NewFilter(doc, abstract.FilterOptions{
			OutputFormat: req.DocumentFormat,
		}), nil
	}
	return doc, nil
}

// recordFeeder caches the feeder state a feeder scan left behind. TWAIN only
// reports CAP_FEEDERLOADED on an open source, so between scans this cache is
// all the status endpoint has.
func (a *ESCLAdapter) recordFeeder(req abstract.ScannerRequest, pages int, err error) {
	if req.Input != abstract.InputADF {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adfKnown = true
	// A completed feeder scan drains the tray; a failed one may leave paper.
	a.adfEmpty = err == nil || errors.Is(err, twain.ErrFeederEmpty)
	slog.Debug("ADF state cached", "empty", a.adfEmpty, "pages", pages)
}

// CheckADFStatus reports whether the feeder holds paper, from the cached
// state of the last feeder scan.
func (a *ESCLAdapter) CheckADFStatus() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.adfKnown {
		return false, ErrADFUnknown
	}
	return !a.adfEmpty, nil
}

// Close closes the TWAIN session.
func (a *ESCLAdapter) Close() error {
	return a.scanner.Close(context.Background())
}

// mapScanSettings converts an eSCL ScannerRequest to TWAIN scan settings.
func mapScanSettings(req abstract.ScannerRequest) twain.ScanSettings {
	s := twain.DefaultScanSettings()
	s.ShowProgressIndicatorUI = twain.Bool(false)

	res := twain.ResolutionSettings{Dpi: req.Resolution.XResolution, ColourSetting: twain.ColourColour}
	if res.Dpi <= 0 {
		res.Dpi = defaultDPI
	}
	switch req.ColorMode {
	case abstract.ColorModeMono:
		res.ColourSetting = twain.ColourGreyscale
	case abstract.ColorModeBinary:
		res.ColourSetting = twain.ColourBlackAndWhite
	}
	s.Resolution = &res

	switch req.Input {
	case abstract.InputADF:
		s.UseDocumentFeeder = twain.Bool(true)
		s.UseDuplex = twain.Bool(req.ADFMode == abstract.ADFModeDuplex)
	case abstract.InputPlaten:
		s.UseDocumentFeeder = twain.Bool(false)
		s.ShouldTransferAllPages = false
		s.TransferCount = 1
	}

	if area, ok := regionToArea(req.Region); ok {
		s.Area = &area
	}
	return s
}

// regionToArea converts an eSCL region (1/100 mm) to a TWAIN frame in
// centimetres. A zero-sized region leaves the source's frame alone.
func regionToArea(r abstract.Region) (twain.AreaSettings, bool) {
	if r.Width <= 0 || r.Height <= 0 {
		return twain.AreaSettings{}, false
	}
	return twain.AreaSettings{
		Units:  twain.UnitsCentimeters,
		Left:   dimToCm(r.XOffset),
		Top:    dimToCm(r.YOffset),
		Right:  dimToCm(r.XOffset + r.Width),
		Bottom: dimToCm(r.YOffset + r.Height),
	}, true
}

func dimToCm(d abstract.Dimension) float32 {
	return float32(d) / float32(10*abstract.Millimeter)
}

// --------------------------------------------------------------------------
// Document / DocumentFile implementation for JPEG pages
// --------------------------------------------------------------------------

// jpegDocument wraps encoded pages as an abstract.Document.
type jpegDocument struct {
	res   abstract.Resolution
	pages [][]byte
	idx   int
}

func (d *jpegDocument) Resolution() abstract.Resolution { return d.res }

func (d *jpegDocument) Next() (abstract.DocumentFile, error) {
	if d.idx >= len(d.pages) {
		return nil, io.EOF
	}
	f := &jpegFile{Reader: bytes.NewReader(d.pages[d.idx])}
	d.idx++
	return f, nil
}

func (d *jpegDocument) Close() error { return nil }

// jpegFile wraps a single JPEG page as an abstract.DocumentFile.
type jpegFile struct {
	*bytes.Reader
}

func (f *jpegFile) Format() string { return "image/jpeg" }
