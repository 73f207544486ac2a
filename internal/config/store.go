package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/mzyy94/twainscan/internal/twain"
)

var (
	colorModes = []string{"color", "grayscale", "bw"}
	formats    = []string{"application/pdf", "image/jpeg", "image/png", "image/tiff"}
)

// Settings holds user-configurable scan defaults.
type Settings struct {
	Source       string              `json:"source" yaml:"source"` // product name; "" = system default
	ColorMode    string              `json:"colorMode" yaml:"colorMode"`
	Resolution   int                 `json:"resolution" yaml:"resolution"`
	Feeder       bool                `json:"feeder" yaml:"feeder"`
	Duplex       bool                `json:"duplex" yaml:"duplex"`
	MaxPages     int16               `json:"maxPages" yaml:"maxPages"` // 0 = all pages
	AutoRotate   bool                `json:"autoRotate" yaml:"autoRotate"`
	ShowUI       bool                `json:"showUI" yaml:"showUI"`
	ShowProgress bool                `json:"showProgress" yaml:"showProgress"`
	Area         *twain.AreaSettings `json:"area,omitempty" yaml:"area,omitempty"`
	Format       string              `json:"format" yaml:"format"`
	SavePath     string              `json:"savePath" yaml:"savePath"` // directory for scan jobs
}

// DefaultSettings returns the default scan settings.
func DefaultSettings() Settings {
	return Settings{
		ColorMode:  "color",
		Resolution: 300,
		Format:     "application/pdf",
		SavePath:   "",
	}
}

// Validate checks enumerated fields.
func (s Settings) Validate() error {
	if !lo.Contains(colorModes, s.ColorMode) {
		return fmt.Errorf("invalid color mode %q (want one of %v)", s.ColorMode, colorModes)
	}
	if !lo.Contains(formats, s.Format) {
		return fmt.Errorf("invalid format %q (want one of %v)", s.Format, formats)
	}
	if s.Resolution < 0 {
		return fmt.Errorf("invalid resolution %d", s.Resolution)
	}
	if s.MaxPages < 0 {
		return fmt.Errorf("invalid page count %d", s.MaxPages)
	}
	return nil
}

// ToScanSettings converts s to engine settings.
func (s Settings) ToScanSettings() twain.ScanSettings {
	scan := twain.DefaultScanSettings()

	res := twain.ResolutionSettings{Dpi: s.Resolution, ColourSetting: twain.ColourColour}
	if res.Dpi <= 0 {
		res.Dpi = 300
	}
	switch s.ColorMode {
	case "grayscale":
		res.ColourSetting = twain.ColourGreyscale
	case "bw":
		res.ColourSetting = twain.ColourBlackAndWhite
	}
	scan.Resolution = &res

	scan.UseDocumentFeeder = twain.Bool(s.Feeder)
	if s.Feeder {
		scan.UseDuplex = twain.Bool(s.Duplex)
	}
	if s.MaxPages > 0 {
		scan.ShouldTransferAllPages = false
		scan.TransferCount = s.MaxPages
	}
	scan.ShowTwainUI = s.ShowUI
	scan.ShowProgressIndicatorUI = twain.Bool(s.ShowProgress)
	scan.Rotation = &twain.RotationSettings{
		AutomaticRotate:          s.AutoRotate,
		AutomaticBorderDetection: s.AutoRotate,
	}
	if s.Area != nil {
		area := *s.Area
		scan.Area = &area
	}
	return scan
}

// LoadProfile reads a YAML scan profile. Fields the profile omits keep their
// defaults.
func LoadProfile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return s, nil
}

// Store provides thread-safe settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// If the file does not exist or is invalid, default settings are used.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store that keeps settings in memory only (no file persistence).
func NewMemoryStore() *Store {
	return &Store{settings: DefaultSettings()}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings and persists to disk.
func (s *Store) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // file missing is OK, use defaults
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	if err := settings.Validate(); err != nil {
		slog.Warn("invalid settings, using defaults", "path", s.path, "err", err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil // memory-only mode
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
