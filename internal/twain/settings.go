package twain

// ColourSetting selects the pixel type requested from the source.
type ColourSetting int

const (
	ColourBlackAndWhite ColourSetting = iota
	ColourGreyscale
	ColourColour
)

func (c ColourSetting) pixelType() PixelType {
	switch c {
	case ColourGreyscale:
		return PixelGray
	case ColourColour:
		return PixelRGB
	}
	return PixelBW
}

func (c ColourSetting) String() string {
	switch c {
	case ColourBlackAndWhite:
		return "black-and-white"
	case ColourGreyscale:
		return "greyscale"
	case ColourColour:
		return "colour"
	}
	return "unknown"
}

// ResolutionSettings is the requested resolution, applied to both axes.
type ResolutionSettings struct {
	Dpi           int           `json:"dpi" yaml:"dpi"`
	ColourSetting ColourSetting `json:"colour" yaml:"colour"`
}

// Common resolution presets.
var (
	ResolutionFax               = ResolutionSettings{Dpi: 200, ColourSetting: ColourBlackAndWhite}
	ResolutionPhotocopier       = ResolutionSettings{Dpi: 300, ColourSetting: ColourGreyscale}
	ResolutionColourPhotocopier = ResolutionSettings{Dpi: 300, ColourSetting: ColourColour}
)

// AreaSettings is the acquisition frame, in Units.
type AreaSettings struct {
	Units  Units   `json:"units" yaml:"units"`
	Left   float32 `json:"left" yaml:"left"`
	Top    float32 `json:"top" yaml:"top"`
	Right  float32 `json:"right" yaml:"right"`
	Bottom float32 `json:"bottom" yaml:"bottom"`
}

func (a AreaSettings) frame() Frame {
	return Frame{
		Left:   Fix32FromFloat(a.Left),
		Top:    Fix32FromFloat(a.Top),
		Right:  Fix32FromFloat(a.Right),
		Bottom: Fix32FromFloat(a.Bottom),
	}
}

// RotationSettings enables driver-side deskew and cropping.
type RotationSettings struct {
	AutomaticRotate          bool `json:"automaticRotate" yaml:"automaticRotate"`
	AutomaticBorderDetection bool `json:"automaticBorderDetection" yaml:"automaticBorderDetection"`
}

// ScanSettings configures one scan session. Nil optional fields leave the
// source's current setting untouched.
type ScanSettings struct {
	UseDocumentFeeder       *bool               `json:"useDocumentFeeder,omitempty" yaml:"useDocumentFeeder,omitempty"`
	ShowTwainUI             bool                `json:"showTwainUI" yaml:"showTwainUI"`
	ShowProgressIndicatorUI *bool               `json:"showProgressIndicatorUI,omitempty" yaml:"showProgressIndicatorUI,omitempty"`
	UseDuplex               *bool               `json:"useDuplex,omitempty" yaml:"useDuplex,omitempty"`
	Resolution              *ResolutionSettings `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Area                    *AreaSettings       `json:"area,omitempty" yaml:"area,omitempty"`
	ShouldTransferAllPages  bool                `json:"shouldTransferAllPages" yaml:"shouldTransferAllPages"`
	// TransferCount is the number of pages to transfer when
	// ShouldTransferAllPages is false. Zero means one.
	TransferCount int16             `json:"transferCount,omitempty" yaml:"transferCount,omitempty"`
	Rotation      *RotationSettings `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// DefaultScanSettings scans every page from the flatbed or feeder in colour
// at 300 dpi without the driver UI.
func DefaultScanSettings() ScanSettings {
	res := ResolutionColourPhotocopier
	return ScanSettings{
		Resolution:             &res,
		ShouldTransferAllPages: true,
		Rotation:               &RotationSettings{},
	}
}

func (s ScanSettings) transferCount() int16 {
	if s.ShouldTransferAllPages {
		return -1
	}
	if s.TransferCount <= 0 {
		return 1
	}
	return s.TransferCount
}

// Bool returns a pointer to v, for the optional ScanSettings fields.
func Bool(v bool) *bool { return &v }
