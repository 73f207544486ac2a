package twain

import (
	"errors"
	"log/slog"
)

// DataSource is a selected device. The application identity it holds points
// at the Manager's copy, so closing the DSM is visible here too.
type DataSource struct {
	gw     Gateway
	app    *Identity
	hook   MessageHook
	src    Identity
	opened bool
}

func newDataSource(gw Gateway, app *Identity, hook MessageHook, src Identity) *DataSource {
	return &DataSource{gw: gw, app: app, hook: hook, src: src}
}

// DefaultSource returns the system default source.
func DefaultSource(gw Gateway, app *Identity, hook MessageHook) (*DataSource, error) {
	var src Identity
	rc := gw.Identity(app, MsgGetDefault, &src)
	if rc != Success {
		return nil, protocolErrorCC("get default source", rc, conditionCode(gw, app, nil))
	}
	return newDataSource(gw, app, hook, src), nil
}

// UserSelectedSource shows the DSM's source dialog. A cancelled dialog yields a
// DataSource with ID 0, which the Manager treats as "no source".
func UserSelectedSource(gw Gateway, app *Identity, hook MessageHook) (*DataSource, error) {
	var src Identity
	rc := gw.Identity(app, MsgUserSelect, &src)
	switch rc {
	case Success:
		return newDataSource(gw, app, hook, src), nil
	case Cancel:
		slog.Info("source selection cancelled")
		return newDataSource(gw, app, hook, Identity{}), nil
	}
	return nil, protocolErrorCC("select source", rc, conditionCode(gw, app, nil))
}

// AllSources enumerates every source the DSM knows about.
func AllSources(gw Gateway, app *Identity, hook MessageHook) ([]*DataSource, error) {
	var out []*DataSource
	var src Identity
	rc := gw.Identity(app, MsgGetFirst, &src)
	for rc == Success {
		out = append(out, newDataSource(gw, app, hook, src))
		src = Identity{}
		rc = gw.Identity(app, MsgGetNext, &src)
	}
	if rc != EndOfList {
		cc := conditionCode(gw, app, nil)
		if cc == CCNoDS {
			return out, nil
		}
		return out, protocolErrorCC("enumerate sources", rc, cc)
	}
	return out, nil
}

// SourceByName returns the source whose product name equals name exactly.
func SourceByName(gw Gateway, app *Identity, hook MessageHook, name string) (*DataSource, error) {
	sources, err := AllSources(gw, app, hook)
	if err != nil {
		return nil, err
	}
	for _, ds := range sources {
		if ds.src.ProductName == name {
			return ds, nil
		}
	}
	return nil, &Error{Kind: KindSourceNotFound, Op: "select source", Source: name}
}

// ID returns the source identity.
func (ds *DataSource) ID() Identity { return ds.src }

// ProductName returns the device product name.
func (ds *DataSource) ProductName() string { return ds.src.ProductName }

// IsOpen reports whether MSG_OPENDS succeeded and Close has not run since.
func (ds *DataSource) IsOpen() bool { return ds.opened }

// Open opens the source, pushes settings to it and enables acquisition. It
// returns false without an error when the source refused MSG_ENABLEDS; the
// source is closed again in that case.
func (ds *DataSource) Open(settings ScanSettings) (bool, error) {
	if ds.src.ID == 0 && ds.src.ProductName == "" {
		return false, &Error{Kind: KindSourceNotFound, Op: "open source"}
	}

	rc := ds.gw.Identity(ds.app, MsgOpenDS, &ds.src)
	if rc != Success {
		return false, protocolErrorCC("open source", rc, conditionCode(ds.gw, ds.app, nil))
	}
	ds.opened = true
	slog.Info("source opened", "source", ds.src.ProductName, "id", ds.src.ID)

	if err := ds.negotiate(settings); err != nil {
		return false, err
	}

	ui := UserInterface{
		ShowUI:  settings.ShowTwainUI,
		ModalUI: true,
		Parent:  ds.hook.WindowHandle(),
	}
	rc = ds.gw.UserInterface(ds.app, &ds.src, MsgEnableDS, &ui)
	if rc != Success {
		slog.Warn("enable source failed", "source", ds.src.ProductName, "rc", rc)
		ds.Close()
		return false, nil
	}
	return true, nil
}

func (ds *DataSource) negotiate(s ScanSettings) error {
	steps := []func(ScanSettings) error{
		ds.negotiateTransferCount,
		ds.negotiateFeeder,
		ds.negotiateDuplex,
		ds.negotiateIndicators,
		ds.negotiateColour,
		ds.negotiateResolution,
		ds.negotiateArea,
		ds.negotiateRotation,
	}
	for _, step := range steps {
		if err := step(s); err != nil {
			return err
		}
	}
	return nil
}

// bestEffort drops unsupported-capability and verification errors for
// settings a source may legitimately ignore.
func bestEffort(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnsupportedCapability) || errors.Is(err, ErrVerificationFailed) || errors.Is(err, ErrProtocol) {
		slog.Debug("optional setting ignored", "setting", what, "err", err)
		return nil
	}
	return err
}

func (ds *DataSource) negotiateTransferCount(s ScanSettings) error {
	_, err := SetInt16Capability(ds.gw, CapXferCount, s.transferCount(), ds.app, &ds.src)
	return bestEffort(err, "transfer count")
}

func (ds *DataSource) negotiateFeeder(s ScanSettings) error {
	if s.UseDocumentFeeder == nil {
		return nil
	}
	useFeeder := *s.UseDocumentFeeder
	if err := SetBoolCapability(ds.gw, CapFeederEnabled, useFeeder, ds.app, &ds.src); err != nil {
		return err
	}
	if !useFeeder {
		return nil
	}
	if err := bestEffort(SetBoolCapability(ds.gw, CapAutoFeed, true, ds.app, &ds.src), "auto feed"); err != nil {
		return err
	}
	loaded, err := GetBoolCapability(ds.gw, CapFeederLoaded, ds.app, &ds.src)
	if err != nil {
		return err
	}
	if !loaded {
		return &Error{Kind: KindFeederEmpty, Op: "check feeder", Capability: CapFeederLoaded}
	}
	return nil
}

// SupportsDuplex reports whether CAP_DUPLEX names a duplex mode.
func (ds *DataSource) SupportsDuplex() bool {
	r := NewCapability(ds.gw, CapDuplex, TypeUInt16, ds.app, &ds.src).GetBasicValue()
	return r.Supported() && r.Raw != 0
}

func (ds *DataSource) negotiateDuplex(s ScanSettings) error {
	if s.UseDuplex == nil || !ds.SupportsDuplex() {
		return nil
	}
	return SetBoolCapability(ds.gw, CapDuplexEnabled, *s.UseDuplex, ds.app, &ds.src)
}

func (ds *DataSource) negotiateIndicators(s ScanSettings) error {
	if s.ShowProgressIndicatorUI == nil {
		return nil
	}
	return bestEffort(SetBoolCapability(ds.gw, CapIndicators, *s.ShowProgressIndicatorUI, ds.app, &ds.src), "indicators")
}

func (ds *DataSource) negotiateColour(s ScanSettings) error {
	if s.Resolution == nil {
		return nil
	}
	pt := s.Resolution.ColourSetting.pixelType()
	_, err := SetBasicCapability(ds.gw, ICapPixelType, int32(pt), TypeUInt16, ds.app, &ds.src)
	if err := bestEffort(err, "pixel type"); err != nil {
		return err
	}
	if pt == PixelBW {
		_, err = SetBasicCapability(ds.gw, ICapBitDepth, 1, TypeUInt16, ds.app, &ds.src)
		return bestEffort(err, "bit depth")
	}
	return nil
}

func (ds *DataSource) negotiateResolution(s ScanSettings) error {
	if s.Resolution == nil || s.Resolution.Dpi <= 0 {
		return nil
	}
	raw := int32(Fix32FromFloat(float32(s.Resolution.Dpi)).Raw())
	for _, cap := range []CapabilityID{ICapXResolution, ICapYResolution} {
		if _, err := SetBasicCapability(ds.gw, cap, raw, TypeFix32, ds.app, &ds.src); err != nil {
			return err
		}
	}
	return nil
}

func (ds *DataSource) negotiateArea(s ScanSettings) error {
	if s.Area == nil {
		return nil
	}
	_, err := SetInt16Capability(ds.gw, ICapUnits, int16(s.Area.Units), ds.app, &ds.src)
	if err := bestEffort(err, "units"); err != nil {
		return err
	}

	layout := ImageLayout{Frame: s.Area.frame()}
	rc := ds.gw.ImageLayout(ds.app, &ds.src, MsgSet, &layout)
	if rc != Success && rc != CheckStatus {
		return protocolErrorCC("set image layout", rc, conditionCode(ds.gw, ds.app, &ds.src))
	}
	return nil
}

func (ds *DataSource) negotiateRotation(s ScanSettings) error {
	if s.Rotation == nil {
		return nil
	}
	if s.Rotation.AutomaticRotate {
		err := SetBoolCapability(ds.gw, ICapAutomaticRotate, true, ds.app, &ds.src)
		if err := bestEffort(err, "automatic rotate"); err != nil {
			return err
		}
	}
	if s.Rotation.AutomaticBorderDetection {
		err := SetBoolCapability(ds.gw, ICapUndefinedImageSize, true, ds.app, &ds.src)
		if err == nil {
			err = SetBoolCapability(ds.gw, ICapAutomaticBorderDetection, true, ds.app, &ds.src)
		}
		if err := bestEffort(err, "border detection"); err != nil {
			return err
		}
	}
	return nil
}

// Close disables and closes the source if it is open. Calling it again is a
// no-op.
func (ds *DataSource) Close() {
	if !ds.opened {
		return
	}
	ds.opened = false

	ui := UserInterface{Parent: ds.hook.WindowHandle()}
	rc := ds.gw.UserInterface(ds.app, &ds.src, MsgDisableDS, &ui)
	slog.Debug("source disabled", "source", ds.src.ProductName, "rc", rc)

	rc = ds.gw.Identity(ds.app, MsgCloseDS, &ds.src)
	slog.Info("source closed", "source", ds.src.ProductName, "rc", rc)
}
