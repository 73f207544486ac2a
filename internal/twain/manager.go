package twain

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// State is the scanning state of a Manager.
type State int

const (
	StateClosed State = iota
	StateDSMOpen
	StateSourceSelected
	StateScanningArmed
	StateTransferring
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateDSMOpen:
		return "dsm-open"
	case StateSourceSelected:
		return "source-selected"
	case StateScanningArmed:
		return "scanning-armed"
	case StateTransferring:
		return "transferring"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TransferImageEvent is published once per transferred image. Subscribers
// clear ContinueScanning to stop the transfer loop after this image.
type TransferImageEvent struct {
	Image             image.Image
	DpiX              float64
	DpiY              float64
	Info              ImageInfo
	MoreImagesPending bool
	ContinueScanning  bool
}

// ScanningCompleteEvent ends every scan that got past StartScan. Err is the
// failure that ended the transfer loop, if any.
type ScanningCompleteEvent struct {
	Err error
}

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("twain: manager closed")

// ErrAborted completes a scan stopped by AbortScan before the source
// delivered any image.
var ErrAborted = errors.New("twain: scan aborted")

// Manager owns the DSM session and the current data source, and drives the
// scan from the host's message pump. It is not safe for concurrent use: every
// method, and the filter it installs, must run on the pump thread.
type Manager struct {
	gw       Gateway
	app      Identity
	hook     MessageHook
	ds       *DataSource
	eventBuf Handle
	state    State

	onTransfer []func(*TransferImageEvent)
	onComplete []func(ScanningCompleteEvent)
}

// NewManager opens the DSM on behalf of app and selects the default source.
// app is copied; the DSM writes its assigned id into the copy.
func NewManager(gw Gateway, app Identity, hook MessageHook) (*Manager, error) {
	m := &Manager{gw: gw, app: app, hook: hook}

	buf, err := gw.Alloc(WindowsMessageSize)
	if err != nil {
		return nil, fmt.Errorf("allocate event buffer: %w", err)
	}
	m.eventBuf = buf
	hook.SetFilter(m.FilterMessage)

	rc := gw.Parent(&m.app, MsgOpenDSM, hook.WindowHandle())
	if rc != Success {
		hook.SetFilter(nil)
		gw.Free(m.eventBuf)
		m.eventBuf = 0
		m.app.ID = 0
		return nil, protocolError("open DSM", rc)
	}
	m.state = StateDSMOpen
	slog.Info("DSM opened", "app", m.app.ID)

	ds, err := DefaultSource(gw, &m.app, hook)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("select default source: %w", err)
	}
	m.ds = ds
	m.state = StateSourceSelected
	slog.Info("default source selected", "source", ds.ProductName())
	return m, nil
}

func (m *Manager) ApplicationID() Identity  { return m.app }
func (m *Manager) DataSource() *DataSource  { return m.ds }
func (m *Manager) MessageHook() MessageHook { return m.hook }
func (m *Manager) State() State             { return m.state }
func (m *Manager) Gateway() Gateway         { return m.gw }

// OnTransferImage registers fn for every transferred image.
func (m *Manager) OnTransferImage(fn func(*TransferImageEvent)) {
	m.onTransfer = append(m.onTransfer, fn)
}

// OnScanningComplete registers fn for scan completion. A panicking fn is
// recovered and logged; it never reaches the pump.
func (m *Manager) OnScanningComplete(fn func(ScanningCompleteEvent)) {
	m.onComplete = append(m.onComplete, fn)
}

func (m *Manager) hasSource() bool {
	return m.ds != nil && m.ds.src.ID != 0
}

// StartScan arms the message filter and opens the current source with
// settings. It reports whether the source was enabled; when it was not, or
// when an error is returned, the filter is disarmed again.
func (m *Manager) StartScan(settings ScanSettings) (started bool, err error) {
	if m.state == StateClosed {
		return false, ErrClosed
	}
	if !m.hasSource() {
		return false, &Error{Kind: KindSourceNotFound, Op: "start scan"}
	}

	m.hook.SetUseFilter(true)
	defer func() {
		if !started {
			m.endScan()
		}
	}()

	started, err = m.ds.Open(settings)
	if err != nil {
		m.ds.Close()
		return false, err
	}
	if started {
		m.state = StateScanningArmed
		slog.Info("scan armed", "source", m.ds.ProductName())
	}
	return started, nil
}

// AbortScan closes an armed source that has not started transferring and
// completes the scan with ErrAborted. It reports whether a scan was aborted.
func (m *Manager) AbortScan() bool {
	if m.state != StateScanningArmed {
		return false
	}
	slog.Info("aborting armed scan", "source", m.ds.ProductName())
	m.closeAndComplete(ErrAborted)
	return true
}

func (m *Manager) endScan() {
	m.hook.SetUseFilter(false)
}

// FilterMessage is installed in the MessageHook. It offers each pump message
// to the source and reports whether the source consumed it.
func (m *Manager) FilterMessage(hwnd Handle, msg uint32, wParam, lParam uintptr, handled *bool) uintptr {
	if !m.hasSource() || m.eventBuf == 0 {
		*handled = false
		return 0
	}

	x, y := m.hook.MessagePos()
	wm := WindowsMessage{
		Hwnd:    hwnd,
		Message: msg,
		WParam:  wParam,
		LParam:  lParam,
		Time:    m.hook.MessageTime(),
		X:       int32(x),
		Y:       int32(y),
	}
	if err := m.writeEvent(wm); err != nil {
		slog.Warn("marshal event failed", "err", err)
		*handled = false
		return 0
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("message filter panicked", "panic", r, "msg", msg)
		}
	}()

	ev := Event{EventPtr: m.eventBuf}
	rc := m.gw.ProcessEvent(&m.app, &m.ds.src, &ev)
	if rc == NotDSEvent {
		*handled = false
		return 0
	}

	switch ev.Message {
	case MsgXferReady:
		m.state = StateTransferring
		err := m.transferPictures()
		m.closeAndComplete(err)
	case MsgCloseDS, MsgCloseDSOK, MsgCloseDSReq:
		m.closeAndComplete(nil)
	case MsgDeviceEvent:
	default:
	}

	*handled = true
	return 0
}

func (m *Manager) writeEvent(wm WindowsMessage) error {
	buf, err := m.gw.Lock(m.eventBuf)
	if err != nil {
		return err
	}
	defer m.gw.Unlock(m.eventBuf)
	return PutWindowsMessage(buf, wm)
}

// transferPictures pulls images until the source reports none pending or a
// subscriber stops the scan. A single MSG_RESET is issued on every exit.
func (m *Manager) transferPictures() (err error) {
	if !m.hasSource() {
		return nil
	}

	var pending PendingTransfers
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transfer: panic: %v", r)
		}
		rc := m.gw.PendingTransfers(&m.app, &m.ds.src, MsgReset, &pending)
		slog.Debug("pending transfers reset", "rc", rc)
	}()

	for {
		pending.Count = 0

		var info ImageInfo
		if rc := m.gw.ImageInfo(&m.app, &m.ds.src, &info); rc != Success {
			err := protocolErrorCC("get image info", rc, conditionCode(m.gw, &m.app, &m.ds.src))
			m.ds.Close()
			return err
		}

		var dib Handle
		if rc := m.gw.ImageNativeTransfer(&m.app, &m.ds.src, &dib); rc != XferDone {
			if rc == Cancel {
				slog.Info("transfer cancelled by source")
				m.ds.Close()
				return nil
			}
			err := protocolErrorCC("transfer image", rc, conditionCode(m.gw, &m.app, &m.ds.src))
			m.ds.Close()
			return err
		}

		if rc := m.gw.PendingTransfers(&m.app, &m.ds.src, MsgEndXfer, &pending); rc != Success {
			err := protocolErrorCC("end transfer", rc, conditionCode(m.gw, &m.app, &m.ds.src))
			if dib != 0 {
				m.gw.Free(dib)
			}
			m.ds.Close()
			return err
		}
		slog.Debug("image transferred", "pending", pending.Count, "width", info.ImageWidth, "height", info.ImageLength)

		if dib != 0 {
			stop, err := m.publishImage(dib, info, pending.Count != 0)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		if pending.Count == 0 {
			return nil
		}
	}
}

func (m *Manager) publishImage(dib Handle, info ImageInfo, more bool) (stop bool, err error) {
	r, err := NewBitmapRenderer(m.gw, dib)
	if err != nil {
		return false, fmt.Errorf("decode image: %w", err)
	}
	defer r.Close()

	bmp, err := r.Render()
	if err != nil {
		return false, fmt.Errorf("decode image: %w", err)
	}

	ev := &TransferImageEvent{
		Image:             bmp.Image,
		DpiX:              bmp.DpiX,
		DpiY:              bmp.DpiY,
		Info:              info,
		MoreImagesPending: more,
		ContinueScanning:  true,
	}
	for _, fn := range m.onTransfer {
		fn(ev)
	}
	return !ev.ContinueScanning, nil
}

func (m *Manager) closeAndComplete(err error) {
	m.endScan()
	if m.ds != nil {
		m.ds.Close()
	}
	if m.state != StateClosed {
		m.state = StateSourceSelected
	}
	if err != nil {
		slog.Warn("scan ended with error", "err", err)
	} else {
		slog.Info("scan complete")
	}

	ev := ScanningCompleteEvent{Err: err}
	for _, fn := range m.onComplete {
		m.notifyComplete(fn, ev)
	}
}

func (m *Manager) notifyComplete(fn func(ScanningCompleteEvent), ev ScanningCompleteEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("scanning complete handler panicked", "panic", r)
		}
	}()
	fn(ev)
}

// SelectSource replaces the current source with one picked in the DSM's
// dialog.
func (m *Manager) SelectSource() error {
	if m.state == StateClosed {
		return ErrClosed
	}
	m.AbortScan()
	if m.ds != nil {
		m.ds.Close()
	}
	ds, err := UserSelectedSource(m.gw, &m.app, m.hook)
	if err != nil {
		return err
	}
	m.SetSource(ds)
	return nil
}

// SetSource closes the current source and makes ds current. An armed scan
// on the current source completes with ErrAborted first.
func (m *Manager) SetSource(ds *DataSource) {
	m.AbortScan()
	if m.ds != nil {
		m.ds.Close()
	}
	m.ds = ds
	if m.state != StateClosed {
		m.state = StateSourceSelected
	}
	if ds != nil {
		slog.Info("source selected", "source", ds.ProductName())
	}
}

// identity exposes the live application identity to the facade's source
// lookups.
func (m *Manager) identity() *Identity { return &m.app }

// Close frees the event buffer, closes the source and the DSM. A second Close
// makes no native calls.
func (m *Manager) Close() error {
	if m.eventBuf != 0 {
		m.gw.Free(m.eventBuf)
		m.eventBuf = 0
	}
	if m.ds != nil {
		m.ds.Close()
	}
	m.hook.SetUseFilter(false)
	m.hook.SetFilter(nil)

	var err error
	if m.app.ID != 0 {
		if rc := m.gw.Parent(&m.app, MsgCloseDSM, m.hook.WindowHandle()); rc != Success {
			err = protocolError("close DSM", rc)
		} else {
			slog.Info("DSM closed", "app", m.app.ID)
		}
	}
	m.app.ID = 0
	m.state = StateClosed
	return err
}
