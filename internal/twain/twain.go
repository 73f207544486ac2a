// Package twain is a TWAIN protocol engine: DSM session lifecycle, capability
// negotiation, the message-driven scan state machine and DIB decoding. The
// native DSM and the message pump are supplied by the caller through the
// Gateway and MessageHook interfaces.
package twain

import "github.com/samber/lo"

// Twain is the host-facing facade over a Manager.
type Twain struct {
	m *Manager
}

// New opens the DSM with a freshly generated application identity.
func New(gw Gateway, hook MessageHook) (*Twain, error) {
	return NewWithIdentity(gw, NewApplicationIdentity(UUIDSource), hook)
}

// NewWithIdentity opens the DSM as app.
func NewWithIdentity(gw Gateway, app Identity, hook MessageHook) (*Twain, error) {
	m, err := NewManager(gw, app, hook)
	if err != nil {
		return nil, err
	}
	return &Twain{m: m}, nil
}

// Manager returns the underlying session manager.
func (t *Twain) Manager() *Manager { return t.m }

// StartScanning begins a scan with settings. Setup failures are returned
// synchronously; everything after that arrives through OnScanningComplete.
func (t *Twain) StartScanning(settings ScanSettings) (bool, error) {
	return t.m.StartScan(settings)
}

// AbortScanning stops a scan that is still waiting for the source.
func (t *Twain) AbortScanning() bool {
	return t.m.AbortScan()
}

// SelectSource prompts for a source with the DSM's dialog.
func (t *Twain) SelectSource() error {
	return t.m.SelectSource()
}

// SelectSourceByName selects the source whose product name is name.
func (t *Twain) SelectSourceByName(name string) error {
	if t.m.State() == StateClosed {
		return ErrClosed
	}
	ds, err := SourceByName(t.m.gw, t.m.identity(), t.m.hook, name)
	if err != nil {
		return err
	}
	t.m.SetSource(ds)
	return nil
}

// SourceNames lists the product names of all available sources.
func (t *Twain) SourceNames() ([]string, error) {
	if t.m.State() == StateClosed {
		return nil, ErrClosed
	}
	sources, err := AllSources(t.m.gw, t.m.identity(), t.m.hook)
	if err != nil {
		return nil, err
	}
	return lo.Map(sources, func(ds *DataSource, _ int) string {
		return ds.ProductName()
	}), nil
}

// DefaultSourceName returns the product name of the system default source.
func (t *Twain) DefaultSourceName() (string, error) {
	if t.m.State() == StateClosed {
		return "", ErrClosed
	}
	ds, err := DefaultSource(t.m.gw, t.m.identity(), t.m.hook)
	if err != nil {
		return "", err
	}
	return ds.ProductName(), nil
}

// CurrentSourceName returns the product name of the selected source, or ""
// when none is selected.
func (t *Twain) CurrentSourceName() string {
	if ds := t.m.DataSource(); ds != nil {
		return ds.ProductName()
	}
	return ""
}

func (t *Twain) OnTransferImage(fn func(*TransferImageEvent)) { t.m.OnTransferImage(fn) }

func (t *Twain) OnScanningComplete(fn func(ScanningCompleteEvent)) { t.m.OnScanningComplete(fn) }

// Close shuts the session down. It is safe to call more than once.
func (t *Twain) Close() error { return t.m.Close() }
