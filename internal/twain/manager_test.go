package twain_test

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzyy94/twainscan/internal/twain"
	"github.com/mzyy94/twainscan/internal/twain/twaintest"
)

const wmApp = 0x8001

func fixedIDs() uint32 { return 42 }

func newManager(t *testing.T, gw *twaintest.Gateway, hook *twaintest.Hook) *twain.Manager {
	t.Helper()
	m, err := twain.NewManager(gw, twain.NewApplicationIdentity(fixedIDs), hook)
	require.NoError(t, err)
	return m
}

type recorder struct {
	images    []*twain.TransferImageEvent
	completes []twain.ScanningCompleteEvent
}

func (r *recorder) attach(m *twain.Manager) {
	m.OnTransferImage(func(ev *twain.TransferImageEvent) { r.images = append(r.images, ev) })
	m.OnScanningComplete(func(ev twain.ScanningCompleteEvent) { r.completes = append(r.completes, ev) })
}

func TestNewManager_OpensDSMAndSelectsDefault(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed", "Feeder")
	gw.DefaultIndex = 1
	hook := twaintest.NewHook()

	m := newManager(t, gw, hook)

	assert.Equal(t, twain.StateSourceSelected, m.State())
	assert.Equal(t, uint32(0xA11CE), m.ApplicationID().ID)
	assert.Equal(t, "Feeder", m.DataSource().ProductName())
	assert.NotNil(t, hook.Filter())
	assert.Equal(t, 1, gw.Live(), "event buffer allocated")
}

func TestNewManager_OpenDSMFailure(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	gw.OpenDSMResult = twain.Failure
	hook := twaintest.NewHook()

	_, err := twain.NewManager(gw, twain.NewApplicationIdentity(fixedIDs), hook)
	require.Error(t, err)
	assert.ErrorIs(t, err, twain.ErrProtocol)
	assert.Zero(t, gw.Live(), "event buffer freed")
	assert.Nil(t, hook.Filter())
	assert.Zero(t, gw.Count("PARENT", twain.MsgCloseDSM))
}

func TestNewManager_NoDefaultSourceClosesDSM(t *testing.T) {
	gw := twaintest.NewGateway()
	hook := twaintest.NewHook()

	_, err := twain.NewManager(gw, twain.NewApplicationIdentity(fixedIDs), hook)
	require.Error(t, err)

	var te *twain.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, twain.CCNoDS, te.Condition)
	assert.Equal(t, 1, gw.Count("PARENT", twain.MsgCloseDSM))
	assert.Zero(t, gw.Live())
}

func TestManager_SingleImageScan(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	gw.SetCap(twain.CapXferCount, 0xFFFF)
	gw.QueueImage(twaintest.Image{
		DIB:     twaintest.SolidDIB(4, 3, 3937, color.RGBA{R: 0xFF, A: 0xFF}),
		Info:    twain.ImageInfo{ImageWidth: 4, ImageLength: 3},
		Pending: 0,
	})
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	var rec recorder
	rec.attach(m)

	settings := twain.ScanSettings{UseDocumentFeeder: twain.Bool(false), ShouldTransferAllPages: true}
	gw.SetCap(twain.CapFeederEnabled, 0)
	started, err := m.StartScan(settings)
	require.NoError(t, err)
	require.True(t, started)
	assert.True(t, hook.UseFilter())
	assert.Equal(t, twain.StateScanningArmed, m.State())

	gw.Post(twain.MsgXferReady)
	assert.True(t, hook.Deliver(wmApp))

	require.Len(t, rec.images, 1)
	ev := rec.images[0]
	assert.False(t, ev.MoreImagesPending)
	assert.Equal(t, 100.0, ev.DpiX)
	assert.Equal(t, 4, ev.Image.Bounds().Dx())
	assert.Equal(t, int32(4), ev.Info.ImageWidth)

	require.Len(t, rec.completes, 1)
	assert.NoError(t, rec.completes[0].Err)

	assert.Equal(t, 1, gw.Count("PENDINGXFERS", twain.MsgReset))
	assert.Equal(t, 1, gw.Count("IDENTITY", twain.MsgCloseDS))
	assert.False(t, hook.UseFilter())
	assert.False(t, m.DataSource().IsOpen())
	assert.Equal(t, twain.StateSourceSelected, m.State())
	assert.Equal(t, 1, gw.Live(), "only the event buffer remains")
	assert.Equal(t, uint32(wmApp), gw.LastMessage.Message)
}

func TestManager_TransferLoop(t *testing.T) {
	dib := twaintest.SolidDIB(1, 1, 0, color.RGBA{A: 0xFF})

	tests := []struct {
		name       string
		images     []twaintest.Image
		stopAfter  int // subscriber clears ContinueScanning at this image, 0 = never
		wantImages int
		wantErr    bool
	}{
		{
			name:       "three pages",
			images:     []twaintest.Image{{DIB: dib, Pending: 2}, {DIB: dib, Pending: 1}, {DIB: dib, Pending: 0}},
			wantImages: 3,
		},
		{
			name:       "unknown pending count",
			images:     []twaintest.Image{{DIB: dib, Pending: -1}, {DIB: dib, Pending: 0}},
			wantImages: 2,
		},
		{
			name:       "consumer stops",
			images:     []twaintest.Image{{DIB: dib, Pending: 5}, {DIB: dib, Pending: 4}},
			stopAfter:  1,
			wantImages: 1,
		},
		{
			name:    "image info failure",
			images:  []twaintest.Image{{InfoResult: twain.Failure}},
			wantErr: true,
		},
		{
			name:       "transfer failure after first page",
			images:     []twaintest.Image{{DIB: dib, Pending: 1}, {TransferResult: twain.Failure}},
			wantImages: 1,
			wantErr:    true,
		},
		{
			name:    "end transfer failure",
			images:  []twaintest.Image{{DIB: dib, EndResult: twain.Failure}},
			wantErr: true,
		},
		{
			name:    "panic in native call",
			images:  []twaintest.Image{{PanicOnInfo: true}},
			wantErr: true,
		},
		{
			name:    "undecodable image",
			images:  []twaintest.Image{{DIB: []byte{1, 2, 3}}},
			wantErr: true,
		},
		{
			name:   "cancelled by source",
			images: []twaintest.Image{{TransferResult: twain.Cancel}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := twaintest.NewGateway("Feeder")
			for _, img := range tt.images {
				gw.QueueImage(img)
			}
			hook := twaintest.NewHook()
			m := newManager(t, gw, hook)
			var rec recorder
			rec.attach(m)
			if tt.stopAfter > 0 {
				m.OnTransferImage(func(ev *twain.TransferImageEvent) {
					if len(rec.images) == tt.stopAfter {
						ev.ContinueScanning = false
					}
				})
			}

			started, err := m.StartScan(twain.ScanSettings{})
			require.NoError(t, err)
			require.True(t, started)

			gw.Post(twain.MsgXferReady)
			assert.True(t, hook.Deliver(wmApp))

			assert.Len(t, rec.images, tt.wantImages)
			require.Len(t, rec.completes, 1)
			if tt.wantErr {
				assert.Error(t, rec.completes[0].Err)
			} else {
				assert.NoError(t, rec.completes[0].Err)
			}
			assert.Equal(t, 1, gw.Count("PENDINGXFERS", twain.MsgReset))
			assert.False(t, m.DataSource().IsOpen())
			assert.False(t, hook.UseFilter())
			assert.Equal(t, 1, gw.Live(), "every DIB freed")
		})
	}
}

func TestManager_MoreImagesPendingFlag(t *testing.T) {
	dib := twaintest.SolidDIB(1, 1, 0, color.RGBA{})
	gw := twaintest.NewGateway("Feeder")
	gw.QueueImage(twaintest.Image{DIB: dib, Pending: 1})
	gw.QueueImage(twaintest.Image{DIB: dib, Pending: 0})
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	var rec recorder
	rec.attach(m)

	_, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)
	gw.Post(twain.MsgXferReady)
	hook.Deliver(wmApp)

	require.Len(t, rec.images, 2)
	assert.True(t, rec.images[0].MoreImagesPending)
	assert.True(t, rec.images[0].ContinueScanning)
	assert.False(t, rec.images[1].MoreImagesPending)
}

func TestManager_FilterDeclinesWithoutSource(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	gw.UserSelect = -1
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)

	require.NoError(t, m.SelectSource())
	assert.Zero(t, m.DataSource().ID().ID)

	before := len(gw.Calls)
	handled := true
	m.FilterMessage(hook.Window, wmApp, 0, 0, &handled)
	assert.False(t, handled)
	assert.Len(t, gw.Calls, before, "no protocol call")

	_, err := m.StartScan(twain.ScanSettings{})
	assert.ErrorIs(t, err, twain.ErrSourceNotFound)
	assert.False(t, hook.UseFilter())
}

func TestManager_FilterMessageCodes(t *testing.T) {
	tests := []struct {
		name         string
		msg          twain.Message
		post         bool
		wantHandled  bool
		wantComplete int
	}{
		{name: "not a source event", post: false, wantHandled: false},
		{name: "close request", msg: twain.MsgCloseDSReq, post: true, wantHandled: true, wantComplete: 1},
		{name: "close ok", msg: twain.MsgCloseDSOK, post: true, wantHandled: true, wantComplete: 1},
		{name: "close", msg: twain.MsgCloseDS, post: true, wantHandled: true, wantComplete: 1},
		{name: "device event", msg: twain.MsgDeviceEvent, post: true, wantHandled: true},
		{name: "null message", msg: twain.MsgNull, post: true, wantHandled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := twaintest.NewGateway("Flatbed")
			hook := twaintest.NewHook()
			m := newManager(t, gw, hook)
			var rec recorder
			rec.attach(m)
			_, err := m.StartScan(twain.ScanSettings{})
			require.NoError(t, err)

			if tt.post {
				gw.Post(tt.msg)
			}
			assert.Equal(t, tt.wantHandled, hook.Deliver(wmApp))
			assert.Len(t, rec.completes, tt.wantComplete)
			assert.Equal(t, tt.wantComplete == 0, hook.UseFilter())
			assert.Zero(t, gw.Count("PENDINGXFERS", twain.MsgReset))
		})
	}
}

func TestManager_CompletionPanicSwallowed(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	m.OnScanningComplete(func(twain.ScanningCompleteEvent) { panic("subscriber bug") })
	var rec recorder
	rec.attach(m)

	_, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)
	gw.Post(twain.MsgCloseDSReq)

	assert.NotPanics(t, func() { hook.Deliver(wmApp) })
	assert.Len(t, rec.completes, 1, "later subscribers still run")
}

func TestManager_StartScanFeederEmpty(t *testing.T) {
	gw := twaintest.NewGateway("Feeder")
	gw.SetCap(twain.CapFeederEnabled, 0)
	gw.SetCap(twain.CapAutoFeed, 0)
	gw.SetCap(twain.CapFeederLoaded, 0)
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)

	_, err := m.StartScan(twain.ScanSettings{UseDocumentFeeder: twain.Bool(true)})
	require.Error(t, err)
	assert.ErrorIs(t, err, twain.ErrFeederEmpty)
	assert.False(t, hook.UseFilter())
	assert.False(t, m.DataSource().IsOpen())
	assert.Equal(t, 1, gw.Count("IDENTITY", twain.MsgCloseDS))
}

func TestManager_StartScanEnableRefused(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	gw.EnableResult = twain.Failure
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)

	started, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, hook.UseFilter())
	assert.False(t, m.DataSource().IsOpen())
	assert.Equal(t, twain.StateSourceSelected, m.State())
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	_, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	calls := len(gw.Calls)
	require.NoError(t, m.Close())

	assert.Len(t, gw.Calls, calls, "second close makes no native calls")
	assert.Equal(t, 1, gw.Count("PARENT", twain.MsgCloseDSM))
	assert.Equal(t, 1, gw.Count("IDENTITY", twain.MsgCloseDS))
	assert.Zero(t, m.ApplicationID().ID)
	assert.Zero(t, gw.Live())
	assert.Equal(t, twain.StateClosed, m.State())

	_, err = m.StartScan(twain.ScanSettings{})
	assert.ErrorIs(t, err, twain.ErrClosed)
}

func TestManager_SetSourceClosesPrevious(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed", "Feeder")
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	_, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)
	prev := m.DataSource()

	next, err := twain.SourceByName(gw, &twain.Identity{ID: m.ApplicationID().ID}, hook, "Feeder")
	require.NoError(t, err)
	m.SetSource(next)

	assert.False(t, prev.IsOpen())
	assert.Equal(t, "Feeder", m.DataSource().ProductName())
}

func TestManager_AbortScan(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed")
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	var rec recorder
	rec.attach(m)

	assert.False(t, m.AbortScan(), "nothing armed")

	started, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)
	require.True(t, started)

	assert.True(t, m.AbortScan())
	require.Len(t, rec.completes, 1)
	assert.ErrorIs(t, rec.completes[0].Err, twain.ErrAborted)
	assert.False(t, hook.UseFilter())
	assert.Equal(t, twain.StateSourceSelected, m.State())
	assert.Equal(t, 1, gw.Count("USERINTERFACE", twain.MsgDisableDS))
	assert.False(t, m.AbortScan())
}

func TestManager_SetSourceAbortsArmedScan(t *testing.T) {
	gw := twaintest.NewGateway("Flatbed", "Feeder")
	hook := twaintest.NewHook()
	m := newManager(t, gw, hook)
	var rec recorder
	rec.attach(m)

	started, err := m.StartScan(twain.ScanSettings{})
	require.NoError(t, err)
	require.True(t, started)

	next, err := twain.SourceByName(gw, &twain.Identity{ID: m.ApplicationID().ID}, hook, "Feeder")
	require.NoError(t, err)
	m.SetSource(next)

	require.Len(t, rec.completes, 1)
	assert.ErrorIs(t, rec.completes[0].Err, twain.ErrAborted)
	assert.False(t, hook.UseFilter())
	assert.Equal(t, twain.StateSourceSelected, m.State())
	assert.Equal(t, "Feeder", m.DataSource().ProductName())
	assert.Equal(t, 1, gw.Count("IDENTITY", twain.MsgCloseDS))
}
