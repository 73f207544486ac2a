// Package twaintest provides a scripted in-memory DSM and message hook for
// exercising the twain engine without a native driver.
package twaintest

import (
	"context"
	"fmt"
	"image/color"
	"sync"

	"github.com/mzyy94/twainscan/internal/twain"
)

// Memory is an in-memory GlobalMemory.
type Memory struct {
	mu     sync.Mutex
	next   twain.Handle
	blocks map[twain.Handle][]byte
	locked map[twain.Handle]int
	Frees  int
}

func NewMemory() *Memory {
	return &Memory{
		next:   0x1000,
		blocks: make(map[twain.Handle][]byte),
		locked: make(map[twain.Handle]int),
	}
}

func (m *Memory) Alloc(size int) (twain.Handle, error) {
	return m.Put(make([]byte, size)), nil
}

// Put stores data in a new block and returns its handle.
func (m *Memory) Put(data []byte) twain.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next += 0x10
	m.blocks[m.next] = data
	return m.next
}

func (m *Memory) Lock(h twain.Handle) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[h]
	if !ok {
		return nil, fmt.Errorf("twaintest: lock of unknown handle 0x%x", uintptr(h))
	}
	m.locked[h]++
	return b, nil
}

func (m *Memory) Unlock(h twain.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[h] > 0 {
		m.locked[h]--
	}
}

func (m *Memory) Free(h twain.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, h)
	delete(m.locked, h)
	m.Frees++
}

// Live is the number of blocks not yet freed.
func (m *Memory) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}

// Bytes returns the current contents of h.
func (m *Memory) Bytes(h twain.Handle) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[h]
}

// Call records one gateway invocation.
type Call struct {
	Op  string // DAT name: "PARENT", "IDENTITY", "CAPABILITY", ...
	Msg twain.Message
	Cap twain.CapabilityID
}

// Cap is the scripted state of one capability.
type Cap struct {
	Value       uint32
	Unsupported bool
	// IgnoreSet makes MSG_SET succeed without changing Value.
	IgnoreSet bool
	SetResult twain.ReturnCode
}

// Image is one scripted transfer.
type Image struct {
	DIB  []byte
	Info twain.ImageInfo
	// Pending is the count MSG_ENDXFER reports after this image.
	Pending int16

	InfoResult     twain.ReturnCode
	TransferResult twain.ReturnCode // zero means TWRC_XFERDONE
	EndResult      twain.ReturnCode
	PanicOnInfo    bool
}

// Gateway is a scripted twain.Gateway.
type Gateway struct {
	*Memory

	AppID         uint32
	OpenDSMResult twain.ReturnCode
	Sources       []twain.Identity
	DefaultIndex  int
	DefaultResult twain.ReturnCode
	UserSelect    int // index into Sources; -1 cancels
	OpenDSResult  twain.ReturnCode
	EnableResult  twain.ReturnCode
	LayoutResult  twain.ReturnCode
	Condition     twain.ConditionCode

	Caps   map[twain.CapabilityID]*Cap
	Images []Image
	Layout twain.ImageLayout

	Calls       []Call
	LastMessage twain.WindowsMessage

	events  []twain.Message
	enumIdx int
}

// NewGateway returns a gateway offering one source per product name; the
// first is the default.
func NewGateway(products ...string) *Gateway {
	g := &Gateway{
		Memory: NewMemory(),
		AppID:  0xA11CE,
		Caps:   make(map[twain.CapabilityID]*Cap),
	}
	for i, name := range products {
		g.Sources = append(g.Sources, twain.Identity{
			ID:            uint32(i + 1),
			ProductName:   name,
			Manufacturer:  "twaintest",
			ProductFamily: "twaintest",
		})
	}
	return g
}

// SetCap scripts a supported capability holding value.
func (g *Gateway) SetCap(id twain.CapabilityID, value uint32) *Cap {
	c := &Cap{Value: value}
	g.Caps[id] = c
	return c
}

// Post queues a message for the next MSG_PROCESSEVENT.
func (g *Gateway) Post(msg twain.Message) {
	g.events = append(g.events, msg)
}

// QueueImage appends a transfer.
func (g *Gateway) QueueImage(img Image) {
	g.Images = append(g.Images, img)
}

// Count returns how many calls matched op and msg.
func (g *Gateway) Count(op string, msg twain.Message) int {
	n := 0
	for _, c := range g.Calls {
		if c.Op == op && c.Msg == msg {
			n++
		}
	}
	return n
}

// CapCalls returns how many calls with msg addressed cap.
func (g *Gateway) CapCalls(cap twain.CapabilityID, msg twain.Message) int {
	n := 0
	for _, c := range g.Calls {
		if c.Op == "CAPABILITY" && c.Cap == cap && c.Msg == msg {
			n++
		}
	}
	return n
}

func (g *Gateway) record(op string, msg twain.Message) {
	g.Calls = append(g.Calls, Call{Op: op, Msg: msg})
}

func (g *Gateway) Parent(app *twain.Identity, msg twain.Message, parent twain.Handle) twain.ReturnCode {
	g.record("PARENT", msg)
	if msg == twain.MsgOpenDSM {
		if g.OpenDSMResult != twain.Success {
			return g.OpenDSMResult
		}
		if g.AppID != 0 {
			app.ID = g.AppID
		}
	}
	return twain.Success
}

func (g *Gateway) Identity(app *twain.Identity, msg twain.Message, src *twain.Identity) twain.ReturnCode {
	g.record("IDENTITY", msg)
	switch msg {
	case twain.MsgGetDefault:
		if g.DefaultResult != twain.Success {
			return g.DefaultResult
		}
		if len(g.Sources) == 0 {
			g.Condition = twain.CCNoDS
			return twain.Failure
		}
		*src = g.Sources[g.DefaultIndex]
	case twain.MsgGetFirst:
		g.enumIdx = 0
		return g.nextSource(src)
	case twain.MsgGetNext:
		return g.nextSource(src)
	case twain.MsgUserSelect:
		if g.UserSelect < 0 {
			return twain.Cancel
		}
		*src = g.Sources[g.UserSelect]
	case twain.MsgOpenDS:
		return g.OpenDSResult
	}
	return twain.Success
}

func (g *Gateway) nextSource(src *twain.Identity) twain.ReturnCode {
	if g.enumIdx >= len(g.Sources) {
		return twain.EndOfList
	}
	*src = g.Sources[g.enumIdx]
	g.enumIdx++
	return twain.Success
}

func (g *Gateway) Status(app, src *twain.Identity, status *twain.Status) twain.ReturnCode {
	g.record("STATUS", twain.MsgGet)
	status.ConditionCode = g.Condition
	return twain.Success
}

func (g *Gateway) UserInterface(app, src *twain.Identity, msg twain.Message, ui *twain.UserInterface) twain.ReturnCode {
	g.record("USERINTERFACE", msg)
	if msg == twain.MsgEnableDS {
		return g.EnableResult
	}
	return twain.Success
}

func (g *Gateway) Capability(app, src *twain.Identity, msg twain.Message, v *twain.OneValue) twain.ReturnCode {
	g.Calls = append(g.Calls, Call{Op: "CAPABILITY", Msg: msg, Cap: v.Cap})
	c, ok := g.Caps[v.Cap]
	if !ok || c.Unsupported {
		g.Condition = twain.CCCapUnsupported
		return twain.Failure
	}
	switch msg {
	case twain.MsgGet:
		v.Item = c.Value
	case twain.MsgSet:
		if c.SetResult != twain.Success {
			g.Condition = twain.CCBadValue
			return c.SetResult
		}
		if !c.IgnoreSet {
			c.Value = v.Item
		}
	}
	g.Condition = twain.CCSuccess
	return twain.Success
}

func (g *Gateway) ImageLayout(app, src *twain.Identity, msg twain.Message, layout *twain.ImageLayout) twain.ReturnCode {
	g.record("IMAGELAYOUT", msg)
	if msg == twain.MsgSet {
		g.Layout = *layout
	}
	return g.LayoutResult
}

func (g *Gateway) ProcessEvent(app, src *twain.Identity, ev *twain.Event) twain.ReturnCode {
	g.record("EVENT", twain.MsgProcessEvent)
	if buf := g.Bytes(ev.EventPtr); buf != nil {
		if wm, err := twain.ParseWindowsMessage(buf); err == nil {
			g.LastMessage = wm
		}
	}
	if len(g.events) == 0 {
		return twain.NotDSEvent
	}
	ev.Message = g.events[0]
	g.events = g.events[1:]
	return twain.DSEvent
}

func (g *Gateway) ImageInfo(app, src *twain.Identity, info *twain.ImageInfo) twain.ReturnCode {
	g.record("IMAGEINFO", twain.MsgGet)
	if len(g.Images) == 0 {
		return twain.Failure
	}
	img := g.Images[0]
	if img.PanicOnInfo {
		panic("twaintest: scripted panic")
	}
	if img.InfoResult != twain.Success {
		return img.InfoResult
	}
	*info = img.Info
	return twain.Success
}

func (g *Gateway) ImageNativeTransfer(app, src *twain.Identity, dib *twain.Handle) twain.ReturnCode {
	g.record("IMAGENATIVEXFER", twain.MsgGet)
	if len(g.Images) == 0 {
		return twain.Failure
	}
	img := g.Images[0]
	if img.TransferResult != 0 && img.TransferResult != twain.XferDone {
		return img.TransferResult
	}
	if len(img.DIB) > 0 {
		*dib = g.Put(img.DIB)
	}
	return twain.XferDone
}

func (g *Gateway) PendingTransfers(app, src *twain.Identity, msg twain.Message, p *twain.PendingTransfers) twain.ReturnCode {
	g.record("PENDINGXFERS", msg)
	switch msg {
	case twain.MsgEndXfer:
		if len(g.Images) == 0 {
			return twain.Failure
		}
		img := g.Images[0]
		g.Images = g.Images[1:]
		if img.EndResult != twain.Success {
			return img.EndResult
		}
		p.Count = img.Pending
	case twain.MsgReset:
		p.Count = 0
		g.Images = nil
	}
	return twain.Success
}

// Hook is a twain.MessageHook whose pump is driven by Deliver.
type Hook struct {
	Window twain.Handle
	Time   uint32
	X, Y   int16

	filter    twain.FilterFunc
	useFilter bool
}

func NewHook() *Hook {
	return &Hook{Window: 0xBEEF}
}

func (h *Hook) WindowHandle() twain.Handle    { return h.Window }
func (h *Hook) UseFilter() bool               { return h.useFilter }
func (h *Hook) SetUseFilter(v bool)           { h.useFilter = v }
func (h *Hook) SetFilter(fn twain.FilterFunc) { h.filter = fn }
func (h *Hook) MessageTime() uint32           { return h.Time }
func (h *Hook) MessagePos() (x, y int16)      { return h.X, h.Y }
func (h *Hook) Filter() twain.FilterFunc      { return h.filter }

// Deliver pumps one message through the installed filter, as the host does
// while UseFilter is set, and reports whether it was handled.
func (h *Hook) Deliver(msg uint32) bool {
	if !h.useFilter || h.filter == nil {
		return false
	}
	handled := false
	h.filter(h.Window, msg, 0, 0, &handled)
	return handled
}

// Host runs invoked calls inline, one at a time. Once a call leaves the
// filter armed it posts and delivers the scripted messages, the way a
// message pump does after StartScanning returns.
type Host struct {
	*Hook
	Gateway *Gateway
	Posts   []twain.Message

	mu sync.Mutex
}

// NewHost returns a Host bound to gw.
func NewHost(gw *Gateway) *Host {
	return &Host{Hook: NewHook(), Gateway: gw}
}

// wmApp is the message the pump delivers for each scripted post.
const wmApp = 0x8001

func (h *Host) Invoke(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	err := fn()
	for h.useFilter && len(h.Posts) > 0 {
		h.Gateway.Post(h.Posts[0])
		h.Posts = h.Posts[1:]
		h.Deliver(wmApp)
	}
	return err
}

// Script queues messages for the next armed call.
func (h *Host) Script(msgs ...twain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Posts = append(h.Posts, msgs...)
}

// DIB assembles a packed DIB from a header, colour table and pixel rows.
func DIB(h twain.BitmapInfoHeader, palette []color.RGBA, pixels []byte) []byte {
	if h.Size == 0 {
		h.Size = twain.BitmapInfoHeaderSize
	}
	if h.Planes == 0 {
		h.Planes = 1
	}
	out := twain.MarshalBitmapInfoHeader(h)
	for _, c := range palette {
		out = append(out, c.B, c.G, c.R, 0)
	}
	return append(out, pixels...)
}

// SolidDIB is a bottom-up 24-bit DIB of w×h pixels filled with c.
func SolidDIB(w, h int, ppm int32, c color.RGBA) []byte {
	hdr := twain.BitmapInfoHeader{
		Width:         int32(w),
		Height:        int32(h),
		BitCount:      24,
		XPelsPerMeter: ppm,
		YPelsPerMeter: ppm,
	}
	stride := int(hdr.RowStride())
	pix := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*stride + x*3
			pix[o], pix[o+1], pix[o+2] = c.B, c.G, c.R
		}
	}
	return DIB(hdr, nil, pix)
}
