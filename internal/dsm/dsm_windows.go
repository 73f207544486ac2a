//go:build windows

package dsm

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/mzyy94/twainscan/internal/twain"
)

const (
	gmemFixed    = 0x0000
	gmemMoveable = 0x0002
	gmemZeroInit = 0x0040
)

var (
	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procGlobalAlloc  = kernel32.NewProc("GlobalAlloc")
	procGlobalLock   = kernel32.NewProc("GlobalLock")
	procGlobalUnlock = kernel32.NewProc("GlobalUnlock")
	procGlobalFree   = kernel32.NewProc("GlobalFree")
	procGlobalSize   = kernel32.NewProc("GlobalSize")
)

// gateway calls DSM_Entry. Every record crosses the boundary through global
// memory, never through Go-managed memory, since sources may hold on to the
// identity pointers they are given.
type gateway struct {
	entry    *windows.LazyProc
	appBlock uintptr
	srcBlock uintptr
}

// Open loads the DSM library. An empty path loads DefaultLibrary from the
// system directory.
func Open(path string) (Library, error) {
	var dll *windows.LazyDLL
	if path == "" {
		dll = windows.NewLazySystemDLL(DefaultLibrary)
	} else {
		dll = windows.NewLazyDLL(path)
	}
	entry := dll.NewProc("DSM_Entry")
	if err := entry.Find(); err != nil {
		return nil, fmt.Errorf("load DSM %s: %w", dll.Name, err)
	}

	g := &gateway{entry: entry}
	app, err := g.alloc(gmemFixed|gmemZeroInit, twain.IdentitySize)
	if err != nil {
		return nil, err
	}
	src, err := g.alloc(gmemFixed|gmemZeroInit, twain.IdentitySize)
	if err != nil {
		globalFree(app)
		return nil, err
	}
	g.appBlock, g.srcBlock = app, src
	slog.Debug("DSM loaded", "library", dll.Name)
	return g, nil
}

func (g *gateway) Close() error {
	if g.appBlock != 0 {
		globalFree(g.appBlock)
		g.appBlock = 0
	}
	if g.srcBlock != 0 {
		globalFree(g.srcBlock)
		g.srcBlock = 0
	}
	return nil
}

// --------------------------------------------------------------------------
// Global memory
// --------------------------------------------------------------------------

func (g *gateway) alloc(flags uint32, size int) (uintptr, error) {
	h, _, err := procGlobalAlloc.Call(uintptr(flags), uintptr(size))
	if h == 0 {
		return 0, fmt.Errorf("GlobalAlloc(%d): %w", size, err)
	}
	return h, nil
}

func globalFree(h uintptr) {
	procGlobalFree.Call(h)
}

func view(p uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}

func (g *gateway) Alloc(size int) (twain.Handle, error) {
	h, err := g.alloc(gmemFixed|gmemZeroInit, size)
	return twain.Handle(h), err
}

func (g *gateway) Lock(h twain.Handle) ([]byte, error) {
	p, _, err := procGlobalLock.Call(uintptr(h))
	if p == 0 {
		return nil, fmt.Errorf("GlobalLock: %w", err)
	}
	size, _, _ := procGlobalSize.Call(uintptr(h))
	return view(p, int(size)), nil
}

func (g *gateway) Unlock(h twain.Handle) {
	procGlobalUnlock.Call(uintptr(h))
}

func (g *gateway) Free(h twain.Handle) {
	globalFree(uintptr(h))
}

// --------------------------------------------------------------------------
// DSM_Entry
// --------------------------------------------------------------------------

func (g *gateway) call(app, src *twain.Identity, dg twain.DataGroup, dat twain.DataArgumentType, msg twain.Message, data uintptr) twain.ReturnCode {
	copy(view(g.appBlock, twain.IdentitySize), twain.MarshalIdentity(*app))
	var dest uintptr
	if src != nil {
		copy(view(g.srcBlock, twain.IdentitySize), twain.MarshalIdentity(*src))
		dest = g.srcBlock
	}

	r, _, _ := g.entry.Call(g.appBlock, dest, uintptr(dg), uintptr(dat), uintptr(msg), data)
	rc := twain.ReturnCode(uint16(r))
	slog.Debug("DSM_Entry", "dg", dg, "dat", dat, "msg", msg, "rc", rc)

	if id, err := twain.ParseIdentity(view(g.appBlock, twain.IdentitySize)); err == nil {
		*app = id
	}
	if src != nil {
		if id, err := twain.ParseIdentity(view(g.srcBlock, twain.IdentitySize)); err == nil {
			*src = id
		}
	}
	return rc
}

// withRecord copies rec into a temporary global block, runs fn with its
// address and copies the block back into rec.
func (g *gateway) withRecord(rec []byte, fn func(p uintptr) twain.ReturnCode) twain.ReturnCode {
	p, err := g.alloc(gmemFixed|gmemZeroInit, len(rec))
	if err != nil {
		slog.Warn("allocate DSM record failed", "err", err)
		return twain.Failure
	}
	defer globalFree(p)
	buf := view(p, len(rec))
	copy(buf, rec)
	rc := fn(p)
	copy(rec, buf)
	return rc
}

func handleBytes(h twain.Handle) []byte {
	b := make([]byte, twain.PtrSize)
	if twain.PtrSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(h))
	} else {
		binary.LittleEndian.PutUint32(b, uint32(h))
	}
	return b
}

func handleFrom(b []byte) twain.Handle {
	if twain.PtrSize == 8 {
		return twain.Handle(binary.LittleEndian.Uint64(b))
	}
	return twain.Handle(binary.LittleEndian.Uint32(b))
}

func (g *gateway) Parent(app *twain.Identity, msg twain.Message, parent twain.Handle) twain.ReturnCode {
	return g.withRecord(handleBytes(parent), func(p uintptr) twain.ReturnCode {
		return g.call(app, nil, twain.DGControl, twain.DATParent, msg, p)
	})
}

func (g *gateway) Identity(app *twain.Identity, msg twain.Message, src *twain.Identity) twain.ReturnCode {
	rec := twain.MarshalIdentity(*src)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, nil, twain.DGControl, twain.DATIdentity, msg, p)
	})
	if id, err := twain.ParseIdentity(rec); err == nil {
		*src = id
	}
	return rc
}

func (g *gateway) Status(app, src *twain.Identity, status *twain.Status) twain.ReturnCode {
	rec := twain.MarshalStatus(*status)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGControl, twain.DATStatus, twain.MsgGet, p)
	})
	if st, err := twain.ParseStatus(rec); err == nil {
		*status = st
	}
	return rc
}

func (g *gateway) UserInterface(app, src *twain.Identity, msg twain.Message, ui *twain.UserInterface) twain.ReturnCode {
	return g.withRecord(twain.MarshalUserInterface(*ui), func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGControl, twain.DATUserInterface, msg, p)
	})
}

func (g *gateway) Capability(app, src *twain.Identity, msg twain.Message, v *twain.OneValue) twain.ReturnCode {
	var container uintptr
	con := conDontCare
	if msg == twain.MsgSet {
		h, err := g.alloc(gmemMoveable|gmemZeroInit, twain.OneValueSize)
		if err != nil {
			slog.Warn("allocate capability container failed", "cap", v.Cap, "err", err)
			return twain.Failure
		}
		buf, err := g.Lock(twain.Handle(h))
		if err != nil {
			globalFree(h)
			return twain.Failure
		}
		copy(buf, twain.MarshalOneValueItem(*v))
		g.Unlock(twain.Handle(h))
		container, con = h, twain.ConOneValue
	}

	rec := twain.MarshalCapability(v.Cap, con, twain.Handle(container))
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGControl, twain.DATCapability, msg, p)
	})

	_, retCon, retHandle, err := twain.ParseCapability(rec)
	if err == nil && retHandle != 0 {
		if msg != twain.MsgSet && rc == twain.Success {
			if buf, lerr := g.Lock(retHandle); lerr == nil {
				t, item, cerr := CurrentItem(retCon, buf)
				g.Unlock(retHandle)
				if cerr != nil {
					slog.Debug("capability container not understood", "cap", v.Cap, "err", cerr)
					rc = twain.Failure
				} else {
					v.ItemType, v.Item = t, item
				}
			}
		}
		globalFree(uintptr(retHandle))
	} else if container != 0 {
		globalFree(container)
	}
	return rc
}

func (g *gateway) ImageLayout(app, src *twain.Identity, msg twain.Message, layout *twain.ImageLayout) twain.ReturnCode {
	rec := twain.MarshalImageLayout(*layout)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGImage, twain.DATImageLayout, msg, p)
	})
	if l, err := twain.ParseImageLayout(rec); err == nil {
		*layout = l
	}
	return rc
}

func (g *gateway) ProcessEvent(app, src *twain.Identity, ev *twain.Event) twain.ReturnCode {
	rec := twain.MarshalEvent(*ev)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGControl, twain.DATEvent, twain.MsgProcessEvent, p)
	})
	if e, err := twain.ParseEvent(rec); err == nil {
		*ev = e
	}
	return rc
}

func (g *gateway) ImageInfo(app, src *twain.Identity, info *twain.ImageInfo) twain.ReturnCode {
	rec := twain.MarshalImageInfo(*info)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGImage, twain.DATImageInfo, twain.MsgGet, p)
	})
	if i, err := twain.ParseImageInfo(rec); err == nil {
		*info = i
	}
	return rc
}

func (g *gateway) ImageNativeTransfer(app, src *twain.Identity, dib *twain.Handle) twain.ReturnCode {
	rec := handleBytes(0)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGImage, twain.DATImageNativeXfer, twain.MsgGet, p)
	})
	*dib = handleFrom(rec)
	return rc
}

func (g *gateway) PendingTransfers(app, src *twain.Identity, msg twain.Message, pt *twain.PendingTransfers) twain.ReturnCode {
	rec := twain.MarshalPendingTransfers(*pt)
	rc := g.withRecord(rec, func(p uintptr) twain.ReturnCode {
		return g.call(app, src, twain.DGControl, twain.DATPendingXfers, msg, p)
	})
	if v, err := twain.ParsePendingTransfers(rec); err == nil {
		*pt = v
	}
	return rc
}
