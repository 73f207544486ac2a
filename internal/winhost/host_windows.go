//go:build windows

package winhost

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/mzyy94/twainscan/internal/twain"
)

const (
	wmDestroy = 0x0002
	wmApp     = 0x8000
	wmInvoke  = wmApp + 1
	wmStop    = wmApp + 2
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procRegisterClassExW = user32.NewProc("RegisterClassExW")
	procCreateWindowExW  = user32.NewProc("CreateWindowExW")
	procDestroyWindow    = user32.NewProc("DestroyWindow")
	procDefWindowProcW   = user32.NewProc("DefWindowProcW")
	procGetMessageW      = user32.NewProc("GetMessageW")
	procTranslateMessage = user32.NewProc("TranslateMessage")
	procDispatchMessageW = user32.NewProc("DispatchMessageW")
	procPostMessageW     = user32.NewProc("PostMessageW")
	procPostQuitMessage  = user32.NewProc("PostQuitMessage")
)

type point struct {
	X, Y int32
}

type msg struct {
	HWND    windows.HWND
	Message uint32
	Wparam  uintptr
	Lparam  uintptr
	Time    uint32
	Pt      point
}

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

var className = windows.StringToUTF16Ptr("twainscan-pump")

var wndProcCallback = windows.NewCallback(wndProc)

func wndProc(hwnd windows.HWND, uMsg uint32, wParam, lParam uintptr) uintptr {
	if uMsg == wmDestroy {
		procPostQuitMessage.Call(0)
		return 0
	}
	r, _, _ := procDefWindowProcW.Call(uintptr(hwnd), uintptr(uMsg), wParam, lParam)
	return r
}

// Start creates the hidden parent window and runs the pump on a locked OS
// thread. The pump stops when ctx ends or Stop is called.
func Start(ctx context.Context) (*Host, error) {
	h := newHost()
	ready := make(chan error, 1)
	go h.run(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.done:
		}
	}()
	return h, nil
}

func (h *Host) post(m uint32) error {
	r, _, err := procPostMessageW.Call(uintptr(h.hwnd), uintptr(m), 0, 0)
	if r == 0 {
		return fmt.Errorf("PostMessage: %w", err)
	}
	return nil
}

func createWindow() (windows.HWND, error) {
	var instance windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &instance); err != nil {
		return 0, fmt.Errorf("GetModuleHandleEx: %w", err)
	}
	wc := wndClassEx{
		WndProc:   wndProcCallback,
		Instance:  instance,
		ClassName: className,
	}
	wc.Size = uint32(unsafe.Sizeof(wc))
	// A class left registered by an earlier Start is reused.
	procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))

	title := windows.StringToUTF16Ptr("twainscan")
	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		uintptr(unsafe.Pointer(title)),
		0,
		0, 0, 0, 0,
		0, 0,
		uintptr(instance),
		0,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowEx: %w", err)
	}
	return windows.HWND(hwnd), nil
}

func (h *Host) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)
	defer h.drain()

	hwnd, err := createWindow()
	if err != nil {
		ready <- err
		return
	}
	h.hwnd = twain.Handle(hwnd)
	h.wake = func() error { return h.post(wmInvoke) }
	h.stop = func() {
		if err := h.post(wmStop); err != nil {
			slog.Warn("stop pump failed", "err", err)
		}
	}
	ready <- nil
	slog.Info("message pump started", "hwnd", fmt.Sprintf("%#x", hwnd))

	var m msg
	for {
		r, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			slog.Error("GetMessage failed", "err", err)
			return
		case 0:
			slog.Info("message pump stopped")
			return
		}

		if m.HWND == hwnd {
			switch m.Message {
			case wmInvoke:
				h.runCalls()
				continue
			case wmStop:
				procDestroyWindow.Call(uintptr(hwnd))
				continue
			}
		}

		if h.dispatch(twain.WindowsMessage{
			Hwnd:    twain.Handle(m.HWND),
			Message: m.Message,
			WParam:  m.Wparam,
			LParam:  m.Lparam,
			Time:    m.Time,
			X:       m.Pt.X,
			Y:       m.Pt.Y,
		}) {
			continue
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}
