// Package winhost runs a Win32 message pump on a dedicated OS thread and
// exposes it to the TWAIN engine as a twain.MessageHook. Every TWAIN call
// must be made on the pump thread; other goroutines reach it through Invoke.
package winhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mzyy94/twainscan/internal/twain"
)

var (
	// ErrUnsupported is returned by Start on platforms without Win32.
	ErrUnsupported = errors.New("winhost: message pump requires windows")
	// ErrStopped is returned by Invoke once the pump has exited.
	ErrStopped = errors.New("winhost: pump stopped")
)

const pendingCalls = 16

type call struct {
	fn   func() error
	errc chan error
}

// Host is a running message pump. The filter state is only read and written
// on the pump thread, so it carries no lock.
type Host struct {
	hwnd      twain.Handle
	filter    twain.FilterFunc
	useFilter bool
	current   twain.WindowsMessage

	calls    chan call
	wake     func() error
	done     chan struct{}
	stopOnce sync.Once
	stop     func()
}

func newHost() *Host {
	return &Host{
		calls: make(chan call, pendingCalls),
		done:  make(chan struct{}),
	}
}

func (h *Host) WindowHandle() twain.Handle    { return h.hwnd }
func (h *Host) UseFilter() bool               { return h.useFilter }
func (h *Host) SetUseFilter(v bool)           { h.useFilter = v }
func (h *Host) SetFilter(fn twain.FilterFunc) { h.filter = fn }
func (h *Host) MessageTime() uint32           { return h.current.Time }
func (h *Host) MessagePos() (x, y int16)      { return int16(h.current.X), int16(h.current.Y) }

// Done is closed when the pump exits.
func (h *Host) Done() <-chan struct{} { return h.done }

// Stop asks the pump to exit. It does not wait.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		if h.stop != nil {
			h.stop()
		}
	})
}

// dispatch offers m to the installed filter and reports whether the filter
// consumed it. Unconsumed messages go on to TranslateMessage/DispatchMessage.
func (h *Host) dispatch(m twain.WindowsMessage) bool {
	if !h.useFilter || h.filter == nil {
		return false
	}
	h.current = m
	var handled bool
	h.filter(m.Hwnd, m.Message, m.WParam, m.LParam, &handled)
	return handled
}

// Invoke runs fn on the pump thread and returns its error. If ctx ends first
// Invoke returns ctx.Err(); a call already queued still runs.
func (h *Host) Invoke(ctx context.Context, fn func() error) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	c := call{fn: fn, errc: make(chan error, 1)}
	select {
	case h.calls <- c:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := h.wake(); err != nil {
		return fmt.Errorf("wake pump: %w", err)
	}
	select {
	case err := <-c.errc:
		return err
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCalls drains queued Invoke calls on the pump thread.
func (h *Host) runCalls() {
	for {
		select {
		case c := <-h.calls:
			c.errc <- runCall(c.fn)
		default:
			return
		}
	}
}

func runCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("invoked call panicked", "panic", r)
			err = fmt.Errorf("winhost: invoked call panicked: %v", r)
		}
	}()
	return fn()
}

// drain fails every call still queued when the pump exits.
func (h *Host) drain() {
	for {
		select {
		case c := <-h.calls:
			c.errc <- ErrStopped
		default:
			return
		}
	}
}
