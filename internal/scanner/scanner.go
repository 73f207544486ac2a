package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/mzyy94/twainscan/internal/twain"
)

var (
	// ErrBusy is returned when a scan is requested while another runs.
	ErrBusy = errors.New("scanner: scan already in progress")
	// ErrNotStarted is returned when the source refused to enable.
	ErrNotStarted = errors.New("scanner: source did not start scanning")
)

// Host is the message pump a Scanner runs on: it filters messages for the
// TWAIN engine and runs calls on the pump thread.
type Host interface {
	twain.MessageHook
	Invoke(ctx context.Context, fn func() error) error
}

// Page is one acquired image.
type Page struct {
	Image image.Image
	DpiX  float64
	DpiY  float64
	Info  twain.ImageInfo
}

// Dpi returns the horizontal resolution, falling back to fallback when the
// source did not report one.
func (p Page) Dpi(fallback int) int {
	if p.DpiX >= 1 {
		return int(p.DpiX + 0.5)
	}
	if r := p.Info.XResolution.Float(); r >= 1 {
		return int(r + 0.5)
	}
	return fallback
}

type job struct {
	ctx    context.Context
	onPage func(Page)
	pages  []Page
	done   chan error
}

// Scanner is a high-level interface for TWAIN scanning from any goroutine.
// Every engine call is marshalled onto the host's pump thread.
type Scanner struct {
	tw   *twain.Twain
	host Host
	mu   sync.Mutex

	// Pump thread only.
	job *job
}

// Open opens the DSM through gw on the host's pump thread and selects
// source, or the system default when source is empty.
func Open(ctx context.Context, gw twain.Gateway, host Host, source string) (*Scanner, error) {
	var tw *twain.Twain
	err := host.Invoke(ctx, func() error {
		var err error
		tw, err = twain.New(gw, host)
		if err != nil {
			return err
		}
		if source != "" {
			if err := tw.SelectSourceByName(source); err != nil {
				tw.Close()
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open TWAIN: %w", err)
	}
	return New(tw, host), nil
}

// New wraps an open facade. tw must have been created on host's pump thread.
func New(tw *twain.Twain, host Host) *Scanner {
	s := &Scanner{tw: tw, host: host}
	tw.OnTransferImage(s.onImage)
	tw.OnScanningComplete(s.onComplete)
	return s
}

// Scan runs one scan with settings and returns the acquired pages. onPage,
// when set, is called on the pump thread as each page arrives. Cancelling
// ctx stops the transfer after the current page, or closes the source if it
// is still waiting for paper.
func (s *Scanner) Scan(ctx context.Context, settings twain.ScanSettings, onPage func(Page)) ([]Page, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	j := &job{ctx: ctx, onPage: onPage, done: make(chan error, 1)}
	var source string
	err := s.host.Invoke(ctx, func() error {
		s.job = j
		source = s.tw.CurrentSourceName()
		started, err := s.tw.StartScanning(settings)
		if err == nil && !started {
			err = ErrNotStarted
		}
		if err != nil {
			s.job = nil
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			// The start call may still have run on the pump and armed the source.
			s.abort()
		}
		return nil, fmt.Errorf("start scan: %w", err)
	}
	slog.Info("scan started", "source", source)

	select {
	case err := <-j.done:
		if err == nil {
			err = ctx.Err()
		}
		return j.pages, err
	case <-ctx.Done():
	}

	slog.Info("scan cancelled, aborting")
	if err := s.abort(); err != nil {
		return nil, ctx.Err()
	}
	select {
	case err := <-j.done:
		if err == nil || errors.Is(err, twain.ErrAborted) {
			err = ctx.Err()
		}
		return j.pages, err
	default:
		return nil, ctx.Err()
	}
}

// abort closes an armed source on the pump and detaches the current job.
func (s *Scanner) abort() error {
	err := s.host.Invoke(context.Background(), func() error {
		s.tw.AbortScanning()
		s.job = nil
		return nil
	})
	if err != nil {
		slog.Warn("abort scan failed", "err", err)
	}
	return err
}

func (s *Scanner) onImage(ev *twain.TransferImageEvent) {
	j := s.job
	if j == nil {
		return
	}
	p := Page{Image: ev.Image, DpiX: ev.DpiX, DpiY: ev.DpiY, Info: ev.Info}
	j.pages = append(j.pages, p)
	slog.Debug("page received", "page", len(j.pages), "size", ev.Image.Bounds().Size(), "more", ev.MoreImagesPending)
	if j.onPage != nil {
		j.onPage(p)
	}
	if j.ctx.Err() != nil {
		ev.ContinueScanning = false
	}
}

func (s *Scanner) onComplete(ev twain.ScanningCompleteEvent) {
	j := s.job
	if j == nil {
		return
	}
	s.job = nil
	j.done <- ev.Err
}

// Sources lists the product names of the installed sources.
func (s *Scanner) Sources(ctx context.Context) ([]string, error) {
	var names []string
	err := s.host.Invoke(ctx, func() error {
		var err error
		names, err = s.tw.SourceNames()
		return err
	})
	return names, err
}

// SelectSource makes the named source current. It fails with ErrBusy while
// a scan is running.
func (s *Scanner) SelectSource(ctx context.Context, name string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()
	return s.host.Invoke(ctx, func() error {
		return s.tw.SelectSourceByName(name)
	})
}

// CurrentSource returns the product name of the current source.
func (s *Scanner) CurrentSource(ctx context.Context) (string, error) {
	var name string
	err := s.host.Invoke(ctx, func() error {
		name = s.tw.CurrentSourceName()
		return nil
	})
	return name, err
}

// SourceIdentity returns the identity of the current source.
func (s *Scanner) SourceIdentity(ctx context.Context) (twain.Identity, error) {
	var id twain.Identity
	err := s.host.Invoke(ctx, func() error {
		if ds := s.tw.Manager().DataSource(); ds != nil {
			id = ds.ID()
		}
		return nil
	})
	return id, err
}

// State returns the engine's scanning state.
func (s *Scanner) State(ctx context.Context) (twain.State, error) {
	var st twain.State
	err := s.host.Invoke(ctx, func() error {
		st = s.tw.Manager().State()
		return nil
	})
	return st, err
}

// Close shuts the TWAIN session down.
func (s *Scanner) Close(ctx context.Context) error {
	err := s.host.Invoke(ctx, s.tw.Close)
	slog.Info("scanner closed")
	return err
}
