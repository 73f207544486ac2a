package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mzyy94/twainscan/internal/config"
	"github.com/mzyy94/twainscan/internal/scanner"
)

// scanTimeout bounds a scan job started from the API.
const scanTimeout = 10 * time.Minute

type handler struct {
	sc       *scanner.Scanner
	adapter  *scanner.ESCLAdapter // nil when eSCL is disabled
	esclURL  string
	settings *config.Store
	job      *scanner.ScanJobStatus
	baseCtx  context.Context
}

// Options configures the API handler.
type Options struct {
	Scanner  *scanner.Scanner
	Adapter  *scanner.ESCLAdapter
	ESCLURL  string
	Settings *config.Store
	// Context bounds background scan jobs; they are cancelled with it.
	Context context.Context
}

// NewHandler creates an HTTP handler for the JSON API.
func NewHandler(opts Options) http.Handler {
	settings := opts.Settings
	if settings == nil {
		settings = config.NewMemoryStore()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h := &handler{
		sc:       opts.Scanner,
		adapter:  opts.Adapter,
		esclURL:  opts.ESCLURL,
		settings: settings,
		job:      &scanner.ScanJobStatus{},
		baseCtx:  ctx,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	mux.HandleFunc("GET /api/sources", h.handleSources)
	mux.HandleFunc("PUT /api/source", h.handleSelectSource)
	mux.HandleFunc("GET /api/scan", h.handleScanStatus)
	mux.HandleFunc("POST /api/scan", h.handleScan)
	return mux
}

type statusResponse struct {
	State     string                `json:"state"`
	Source    deviceInfo            `json:"source"`
	ADF       *adfStatus            `json:"adf,omitempty"`
	Caps      *capsInfo             `json:"capabilities,omitempty"`
	Job       scanner.ScanJobStatus `json:"job"`
	ESCLUrl   string                `json:"esclUrl,omitempty"`
	UpdatedAt string                `json:"updatedAt"`
}

type adfStatus struct {
	Loaded bool `json:"loaded"`
}

type deviceInfo struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Family       string `json:"family"`
	Version      string `json:"version"`
}

type capsInfo struct {
	Resolutions []int    `json:"resolutions"`
	ColorModes  []string `json:"colorModes"`
	Duplex      bool     `json:"duplex"`
	Formats     []string `json:"formats"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.sc.State(r.Context())
	if err != nil {
		http.Error(w, "scanner unavailable", http.StatusServiceUnavailable)
		return
	}
	id, err := h.sc.SourceIdentity(r.Context())
	if err != nil {
		http.Error(w, "scanner unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{
		State: state.String(),
		Source: deviceInfo{
			Name:         id.ProductName,
			Manufacturer: id.Manufacturer,
			Family:       id.ProductFamily,
			Version:      fmt.Sprintf("%d.%d", id.Version.MajorNum, id.Version.MinorNum),
		},
		Job:       h.job.Snapshot(),
		ESCLUrl:   h.esclURL,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if h.adapter != nil {
		if hasPaper, err := h.adapter.CheckADFStatus(); err == nil {
			resp.ADF = &adfStatus{Loaded: hasPaper}
		}
		caps := h.adapter.Capabilities()
		info := &capsInfo{
			ColorModes: []string{"color", "grayscale", "bw"},
			Duplex:     caps.ADFDuplex != nil,
			Formats:    caps.DocumentFormats,
		}
		if caps.Platen != nil && len(caps.Platen.Profiles) > 0 {
			for _, res := range caps.Platen.Profiles[0].Resolutions {
				info.Resolutions = append(info.Resolutions, res.XResolution)
			}
		}
		resp.Caps = info
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s := config.DefaultSettings()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- Sources API ---

type sourcesResponse struct {
	Sources []string `json:"sources"`
	Current string   `json:"current"`
}

func (h *handler) handleSources(w http.ResponseWriter, r *http.Request) {
	names, err := h.sc.Sources(r.Context())
	if err != nil {
		slog.Warn("list sources failed", "err", err)
		http.Error(w, "failed to list sources", http.StatusInternalServerError)
		return
	}
	current, _ := h.sc.CurrentSource(r.Context())
	writeJSON(w, http.StatusOK, sourcesResponse{Sources: names, Current: current})
}

func (h *handler) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if h.job.Snapshot().Scanning {
		http.Error(w, "scan in progress", http.StatusConflict)
		return
	}
	if err := h.sc.SelectSource(r.Context(), req.Name); err != nil {
		if errors.Is(err, scanner.ErrBusy) {
			http.Error(w, "scan in progress", http.StatusConflict)
			return
		}
		slog.Warn("select source failed", "name", req.Name, "err", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sourcesResponse{Current: req.Name})
}

// --- Scan API ---

func (h *handler) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.job.Snapshot())
}

// handleScan starts a scan-to-disk job with the stored settings and returns
// immediately; poll GET /api/scan for the outcome.
func (h *handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if !h.job.TryStart() {
		http.Error(w, "scan in progress", http.StatusConflict)
		return
	}
	settings := h.settings.Get()

	go func() {
		ctx, cancel := context.WithTimeout(h.baseCtx, scanTimeout)
		defer cancel()
		pages, files, err := scanner.RunSaveJob(ctx, h.sc, settings)
		if err != nil {
			slog.Warn("scan job failed", "err", err)
		}
		h.job.SetResult(err, pages, files)
	}()

	writeJSON(w, http.StatusAccepted, h.job.Snapshot())
}
