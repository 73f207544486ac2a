package webui

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mzyy94/twainscan/internal/config"
	"github.com/mzyy94/twainscan/internal/scanner"
	"github.com/mzyy94/twainscan/internal/twain"
	"github.com/mzyy94/twainscan/internal/twain/twaintest"
)

func newTestServer(t *testing.T) (*httptest.Server, *twaintest.Host, *config.Store) {
	t.Helper()
	gw := twaintest.NewGateway("Flatbed", "Feeder")
	gw.SetCap(twain.CapFeederEnabled, 0)
	gw.SetCap(twain.ICapXResolution, twain.Fix32FromFloat(300).Raw())
	gw.SetCap(twain.ICapYResolution, twain.Fix32FromFloat(300).Raw())
	host := twaintest.NewHost(gw)

	sc, err := scanner.Open(context.Background(), gw, host, "Flatbed")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sc.Close(context.Background()) })

	adapter, err := scanner.NewESCLAdapter(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	store := config.NewMemoryStore()
	srv := httptest.NewServer(NewHandler(Options{
		Scanner:  sc,
		Adapter:  adapter,
		ESCLURL:  "http://127.0.0.1:8080/eSCL",
		Settings: store,
	}))
	t.Cleanup(srv.Close)
	return srv, host, store
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := do(t, "GET", srv.URL+"/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	st := decode[statusResponse](t, resp)
	if st.State != twain.StateSourceSelected.String() {
		t.Errorf("state = %q", st.State)
	}
	if st.Source.Name != "Flatbed" {
		t.Errorf("source = %+v", st.Source)
	}
	if st.Caps == nil || len(st.Caps.Resolutions) == 0 || !st.Caps.Duplex {
		t.Errorf("caps = %+v", st.Caps)
	}
	if st.ADF != nil {
		t.Error("ADF state reported before any feeder scan")
	}
	if st.ESCLUrl == "" {
		t.Error("eSCL URL missing")
	}
}

func TestSettings(t *testing.T) {
	srv, _, store := newTestServer(t)

	got := decode[config.Settings](t, do(t, "GET", srv.URL+"/api/settings", ""))
	if got.Resolution != 300 || got.Format != "application/pdf" {
		t.Errorf("defaults = %+v", got)
	}

	resp := do(t, "PUT", srv.URL+"/api/settings", `{"colorMode":"grayscale","resolution":150,"format":"image/png"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	if s := store.Get(); s.ColorMode != "grayscale" || s.Resolution != 150 || s.Format != "image/png" {
		t.Errorf("stored = %+v", s)
	}

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"bad colour", `{"colorMode":"sepia"}`},
		{"bad format", `{"format":"image/gif"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := do(t, "PUT", srv.URL+"/api/settings", tt.body); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if s := store.Get(); s.ColorMode != "grayscale" {
		t.Error("rejected update changed the store")
	}
}

func TestSources(t *testing.T) {
	srv, _, _ := newTestServer(t)

	got := decode[sourcesResponse](t, do(t, "GET", srv.URL+"/api/sources", ""))
	if len(got.Sources) != 2 || got.Current != "Flatbed" {
		t.Errorf("sources = %+v", got)
	}

	if resp := do(t, "PUT", srv.URL+"/api/source", `{"name":"Feeder"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d", resp.StatusCode)
	}
	got = decode[sourcesResponse](t, do(t, "GET", srv.URL+"/api/sources", ""))
	if got.Current != "Feeder" {
		t.Errorf("current = %q", got.Current)
	}

	if resp := do(t, "PUT", srv.URL+"/api/source", `{"name":"Missing"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing source status = %d", resp.StatusCode)
	}
	if resp := do(t, "PUT", srv.URL+"/api/source", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty name status = %d", resp.StatusCode)
	}
}

func TestScan(t *testing.T) {
	srv, host, store := newTestServer(t)
	settings := config.DefaultSettings()
	settings.Format = "image/png"
	settings.SavePath = t.TempDir()
	if err := store.Update(settings); err != nil {
		t.Fatal(err)
	}
	host.Gateway.QueueImage(twaintest.Image{DIB: twaintest.SolidDIB(4, 4, 11811, color.RGBA{B: 0xFF, A: 0xFF})})
	host.Script(twain.MsgXferReady)

	resp := do(t, "POST", srv.URL+"/api/scan", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	var job scanner.ScanJobStatus
	for time.Now().Before(deadline) {
		job = decode[scanner.ScanJobStatus](t, do(t, "GET", srv.URL+"/api/scan", ""))
		if !job.Scanning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Scanning {
		t.Fatal("scan job did not finish")
	}
	if job.LastError != "" || job.Pages != 1 || len(job.FilePaths) != 1 {
		t.Errorf("job = %+v", job)
	}
}
