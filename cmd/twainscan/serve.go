package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/OpenPrinting/go-mfp/transport"
	"github.com/OpenPrinting/go-mfp/util/optional"
	"github.com/grandcat/zeroconf"
	"github.com/spf13/cobra"

	"github.com/mzyy94/twainscan/internal/config"
	"github.com/mzyy94/twainscan/internal/scanner"
	"github.com/mzyy94/twainscan/internal/webui"
)

var serveFlags struct {
	Port       int
	DataDir    string
	DeviceName string
	NoMDNS     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the scanner over eSCL and a JSON API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.Port, "port",
		envInt("TWAINSCAN_LISTEN_PORT", 8080), "HTTP listen port")
	serveCmd.Flags().StringVar(&serveFlags.DataDir, "data-dir",
		envStr("TWAINSCAN_DATA_DIR", ""), "Directory for persisted settings (default: in memory)")
	serveCmd.Flags().StringVar(&serveFlags.DeviceName, "name",
		envStr("TWAINSCAN_DEVICE_NAME", ""), "Advertised device name (default: source product name)")
	serveCmd.Flags().BoolVar(&serveFlags.NoMDNS, "no-mdns", false, "Do not advertise over mDNS")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	store := config.NewMemoryStore()
	if serveFlags.DataDir != "" {
		var err error
		if store, err = config.NewStore(serveFlags.DataDir); err != nil {
			return fmt.Errorf("open settings: %w", err)
		}
	}

	// A persisted source wins over the flag once the user picked one in the API.
	source := globalFlags.Source
	if s := store.Get().Source; s != "" {
		source = s
	}
	s, err := openSession(ctx, source)
	if err != nil {
		return err
	}
	defer s.Close()

	adapter, err := scanner.NewESCLAdapter(ctx, s.sc)
	if err != nil {
		return fmt.Errorf("create eSCL adapter: %w", err)
	}
	defer adapter.Close()

	deviceName := serveFlags.DeviceName
	if deviceName == "" {
		deviceName = adapter.Capabilities().MakeAndModel
	}

	esclServer := escl.NewAbstractServer(escl.AbstractServerOptions{
		Scanner:  adapter,
		BasePath: "",
		Hooks: escl.ServerHooks{
			OnScannerStatusResponse: func(_ *transport.ServerQuery, status *escl.ScannerStatus) *escl.ScannerStatus {
				hasPaper, err := adapter.CheckADFStatus()
				if err != nil {
					slog.Debug("ADF status unknown", "err", err)
					return nil
				}
				if hasPaper {
					status.ADFState = optional.New(escl.ScannerAdfLoaded)
				} else {
					status.ADFState = optional.New(escl.ScannerAdfEmpty)
				}
				return status
			},
		},
	})

	esclURL := fmt.Sprintf("http://%s/eSCL", net.JoinHostPort(localIP(), strconv.Itoa(serveFlags.Port)))

	mux := http.NewServeMux()
	mux.Handle("/api/", webui.NewHandler(webui.Options{
		Scanner:  s.sc,
		Adapter:  adapter,
		ESCLURL:  esclURL,
		Settings: store,
		Context:  ctx,
	}))
	// Serve at /eSCL/ for clients using the rs TXT record (sane-airscan, macOS)
	mux.Handle("/eSCL/", http.StripPrefix("/eSCL", esclServer))
	// Also serve at root for clients that ignore rs (sane-escl)
	mux.Handle("/", esclServer)

	addr := fmt.Sprintf(":%d", serveFlags.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: logMiddleware(mux),
	}

	if !serveFlags.NoMDNS {
		mdnsServer, err := zeroconf.Register(
			deviceName,
			"_uscan._tcp",
			"local.",
			serveFlags.Port,
			[]string{
				"txtvers=1",
				"ty=" + deviceName,
				"pdl=application/pdf,image/jpeg",
				"cs=color,grayscale,binary",
				"is=platen,adf",
				"duplex=T",
				"rs=eSCL",
				"uuid=" + adapter.Capabilities().UUID.String(),
			},
			nil,
		)
		if err != nil {
			return fmt.Errorf("mDNS registration: %w", err)
		}
		defer mdnsServer.Shutdown()
		slog.Info("mDNS registered", "name", deviceName, "service", "_uscan._tcp")
	}

	go func() {
		slog.Info("eSCL server starting", "addr", addr, "url", esclURL)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
	case <-s.host.Done():
		slog.Error("message pump stopped")
	}
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
	return nil
}
