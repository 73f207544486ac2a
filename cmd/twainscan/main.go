package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mzyy94/twainscan/internal/dsm"
	"github.com/mzyy94/twainscan/internal/scanner"
	"github.com/mzyy94/twainscan/internal/winhost"
)

var globalFlags struct {
	LogLevel string
	DSM      string
	Source   string
}

var rootCmd = &cobra.Command{
	Use:   "twainscan",
	Short: "Drive TWAIN scanners from the command line or over eSCL",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel := parseLogLevel(globalFlags.LogLevel)
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level",
		envStr("TWAINSCAN_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&globalFlags.DSM, "dsm",
		envStr("TWAINSCAN_DSM", ""),
		"Path to the TWAIN DSM library (default: "+dsm.DefaultLibrary+")")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Source, "source",
		envStr("TWAINSCAN_SOURCE", ""),
		"Product name of the data source (default: system default)")

	rootCmd.AddCommand(serveCmd, sourcesCmd, scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// pumpHost is the message pump a session runs its TWAIN calls on.
type pumpHost interface {
	scanner.Host
	Stop()
	Done() <-chan struct{}
}

var startPump = func(ctx context.Context) (pumpHost, error) {
	h, err := winhost.Start(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

var openDSM = dsm.Open

// session is a running message pump, a loaded DSM and an open scanner.
type session struct {
	host pumpHost
	lib  dsm.Library
	sc   *scanner.Scanner
}

func openSession(ctx context.Context, source string) (*session, error) {
	// The pump outlives ctx; Close stops it after the DSM is closed.
	host, err := startPump(context.Background())
	if err != nil {
		return nil, fmt.Errorf("start message pump: %w", err)
	}
	lib, err := openDSM(globalFlags.DSM)
	if err != nil {
		host.Stop()
		return nil, fmt.Errorf("load DSM: %w", err)
	}
	sc, err := scanner.Open(ctx, lib, host, source)
	if err != nil {
		lib.Close()
		host.Stop()
		return nil, err
	}
	name, _ := sc.CurrentSource(ctx)
	slog.Info("scanner opened", "source", name)
	return &session{host: host, lib: lib, sc: sc}, nil
}

func (s *session) Close() {
	if err := s.sc.Close(context.Background()); err != nil {
		slog.Warn("scanner close failed", "err", err)
	}
	s.host.Stop()
	<-s.host.Done()
	if err := s.lib.Close(); err != nil {
		slog.Warn("DSM close failed", "err", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the data sources the DSM knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		s, err := openSession(ctx, globalFlags.Source)
		if err != nil {
			return err
		}
		defer s.Close()

		names, err := s.sc.Sources(ctx)
		if err != nil {
			return err
		}
		current, _ := s.sc.CurrentSource(ctx)
		for _, name := range names {
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// localIP returns the address of the interface used for outbound traffic.
func localIP() string {
	conn, err := net.Dial("udp4", "224.0.0.1:80")
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
