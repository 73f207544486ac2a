package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mzyy94/twainscan/internal/config"
	"github.com/mzyy94/twainscan/internal/scanner"
)

var scanFlags struct {
	Out     string
	Profile string
	Format  string
	DPI     int
	Color   string
	Feeder  bool
	Duplex  bool
	ShowUI  bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan once and write the pages to disk",
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&scanFlags.Out, "out", "o", ".", "Output directory")
	f.StringVar(&scanFlags.Profile, "profile", envStr("TWAINSCAN_PROFILE", ""), "YAML scan profile")
	f.StringVar(&scanFlags.Format, "format", "", "Output format: application/pdf, image/jpeg, image/png, image/tiff")
	f.IntVar(&scanFlags.DPI, "dpi", 0, "Resolution in dots per inch")
	f.StringVar(&scanFlags.Color, "color", "", "Colour mode: color, grayscale, bw")
	f.BoolVar(&scanFlags.Feeder, "feeder", false, "Scan from the document feeder")
	f.BoolVar(&scanFlags.Duplex, "duplex", false, "Scan both sides (with --feeder)")
	f.BoolVar(&scanFlags.ShowUI, "show-ui", false, "Show the driver's own dialog")
}

// scanSettings layers the profile and then any explicitly set flags over
// the defaults.
func scanSettings(cmd *cobra.Command) (config.Settings, error) {
	settings := config.DefaultSettings()
	if scanFlags.Profile != "" {
		var err error
		if settings, err = config.LoadProfile(scanFlags.Profile); err != nil {
			return settings, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("format") {
		settings.Format = scanFlags.Format
	}
	if flags.Changed("dpi") {
		settings.Resolution = scanFlags.DPI
	}
	if flags.Changed("color") {
		settings.ColorMode = scanFlags.Color
	}
	if flags.Changed("feeder") {
		settings.Feeder = scanFlags.Feeder
	}
	if flags.Changed("duplex") {
		settings.Duplex = scanFlags.Duplex
	}
	if flags.Changed("show-ui") {
		settings.ShowUI = scanFlags.ShowUI
	}
	if flags.Changed("out") || settings.SavePath == "" {
		settings.SavePath = scanFlags.Out
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	settings, err := scanSettings(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	source := globalFlags.Source
	if source == "" {
		source = settings.Source
	}
	s, err := openSession(ctx, source)
	if err != nil {
		return err
	}
	defer s.Close()

	pages, files, err := scanner.RunSaveJob(ctx, s.sc, settings)
	if err != nil {
		return err
	}
	slog.Info("scan complete", "pages", pages)
	for _, f := range files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}
