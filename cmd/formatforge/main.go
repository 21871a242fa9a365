package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formatforge-go/internal/batch"
	"formatforge-go/internal/config"
	"formatforge-go/internal/converter"
	"formatforge-go/internal/decoder"
	"formatforge-go/internal/extractor"
	"formatforge-go/internal/format"
	"formatforge-go/internal/icopack"
	"formatforge-go/internal/logger"
	"formatforge-go/internal/output"
	"formatforge-go/internal/statistics"
	"formatforge-go/internal/watcher"
	"formatforge-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string

	targetFormat   string
	declaredFormat string
	force          bool
	noAnimation    bool
	background     string
	icoPreset      string
	icoSizes       string
	outputDir      string
	duplicates     string
	archiveOut     bool
	dryRun         bool
	recursive      bool
	workers        int

	port     int
	debounce time.Duration
	exiftool bool
)

// rootCmd converts files given on the command line.
var rootCmd = &cobra.Command{
	Use:   "formatforge [paths...]",
	Short: "Convert images between PNG, JPEG, ICO, GIF, BMP, WEBP and TIFF",
	Long: `FormatForge converts batches of images into a single target format.

Features:
- PNG, JPEG, ICO, GIF, BMP, WEBP and TIFF in both directions
- Transparent images are flattened onto a background colour for JPEG
- Multi-resolution ICO files from presets or custom sizes
- Animated GIF/WEBP sources stay animated when converted to GIF
- Files that fail never stop the rest of the batch
- Output to a directory or a single ZIP archive`,
	Version: version,
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args)
	},
}

// convertCmd is the explicit form of the root command.
var convertCmd = &cobra.Command{
	Use:   "convert [paths...]",
	Short: "Convert files and directories",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd, args)
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversion HTTP API",
	Long: `Starts a web server that accepts multipart uploads on /api/convert and
broadcasts progress to websocket clients on /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// watchCmd converts files as they appear in a folder.
var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Convert new images dropped into a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, args[0])
	},
}

// inspectCmd shows what the decoder sees in a file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show detected format, pixel mode, animation and metadata of a file",
	Long: `Decodes a single file and prints what the converter would work with.
With --exiftool every tag known to exiftool is listed as well (requires the
exiftool binary on PATH).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// formatsCmd lists supported formats and icon presets.
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported formats and ICO size presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormats()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, cmd := range []*cobra.Command{rootCmd, convertCmd, watchCmd} {
		f := cmd.Flags()
		f.StringVarP(&targetFormat, "to", "t", "", "target format (png, jpeg, ico, gif, bmp, webp, tiff)")
		f.StringVar(&declaredFormat, "from", "", "declared input format, \"any\" disables the check")
		f.BoolVar(&force, "force", false, "convert even when the detected format differs from --from")
		f.BoolVar(&noAnimation, "no-animation", false, "write only the first frame of animated sources")
		f.StringVar(&background, "background", "", "background colour for JPEG output (#RRGGBB)")
		f.StringVar(&icoPreset, "ico-preset", "", "ICO size preset (default, small, medium, large, all, custom)")
		f.StringVar(&icoSizes, "ico-sizes", "", "comma separated ICO sizes, implies --ico-preset custom")
		f.StringVarP(&outputDir, "output", "o", "", "output directory")
		f.StringVar(&duplicates, "duplicates", "", "existing file handling (rename, skip, overwrite)")
		f.BoolVar(&dryRun, "dry-run", false, "convert without writing any file")
		f.IntVar(&workers, "workers", 0, "number of parallel conversions (0 = CPU count)")
	}
	for _, cmd := range []*cobra.Command{rootCmd, convertCmd} {
		cmd.Flags().BoolVar(&archiveOut, "archive", false, "write a single ZIP archive instead of separate files")
		cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	}

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 0, "wait this long after the last write before converting")
	inspectCmd.Flags().BoolVar(&exiftool, "exiftool", false, "also dump all tags using exiftool")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(formatsCmd)
}

// runConvert executes a one-shot batch conversion.
func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(args) == 0 {
		args = []string{"."}
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()

	paths, err := batch.CollectFiles(args, cfg.Output.Recursive, cfg.Output.Directory)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no image files found in %s", strings.Join(args, ", "))
	}
	for range paths {
		stats.IncrementFilesFound()
	}

	inputs, failed := batch.LoadInputs(paths)
	for path, readErr := range failed {
		log.WithError(readErr).WithField("file", path).Error("Could not read file")
		stats.IncrementFilesWithErrors()
		stats.AddError(path, "read", readErr.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := newDriver(cfg, log, stats, batch.WithProgress(func(p batch.Progress) {
		if !quiet {
			fmt.Fprintf(os.Stderr, "[%d/%d] %-8s %s %s\n", p.Done, p.Total, p.Status, p.Filename, p.Message)
		}
	}))
	out := driver.Run(ctx, inputs, cfg.BatchOptions())

	var writeErr error
	writer := output.NewWriter(cfg.OutputOptions(), log, stats, nil)
	if cfg.Output.Archive {
		wr, err := writer.WriteArchive(out, cfg.Output.ArchiveName)
		if err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
		if !quiet {
			fmt.Printf("Archive: %s (%s)\n", wr.Path, wr.Action)
		}
	} else if len(out.Converted()) > 0 {
		if _, err := writer.WriteOutcome(out); err != nil {
			writeErr = fmt.Errorf("failed to write output: %w", err)
		}
	}

	stats.Finalize()
	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if len(out.Errored()) > 0 || writeErr != nil {
			fmt.Println(stats.GetErrorSummary())
		}
	}
	return writeErr
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log, statistics.NewStatistics())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("FormatForge API listening on http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// runWatch converts files created in dir until interrupted.
func runWatch(cmd *cobra.Command, dir string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debounce > 0 {
		cfg.Watch.Debounce = debounce
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	writer := output.NewWriter(cfg.OutputOptions(), log, stats, nil)

	w, err := watcher.New(dir, cfg.Watch.Debounce, newDriver(cfg, log, stats), cfg.BatchOptions(), writer, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range w.Events() {
			if quiet {
				continue
			}
			switch {
			case ev.Written != nil:
				fmt.Printf("%s -> %s (%s)\n", ev.Path, ev.Written.Path, ev.Written.Action)
			case ev.Err != nil && ev.Record.Message == "":
				fmt.Printf("%s: %v\n", ev.Path, ev.Err)
			default:
				fmt.Printf("%s: %s\n", ev.Path, ev.Record.Message)
			}
		}
	}()

	fmt.Printf("Watching %s, writing %s files to %s (Ctrl+C to stop)\n", dir, cfg.Target(), cfg.Output.Directory)
	err = w.Run(ctx)
	<-done

	stats.Finalize()
	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
	}
	return err
}

// runInspect decodes one file and prints what was found.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	fmt.Printf("Inspecting: %s\n", filePath)

	img, err := decoder.New(decoder.Options{}, nil).Decode(data)
	if err != nil {
		fmt.Printf("Unidentified image: %v\n", err)
	} else {
		fmt.Printf("Format:      %s\n", decoder.DetectedFormat(img, filePath))
		fmt.Printf("MIME:        %s\n", img.MIME)
		fmt.Printf("Dimensions:  %dx%d\n", img.Width, img.Height)
		fmt.Printf("Pixel mode:  %s\n", img.Mode)
		fmt.Printf("Transparent: %t\n", img.HasTransparency())
		if img.IsAnimated() {
			durations := img.Animation.Durations()
			parts := make([]string, len(durations))
			for i, d := range durations {
				parts[i] = d.String()
			}
			fmt.Printf("Frames:      %d\n", len(img.Animation.Frames))
			fmt.Printf("Durations:   %s\n", strings.Join(parts, ", "))
			fmt.Printf("Loop:        %d\n", img.Animation.Loop())
		}
		if md := img.Metadata; !md.IsZero() {
			fmt.Printf("Orientation: %s\n", md.Orientation)
			if md.Make != "" || md.Model != "" {
				fmt.Printf("Camera:      %s %s\n", md.Make, md.Model)
			}
			if !md.DateTime.IsZero() {
				fmt.Printf("Taken:       %s\n", md.DateTime.Format("2006-01-02 15:04:05"))
			}
		}
	}

	if !exiftool {
		return nil
	}

	var inspector extractor.FileInspector
	inspector, err = extractor.NewExiftoolInspector()
	if err != nil {
		return err
	}
	defer inspector.Close()

	tags, err := inspector.Inspect(filePath)
	if err != nil {
		return fmt.Errorf("exiftool: %w", err)
	}
	fmt.Println("\nexiftool tags:")
	for _, k := range extractor.SortedKeys(tags) {
		fmt.Printf("  %-32s %s\n", k, tags[k])
	}
	return nil
}

// runFormats prints the format table and ICO presets.
func runFormats() error {
	fmt.Printf("%-6s %-6s %-14s %-6s %s\n", "NAME", "EXT", "MIME", "ALPHA", "ANIMATION")
	for _, f := range format.All() {
		fmt.Printf("%-6s %-6s %-14s %-6t %t\n", f, f.Extension(), f.MimeType(), f.SupportsAlpha(), f.SupportsAnimation())
	}

	fmt.Println("\nICO presets:")
	for _, p := range icopack.Presets() {
		fmt.Printf("  %-8s %s\n", p.Name, p.Label)
	}
	fmt.Printf("  %-8s comma separated sizes up to %d\n", icopack.CustomPreset, icopack.MaxSize)
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if targetFormat != "" {
		cfg.Conversion.TargetFormat = targetFormat
	}
	if declaredFormat != "" {
		cfg.Conversion.DeclaredFormat = declaredFormat
	}
	if flags.Changed("force") {
		cfg.Conversion.Force = force
	}
	if flags.Changed("no-animation") {
		cfg.Conversion.PreserveAnimation = !noAnimation
	}
	if background != "" {
		cfg.Conversion.Background = background
	}
	if icoPreset != "" {
		cfg.Conversion.ICOPreset = icoPreset
	}
	if icoSizes != "" {
		cfg.Conversion.ICOSizes = icoSizes
		if icoPreset == "" {
			cfg.Conversion.ICOPreset = icopack.CustomPreset
		}
	}
	if outputDir != "" {
		cfg.Output.Directory = outputDir
	}
	if duplicates != "" {
		cfg.Output.DuplicateHandling = duplicates
	}
	if flags.Changed("archive") {
		cfg.Output.Archive = archiveOut
	}
	if flags.Changed("dry-run") {
		cfg.Output.DryRun = dryRun
	}
	if flags.Changed("recursive") {
		cfg.Output.Recursive = recursive
	}
	if workers > 0 {
		cfg.Performance.WorkerThreads = workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newDriver wires the decoder and converter from cfg.
func newDriver(cfg *config.Config, log logrus.FieldLogger, stats *statistics.Statistics, opts ...batch.DriverOption) *batch.Driver {
	opts = append([]batch.DriverOption{batch.WithStatistics(stats)}, opts...)
	return batch.NewDriver(
		decoder.New(cfg.DecoderOptions(), log),
		converter.New(cfg.ConverterOptions(), log),
		log,
		opts...,
	)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.FromConfig(cfg.Logging)
	if quiet {
		loggerCfg.Console = false
		loggerCfg.Level = "error"
	}
	if verbose {
		loggerCfg.Level = "debug"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if buildTime != "" {
		rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Version}} (built %s)\n", buildTime))
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
