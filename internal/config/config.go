package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"formatforge-go/internal/batch"
	"formatforge-go/internal/compositor"
	"formatforge-go/internal/converter"
	"formatforge-go/internal/decoder"
	"formatforge-go/internal/format"
	"formatforge-go/internal/icopack"
	"formatforge-go/internal/output"

	"github.com/spf13/viper"
)

// AnyFormat as declared format disables the mismatch check.
const AnyFormat = "any"

// Config represents the main configuration structure
type Config struct {
	Conversion  ConversionConfig  `mapstructure:"conversion"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Output      OutputConfig      `mapstructure:"output"`
	Server      ServerConfig      `mapstructure:"server"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ConversionConfig contains what to convert into and how
type ConversionConfig struct {
	DeclaredFormat    string `mapstructure:"declared_format"`
	TargetFormat      string `mapstructure:"target_format"`
	Force             bool   `mapstructure:"force"`
	PreserveAnimation bool   `mapstructure:"preserve_animation"`
	Background        string `mapstructure:"background"`
	ICOPreset         string `mapstructure:"ico_preset"`
	ICOSizes          string `mapstructure:"ico_sizes"`
	AutoOrient        bool   `mapstructure:"auto_orient"`
	JPEGQuality       int    `mapstructure:"jpeg_quality"`
	WEBPQuality       int    `mapstructure:"webp_quality"`
	WEBPLossless      bool   `mapstructure:"webp_lossless"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int           `mapstructure:"worker_threads"`
	FileTimeout   time.Duration `mapstructure:"file_timeout"`
	MaxPixels     int           `mapstructure:"max_pixels"`
}

// OutputConfig contains where converted files go
type OutputConfig struct {
	Directory         string `mapstructure:"directory"`
	DuplicateHandling string `mapstructure:"duplicate_handling"`
	Archive           bool   `mapstructure:"archive"`
	ArchiveName       string `mapstructure:"archive_name"`
	DryRun            bool   `mapstructure:"dry_run"`
	Recursive         bool   `mapstructure:"recursive"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb"`
	JobRetention time.Duration `mapstructure:"job_retention"`
	MaxJobs      int           `mapstructure:"max_jobs"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`

	// ConsoleFormat is "text" or "json". The log file is always JSON.
	ConsoleFormat string `mapstructure:"console_format"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Conversion: ConversionConfig{
			DeclaredFormat:    AnyFormat,
			TargetFormat:      "PNG",
			PreserveAnimation: true,
			Background:        "#FFFFFF",
			ICOPreset:         icopack.DefaultPreset,
			JPEGQuality:       75,
			WEBPQuality:       80,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 0, // 0 means one per CPU
			FileTimeout:   2 * time.Minute,
			MaxPixels:     178956970,
		},
		Output: OutputConfig{
			Directory:         "converted",
			DuplicateHandling: "rename", // rename, skip, overwrite
			ArchiveName:       "converted_images.zip",
			Recursive:         true,
		},
		Server: ServerConfig{
			Port:         8080,
			MaxUploadMB:  200,
			JobRetention: time.Hour,
			MaxJobs:      100,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "formatforge.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Console:    true,

			ConsoleFormat: "text",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.formatforge")
		v.AddConfigPath("/etc/formatforge")
	}

	// Environment variables only resolve for keys viper knows about
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("FORMATFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("conversion.declared_format", c.Conversion.DeclaredFormat)
	v.SetDefault("conversion.target_format", c.Conversion.TargetFormat)
	v.SetDefault("conversion.force", c.Conversion.Force)
	v.SetDefault("conversion.preserve_animation", c.Conversion.PreserveAnimation)
	v.SetDefault("conversion.background", c.Conversion.Background)
	v.SetDefault("conversion.ico_preset", c.Conversion.ICOPreset)
	v.SetDefault("conversion.ico_sizes", c.Conversion.ICOSizes)
	v.SetDefault("conversion.auto_orient", c.Conversion.AutoOrient)
	v.SetDefault("conversion.jpeg_quality", c.Conversion.JPEGQuality)
	v.SetDefault("conversion.webp_quality", c.Conversion.WEBPQuality)
	v.SetDefault("conversion.webp_lossless", c.Conversion.WEBPLossless)

	v.SetDefault("performance.worker_threads", c.Performance.WorkerThreads)
	v.SetDefault("performance.file_timeout", c.Performance.FileTimeout)
	v.SetDefault("performance.max_pixels", c.Performance.MaxPixels)

	v.SetDefault("output.directory", c.Output.Directory)
	v.SetDefault("output.duplicate_handling", c.Output.DuplicateHandling)
	v.SetDefault("output.archive", c.Output.Archive)
	v.SetDefault("output.archive_name", c.Output.ArchiveName)
	v.SetDefault("output.dry_run", c.Output.DryRun)
	v.SetDefault("output.recursive", c.Output.Recursive)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("server.job_retention", c.Server.JobRetention)
	v.SetDefault("server.max_jobs", c.Server.MaxJobs)

	v.SetDefault("watch.debounce", c.Watch.Debounce)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)
	v.SetDefault("logging.console_format", c.Logging.ConsoleFormat)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := format.Normalize(c.Conversion.TargetFormat); err != nil {
		return fmt.Errorf("invalid target_format: %w", err)
	}
	if _, err := c.Declared(); err != nil {
		return fmt.Errorf("invalid declared_format: %w", err)
	}

	if c.Conversion.Background == "" {
		c.Conversion.Background = "#FFFFFF"
	}
	if _, err := compositor.ParseHex(c.Conversion.Background); err != nil {
		return fmt.Errorf("invalid background colour %q: %w", c.Conversion.Background, err)
	}

	if _, err := c.IconSizes(); err != nil {
		return err
	}

	if c.Conversion.JPEGQuality < 1 || c.Conversion.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.Conversion.JPEGQuality)
	}
	if c.Conversion.WEBPQuality < 1 || c.Conversion.WEBPQuality > 100 {
		return fmt.Errorf("webp_quality must be between 1 and 100, got %d", c.Conversion.WEBPQuality)
	}

	// Validate duplicate handling strategy
	if _, err := output.ParseDuplicateStrategy(c.Output.DuplicateHandling); err != nil {
		return fmt.Errorf("invalid duplicate_handling strategy: %s (valid: rename, skip, overwrite)",
			c.Output.DuplicateHandling)
	}
	if c.Output.ArchiveName == "" {
		c.Output.ArchiveName = "converted_images.zip"
	}

	// Validate performance settings
	if c.Performance.WorkerThreads < 0 {
		c.Performance.WorkerThreads = 0
	}
	if c.Performance.FileTimeout < 0 {
		return fmt.Errorf("file_timeout must not be negative")
	}
	if c.Performance.MaxPixels < 0 {
		c.Performance.MaxPixels = 0
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 200
	}
	if c.Server.JobRetention <= 0 {
		c.Server.JobRetention = time.Hour
	}
	if c.Server.MaxJobs <= 0 {
		c.Server.MaxJobs = 100
	}

	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.ConsoleFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid console log format: %s (valid: text, json)", c.Logging.ConsoleFormat)
	}

	return nil
}

// Target returns the normalised target format.
func (c *Config) Target() format.Format {
	f, _ := format.Normalize(c.Conversion.TargetFormat)
	return f
}

// Declared returns the declared input format, or Unknown when any format is
// accepted.
func (c *Config) Declared() (format.Format, error) {
	name := strings.TrimSpace(c.Conversion.DeclaredFormat)
	if name == "" || strings.EqualFold(name, AnyFormat) {
		return format.Unknown, nil
	}
	return format.Normalize(name)
}

// BackgroundColor returns the parsed JPEG background colour.
func (c *Config) BackgroundColor() compositor.RGB {
	bg, err := compositor.ParseHex(c.Conversion.Background)
	if err != nil {
		return compositor.White
	}
	return bg
}

// IconSizes resolves the configured ICO preset.
func (c *Config) IconSizes() ([]int, error) {
	return icopack.Resolve(c.Conversion.ICOPreset, c.Conversion.ICOSizes)
}

// Workers returns the effective worker count.
func (c *Config) Workers() int {
	if c.Performance.WorkerThreads > 0 {
		return c.Performance.WorkerThreads
	}
	return runtime.NumCPU()
}

// BatchOptions builds the per-run options for the batch driver.
func (c *Config) BatchOptions() batch.Options {
	declared, _ := c.Declared()
	sizes, _ := c.IconSizes()
	return batch.Options{
		Target:            c.Target(),
		Declared:          declared,
		Force:             c.Conversion.Force,
		PreserveAnimation: c.Conversion.PreserveAnimation,
		Background:        c.BackgroundColor(),
		IconSizes:         sizes,
		Workers:           c.Workers(),
		FileTimeout:       c.Performance.FileTimeout,
	}
}

// ConverterOptions returns the encoder settings.
func (c *Config) ConverterOptions() converter.Options {
	return converter.Options{
		JPEGQuality:  c.Conversion.JPEGQuality,
		WEBPQuality:  float32(c.Conversion.WEBPQuality),
		WEBPLossless: c.Conversion.WEBPLossless,
	}
}

// DecoderOptions returns the decoder settings.
func (c *Config) DecoderOptions() decoder.Options {
	return decoder.Options{
		AutoOrient: c.Conversion.AutoOrient,
		MaxPixels:  c.Performance.MaxPixels,
	}
}

// OutputOptions returns the writer settings.
func (c *Config) OutputOptions() output.Options {
	strategy, _ := output.ParseDuplicateStrategy(c.Output.DuplicateHandling)
	return output.Options{
		Directory:  c.Output.Directory,
		Duplicates: strategy,
		DryRun:     c.Output.DryRun,
	}
}
