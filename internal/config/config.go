// Package config provides configuration types, defaults, and persistence for sheetbind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/sheetbind/internal/flags"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

// Default file locations, relative to the working directory.
const (
	DefaultDir          = ".sheetbind"
	DefaultConfigFile   = "config.yaml"
	DefaultWorkbookPath = ".sheetbind/workbook.db"
	DefaultLogPath      = "debug.log"
)

// Config holds all sheetbind configuration.
type Config struct {
	Workbook WorkbookConfig `mapstructure:"workbook"`
	Watch    WatchConfig    `mapstructure:"watch"`
	TaskPane TaskPaneConfig `mapstructure:"task_pane"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  tracing.Config `mapstructure:"tracing"`

	// Flags toggles optional behavior by name; see package flags.
	Flags map[string]bool `mapstructure:"flags"`
}

// WorkbookConfig locates the persisted workbook and picks the controller
// activated for the workbook as a whole.
type WorkbookConfig struct {
	// Path is the sqlite file backing the workbook.
	// Default: .sheetbind/workbook.db
	Path string `mapstructure:"path"`

	// Seed is a fixture YAML applied when the store is empty.
	Seed string `mapstructure:"seed"`

	// DefaultController is activated on the workbook after start.
	// Default: "workbook"
	DefaultController string `mapstructure:"default_controller"`
}

// WatchConfig controls reloading when another process edits the workbook.
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Debounce coalesces bursts of writes into a single reload.
	// Default: 250ms
	Debounce time.Duration `mapstructure:"debounce"`
}

// TaskPaneConfig holds task pane presentation settings.
type TaskPaneConfig struct {
	// Width is the rendered pane width in cells.
	// Default: 48
	Width int `mapstructure:"width"`
}

// LogConfig holds debug logging settings.
type LogConfig struct {
	Debug bool   `mapstructure:"debug"`
	Path  string `mapstructure:"path"`
	// Level is the lowest level written: debug, info, warn or error.
	// Default: debug
	Level string `mapstructure:"level"`
}

// MinTaskPaneWidth is the narrowest pane that still fits a border and a key.
const MinTaskPaneWidth = 16

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Workbook: WorkbookConfig{
			Path:              DefaultWorkbookPath,
			DefaultController: "workbook",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
		TaskPane: TaskPaneConfig{
			Width: 48,
		},
		Log: LogConfig{
			Path:  DefaultLogPath,
			Level: "debug",
		},
		Tracing: tc,
		Flags:   flags.Defaults(),
	}
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/sheetbind/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sheetbind", "traces", "traces.jsonl")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if err := ValidateWorkbook(cfg.Workbook); err != nil {
		return err
	}
	if err := ValidateWatch(cfg.Watch); err != nil {
		return err
	}
	if cfg.TaskPane.Width < MinTaskPaneWidth {
		return fmt.Errorf("task_pane.width must be at least %d, got %d", MinTaskPaneWidth, cfg.TaskPane.Width)
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateWorkbook checks workbook settings.
func ValidateWorkbook(wb WorkbookConfig) error {
	if wb.Path == "" {
		return fmt.Errorf("workbook.path is required")
	}
	if wb.Seed != "" {
		ext := strings.ToLower(filepath.Ext(wb.Seed))
		if ext != ".yaml" && ext != ".yml" {
			return fmt.Errorf("workbook.seed must be a .yaml file, got %q", wb.Seed)
		}
	}
	return nil
}

// ValidateWatch checks watcher settings.
func ValidateWatch(w WatchConfig) error {
	if w.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", w.Debounce)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Path requirements only matter when spans are exported.
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# sheetbind configuration

workbook:
  path: .sheetbind/workbook.db    # sqlite file backing the workbook
  # seed: fixtures/invoice.yaml   # fixture applied when the workbook is empty
  default_controller: workbook    # controller activated on the whole workbook

# Reload the workbook when another process writes it
watch:
  enabled: true
  debounce: 250ms

task_pane:
  width: 48

log:
  debug: false      # same as --debug or SHEETBIND_DEBUG=1
  path: debug.log
  level: debug      # debug, info, warn or error

# Distributed tracing of batches, controller setup and event dispatch
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/sheetbind/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Optional behavior
flags:
  task-pane-logs: true      # show recent log lines under the interactive pane
  reload-controllers: true  # refresh controller values when the workbook changes on disk
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
