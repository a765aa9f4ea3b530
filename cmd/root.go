package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/sheetbind/internal/config"
	"github.com/zjrosen/sheetbind/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

// EnvPrefix prefixes environment overrides, e.g. SHEETBIND_WORKBOOK_PATH.
const EnvPrefix = "SHEETBIND"

var (
	version    = "dev"
	cfgFile    string
	debug      bool
	cfg        config.Config
	cfgErr     error
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "sheetbind",
	Short: "Bind controllers to spreadsheet workbooks",
	Long: `sheetbind attaches controllers to a workbook through named markers.

A worksheet whose "controller" name holds a controller name gets that
controller while it is active. Workbook names starting with "controller__"
bind a range or table to the controller named in their comment.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return cfgErr
		}
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			logCleanup()
			logCleanup = nil
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .sheetbind/config.yaml, then ~/.config/sheetbind/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"write debug logs (also SHEETBIND_DEBUG=1)")

	_ = viper.BindPFlag("log.debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	cfg, cfgErr = loadConfig(viper.GetViper(), cfgFile)
}

// loadConfig resolves the config file, applies defaults and environment
// overrides and decodes the result.
func loadConfig(v *viper.Viper, explicit string) (config.Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case explicit != "":
		// A missing explicit file is allowed so `init --config` can create it.
		if _, err := os.Stat(explicit); err != nil {
			if !os.IsNotExist(err) {
				return config.Config{}, fmt.Errorf("reading config: %w", err)
			}
			break
		}
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
	default:
		// Config lookup order:
		// 1. .sheetbind/config.yaml (current directory)
		// 2. ~/.config/sheetbind/config.yaml (user config)
		local := filepath.Join(config.DefaultDir, config.DefaultConfigFile)
		if _, err := os.Stat(local); err == nil {
			v.SetConfigFile(local)
		} else {
			home, _ := os.UserHomeDir()
			v.AddConfigPath(filepath.Join(home, ".config", "sheetbind"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			// No config file anywhere means defaults.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return config.Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var out config.Config
	if err := v.Unmarshal(&out); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	out.Tracing.FilePath = config.ExpandHome(out.Tracing.FilePath)
	if log.DebugFromEnv() {
		out.Log.Debug = true
	}
	return out, nil
}

func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("workbook.path", d.Workbook.Path)
	v.SetDefault("workbook.seed", d.Workbook.Seed)
	v.SetDefault("workbook.default_controller", d.Workbook.DefaultController)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("task_pane.width", d.TaskPane.Width)
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	for name, enabled := range d.Flags {
		v.SetDefault("flags."+name, enabled)
	}
}

func setupLogging() error {
	if !cfg.Log.Debug {
		return nil
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.Path == "-" {
		log.InitWriter(os.Stderr)
		log.SetMinLevel(level)
		return nil
	}
	cleanup, err := log.InitWithTeaLog(cfg.Log.Path, "sheetbind")
	if err != nil {
		return fmt.Errorf("opening debug log: %w", err)
	}
	logCleanup = cleanup
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "debug logging enabled", "config", viper.ConfigFileUsed())
	return nil
}

// configPath returns the file config edits go to.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(config.DefaultDir, config.DefaultConfigFile)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
