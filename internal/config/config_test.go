package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/flags"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, DefaultWorkbookPath, cfg.Workbook.Path)
	require.Equal(t, "workbook", cfg.Workbook.DefaultController)
	require.True(t, cfg.Watch.Enabled)
	require.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	require.Equal(t, 48, cfg.TaskPane.Width)
	require.Equal(t, DefaultLogPath, cfg.Log.Path)
	require.Equal(t, "debug", cfg.Log.Level)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.True(t, cfg.Flags[flags.FlagTaskPaneLogs])
	require.True(t, cfg.Flags[flags.FlagReloadControllers])
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing path", mutate: func(c *Config) { c.Workbook.Path = "" }, wantErr: "workbook.path is required"},
		{name: "seed not yaml", mutate: func(c *Config) { c.Workbook.Seed = "seed.json" }, wantErr: "workbook.seed must be a .yaml file"},
		{name: "seed yml", mutate: func(c *Config) { c.Workbook.Seed = "seed.YML" }},
		{name: "negative debounce", mutate: func(c *Config) { c.Watch.Debounce = -time.Second }, wantErr: "watch.debounce"},
		{name: "narrow pane", mutate: func(c *Config) { c.TaskPane.Width = 4 }, wantErr: "task_pane.width must be at least"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "Warn" }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "sample rate", mutate: func(c *Config) { c.Tracing.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: "tracing.exporter"},
		{
			name: "enabled file without path",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.FilePath = ""
			},
			wantErr: "tracing.file_path is required",
		},
		{
			name: "enabled otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
				c.Tracing.OTLPEndpoint = ""
			},
			wantErr: "tracing.otlp_endpoint is required",
		},
		{
			name: "disabled file without path",
			mutate: func(c *Config) {
				c.Tracing.FilePath = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateTracing_EmptyExporterUsesDefault(t *testing.T) {
	require.NoError(t, ValidateTracing(tracing.Config{}))
}

func TestDefaultConfigTemplate_DecodesToDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(DefaultConfigTemplate())))

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))

	want := Defaults()
	require.Equal(t, want, cfg)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, "traces.jsonl"), ExpandHome("~/traces.jsonl"))
	require.Equal(t, "/tmp/x", ExpandHome("/tmp/x"))
	require.Equal(t, "~user/x", ExpandHome("~user/x"))
	require.True(t, strings.HasSuffix(DefaultTracesFilePath(), filepath.Join("sheetbind", "traces", "traces.jsonl")))
}
