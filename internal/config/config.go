// Package config handles configuration loading, validation, and management for blinkscan.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Detector configures blink debouncing.
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`

	// Scanner configures the scanning selector.
	Scanner ScannerConfig `toml:"scanner" json:"scanner" yaml:"scanner"`

	// Predict configures word prediction.
	Predict PredictConfig `toml:"predict" json:"predict" yaml:"predict"`

	// Feed configures the landmark and view WebSocket streams.
	Feed FeedConfig `toml:"feed" json:"feed" yaml:"feed"`

	// API configures the HTTP control API.
	API APIConfig `toml:"api" json:"api" yaml:"api"`

	// Storage configures session persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// DBus configures the desktop bus bridge.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DetectorConfig holds blink debounce configuration.
type DetectorConfig struct {
	// EARThreshold classifies a frame as eyes closed when the mean eye aspect
	// ratio is below it.
	EARThreshold float64 `toml:"ear_threshold" json:"ear_threshold" yaml:"ear_threshold"`

	// ConsecFrames is the minimum closed-frame run that counts as a blink.
	ConsecFrames int `toml:"consec_frames" json:"consec_frames" yaml:"consec_frames"`

	// MaxBlinkFrames is the longest closed-frame run that still counts as a
	// blink. Longer runs are eyes held shut.
	MaxBlinkFrames int `toml:"max_blink_frames" json:"max_blink_frames" yaml:"max_blink_frames"`

	// EmitOnRelease fires the blink when the eyes reopen instead of on the
	// first closed frame inside the window.
	EmitOnRelease bool `toml:"emit_on_release" json:"emit_on_release" yaml:"emit_on_release"`
}

// ScannerConfig holds scanning configuration.
type ScannerConfig struct {
	// PeriodMs is the tick interval in milliseconds.
	PeriodMs int `toml:"period_ms" json:"period_ms" yaml:"period_ms"`

	// SpeedPreset overrides PeriodMs when set: "slow", "medium" or "fast".
	SpeedPreset string `toml:"speed_preset" json:"speed_preset" yaml:"speed_preset"`

	// PauseMs is how long scanning pauses after a blink.
	PauseMs int `toml:"pause_ms" json:"pause_ms" yaml:"pause_ms"`

	// ExtendPauseOnBlink restarts the pause when blinking while paused.
	ExtendPauseOnBlink bool `toml:"extend_pause_on_blink" json:"extend_pause_on_blink" yaml:"extend_pause_on_blink"`

	// KeyboardRows is the keyboard grid, one string per row. Symbols are
	// separated by spaces, or one per character if a row has no spaces.
	// Empty selects the built-in QWERTY layout.
	KeyboardRows []string `toml:"keyboard_rows" json:"keyboard_rows" yaml:"keyboard_rows"`

	// AutoSuggestions moves scanning to the suggestion list after each
	// keyboard commit that yields suggestions.
	AutoSuggestions bool `toml:"auto_suggestions" json:"auto_suggestions" yaml:"auto_suggestions"`
}

// PredictConfig holds word prediction configuration.
type PredictConfig struct {
	// Enabled determines whether suggestions are offered.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// MaxSuggestions is the suggestion list length.
	MaxSuggestions int `toml:"max_suggestions" json:"max_suggestions" yaml:"max_suggestions"`

	// VocabularyPath is an optional custom vocabulary JSON file.
	VocabularyPath string `toml:"vocabulary_path" json:"vocabulary_path" yaml:"vocabulary_path"`

	// LearnOnSessionEnd feeds each finished transcript back into the model.
	LearnOnSessionEnd bool `toml:"learn_on_session_end" json:"learn_on_session_end" yaml:"learn_on_session_end"`
}

// FeedConfig holds WebSocket stream configuration.
type FeedConfig struct {
	// MaxMessageBytes limits the size of one landmark frame message.
	MaxMessageBytes int64 `toml:"max_message_bytes" json:"max_message_bytes" yaml:"max_message_bytes"`

	// ReadTimeoutMs closes a landmark connection that sends nothing (not even
	// a pong) for this long.
	ReadTimeoutMs int `toml:"read_timeout_ms" json:"read_timeout_ms" yaml:"read_timeout_ms"`

	// PingIntervalMs is the keepalive ping interval; must be below ReadTimeoutMs.
	PingIntervalMs int `toml:"ping_interval_ms" json:"ping_interval_ms" yaml:"ping_interval_ms"`

	// FrameQueue is the pipeline frame queue length.
	FrameQueue int `toml:"frame_queue" json:"frame_queue" yaml:"frame_queue"`
}

// APIConfig holds HTTP API configuration.
type APIConfig struct {
	// Enabled determines whether the HTTP server runs.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the listen address, e.g. "127.0.0.1:8765".
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled determines whether sessions are persisted.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// TranscriptsDir receives a JSON transcript per finished session.
	TranscriptsDir string `toml:"transcripts_dir" json:"transcripts_dir" yaml:"transcripts_dir"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// QueueSize is the write queue length of the async writer.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// DBusConfig holds session bus configuration.
type DBusConfig struct {
	// Enabled determines whether the bridge is exported.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// BusName is the well-known name requested on the session bus.
	BusName string `toml:"bus_name" json:"bus_name" yaml:"bus_name"`

	// ObjectPath is where the scanner object is exported.
	ObjectPath string `toml:"object_path" json:"object_path" yaml:"object_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled exposes /metrics on the API server.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Detector: DetectorConfig{
			EARThreshold:   0.2,
			ConsecFrames:   1,
			MaxBlinkFrames: 3,
		},
		Scanner: ScannerConfig{
			PeriodMs:        1500,
			PauseMs:         3000,
			AutoSuggestions: true,
		},
		Predict: PredictConfig{
			Enabled:           true,
			MaxSuggestions:    3,
			LearnOnSessionEnd: true,
		},
		Feed: FeedConfig{
			MaxMessageBytes: 64 * 1024,
			ReadTimeoutMs:   60000,
			PingIntervalMs:  54000,
			FrameQueue:      256,
		},
		API: APIConfig{
			Enabled:            true,
			ListenAddr:         "127.0.0.1:8765",
			ShutdownTimeoutSec: 5,
		},
		Storage: StorageConfig{
			Enabled:        true,
			Path:           filepath.Join(dir, "blinkscan.db"),
			TranscriptsDir: filepath.Join(dir, "transcripts"),
			BusyTimeoutMs:  5000,
			QueueSize:      512,
		},
		DBus: DBusConfig{
			Enabled:    false,
			BusName:    "io.blinkscan.Scanner",
			ObjectPath: "/io/blinkscan/Scanner",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "blinkscan.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "blinkscan",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DataDir returns the base blinkscan directory.
// Uses platform-specific paths or the BLINKSCAN_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("BLINKSCAN_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ScanPeriod returns the tick interval, honoring the speed preset.
func (c *Config) ScanPeriod() time.Duration {
	if d, ok := presetPeriods[c.Scanner.SpeedPreset]; ok {
		return d
	}
	return time.Duration(c.Scanner.PeriodMs) * time.Millisecond
}

// PauseDuration returns the post-blink pause.
func (c *Config) PauseDuration() time.Duration {
	return time.Duration(c.Scanner.PauseMs) * time.Millisecond
}

var presetPeriods = map[string]time.Duration{
	"slow":   3 * time.Second,
	"medium": 2 * time.Second,
	"fast":   1 * time.Second,
}

// EnsureDirectories creates all directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		c.Storage.TranscriptsDir,
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with BLINKSCAN_ and use underscores.
// Malformed numeric values are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Detector overrides
	if v, ok := envFloat("BLINKSCAN_EAR_THRESHOLD"); ok {
		c.Detector.EARThreshold = v
	}
	if v, ok := envInt("BLINKSCAN_CONSEC_FRAMES"); ok {
		c.Detector.ConsecFrames = v
	}
	if v, ok := envInt("BLINKSCAN_MAX_BLINK_FRAMES"); ok {
		c.Detector.MaxBlinkFrames = v
	}

	// Scanner overrides
	if v, ok := envInt("BLINKSCAN_SCAN_PERIOD_MS"); ok {
		c.Scanner.PeriodMs = v
	}
	if v := os.Getenv("BLINKSCAN_SPEED"); v != "" {
		c.Scanner.SpeedPreset = v
	}
	if v, ok := envInt("BLINKSCAN_PAUSE_MS"); ok {
		c.Scanner.PauseMs = v
	}

	// Prediction overrides
	if v := os.Getenv("BLINKSCAN_VOCABULARY"); v != "" {
		c.Predict.VocabularyPath = v
	}

	// API overrides
	if v := os.Getenv("BLINKSCAN_API_ADDR"); v != "" {
		c.API.ListenAddr = v
	}

	// Storage overrides
	if v := os.Getenv("BLINKSCAN_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	// D-Bus overrides
	if v, ok := envBool("BLINKSCAN_DBUS_ENABLED"); ok {
		c.DBus.Enabled = v
	}

	// Logging overrides
	if v := os.Getenv("BLINKSCAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BLINKSCAN_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("BLINKSCAN_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Detector: c.Detector,
		Scanner:  c.Scanner,
		Predict:  c.Predict,
		Feed:     c.Feed,
		API:      c.API,
		Storage:  c.Storage,
		DBus:     c.DBus,
		Logging:  c.Logging,
		Metrics:  c.Metrics,
	}
	clone.Scanner.KeyboardRows = append([]string(nil), c.Scanner.KeyboardRows...)
	return clone
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
