package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Has reports whether any error refers to field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateDetector(&c.Detector)...)
	errs = append(errs, validateScanner(&c.Scanner)...)
	errs = append(errs, validatePredict(&c.Predict)...)
	errs = append(errs, validateFeed(&c.Feed)...)
	errs = append(errs, validateAPI(&c.API)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateDBus(&c.DBus)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDetector(d *DetectorConfig) ValidationErrors {
	var errs ValidationErrors

	if !(d.EARThreshold > 0) || math.IsInf(d.EARThreshold, 0) {
		errs = append(errs, ValidationError{
			Field:   "detector.ear_threshold",
			Message: "threshold must be a positive number",
		})
	}
	if d.ConsecFrames < 1 {
		errs = append(errs, *RangeError("detector.consec_frames", 1, "max_blink_frames"))
	}
	if d.MaxBlinkFrames < d.ConsecFrames {
		errs = append(errs, ValidationError{
			Field:   "detector.max_blink_frames",
			Message: "must be at least consec_frames",
		})
	}
	return errs
}

func validateScanner(s *ScannerConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.SpeedPreset {
	case "", "slow", "medium", "fast":
	default:
		errs = append(errs, ValidationError{
			Field:   "scanner.speed_preset",
			Message: fmt.Sprintf("invalid preset: %s (valid: slow, medium, fast)", s.SpeedPreset),
		})
	}
	if s.SpeedPreset == "" && s.PeriodMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "scanner.period_ms",
			Message: "period must be at least 1ms",
		})
	}
	if s.PauseMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "scanner.pause_ms",
			Message: "pause cannot be negative",
		})
	}
	for i, row := range s.KeyboardRows {
		if strings.TrimSpace(row) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("scanner.keyboard_rows[%d]", i),
				Message: "row cannot be empty",
			})
		}
	}
	return errs
}

func validatePredict(p *PredictConfig) ValidationErrors {
	var errs ValidationErrors

	if p.Enabled && p.MaxSuggestions < 1 {
		errs = append(errs, ValidationError{
			Field:   "predict.max_suggestions",
			Message: "at least one suggestion is required when prediction is enabled",
		})
	}
	return errs
}

func validateFeed(f *FeedConfig) ValidationErrors {
	var errs ValidationErrors

	if f.MaxMessageBytes < 1024 {
		errs = append(errs, ValidationError{
			Field:   "feed.max_message_bytes",
			Message: "must be at least 1024",
		})
	}
	if f.ReadTimeoutMs < 1000 {
		errs = append(errs, ValidationError{
			Field:   "feed.read_timeout_ms",
			Message: "read timeout must be at least 1000ms",
		})
	}
	if f.PingIntervalMs < 1 || f.PingIntervalMs >= f.ReadTimeoutMs {
		errs = append(errs, ValidationError{
			Field:   "feed.ping_interval_ms",
			Message: "ping interval must be positive and shorter than read_timeout_ms",
		})
	}
	if f.FrameQueue < 1 {
		errs = append(errs, ValidationError{
			Field:   "feed.frame_queue",
			Message: "queue must hold at least one frame",
		})
	}
	return errs
}

func validateAPI(a *APIConfig) ValidationErrors {
	var errs ValidationErrors

	if !a.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(a.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "api.listen_addr",
			Message: fmt.Sprintf("invalid address %q: %v", a.ListenAddr, err),
		})
	}
	if a.ShutdownTimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "api.shutdown_timeout_sec",
			Message: "shutdown timeout must be at least 1 second",
		})
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if !s.Enabled {
		return errs
	}
	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	if s.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "storage.queue_size",
			Message: "queue size must be at least 1",
		})
	}
	return errs
}

func validateDBus(d *DBusConfig) ValidationErrors {
	var errs ValidationErrors

	if !d.Enabled {
		return errs
	}
	if strings.Count(d.BusName, ".") < 1 || strings.HasPrefix(d.BusName, ".") {
		errs = append(errs, ValidationError{
			Field:   "dbus.bus_name",
			Message: fmt.Sprintf("invalid bus name: %q", d.BusName),
		})
	}
	if !strings.HasPrefix(d.ObjectPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "dbus.object_path",
			Message: "object path must start with /",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output writes to a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
