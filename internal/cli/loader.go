package cli

import (
	"fmt"
	"os"

	"github.com/roach88/eventsync/internal/config"
	"github.com/roach88/eventsync/internal/envelope"
)

// LoadError represents an error that occurred while loading command input.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// loadConfig reads --config (when set) and the EVENTSYNC_ environment.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); os.IsNotExist(err) {
			return config.Config{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", opts.ConfigPath)}
		}
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, &LoadError{Code: ErrCodeInvalidConfig, Message: "failed to load config", Err: err}
	}
	return cfg, nil
}

// LoadEnvelopes reads a JSONL envelope file. Malformed lines are returned
// with Line.Err set; only a missing or unreadable file is an error.
func LoadEnvelopes(path string) ([]envelope.Line, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("envelope file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: "failed to open envelope file", Err: err}
	}
	defer f.Close()

	lines, err := envelope.DecodeStream(f)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: "failed to read envelope file", Err: err}
	}
	return lines, nil
}
