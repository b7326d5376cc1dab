// Package console holds settings of synchronization and the configuration
// which the backend serves at startup.
package console

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opst/modelsync/pkg/auth"
	"github.com/opst/modelsync/pkg/mutation"
	"github.com/opst/modelsync/pkg/poller"
	"gopkg.in/yaml.v3"
)

// StreamMode decides whether resources are streamed or polled.
type StreamMode string

const (
	// StreamAuto streams when the backend reports SSE is enabled.
	StreamAuto   StreamMode = "auto"
	StreamAlways StreamMode = "always"
	StreamNever  StreamMode = "never"
)

var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	Stream StreamMode `yaml:"stream"`

	Poll poller.Config `yaml:"poll"`

	// DeletePolicy is applied to optimistic status of failed deletions.
	DeletePolicy mutation.Policy `yaml:"deletePolicy"`

	// TokenSize limits size of identity headers.
	TokenSize auth.Limits `yaml:"tokenSize"`

	// MaxAttempts of stream connections before falling back to polling.
	MaxAttempts int `yaml:"maxAttempts"`

	// ReconnectDelay is the delay before reconnecting streams,
	// unless the server specifies that.
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
}

func DefaultSettings() Settings {
	return Settings{
		Stream:         StreamAuto,
		Poll:           poller.Default,
		DeletePolicy:   mutation.KeepOnFailure,
		TokenSize:      auth.DefaultLimits(),
		MaxAttempts:    3,
		ReconnectDelay: time.Second,
	}
}

func (s Settings) Validate() error {
	switch s.Stream {
	case StreamAuto, StreamAlways, StreamNever:
	default:
		return fmt.Errorf("%w: stream: %q", ErrInvalidSettings, s.Stream)
	}
	if _, err := mutation.ParsePolicy(string(s.DeletePolicy)); err != nil {
		return fmt.Errorf("%w: deletePolicy: %w", ErrInvalidSettings, err)
	}
	if s.Poll.Interval <= 0 {
		return fmt.Errorf("%w: poll.interval should be positive", ErrInvalidSettings)
	}
	if s.Poll.MaxInterval < s.Poll.Interval {
		return fmt.Errorf("%w: poll.maxInterval should not be less than poll.interval", ErrInvalidSettings)
	}
	if s.TokenSize.Error != 0 && s.TokenSize.Error < s.TokenSize.Warn {
		return fmt.Errorf("%w: tokenSize.error should not be less than tokenSize.warn", ErrInvalidSettings)
	}
	return nil
}

// UnmarshalSettings reads settings in yaml.
//
// Fields not in yaml take their default.
func UnmarshalSettings(b []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads settings from a file.
//
// When the file does not exist, it returns DefaultSettings.
func LoadSettings(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSettings(), nil
	} else if err != nil {
		return Settings{}, err
	}
	return UnmarshalSettings(b)
}

// DefaultSettingsPath is the path of the settings file next to the profile store.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".modelsync", "settings.yaml")
	}
	return filepath.Join(home, ".modelsync", "settings.yaml")
}
