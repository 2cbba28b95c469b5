// Package config handles resolving configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		return name
	})
	return v
}

// Config holds the runtime settings for the stream server and the user
// management commands.
type Config struct {
	LogLevel slog.Level `yaml:"log_level"`
	// WebAddress is the listen address of the stream web app.
	WebAddress string `yaml:"web_address" validate:"required"`
	// MetricsAddress is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddress string `yaml:"metrics_address"`

	// RequireAuth gates every stream page behind HTTP Basic auth. It is fixed
	// for the lifetime of the server.
	RequireAuth bool   `yaml:"require_auth"`
	LoginFile   string `yaml:"login_file" validate:"required_if=RequireAuth true"`
	KeyFile     string `yaml:"key_file" validate:"required_if=RequireAuth true"`
	Realm       string `yaml:"realm"`
	// GuestTTL is how long a generated guest password stays valid.
	GuestTTL time.Duration `yaml:"guest_ttl" validate:"gt=0"`

	// FrameRate is capped at 1000 so the frame interval stays above zero.
	FrameRate    int `yaml:"frame_rate" validate:"min=1,max=1000"`
	StreamWidth  int `yaml:"stream_width" validate:"gt=0"`
	StreamHeight int `yaml:"stream_height" validate:"gt=0"`
	JPEGQuality  int `yaml:"jpeg_quality" validate:"min=1,max=100"`

	// DevMode publishes a synthetic test pattern and logs every request.
	DevMode bool `yaml:"dev_mode"`
}

// Default returns a version of the config with all default values populated.
func Default() *Config {
	return &Config{
		LogLevel:       slog.LevelInfo,
		WebAddress:     "localhost:9999",
		MetricsAddress: "localhost:9998",
		RequireAuth:    true,
		LoginFile:      filepath.Join(xdg.DataHome, "framecast", "logins"),
		KeyFile:        filepath.Join(xdg.DataHome, "framecast", ".login"),
		Realm:          "Login Required",
		GuestTTL:       24 * time.Hour, //nolint:mnd // one day
		FrameRate:      30,             //nolint:mnd // default frame rate
		StreamWidth:    1280,           //nolint:mnd // 720p
		StreamHeight:   720,            //nolint:mnd // 720p
		JPEGQuality:    70,             //nolint:mnd // default quality
	}
}

// Load loads a YAML configuration file from a path, merges it with defaults, and
// validates it for completeness.
func Load(path string) (*Config, error) {
	bytes, err := os.ReadFile(path) //nolint:gosec // allow the config file to be loaded from anywhere
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err = yaml.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file at %s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		rule := fieldErr.Tag()
		if fieldErr.Param() != "" {
			rule += "=" + fieldErr.Param()
		}
		errs = append(errs, fmt.Errorf("%s: must satisfy %s, got %v", fieldErr.Field(), rule, fieldErr.Value()))
	}
	return errors.Join(errs...)
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
