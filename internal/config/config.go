// Package config loads the runtime configuration file.
//
// The file is YAML and every key is optional; absent keys keep the defaults
// from Default. Unknown keys are rejected so typos surface instead of being
// ignored. Command-line flags are applied by the CLI after Load.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("listen_addr", validateListenAddr)
}

// validateListenAddr accepts host:port with an optional host (":8080").
func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	return err == nil && port != ""
}

// Config is the runtime configuration.
type Config struct {
	RefData RefData `yaml:"refdata"`
	Engine  Engine  `yaml:"engine"`
	Server  Server  `yaml:"server"`
	Store   Store   `yaml:"store"`
}

// RefData configures the reference data client.
type RefData struct {
	// BaseURL of the reference data service. Empty serves from the fixture store.
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Engine configures the document engine.
type Engine struct {
	Debounce   time.Duration `yaml:"debounce" validate:"gte=0"`
	MaxCascade int           `yaml:"max_cascade" validate:"gt=0"`
}

// Server configures the reference data service.
type Server struct {
	Addr string `yaml:"addr" validate:"required,listen_addr"`
}

// Store configures the sqlite store.
type Store struct {
	Path string `yaml:"path" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RefData: RefData{Timeout: refdata.DefaultTimeout},
		Engine: Engine{
			Debounce:   engine.DefaultDebounce,
			MaxCascade: engine.DefaultMaxCascade,
		},
		Server: Server{Addr: ":8080"},
		Store:  Store{Path: "formsync.db"},
	}
}

// Load reads and validates the file at path. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Read decodes a configuration over Default and validates the result.
func Read(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// EngineOptions returns the engine options this configuration implies.
func (c Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithDebounce(c.Engine.Debounce),
		engine.WithMaxCascade(c.Engine.MaxCascade),
	}
}

// ClientOptions returns the reference data client options this configuration implies.
func (c Config) ClientOptions() []refdata.ClientOption {
	return []refdata.ClientOption{refdata.WithTimeout(c.RefData.Timeout)}
}
