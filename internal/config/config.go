// Package config loads the project-level .peek.yaml configuration shared by
// the transform (informationally) and the runtime (as the actual write
// target).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/peek-go/peek/pkg/trace"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = ".peek.yaml"

// Config holds the tool's project configuration.
type Config struct {
	// Output is the trace file path written by instrumented programs and
	// read by the trace commands.
	Output string `yaml:"output"`

	// Marker is the comment prefix that selects nodes. Default "?".
	Marker string `yaml:"marker"`

	// Enabled false turns the transform into a strict identity pass.
	Enabled bool `yaml:"enabled"`

	// Include and Exclude are glob patterns consumed by the watch command.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Output:  trace.DefaultPath,
		Marker:  "?",
		Enabled: true,
		Include: []string{"**/*.go"},
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed file is an error. Unknown fields are rejected so a
// typoed key fails loudly instead of silently reverting to a default.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Output == "" {
		cfg.Output = trace.DefaultPath
	}
	if cfg.Marker == "" {
		cfg.Marker = "?"
	}
	return cfg, nil
}
