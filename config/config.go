// Package config loads the agent configuration file: declared extensions,
// provider defaults, health sweeping, and memory storage.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/anther/extension"
	"github.com/petal-labs/anther/provider"
)

const (
	// PathEnv overrides the config file location.
	PathEnv = "ANTHER_CONFIG"

	defaultConfigDir  = ".anther"
	defaultConfigFile = "config.yaml"
)

// File is the on-disk configuration.
type File struct {
	Extensions []extension.Extension `yaml:"extensions"`
	Providers  []ProviderConfig      `yaml:"providers"`
	Health     HealthConfig          `yaml:"health"`
	Memory     MemoryConfig          `yaml:"memory"`
}

// ProviderConfig declares defaults for one model backend. Credentials are
// never stored here; they stay in the environment.
type ProviderConfig struct {
	Name  string               `yaml:"name"`
	Model string               `yaml:"model"`
	Host  string               `yaml:"host,omitempty"`
	Retry provider.RetryPolicy `yaml:"retry,omitempty"`
}

// HealthConfig controls the background health sweep.
type HealthConfig struct {
	// Schedule is a UTC cron expression. Empty means every minute.
	Schedule string `yaml:"schedule,omitempty"`
	// FailureThreshold is consecutive probe failures before an extension
	// is failed.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`
	// Disabled turns the sweep off.
	Disabled bool `yaml:"disabled,omitempty"`
}

// MemoryConfig controls memory storage.
type MemoryConfig struct {
	// Path is the SQLite database location. Empty means the default under
	// the home directory.
	Path string `yaml:"path,omitempty"`
	// Ephemeral keeps entries in process memory only.
	Ephemeral bool `yaml:"ephemeral,omitempty"`
}

// DefaultPath returns the config location: the PathEnv override when set,
// otherwise ~/.anther/config.yaml.
func DefaultPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv(PathEnv)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultConfigDir, defaultConfigFile), nil
}

// Load reads and validates a config file. A missing file yields an empty,
// valid configuration.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML.
func Parse(data []byte) (File, error) {
	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

// Validate rejects duplicate or incomplete declarations.
func (f File) Validate() error {
	seenExtensions := make(map[string]bool, len(f.Extensions))
	for _, ext := range f.Extensions {
		id := extension.SanitizeID(ext.ID)
		if id == "" {
			return errors.New("config: extension with empty id")
		}
		if seenExtensions[id] {
			return fmt.Errorf("config: duplicate extension %q", id)
		}
		seenExtensions[id] = true

		switch ext.Kind {
		case extension.KindBuiltin:
		case extension.KindStdio:
			if strings.TrimSpace(ext.Transport.Command) == "" {
				return fmt.Errorf("config: stdio extension %q has no command", id)
			}
		case extension.KindStream:
			if strings.TrimSpace(ext.Transport.URL) == "" {
				return fmt.Errorf("config: stream extension %q has no url", id)
			}
		default:
			return fmt.Errorf("config: extension %q has unsupported kind %q", id, ext.Kind)
		}
	}

	seenProviders := make(map[string]bool, len(f.Providers))
	for _, prov := range f.Providers {
		name := strings.ToLower(strings.TrimSpace(prov.Name))
		if name == "" {
			return errors.New("config: provider with empty name")
		}
		if seenProviders[name] {
			return fmt.Errorf("config: duplicate provider %q", name)
		}
		seenProviders[name] = true
	}

	return nil
}

// Provider returns the declared config for a backend name.
func (f File) Provider(name string) (ProviderConfig, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, prov := range f.Providers {
		if strings.ToLower(strings.TrimSpace(prov.Name)) == needle {
			return prov, true
		}
	}
	return ProviderConfig{}, false
}
