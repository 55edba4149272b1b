// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigPath, if set, is loaded directly instead of ConfigDir/<env>.yaml.
	ConfigPath string
	// ConfigDir is the directory containing per-environment config files.
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// EnvFile, if non-empty, is loaded into the process environment via
	// godotenv before substitution runs. A missing file is not an error.
	EnvFile string
	// SkipEnvSubstitution disables ${VAR} substitution.
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation.
	SkipValidation bool
}

// DefaultLoaderOptions returns the default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
		EnvFile:   ".env",
	}
}

// Load builds a configuration from Default(), layers a preset matched to
// the active environment, then an environment-specific YAML file if one is
// found, then ${VAR} substitution, then direct MRTCHAT_* overrides.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.EnvFile != "" {
		_ = godotenv.Load(options.EnvFile)
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg := Default()
	ApplyPreset(cfg, env)

	path := options.ConfigPath
	if path == "" {
		path = filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	}
	data, err := os.ReadFile(path)
	if err == nil {
		fileCfg := *cfg
		if err = yaml.Unmarshal(data, &fileCfg); err == nil {
			cfg = &fileCfg
		}
	}
	if err != nil && options.ConfigPath != "" {
		return nil, fmt.Errorf("load config %s: %w", options.ConfigPath, err)
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadForEnvironment loads configuration pinned to a specific environment
// name, ignoring GetEnvironment().
func LoadForEnvironment(environment string) (*Config, error) {
	options := DefaultLoaderOptions()
	options.Environment = environment
	return Load(options)
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// applyEnvironmentOverrides applies direct MRTCHAT_* environment variables,
// which take precedence over preset and file values.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("MRTCHAT_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("MRTCHAT_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("MRTCHAT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MRTCHAT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MRTCHAT_TOPIC_ROOM"); v != "" {
		cfg.Topic.Room = v
	}
	if v := os.Getenv("MRTCHAT_TRUST_MODE"); v != "" {
		cfg.TrustMode = v
	}
	if v := os.Getenv("MRTCHAT_DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true")
	}
}

// ValidationError reports a single invalid configuration field, matching
// the ConfigInvalid error kind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config invalid: %s: %s", e.Field, e.Message)
}

// Validate checks the structural invariants a loaded configuration must
// hold: the display name must be usable in envelope routing (no "(", ")",
// "|", no leading/trailing whitespace), the broker address must parse as
// a URL, and the ICE server list must be well-formed.
func Validate(cfg *Config) error {
	if cfg.Name != "" {
		if strings.ContainsAny(cfg.Name, "()|") {
			return &ValidationError{Field: "name", Message: "must not contain '(', ')', or '|'"}
		}
		if strings.TrimSpace(cfg.Name) != cfg.Name {
			return &ValidationError{Field: "name", Message: "must not have leading or trailing whitespace"}
		}
	}

	if cfg.MQTT.Broker != "" {
		u, err := url.Parse(cfg.MQTT.Broker)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "mqtt.broker", Message: "malformed broker URL"}
		}
	}

	for i, server := range cfg.WebRTC.ICEServers {
		if strings.TrimSpace(server) == "" {
			return &ValidationError{Field: fmt.Sprintf("webrtc.iceServers[%d]", i), Message: "must not be empty"}
		}
	}
	switch cfg.WebRTC.ICETransportPolicy {
	case "all", "relay", "":
	default:
		return &ValidationError{Field: "webrtc.iceTransportPolicy", Message: "must be 'all' or 'relay'"}
	}
	switch cfg.WebRTC.BundlePolicy {
	case "balanced", "max-compat", "max-bundle", "":
	default:
		return &ValidationError{Field: "webrtc.bundlePolicy", Message: "must be balanced, max-compat, or max-bundle"}
	}
	switch cfg.WebRTC.RTCPMuxPolicy {
	case "require", "negotiate", "":
	default:
		return &ValidationError{Field: "webrtc.rtcpMuxPolicy", Message: "must be require or negotiate"}
	}

	if cfg.Compression.Library != "zlib" && cfg.Compression.Library != "none" {
		return &ValidationError{Field: "compression.library", Message: "must be 'zlib' or 'none'"}
	}

	return nil
}
