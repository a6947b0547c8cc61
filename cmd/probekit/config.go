// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package main

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/probekit/probekit/internal/xdg"
)

// Config holds run configuration. Precedence: flags > config file >
// flag defaults.
type Config struct {
	BaseURL      string `koanf:"base_url"`
	EventsURL    string `koanf:"events_url"`
	Tenant       string `koanf:"tenant"`
	TenantHeader string `koanf:"tenant_header"`
	Token        string `koanf:"token"`

	Scenarios   string `koanf:"scenarios"`
	Schemas     string `koanf:"schemas"`
	Output      string `koanf:"output"`
	MetricsAddr string `koanf:"metrics_addr"`
}

// loadConfig merges the optional YAML config file with command flags.
// Flags the user did not change do not shadow file values. With no
// explicit path, the XDG config file is loaded when it exists.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		if p := xdg.DefaultConfigPath(); fileExists(p) {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	// Flag names use dashes, config keys use underscores.
	flagProvider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
		return strings.ReplaceAll(key, "-", "_"), value
	})
	if err := k.Load(flagProvider, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
