// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
)

// Load reads and validates a single scenario file.
func Load(path string) (*Scenario, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, oops.Code("SCENARIO_LOAD_FAILED").With("path", path).Wrap(err)
	}

	var sc Scenario
	if err := k.UnmarshalWithConf("", &sc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("SCENARIO_PARSE_FAILED").With("path", path).Wrap(err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := sc.Validate(); err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return &sc, nil
}

// LoadDir loads every *.yaml/*.yml scenario in dir, sorted by file name
// so runs are deterministic.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oops.Code("SCENARIO_LOAD_FAILED").With("dir", dir).Wrap(err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := Load(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}
