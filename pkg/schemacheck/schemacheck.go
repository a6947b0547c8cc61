// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package schemacheck validates API responses and event payloads against
// JSON Schemas, so regression suites can assert response shape without
// enumerating every field.
package schemacheck

import (
	"encoding/json"
	"io/fs"
	"path"
	"strings"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds compiled schemas, keyed by file name without extension.
type Registry struct {
	schemas map[string]*jschema.Schema
}

// Load compiles every *.json schema in fsys under dir. The schema
// "book.created.json" registers under the name "book.created".
func Load(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, oops.Code("SCHEMA_LOAD_FAILED").With("dir", dir).Wrap(err)
	}

	c := jschema.NewCompiler()
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, oops.Code("SCHEMA_LOAD_FAILED").With("file", entry.Name()).Wrap(err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, oops.Code("SCHEMA_PARSE_FAILED").With("file", entry.Name()).Wrap(err)
		}
		if err := c.AddResource(entry.Name(), doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("file", entry.Name()).Wrap(err)
		}
		names = append(names, entry.Name())
	}

	r := &Registry{schemas: make(map[string]*jschema.Schema, len(names))}
	for _, name := range names {
		sch, err := c.Compile(name)
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("file", name).Wrap(err)
		}
		r.schemas[strings.TrimSuffix(name, ".json")] = sch
	}
	return r, nil
}

// Names returns the registered schema names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	return names
}

// Validate checks a JSON document against the named schema.
func (r *Registry) Validate(name string, data []byte) error {
	sch, ok := r.schemas[name]
	if !ok {
		return oops.Code("SCHEMA_UNKNOWN").
			With("schema", name).
			Errorf("no schema registered as %q", name)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return oops.Code("SCHEMA_BAD_DOCUMENT").With("schema", name).Wrap(err)
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code("SCHEMA_INVALID").
			With("schema", name).
			Wrap(err)
	}
	return nil
}
