// Package config decodes the optional edldb.toml project manifest that
// sits alongside a project's source tree, the way the teacher's
// internal/parser/toml package decodes a schema manifest.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Manifest is edldb.toml's shape: default source roots, the script root,
// and the Datalog feature gate. The edldb CLI reads only DatalogEnabled;
// SourceRoots and ScriptRoot are decoded but not used by it.
type Manifest struct {
	SourceRoots    []string `toml:"source_roots"`
	ScriptRoot     string   `toml:"script_root"`
	DatalogEnabled bool     `toml:"datalog_enabled"`
}

// Load decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("decoding project manifest %s: %w", path, err)
	}
	return &m, nil
}
