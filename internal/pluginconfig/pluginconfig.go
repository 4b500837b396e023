/*
Copyright (c) st2110core authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pluginconfig reads the optional dynamic-codec-plugin manifest of
// spec.md §6: JSON at $KAHAWAI_CFG_PATH or ./kahawai.json listing
// {enabled, name, path, min_abi} entries. go-version gates a plugin's
// declared ABI against the library's own ABI the way a codec loader would
// refuse an incompatible shared object.
package pluginconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hashicorp/go-version"
)

const (
	envVar       = "KAHAWAI_CFG_PATH"
	defaultPath  = "kahawai.json"
)

// ABI is the library's own ABI version, bumped whenever the plugin
// interface changes shape.
var ABI = version.Must(version.NewVersion("1.0.0"))

// Plugin describes one dynamic codec module entry.
type Plugin struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	MinABI  string `json:"min_abi,omitempty"`
}

// Manifest is the top-level kahawai.json shape.
type Manifest struct {
	Plugins []Plugin `json:"plugins"`
}

// Locate resolves the manifest path per spec.md §6: $KAHAWAI_CFG_PATH if
// set, else ./kahawai.json. A path taken from the variable is returned
// without checking that the file exists. The second return value is false
// when the variable is unset and ./kahawai.json does not exist, which is not
// an error — plugins are optional.
func Locate() (string, bool) {
	if p := os.Getenv(envVar); p != "" {
		return p, true
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, true
	}
	return "", false
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pluginconfig: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pluginconfig: parse %s: %w", path, err)
	}
	return &m, nil
}

// Enabled returns the subset of plugins that are enabled and whose
// declared min_abi (if any) this library's ABI satisfies.
func (m *Manifest) Enabled() ([]Plugin, error) {
	var out []Plugin
	for _, p := range m.Plugins {
		if !p.Enabled {
			continue
		}
		if p.MinABI != "" {
			min, err := version.NewVersion(p.MinABI)
			if err != nil {
				return nil, fmt.Errorf("pluginconfig: plugin %q has invalid min_abi %q: %w", p.Name, p.MinABI, err)
			}
			if ABI.LessThan(min) {
				return nil, fmt.Errorf("pluginconfig: plugin %q requires ABI >= %s, library is %s", p.Name, min, ABI)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadDefault locates and loads the manifest, returning (nil, nil) when no
// manifest file is present.
func LoadDefault() (*Manifest, error) {
	path, ok := Locate()
	if !ok {
		return nil, nil
	}
	return Load(path)
}
