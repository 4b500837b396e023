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

package pluginconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocatePrefersEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"plugins":[]}`), 0o600))
	t.Setenv(envVar, path)

	got, ok := Locate()
	require.True(t, ok)
	require.Equal(t, path, got)
}

func TestEnabledFiltersDisabledAndChecksABI(t *testing.T) {
	m := &Manifest{Plugins: []Plugin{
		{Enabled: false, Name: "off"},
		{Enabled: true, Name: "good", MinABI: "0.9.0"},
		{Enabled: true, Name: "too-new", MinABI: "99.0.0"},
	}}
	_, err := m.Enabled()
	require.Error(t, err)

	m.Plugins = m.Plugins[:2]
	got, err := m.Enabled()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "good", got[0].Name)
}
