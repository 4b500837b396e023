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

package nicio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryLinkStateRejectsUnknownInterface(t *testing.T) {
	_, err := QueryLinkState("st2110-nonexistent0")
	require.Error(t, err)
}

func TestRequireMinMTURejectsUnknownInterface(t *testing.T) {
	err := RequireMinMTU("st2110-nonexistent0", 1500)
	require.Error(t, err)
}
