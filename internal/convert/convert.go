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

// Package convert implements the frame converter contract of spec.md §4.8:
// an opaque (src_fmt, dst_fmt) -> Converter registry plus a scalar
// reference implementation that tolerates padded line sizes. SIMD
// specialisation is out of scope; Register is the seam a future
// architecture-specific implementation would use.
package convert

import (
	"fmt"
	"sync"

	"github.com/stormlinemedia/st2110core/internal/rtp"
)

// Frame is a planar or packed pixel buffer with an explicit line stride,
// so implementations can tolerate linesize >= bytes_in_line (padded rows).
type Frame struct {
	Format   rtp.PixelFormat
	Width    int
	Height   int
	LineSize int
	Data     []byte
}

// Converter maps one pixel layout to another, line by line.
type Converter interface {
	Convert(src, dst *Frame) error
}

// ConverterFunc adapts a plain function to Converter.
type ConverterFunc func(src, dst *Frame) error

// Convert implements Converter.
func (f ConverterFunc) Convert(src, dst *Frame) error { return f(src, dst) }

type key struct {
	src, dst rtp.PixelFormat
}

var (
	mu       sync.RWMutex
	registry = map[key]Converter{}
)

// Register installs a converter for (srcFmt, dstFmt), overwriting any
// existing registration. Call during package init to add a
// SIMD-specialised implementation without touching the core.
func Register(srcFmt, dstFmt rtp.PixelFormat, impl Converter) {
	mu.Lock()
	defer mu.Unlock()
	registry[key{srcFmt, dstFmt}] = impl
}

// Lookup returns the registered converter for (srcFmt, dstFmt), if any.
func Lookup(srcFmt, dstFmt rtp.PixelFormat) (Converter, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[key{srcFmt, dstFmt}]
	return c, ok
}

// Convert looks up and runs the converter for (src.Format, dst.Format).
func Convert(src, dst *Frame) error {
	c, ok := Lookup(src.Format, dst.Format)
	if !ok {
		return fmt.Errorf("convert: no converter registered for %v -> %v", src.Format, dst.Format)
	}
	return c.Convert(src, dst)
}

func init() {
	Register(rtp.YUV422_10BE, rtp.YUV422_8BIT, ConverterFunc(yuv422_10beTo8bit))
	Register(rtp.YUV422_8BIT, rtp.YUV422_10BE, ConverterFunc(yuv4228bitTo10be))
}
