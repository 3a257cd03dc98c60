/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package zonealloc

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"
)

// ZoneSource provides the memory backing zones.
//
// Alloc returns a buffer of at least size bytes. Its content is unspecified,
// the allocator formats every zone it creates. Free receives the same buffer
// once the zone is released, resliced to the requested size.
type ZoneSource interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// HeapSource allocates zones from the Go heap without zeroing them.
// Released zones are left to the garbage collector.
type HeapSource struct{}

func (HeapSource) Alloc(size int) ([]byte, error) {
	return dirtmake.Bytes(size, size), nil
}

func (HeapSource) Free(buf []byte) {}

// PooledSource allocates zones from size-classed buffer pools and recycles
// released zones. It suits allocators that are cloned and disposed repeatedly,
// like rollback snapshot buffers.
type PooledSource struct{}

func (PooledSource) Alloc(size int) ([]byte, error) {
	return mcache.Malloc(size), nil
}

func (PooledSource) Free(buf []byte) {
	mcache.Free(buf)
}
