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
	"io"
	"log/slog"
)

// DefaultInitialSize is the default size of a zone.
const DefaultInitialSize = 512 << 10

// Option configures an Allocator.
type Option struct {
	// InitialSize is the minimum size of every zone. Requests larger than a zone
	// get a zone of their own. Values are clamped to [MinZoneSize, MaxZoneSize].
	InitialSize int

	// BoundsCheck validates every handle on resolve and free. Invalid handles then
	// panic instead of being undefined behaviour.
	// The default is enabled by building with -tags zonealloc_boundscheck.
	BoundsCheck bool

	// ClearZones zeroes zone memory when it is obtained, which makes Serialize and
	// Digest deterministic for identical operation sequences.
	ClearZones bool

	// Source provides zone memory. HeapSource is used if nil.
	Source ZoneSource

	// Logger receives debug events about zone lifecycle. Nothing is logged if nil.
	Logger *slog.Logger

	// SnapshotZoneLimit is the largest zone Deserialize accepts. Zone memory is
	// obtained before the zone bytes are read, so this bounds what a hostile or
	// truncated snapshot can make the allocator reserve. 0 means MaxZoneSize.
	SnapshotZoneLimit int
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		InitialSize: DefaultInitialSize,
		BoundsCheck: defaultBoundsCheck,
	}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func (o *Option) normalize() Option {
	if o == nil {
		o = DefaultOption()
	}
	n := *o
	if n.InitialSize < MinZoneSize {
		n.InitialSize = MinZoneSize
	}
	if n.InitialSize > MaxZoneSize {
		n.InitialSize = MaxZoneSize
	}
	n.InitialSize = alignUp(n.InitialSize)
	if n.SnapshotZoneLimit <= 0 || n.SnapshotZoneLimit > MaxZoneSize {
		n.SnapshotZoneLimit = MaxZoneSize
	}
	if n.Source == nil {
		n.Source = HeapSource{}
	}
	if n.Logger == nil {
		n.Logger = discardLogger
	}
	return n
}
