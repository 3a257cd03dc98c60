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
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when a zone cannot be obtained from the ZoneSource.
	ErrOutOfMemory = errors.New("zonealloc: out of memory")

	// ErrInvalidSize is returned for negative or oversized requests.
	ErrInvalidSize = errors.New("zonealloc: invalid size")

	// ErrInvalidHandle reports a handle with a zero offset, an unknown zone or a freed zone.
	ErrInvalidHandle = errors.New("zonealloc: invalid handle")

	// ErrDoubleFree reports a Free of a block that is not in use.
	ErrDoubleFree = errors.New("zonealloc: double free or invalid block")

	// ErrCorrupted is returned by Deserialize when the input is not a valid snapshot.
	ErrCorrupted = errors.New("zonealloc: corrupted snapshot")

	// ErrHeapCorrupted is wrapped by every *HeapError.
	ErrHeapCorrupted = errors.New("zonealloc: heap corrupted")
)

// HeapError describes the first inconsistency found by CheckHeap.
type HeapError struct {
	Zone   uint32
	Offset uint32 // block offset inside the zone, 0 for zone level errors
	Msg    string
}

func (e *HeapError) Error() string {
	if e.Offset != 0 {
		return fmt.Sprintf("zonealloc: zone %d block 0x%X: %s", e.Zone, e.Offset, e.Msg)
	}
	return fmt.Sprintf("zonealloc: zone %d: %s", e.Zone, e.Msg)
}

func (e *HeapError) Unwrap() error {
	return ErrHeapCorrupted
}

func invalidHandle(p MemPtr, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidHandle, p, reason)
}
