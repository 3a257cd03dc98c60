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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cloudwego/gopkg/bufiox"
)

// Snapshot layout, little-endian:
//
//	u16 version
//	u32 zone count
//	u32 zone capacity
//	i32 initial size
//	per zone: i32 byte length, then the zone bytes. Length 0 is a freed slot.
const (
	snapshotHeaderSize = 14
	maxSnapshotZones   = 1 << 20
)

// Serialize writes every zone of a verbatim to w and flushes it.
// No other goroutine may write through handles of a meanwhile.
func (a *Allocator) Serialize(w bufiox.Writer) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	zones := a.zones()
	b, err := w.Malloc(snapshotHeaderSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, a.version)
	binary.LittleEndian.PutUint32(b[2:], uint32(len(zones)))
	binary.LittleEndian.PutUint32(b[6:], uint32(cap(zones)))
	binary.LittleEndian.PutUint32(b[10:], uint32(int32(a.initialSize)))

	for _, z := range zones {
		if b, err = w.Malloc(4); err != nil {
			return err
		}
		if z == nil {
			binary.LittleEndian.PutUint32(b, 0)
			continue
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(z.size())))
		// zone bytes may be written zero-copy, the lock keeps them stable until Flush
		if _, err = w.WriteBinary(z.buf); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Deserialize rebuilds an allocator written by Serialize. opt provides the zone
// source, logger, bounds checking and zone size limit of the result; the initial
// size comes from the snapshot. With BoundsCheck every zone is verified with CheckHeap.
func Deserialize(r bufiox.Reader, opt *Option) (*Allocator, error) {
	b, err := r.Next(snapshotHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupted, err)
	}
	version := binary.LittleEndian.Uint16(b)
	count := binary.LittleEndian.Uint32(b[2:])
	capacity := binary.LittleEndian.Uint32(b[6:])
	initial := int32(binary.LittleEndian.Uint32(b[10:]))
	if count > maxSnapshotZones || capacity > maxSnapshotZones || capacity < count {
		return nil, fmt.Errorf("%w: %d zones with capacity %d", ErrCorrupted, count, capacity)
	}
	if initial < MinZoneSize || initial > MaxZoneSize || initial%alignment != 0 {
		return nil, fmt.Errorf("%w: initial size %d", ErrCorrupted, initial)
	}

	a := newAllocator(opt)
	a.version = version
	a.initialSize = int(initial)
	zones := make([]*zone, count, capacity)
	fail := func(err error) (*Allocator, error) {
		for _, z := range zones {
			a.freeZone(z)
		}
		return nil, err
	}

	for i := range zones {
		if b, err = r.Next(4); err != nil {
			return fail(fmt.Errorf("%w: zone %d length: %v", ErrCorrupted, i, err))
		}
		n := int32(binary.LittleEndian.Uint32(b))
		if n == 0 {
			continue
		}
		if n < firstPayloadOffset || n%alignment != 0 {
			return fail(fmt.Errorf("%w: zone %d length %d", ErrCorrupted, i, n))
		}
		if int(n) > a.zoneLimit {
			return fail(fmt.Errorf("%w: zone %d length %d over limit %d", ErrCorrupted, i, n, a.zoneLimit))
		}
		z, err := a.newZoneBuffer(int(n))
		if err != nil {
			return fail(err)
		}
		zones[i] = z
		if _, err = r.ReadBinary(z.buf); err != nil {
			return fail(fmt.Errorf("%w: zone %d bytes: %v", ErrCorrupted, i, err))
		}
		if z.u32(zoneSizeOff) != uint32(n) {
			return fail(fmt.Errorf("%w: zone %d size field %d, length %d", ErrCorrupted, i, z.u32(zoneSizeOff), n))
		}
	}
	a.reg.Store(&registry{zones: zones})

	if a.boundsCheck {
		if err := a.CheckHeap(); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrCorrupted, err))
		}
	}
	return a, nil
}

// MarshalBinary returns the Serialize encoding of a.
func (a *Allocator) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Serialize(bufiox.NewDefaultWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Deserialize over a byte slice.
func Unmarshal(data []byte, opt *Option) (*Allocator, error) {
	r := bufiox.NewDefaultReader(bytes.NewReader(data))
	a, err := Deserialize(r, opt)
	_ = r.Release(err)
	return a, err
}
