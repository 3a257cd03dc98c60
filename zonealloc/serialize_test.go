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
	"testing"

	"github.com/cloudwego/gopkg/bufiox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeLayout(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	b, err := a.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, snapshotHeaderSize+4+MinZoneSize)

	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(b))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[2:]))
	assert.Equal(t, uint32(minRegistryCap), binary.LittleEndian.Uint32(b[6:]))
	assert.Equal(t, uint32(MinZoneSize), binary.LittleEndian.Uint32(b[10:]))
	assert.Equal(t, uint32(MinZoneSize), binary.LittleEndian.Uint32(b[14:]))
	assert.Equal(t, a.zones()[0].buf, b[18:])
}

func TestSerializeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	live := randomOps(t, a, 7, 400)
	clone, err := a.Clone()
	require.NoError(t, err)
	require.NoError(t, a.CopyFrom(clone))
	require.NotZero(t, a.Version())

	var buf bytes.Buffer
	w := bufiox.NewDefaultWriter(&buf)
	require.NoError(t, a.Serialize(w))

	r := bufiox.NewDefaultReader(bytes.NewReader(buf.Bytes()))
	b, err := Deserialize(r, &Option{BoundsCheck: true})
	require.NoError(t, err)
	require.NoError(t, r.Release(nil))

	assertSameState(t, a, b)
	assert.Equal(t, a.Version(), b.Version())
	assert.Equal(t, cap(a.zones()), cap(b.zones()))
	for _, lb := range live {
		verifyFill(t, b.Resolve(lb.p, 0)[:lb.size], lb.seed)
	}

	// serializing the copy yields the same bytes
	again, err := b.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), again)

	// and it keeps working as an allocator
	for _, lb := range live {
		require.True(t, b.Free(lb.p))
	}
	assert.Equal(t, 0, b.Stats().UsedBlocks)
}

func TestScenarioSerializeNullZone(t *testing.T) {
	a, live := populated(t)
	data, err := a.MarshalBinary()
	require.NoError(t, err)

	b, err := Unmarshal(data, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, b.ZoneCount())
	assert.Nil(t, b.zones()[1])
	assert.NotNil(t, b.zones()[0])
	assert.NotNil(t, b.zones()[2])
	assert.Equal(t, 1, b.Stats().NullZones)
	for _, lb := range live {
		verifyFill(t, b.Resolve(lb.p, 0)[:lb.size], lb.seed)
	}

	// the null slot is reused by the next zone
	p := mustAlloc(t, b, 3500)
	assert.Equal(t, uint32(1), p.ZoneID)
}

func TestDeserializeCorrupted(t *testing.T) {
	a, _ := populated(t)
	good, err := a.MarshalBinary()
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short_header", good[:10]},
		{"count_over_capacity", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[6:], 2)
			return b
		})},
		{"bad_initial_size", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[10:], 12)
			return b
		})},
		{"bad_zone_length", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[14:], 13)
			return b
		})},
		{"negative_zone_length", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[14:], 0xFFFFFFF8)
			return b
		})},
		{"initial_over_max", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[10:], MaxZoneSize+alignment)
			return b
		})},
		{"zone_over_max", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[14:], 0x7FFFFFF8)
			return b
		})},
		{"truncated_zone", good[:len(good)-100]},
		{"size_field", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[18:], 8)
			return b
		})},
		{"block_list", mutate(func(b []byte) []byte {
			// first block header of zone 0
			binary.LittleEndian.PutUint32(b[18+firstBlockOffset:], 8)
			return b
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data, &Option{BoundsCheck: true})
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestDeserializeZoneLimit(t *testing.T) {
	a, live := populated(t)
	data, err := a.MarshalBinary()
	require.NoError(t, err)

	src := &countingSource{}
	_, err = Unmarshal(data, &Option{SnapshotZoneLimit: MinZoneSize / 2, Source: src})
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, 0, src.allocs, "no zone memory reserved for an oversized zone")

	b, err := Unmarshal(data, &Option{SnapshotZoneLimit: MinZoneSize})
	require.NoError(t, err)
	for _, lb := range live {
		verifyFill(t, b.Resolve(lb.p, 0)[:lb.size], lb.seed)
	}

	// a huge length header is rejected before any zone is reserved
	hostile := append([]byte(nil), data[:snapshotHeaderSize]...)
	hostile = binary.LittleEndian.AppendUint32(hostile, 1<<30)
	_, err = Unmarshal(hostile, &Option{SnapshotZoneLimit: 1 << 20, Source: src})
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.Equal(t, 0, src.allocs)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, assert.AnError
}

func TestSerializeWriteError(t *testing.T) {
	a := newTestAllocator(t, MinZoneSize)
	err := a.Serialize(bufiox.NewDefaultWriter(failWriter{}))
	assert.ErrorIs(t, err, assert.AnError)
}

func BenchmarkSerialize(b *testing.B) {
	a, err := NewAllocator(nil)
	require.NoError(b, err)
	for i := 0; i < 1000; i++ {
		_, _ = a.Alloc(100)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = a.MarshalBinary()
	}
}
