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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewArenaSource(t *testing.T) {
	tests := []struct {
		arena, max int
		wantErr    bool
	}{
		{64 << 10, 64 << 10, false},
		{1 << 20, 64 << 10, false},
		{64 << 10, 2 << 10, true},  // below MinZoneSize
		{64 << 10, 48 << 10, true}, // not a power of two
		{96 << 10, 64 << 10, true}, // not a multiple
		{32 << 10, 64 << 10, true}, // smaller than one block
	}
	for _, tt := range tests {
		_, err := NewArenaSource(tt.arena, tt.max)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidSize, "arena=%d max=%d", tt.arena, tt.max)
		} else {
			assert.NoError(t, err, "arena=%d max=%d", tt.arena, tt.max)
		}
	}
}

func TestArenaSourceSplitMerge(t *testing.T) {
	s, err := NewArenaSource(64<<10, 32<<10)
	require.NoError(t, err)
	assert.Equal(t, 64<<10, s.Available())

	a, err := s.Alloc(MinZoneSize)
	require.NoError(t, err)
	assert.Len(t, a, MinZoneSize)
	assert.Equal(t, MinZoneSize, cap(a))

	b, err := s.Alloc(MinZoneSize + 8)
	require.NoError(t, err)
	assert.Equal(t, 2*MinZoneSize, cap(b))
	assert.Equal(t, 64<<10-3*MinZoneSize, s.Available())

	c, err := s.Alloc(32 << 10)
	require.NoError(t, err)
	_, err = s.Alloc(32 << 10)
	assert.Error(t, err)
	_, err = s.Alloc(64 << 10)
	assert.Error(t, err)

	s.Free(b)
	s.Free(a[:10])
	s.Free(c)
	assert.Equal(t, 64<<10, s.Available())
	assert.Panics(t, func() { s.Free(c) })
	assert.Panics(t, func() { s.Free(make([]byte, 8)) })

	// fully merged again
	_, err = s.Alloc(32 << 10)
	require.NoError(t, err)
	_, err = s.Alloc(32 << 10)
	require.NoError(t, err)
}

func TestArenaSourceBoundsAllocator(t *testing.T) {
	src, err := NewArenaSource(64<<10, 16<<10)
	require.NoError(t, err)
	a, err := NewAllocator(&Option{InitialSize: 16 << 10, Source: src, BoundsCheck: true})
	require.NoError(t, err)

	var live []MemPtr
	for {
		p, err := a.Alloc(8 << 10)
		if err != nil {
			assert.ErrorIs(t, err, ErrOutOfMemory)
			break
		}
		live = append(live, p)
	}
	// 4 zones of 16KB hold one 8KB block each
	assert.Len(t, live, 4)
	assert.Equal(t, 0, src.Available())

	for _, p := range live {
		require.True(t, a.Free(p))
	}
	assert.Equal(t, 64<<10, src.Available())
	assert.Equal(t, 0, a.ZoneCount()-a.Stats().NullZones)

	_, err = a.Alloc(100)
	require.NoError(t, err)
}

func TestArenaSource(t *testing.T) {
	src, err := NewArenaSource(8<<20, 1<<20)
	require.NoError(t, err)
	testSource(t, src)
	assert.Equal(t, 8<<20, src.Available())
}
