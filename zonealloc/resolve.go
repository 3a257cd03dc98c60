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

// resolver turns a handle into a view of the zone bytes starting at its payload.
type resolver interface {
	resolve(zones []*zone, p MemPtr) []byte
}

// fastResolver trusts the handle. The view runs to the end of the zone, so an
// overrun write lands in the following blocks.
type fastResolver struct{}

func (fastResolver) resolve(zones []*zone, p MemPtr) []byte {
	return zones[p.ZoneID].buf[p.Offset:]
}

// checkedResolver validates zone id, offset and block header, and bounds both
// length and capacity of the view to the block payload, so reslicing past the
// block panics instead of overwriting the next header.
type checkedResolver struct{}

func (checkedResolver) resolve(zones []*zone, p MemPtr) []byte {
	z, b, err := lookup(zones, p)
	if err != nil {
		panic(err)
	}
	end := b + z.blockSize(b)
	return z.buf[p.Offset:end:end]
}

// lookup returns the zone and used block addressed by p.
func lookup(zones []*zone, p MemPtr) (*zone, uint32, error) {
	if !p.IsValid() {
		return nil, 0, invalidHandle(p, "null handle")
	}
	if int(p.ZoneID) >= len(zones) {
		return nil, 0, invalidHandle(p, "zone out of range")
	}
	z := zones[p.ZoneID]
	if z == nil {
		return nil, 0, invalidHandle(p, "zone freed")
	}
	b, ok := z.blockOf(p.Offset)
	if !ok {
		return nil, 0, invalidHandle(p, "offset out of zone")
	}
	if z.magic(b) != blockMagic {
		return nil, 0, invalidHandle(p, "no block header")
	}
	if z.state(b) != stateUsed {
		return nil, 0, invalidHandle(p, "block not in use")
	}
	if int(b+z.blockSize(b)) > len(z.buf) {
		return nil, 0, invalidHandle(p, "block exceeds zone")
	}
	return z, b, nil
}
