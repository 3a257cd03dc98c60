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
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
)

// CopyFrom makes a an exact copy of src: same registry shape, same zone bytes,
// so every handle of src resolves to the same data in a. The version of a
// becomes src.Version()+1.
//
// src must not be mutated while it is copied.
func (a *Allocator) CopyFrom(src *Allocator) error {
	if err := a.CopyFromPrepare(src); err != nil {
		return err
	}
	for i := range src.zones() {
		a.CopyFromComplete(src, i)
	}
	return nil
}

// CopyFromPrepare reconciles the zone registry of a with src without copying any
// zone bytes. It must return before any CopyFromComplete call for the same pair.
//
// New zones are formatted empty until CopyFromComplete fills them. After an
// error a holds a mix of its old zones and empty ones: the heap stays well
// formed and usable, but no handle of a or src can be relied on.
func (a *Allocator) CopyFromPrepare(src *Allocator) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	srcZones := src.zones()
	if len(a.zones()) != len(srcZones) {
		if err := a.rebuildZones(srcZones); err != nil {
			return err
		}
	} else {
		zones := append([]*zone(nil), a.zones()...)
		var err error
		for i, sz := range srcZones {
			var z *zone
			if z, err = a.matchZone(zones[i], sz); err != nil {
				break
			}
			zones[i] = z
		}
		c := cap(srcZones)
		if c < len(zones) {
			c = len(zones)
		}
		nz := make([]*zone, len(zones), c)
		copy(nz, zones)
		a.reg.Store(&registry{zones: nz})
		if err != nil {
			return err
		}
	}
	a.initialSize = src.initialSize
	a.version = src.version + 1
	return nil
}

// matchZone returns a zone of the same size as sz, reusing z when possible.
// On error z is left untouched.
func (a *Allocator) matchZone(z, sz *zone) (*zone, error) {
	switch {
	case sz == nil:
		a.freeZone(z)
		return nil, nil
	case z == nil:
		return a.createZone(sz.size())
	case z.size() < sz.size():
		return a.growZone(z, sz.size())
	case z.size() > sz.size():
		nz, err := a.createZone(sz.size())
		if err != nil {
			return nil, err
		}
		a.freeZone(z)
		return nz, nil
	}
	return z, nil
}

// rebuildZones drops every zone of a and creates one empty zone per zone of src.
func (a *Allocator) rebuildZones(srcZones []*zone) error {
	a.logger.Debug("copy rebuilds all zones",
		slog.Int("from", len(a.zones())), slog.Int("to", len(srcZones)))
	for _, z := range a.zones() {
		a.freeZone(z)
	}
	zones := make([]*zone, len(srcZones), cap(srcZones))
	defer func() { a.reg.Store(&registry{zones: zones}) }()
	for i, sz := range srcZones {
		if sz == nil {
			continue
		}
		z, err := a.createZone(sz.size())
		if err != nil {
			return err
		}
		zones[i] = z
	}
	return nil
}

// CopyFromComplete copies the bytes of one zone of src into a. Calls for distinct
// zone indexes may run concurrently once CopyFromPrepare has returned.
func (a *Allocator) CopyFromComplete(src *Allocator, zoneIndex int) {
	sz := src.zones()[zoneIndex]
	if sz == nil {
		return
	}
	copy(a.zones()[zoneIndex].buf, sz.buf)
}

var copyPool = gopool.NewPool("zonealloc.copy", int32(runtime.GOMAXPROCS(0)), gopool.NewConfig())

// CopyFromParallel is CopyFrom with the zone copies spread over a worker pool.
// ctx is checked once before any zone is touched; a started copy always runs to
// the end. A panic in any zone copy is reported as an error.
func (a *Allocator) CopyFromParallel(ctx context.Context, src *Allocator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.CopyFromPrepare(src); err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, z := range src.zones() {
		if z == nil {
			continue
		}
		wg.Add(1)
		copyPool.CtxGo(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("zone copy panicked", slog.Int("zone", i), slog.Any("panic", r))
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("zonealloc: copy of zone %d: %v", i, r)
					}
					mu.Unlock()
				}
			}()
			a.CopyFromComplete(src, i)
		})
	}
	wg.Wait()
	return firstErr
}

// Clone returns a new allocator holding a copy of a.
func (a *Allocator) Clone() (*Allocator, error) {
	c := newAllocator(a.options())
	if err := c.CopyFrom(a); err != nil {
		c.Dispose()
		return nil, err
	}
	return c, nil
}

func (a *Allocator) options() *Option {
	return &Option{
		InitialSize:       a.initialSize,
		BoundsCheck:       a.boundsCheck,
		ClearZones:        a.clearZones,
		Source:            a.src,
		Logger:            a.logger,
		SnapshotZoneLimit: a.zoneLimit,
	}
}
