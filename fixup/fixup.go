/*
 * Copyright 2016 ClusterHQ
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

// Package fixup holds the byte-range patches (disklabels, boot sectors)
// that filesystem probes ask the hasher to apply before hashing, so that a
// partition-dependent structure hashes the same regardless of where it
// happens to be mounted. The set lives outside the delta engine: the
// engine only queries and applies it.
package fixup

import (
	"sort"

	"github.com/sectorimg/imgdelta/internal/ferrors"
	"github.com/sectorimg/imgdelta/sector"
)

// Fixup is a single byte-range patch.
type Fixup struct {
	ByteStart uint64
	ByteSize  uint64
	Payload   []byte
}

func (f Fixup) end() uint64 { return f.ByteStart + f.ByteSize }

// Set is the fixup-set interface the delta engine and block hasher consume.
// A caller-supplied implementation (typically Ordered below) is populated by
// filesystem probes ahead of a delta run.
type Set interface {
	// HasFixup reports whether any fixup overlaps the given sector range.
	HasFixup(start sector.Sector, size uint32) bool
	// Apply mutates buf (which represents exactly [byteStart, byteStart+byteSize))
	// in place with the payload of every fixup overlapping that span.
	Apply(byteStart, byteSize uint64, buf []byte) error
	// Save takes a one-level snapshot of the set's current contents.
	Save()
	// Restore undoes back to the last Save. keepChanges=false discards
	// everything applied since Save (the delta engine's error path);
	// keepChanges=true just drops the snapshot.
	Restore(keepChanges bool)
}

// Ordered is the concrete, slice-backed Set implementation: fixups kept
// sorted by ByteStart, small enough that overlap queries use a plain O(n)
// scan; sort.Search is used only to find Add's insertion point.
type Ordered struct {
	fixups   []Fixup
	snapshot []Fixup
	hasSnap  bool
}

var _ Set = &Ordered{}

// NewOrdered returns an empty fixup set.
func NewOrdered() *Ordered {
	return &Ordered{}
}

// Add inserts a fixup, keeping the set sorted by ByteStart.
func (o *Ordered) Add(f Fixup) error {
	if f.ByteSize == 0 {
		return ferrors.Wrap(ferrors.ErrFixupViolation, "zero-size fixup at byte %d", f.ByteStart)
	}
	i := sort.Search(len(o.fixups), func(i int) bool { return o.fixups[i].ByteStart >= f.ByteStart })
	o.fixups = append(o.fixups, Fixup{})
	copy(o.fixups[i+1:], o.fixups[i:])
	o.fixups[i] = f
	return nil
}

// HasFixup implements Set.
func (o *Ordered) HasFixup(start sector.Sector, size uint32) bool {
	r := sector.Range{Start: start, Size: size}
	byteStart := uint64(r.ByteStart())
	byteEnd := byteStart + uint64(r.ByteSize())
	for _, f := range o.fixups {
		if f.ByteStart < byteEnd && byteStart < f.end() {
			return true
		}
	}
	return false
}

// Apply implements Set. buf must have length byteSize.
func (o *Ordered) Apply(byteStart, byteSize uint64, buf []byte) error {
	if uint64(len(buf)) != byteSize {
		return ferrors.Wrap(ferrors.ErrFixupViolation,
			"apply buffer length %d does not match byteSize %d", len(buf), byteSize)
	}
	byteEnd := byteStart + byteSize
	for _, f := range o.fixups {
		if f.ByteStart >= byteEnd || f.end() <= byteStart {
			continue
		}
		// Clip the fixup's payload to the overlap with [byteStart, byteEnd).
		overlapStart := max64(f.ByteStart, byteStart)
		overlapEnd := min64(f.end(), byteEnd)
		payloadOff := overlapStart - f.ByteStart
		bufOff := overlapStart - byteStart
		n := overlapEnd - overlapStart
		if payloadOff+n > uint64(len(f.Payload)) {
			return ferrors.Wrap(ferrors.ErrFixupViolation,
				"fixup at byte %d has payload shorter than its declared size", f.ByteStart)
		}
		copy(buf[bufOff:bufOff+n], f.Payload[payloadOff:payloadOff+n])
	}
	return nil
}

// Save implements Set.
func (o *Ordered) Save() {
	o.snapshot = append([]Fixup(nil), o.fixups...)
	o.hasSnap = true
}

// Restore implements Set.
func (o *Ordered) Restore(keepChanges bool) {
	if !o.hasSnap {
		return
	}
	if !keepChanges {
		o.fixups = o.snapshot
	}
	o.snapshot = nil
	o.hasSnap = false
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
