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

// Package reloc is the relocation table (C6): an ordered list of per-sector
// structural fixup locations (disklabels, boot sectors) carried in chunk
// headers for the downstream chunk writer. Unlike package fixup (which the
// hasher applies before hashing), the relocation table only records where
// such fixups live in the final compressed image; it does not patch bytes.
package reloc

import (
	"encoding/binary"
	"os"

	"github.com/sectorimg/imgdelta/internal/ferrors"
	"github.com/sectorimg/imgdelta/sector"
)

// Type identifies what kind of structural relocation an entry describes.
// Values match the on-disk relocation type field.
type Type uint32

const (
	// FBSDDisklabel is a FreeBSD disklabel.
	FBSDDisklabel Type = 1
	// OBSDDisklabel is an OpenBSD disklabel.
	OBSDDisklabel Type = 2
	// LiloSectorAddress is a LILO sector address.
	LiloSectorAddress Type = 3
	// LiloMapSector is a LILO map sector.
	LiloMapSector Type = 4
	// LiloChecksum is a LILO descriptor block checksum.
	LiloChecksum Type = 5
	// ShortSector indicates a sector shorter than the sector size.
	ShortSector Type = 6
	// AddPartitionOffset adds the partition offset to a stored location.
	AddPartitionOffset Type = 100
	// XOR16Checksum is a 16-bit XOR checksum fixup.
	XOR16Checksum Type = 101
	// ChecksumRange marks the range a previous checksum fixup covers.
	ChecksumRange Type = 102
)

// Width is the on-disk integer width a relocation table is pinned to: fixed
// on the first Add and required to match every subsequent operation.
type Width = sector.Width

// Relocation is one structural fixup location.
type Relocation struct {
	Type    Type
	Sector  sector.Sector
	SectOff uint16
	Size    uint16
}

// Validate checks the relocation's within-sector invariant.
func (r Relocation) Validate() error {
	if uint32(r.SectOff)+uint32(r.Size) > sector.Size {
		return ferrors.Wrap(ferrors.ErrFixupViolation,
			"relocation at sector %d has sectoff+size %d exceeding sector size", r.Sector, uint32(r.SectOff)+uint32(r.Size))
	}
	return nil
}

// Table is an ordered list of relocations, width-locked on first use.
type Table struct {
	width    Width
	haveWidth bool
	entries  []Relocation
}

// NewTable returns an empty relocation table.
func NewTable() *Table {
	return &Table{}
}

// Width reports the table's pinned width, or 0 if nothing has been added yet.
func (t *Table) Width() Width {
	return t.width
}

// ChunkHeader carries the per-chunk fields the downstream chunk writer's
// format exposes around a packed relocation array.
type ChunkHeader struct {
	FirstSect  sector.Sector
	LastSect   sector.Sector
	RelocCount uint32
}

const relocWireSize32 = 4 + 4 + 2 + 2 // type, sector(32), sectoff, size
const relocWireSize64 = 4 + 8 + 2 + 2 // type, sector(64), sectoff, size

// AddFromChunkHeader decodes hdr.RelocCount entries of the given width from
// payload and appends them to the table, asserting that sectors arrive in
// non-decreasing order (the invariant the original relocation buffer relies
// on for its low/high tracking).
func (t *Table) AddFromChunkHeader(hdr ChunkHeader, width Width, payload []byte) error {
	if !t.haveWidth {
		t.width = width
		t.haveWidth = true
	} else if t.width != width {
		return ferrors.Wrap(ferrors.ErrWidthOverflow,
			"relocation table pinned to width %d, got %d", t.width, width)
	}

	entrySize := relocWireSize32
	if width == sector.Width64 {
		entrySize = relocWireSize64
	}

	need := entrySize * int(hdr.RelocCount)
	if len(payload) < need {
		return ferrors.Wrap(ferrors.ErrBadSignature,
			"chunk header claims %d relocations but payload is only %d bytes", hdr.RelocCount, len(payload))
	}

	for i := uint32(0); i < hdr.RelocCount; i++ {
		off := int(i) * entrySize
		rel, err := decodeRelocation(width, payload[off:off+entrySize])
		if err != nil {
			return err
		}
		if err := rel.Validate(); err != nil {
			return err
		}
		if len(t.entries) > 0 && rel.Sector < t.entries[len(t.entries)-1].Sector {
			return ferrors.Wrap(ferrors.ErrBadSignature,
				"relocation sectors not non-decreasing: %d after %d", rel.Sector, t.entries[len(t.entries)-1].Sector)
		}
		t.entries = append(t.entries, rel)
	}
	return nil
}

func decodeRelocation(width Width, buf []byte) (Relocation, error) {
	var rel Relocation
	rel.Type = Type(binary.LittleEndian.Uint32(buf[0:4]))
	if width == sector.Width32 {
		rel.Sector = sector.Sector(binary.LittleEndian.Uint32(buf[4:8]))
		rel.SectOff = binary.LittleEndian.Uint16(buf[8:10])
		rel.Size = binary.LittleEndian.Uint16(buf[10:12])
	} else {
		rel.Sector = sector.Sector(binary.LittleEndian.Uint64(buf[4:12]))
		rel.SectOff = binary.LittleEndian.Uint16(buf[12:14])
		rel.Size = binary.LittleEndian.Uint16(buf[14:16])
	}
	return rel, nil
}

func encodeRelocation(width Width, rel Relocation) []byte {
	if width == sector.Width32 {
		buf := make([]byte, relocWireSize32)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(rel.Type))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(rel.Sector))
		binary.LittleEndian.PutUint16(buf[8:10], rel.SectOff)
		binary.LittleEndian.PutUint16(buf[10:12], rel.Size)
		return buf
	}
	buf := make([]byte, relocWireSize64)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rel.Type))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(rel.Sector))
	binary.LittleEndian.PutUint16(buf[12:14], rel.SectOff)
	binary.LittleEndian.PutUint16(buf[14:16], rel.Size)
	return buf
}

// Inrange counts the relocations whose sector falls in [addr, addr+size).
func (t *Table) Inrange(addr sector.Sector, size uint32) int {
	end := addr + sector.Sector(size)
	n := 0
	for _, r := range t.entries {
		if r.Sector >= addr && r.Sector < end {
			n++
		}
	}
	return n
}

// ExtractIntoChunkHeader copies the entries whose sector lies in
// [chunkFirstSect, chunkLastSect) into a packed payload for that chunk and
// fills in hdr.RelocCount.
func (t *Table) ExtractIntoChunkHeader(hdr *ChunkHeader, chunkFirstSect, chunkLastSect sector.Sector) []byte {
	var payload []byte
	var count uint32
	for _, r := range t.entries {
		if r.Sector < chunkFirstSect || r.Sector >= chunkLastSect {
			continue
		}
		payload = append(payload, encodeRelocation(t.width, r)...)
		count++
	}
	hdr.RelocCount = count
	hdr.FirstSect = chunkFirstSect
	hdr.LastSect = chunkLastSect
	return payload
}

// Entries returns the table's relocations in order.
func (t *Table) Entries() []Relocation {
	return t.entries
}

// Magic is the fixed 4-byte relocation file magic, ASCII "rloc".
const Magic = "rloc"

// fileHeaderSize is the fixed on-disk header: magic(4) + width(4) + count(4).
const fileHeaderSize = 12

// WriteFile serializes t to path, giving the table a standalone on-disk
// form a downstream chunk writer can load alongside a signature.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "creating relocation file %s: %v", path, err)
	}
	defer f.Close()

	header := make([]byte, fileHeaderSize)
	copy(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(t.width))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(t.entries)))
	if _, err := f.Write(header); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "writing relocation file %s: %v", path, err)
	}
	for _, rel := range t.entries {
		if _, err := f.Write(encodeRelocation(t.width, rel)); err != nil {
			return ferrors.Wrap(ferrors.ErrIoError, "writing relocation file %s: %v", path, err)
		}
	}
	return nil
}

// ReadFile loads a relocation table previously written by WriteFile.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "opening relocation file %s: %v", path, err)
	}
	if len(data) < fileHeaderSize || string(data[0:4]) != Magic {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "relocation file %s: bad magic", path)
	}

	width := Width(binary.LittleEndian.Uint32(data[4:8]))
	count := binary.LittleEndian.Uint32(data[8:12])

	t := NewTable()
	if count == 0 {
		t.width, t.haveWidth = width, true
		return t, nil
	}
	if err := t.AddFromChunkHeader(ChunkHeader{RelocCount: count}, width, data[fileHeaderSize:]); err != nil {
		return nil, err
	}
	return t, nil
}
