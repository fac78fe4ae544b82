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

// Package signature is the signature file codec (C4): it reads and writes
// the three on-disk signature versions (v1/v2 32-bit, v3 64-bit) and
// normalizes all of them to a single in-memory v3-shaped representation.
// Regions are stored on disk partition-relative; this package adds the
// partition offset back in on Read and subtracts it (on a copy, never the
// caller's in-memory Signature) on Write.
package signature

import (
	"encoding/binary"
	"os"

	"github.com/sectorimg/imgdelta/hashkind"
	"github.com/sectorimg/imgdelta/internal/diag"
	"github.com/sectorimg/imgdelta/internal/ferrors"
	"github.com/sectorimg/imgdelta/sector"
)

// Version identifies an on-disk signature format.
type Version uint32

const (
	// V1 is the legacy format: 32-bit regions, implicit 128-sector hash block.
	V1 Version = 1
	// V2 is the 32-bit format with an explicit hash_block_size field.
	V2 Version = 2
	// V3 is the current format: 64-bit regions, required for SHA256.
	V3 Version = 3
)

// Magic is the fixed 4-byte signature file magic, ASCII "imgh".
const Magic = "imgh"

// HeaderSize is the fixed on-disk header size in bytes.
const HeaderSize = 128

// LegacyHashBlockSize is the implicit hash_block_size (in sectors) that v1
// signatures always use, since v1 predates the explicit field.
const LegacyHashBlockSize = 128

// DefaultHashBlockSize is used when synthesizing a brand-new signature from
// an empty old one; it matches LegacyHashBlockSize by design (see SPEC_FULL.md).
const DefaultHashBlockSize = 128

// ChunkSpanBit, set on Region.ChunkNo, marks that the region starts within
// one chunk but its data continues into the next.
const ChunkSpanBit int32 = -1 << 31

// Region is one hash region, normalized to the in-memory v3 shape: 64-bit
// start, full 32-byte digest buffer (only DigestLen(kind) bytes meaningful,
// remainder zeroed).
type Region struct {
	Start   sector.Sector
	Size    uint32
	ChunkNo int32
	Digest  [hashkind.MaxDigestLen]byte
}

// End returns the sector one past the region.
func (r Region) End() sector.Sector {
	return r.Start + sector.Sector(r.Size)
}

// Spans reports whether ChunkSpanBit is set.
func (r Region) Spans() bool {
	return r.ChunkNo&ChunkSpanBit != 0
}

// Range returns the region's plain sector range.
func (r Region) Range() sector.Range {
	return sector.Range{Start: r.Start, Size: r.Size}
}

// Signature is a manifest of hash regions covering a prior image's
// allocated content, normalized in memory regardless of on-disk version.
type Signature struct {
	Version       Version
	HashKind      hashkind.Kind
	HashBlockSize uint32
	Regions       []Region

	// MaxRegionSectors is the largest region Size seen, a sizing hint for
	// the caller's hash scratch buffer.
	MaxRegionSectors uint32
}

// Empty returns a new signature with no regions, for the degenerate "no
// prior signature" case the delta engine must also accept.
func Empty(kind hashkind.Kind, hashBlockSize uint32) *Signature {
	return &Signature{Version: V3, HashKind: kind, HashBlockSize: hashBlockSize}
}

func regionWireSize(v Version) int {
	if v == V3 {
		return 8 + 4 + 4 + hashkind.MaxDigestLen
	}
	return 4 + 4 + 4 + 20
}

func validHashKindForVersion(v Version, kind hashkind.Kind) error {
	switch {
	case kind == hashkind.MD5 && v == V3:
		return ferrors.Wrap(ferrors.ErrBadSignature, "MD5 hash kind is not valid in a v3 signature")
	case kind == hashkind.SHA256 && v != V3:
		return ferrors.Wrap(ferrors.ErrBadSignature, "SHA256 hash kind requires a v3 signature")
	}
	return nil
}

// Read loads a signature file. partitionOffset is added to every region's
// Start so the returned Signature works in absolute sectors, since signature
// files store partition-relative coordinates.
func Read(path string, partitionOffset sector.Sector, logger *diag.Logger) (*Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "opening signature %s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrIoError, "stat signature %s: %v", path, err)
	}

	header := make([]byte, HeaderSize)
	if _, err := readFull(f, header); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "reading header of %s: %v", path, err)
	}

	if string(header[0:4]) != Magic {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "%s has wrong magic", path)
	}

	version := Version(binary.LittleEndian.Uint32(header[4:8]))
	if version != V1 && version != V2 && version != V3 {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "%s has unsupported version %d", path, version)
	}

	kind := hashkind.Kind(binary.LittleEndian.Uint32(header[8:12]))
	if _, err := hashkind.DigestLen(kind); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "%s has unknown hash kind: %v", path, err)
	}
	if err := validHashKindForVersion(version, kind); err != nil {
		return nil, err
	}

	nregions := binary.LittleEndian.Uint32(header[12:16])

	var hashBlockSize uint32
	if version == V1 {
		hashBlockSize = LegacyHashBlockSize
	} else {
		hashBlockSize = binary.LittleEndian.Uint32(header[16:20])
	}

	wireSize := regionWireSize(version)
	need := int64(nregions) * int64(wireSize)
	remaining := info.Size() - HeaderSize
	if need < 0 || need > remaining {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature,
			"%s is truncated: %d regions of %d bytes exceeds remaining %d bytes", path, nregions, wireSize, remaining)
	}

	sig := &Signature{Version: version, HashKind: kind, HashBlockSize: hashBlockSize}
	digestLen, _ := hashkind.DigestLen(kind)

	buf := make([]byte, wireSize)
	var prevEnd sector.Sector
	for i := uint32(0); i < nregions; i++ {
		if _, err := readFull(f, buf); err != nil {
			return nil, ferrors.Wrap(ferrors.ErrBadSignature, "reading region %d of %s: %v", i, path, err)
		}
		region, err := decodeRegion(version, buf, digestLen)
		if err != nil {
			return nil, err
		}

		rebased, err := region.Range().Rebase(partitionOffset, true)
		if err != nil {
			return nil, err
		}
		region.Start = rebased.Start

		if i > 0 && region.Start < prevEnd {
			return nil, ferrors.Wrap(ferrors.ErrBadSignature,
				"%s regions are not sorted/non-overlapping at index %d", path, i)
		}
		prevEnd = region.End()

		if region.Size > sig.MaxRegionSectors {
			sig.MaxRegionSectors = region.Size
		}
		sig.Regions = append(sig.Regions, region)
	}

	return sig, nil
}

func decodeRegion(v Version, buf []byte, digestLen int) (Region, error) {
	var r Region
	if v == V3 {
		r.Start = sector.Sector(binary.LittleEndian.Uint64(buf[0:8]))
		r.Size = binary.LittleEndian.Uint32(buf[8:12])
		r.ChunkNo = int32(binary.LittleEndian.Uint32(buf[12:16]))
		copy(r.Digest[:], buf[16:16+hashkind.MaxDigestLen])
	} else {
		r.Start = sector.Sector(binary.LittleEndian.Uint32(buf[0:4]))
		r.Size = binary.LittleEndian.Uint32(buf[4:8])
		r.ChunkNo = int32(binary.LittleEndian.Uint32(buf[8:12]))
		copy(r.Digest[:], buf[12:12+20])
	}
	if err := r.Range().Validate(); err != nil {
		return Region{}, err
	}
	// Zero any digest bytes beyond this hash kind's width, mirroring the
	// on-disk truncate-and-zero-remainder rule.
	for i := digestLen; i < hashkind.MaxDigestLen; i++ {
		r.Digest[i] = 0
	}
	return r, nil
}

func encodeRegion(v Version, r Region) []byte {
	buf := make([]byte, regionWireSize(v))
	if v == V3 {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Start))
		binary.LittleEndian.PutUint32(buf[8:12], r.Size)
		binary.LittleEndian.PutUint32(buf[12:16], uint32(r.ChunkNo))
		copy(buf[16:16+hashkind.MaxDigestLen], r.Digest[:])
	} else {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Start))
		binary.LittleEndian.PutUint32(buf[4:8], r.Size)
		binary.LittleEndian.PutUint32(buf[8:12], uint32(r.ChunkNo))
		copy(buf[12:12+20], r.Digest[:20])
	}
	return buf
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, ferrors.Wrap(ferrors.ErrShortRead, "unexpected EOF after %d bytes", total)
		}
	}
	return total, nil
}

// Write writes sig to path in targetVersion, rebasing regions back to
// partition-relative coordinates on a copy (the caller's in-memory sig,
// which stays in absolute coordinates, is never mutated). If targetVersion
// is V2 but the content can't be represented that way (SHA256 hash kind, or
// a region start beyond 32 bits), the write silently downgrades to V3 and
// logs a warning diagnostic — never a hard error.
//
// After writing, Write pairs the signature file's mtime with imagePath's
// mtime via os.Chtimes: a fast but fragile association mechanism (any later
// touch of either file's mtime silently defeats it). utimes failures are
// logged as warnings, never fatal.
func Write(path string, sig *Signature, targetVersion Version, partitionOffset sector.Sector, imagePath string, logger *diag.Logger) error {
	version := targetVersion
	if version == V2 {
		needsDowngrade := sig.HashKind == hashkind.SHA256
		if !needsDowngrade {
			for _, r := range sig.Regions {
				rebased, err := r.Range().Rebase(partitionOffset, false)
				if err != nil {
					return err
				}
				if !rebased.FitsWidth32() {
					needsDowngrade = true
					break
				}
			}
		}
		if needsDowngrade {
			logger.Warn("downgrading signature write for %s from v2 to v3", path)
			version = V3
		}
	}

	if err := validHashKindForVersion(version, sig.HashKind); err != nil {
		return err
	}

	relRegions := make([]Region, len(sig.Regions))
	for i, r := range sig.Regions {
		rebased, err := r.Range().Rebase(partitionOffset, false)
		if err != nil {
			return err
		}
		r.Start = rebased.Start
		relRegions[i] = r
	}

	f, err := os.Create(path)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "creating signature %s: %v", path, err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	copy(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(version))
	binary.LittleEndian.PutUint32(header[8:12], uint32(sig.HashKind))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(relRegions)))
	binary.LittleEndian.PutUint32(header[16:20], sig.HashBlockSize)

	if n, err := f.Write(header); err != nil || n != len(header) {
		return ferrors.Wrap(ferrors.ErrIoError, "writing header of %s: %v", path, err)
	}

	for _, r := range relRegions {
		buf := encodeRegion(version, r)
		n, err := f.Write(buf)
		if err != nil || n != len(buf) {
			return ferrors.Wrap(ferrors.ErrIoError, "writing region to %s: %v", path, err)
		}
	}

	if imagePath != "" {
		if info, err := os.Stat(imagePath); err != nil {
			logger.Warn("could not stat %s to pair mtime with %s: %v", imagePath, path, err)
		} else {
			mtime := info.ModTime()
			if err := os.Chtimes(path, mtime, mtime); err != nil {
				logger.Warn("could not set mtime of %s to match %s: %v", path, imagePath, err)
			}
		}
	}

	return nil
}
