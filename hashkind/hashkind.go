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

// Package hashkind is the hash function registry: it maps a wire-level
// hash_kind to a Factory able to produce a hash.Hash and to report the
// digest length used to size and truncate on-disk region digests.
package hashkind

import (
	"hash"

	"github.com/sectorimg/imgdelta/internal/ferrors"
)

// Kind identifies which hash algorithm a signature's regions are digested
// with. The numeric values match the on-disk hash_kind field.
type Kind uint32

const (
	// MD5 is legacy (v1/v2 only).
	MD5 Kind = 1
	// SHA1 is the current default for legacy-format signatures.
	SHA1 Kind = 2
	// SHA256 is the current default for new-format (v3) signatures.
	SHA256 Kind = 3
)

// MaxDigestLen is the widest digest any supported Kind produces (SHA256).
const MaxDigestLen = 32

// DigestLen returns the number of meaningful digest bytes for kind; the
// remainder of a region's fixed-width digest field is always zeroed.
func DigestLen(kind Kind) (int, error) {
	switch kind {
	case MD5:
		return 16, nil
	case SHA1:
		return 20, nil
	case SHA256:
		return 32, nil
	default:
		return 0, ferrors.Wrap(ferrors.ErrBadSignature, "unknown hash kind %d", kind)
	}
}

// Factory is a hash kind's Factory: it constructs a fresh hash.Hash and
// reports its own Kind, the same registry pattern as the rest of this
// module uses for pluggable algorithm implementations.
type Factory interface {
	New() hash.Hash
	Type() Kind
}

var registry = map[Kind]Factory{}

// Register installs f as the Factory for its own Type(). Hash kind
// subpackages call this from an init function.
func Register(f Factory) {
	registry[f.Type()] = f
}

// Lookup returns the registered Factory for kind.
func Lookup(kind Kind) (Factory, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, ferrors.Wrap(ferrors.ErrBadSignature, "no hash factory registered for kind %d", kind)
	}
	return f, nil
}

// Compute is a pure convenience wrapper: it runs all of buf through kind's
// hash function and returns the full-width digest (DigestLen(kind) bytes).
func Compute(kind Kind, buf []byte) ([]byte, error) {
	f, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	h := f.New()
	// hash.Hash.Write never returns an error.
	_, _ = h.Write(buf)
	return h.Sum(nil), nil
}
