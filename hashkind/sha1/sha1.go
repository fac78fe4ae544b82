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

// Package sha1 registers the SHA1 hash kind, the legacy-format default.
package sha1

import (
	"crypto/sha1"
	"hash"

	"github.com/sectorimg/imgdelta/hashkind"
)

// Factory is a helper for creating a new SHA1 hash factory.
type Factory struct{}

var _ hashkind.Factory = Factory{}

func init() {
	hashkind.Register(Factory{})
}

// New creates a new hash.Hash.
func (f Factory) New() hash.Hash {
	return sha1.New()
}

// Type returns the hash kind this factory implements.
func (f Factory) Type() hashkind.Kind {
	return hashkind.SHA1
}
