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

// Package md5 registers the legacy (v1/v2) MD5 hash kind.
package md5

import (
	"crypto/md5"
	"hash"

	"github.com/sectorimg/imgdelta/hashkind"
)

// Factory is a helper for creating a new MD5 hash factory.
type Factory struct{}

var _ hashkind.Factory = Factory{}

func init() {
	hashkind.Register(Factory{})
}

// New creates a new hash.Hash.
func (f Factory) New() hash.Hash {
	return md5.New()
}

// Type returns the hash kind this factory implements.
func (f Factory) Type() hashkind.Kind {
	return hashkind.MD5
}
