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

// Package config loads the YAML file that drives an imgdelta run: default
// hash kind and block size, and the glob allow-list of device paths a run
// is permitted to open (meant to stop an operator from accidentally
// pointing the engine at something that isn't an image intended for this
// pipeline).
package config

import (
	"io/ioutil"
	"os"

	"github.com/go-yaml/yaml"
	"github.com/gobwas/glob"

	"github.com/sectorimg/imgdelta/hashkind"
	"github.com/sectorimg/imgdelta/internal/ferrors"
)

// Params is the on-disk shape of the configuration file.
type Params struct {
	// HashKind is the default digest algorithm new signatures are written
	// with: "md5", "sha1" or "sha256".
	HashKind string `yaml:"hash_kind,omitempty"`
	// HashBlockSize is the default hash region size, in sectors.
	HashBlockSize uint32 `yaml:"hash_block_size,omitempty"`
	// SignatureVersion is the default on-disk signature version to write:
	// 1, 2 or 3.
	SignatureVersion uint32 `yaml:"signature_version,omitempty"`
	// AllowedDevices is a list of glob patterns; a disk image path must
	// match at least one entry to be opened. An empty list allows anything.
	AllowedDevices []string `yaml:"allowed_devices,omitempty"`
	// HashFreeMode mirrors deltaengine.Options.HashFreeMode.
	HashFreeMode bool `yaml:"hash_free_mode,omitempty"`
}

// Config wraps a loaded Params with the compiled form of its allow-list.
type Config struct {
	filename string
	Params   Params
	allow    []glob.Glob
}

// New points a Config at filepath without reading it yet.
func New(filepath string) *Config {
	return &Config{filename: filepath}
}

// Exists reports whether the backing file is present.
func (c *Config) Exists() bool {
	_, err := os.Stat(c.filename)
	return !os.IsNotExist(err)
}

// Load reads and parses the configuration file, compiling its device
// allow-list glob patterns.
func (c *Config) Load() error {
	if !c.Exists() {
		return ferrors.Wrap(ferrors.ErrIoError, "config file %s does not exist", c.filename)
	}

	buf, err := ioutil.ReadFile(c.filename)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "reading config %s: %v", c.filename, err)
	}

	var p Params
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return ferrors.Wrap(ferrors.ErrBadSignature, "parsing config %s: %v", c.filename, err)
	}
	c.Params = p

	c.allow = nil
	for _, pattern := range p.AllowedDevices {
		g, err := glob.Compile(pattern)
		if err != nil {
			return ferrors.Wrap(ferrors.ErrBadSignature, "bad device pattern %q in %s: %v", pattern, c.filename, err)
		}
		c.allow = append(c.allow, g)
	}

	return nil
}

// Save writes c.Params back out as YAML.
func (c *Config) Save() error {
	buf, err := yaml.Marshal(c.Params)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "marshaling config: %v", err)
	}
	if err := ioutil.WriteFile(c.filename, buf, 0644); err != nil {
		return ferrors.Wrap(ferrors.ErrIoError, "writing config %s: %v", c.filename, err)
	}
	return nil
}

// DeviceAllowed reports whether path matches the configured allow-list.
// With no patterns configured, every path is allowed.
func (c *Config) DeviceAllowed(path string) bool {
	if len(c.allow) == 0 {
		return true
	}
	for _, g := range c.allow {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// ResolveHashKind maps the configured hash_kind name to a hashkind.Kind,
// defaulting to SHA256 when unset.
func (c *Config) ResolveHashKind() (hashkind.Kind, error) {
	switch c.Params.HashKind {
	case "", "sha256":
		return hashkind.SHA256, nil
	case "sha1":
		return hashkind.SHA1, nil
	case "md5":
		return hashkind.MD5, nil
	default:
		return 0, ferrors.Wrap(ferrors.ErrBadSignature, "unknown hash_kind %q in %s", c.Params.HashKind, c.filename)
	}
}

// ResolveHashBlockSize returns the configured block size, or a sensible
// default if unset.
func (c *Config) ResolveHashBlockSize() uint32 {
	if c.Params.HashBlockSize == 0 {
		return 128
	}
	return c.Params.HashBlockSize
}
