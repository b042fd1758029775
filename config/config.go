// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Simulation configuration provider. spec.md §1 treats XML config loading
// as out of scope ("an opaque Config provider exposing typed getters"); we
// still need a concrete provider to build a runnable simulator, so we pick
// YAML, the format the teacher's own tooling (cmd/mkdrivedb) already uses
// for drivedb round trips (gopkg.in/yaml.v2).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/dswarbrick/ssdsim/logging"
)

var log = logging.New("config")

// Config is an opaque, typed-getter configuration provider over a decoded
// YAML document. Keys are dotted paths, e.g. "pal.channel.count".
type Config struct {
	tree map[any]any
}

// Load reads and parses a YAML config file. A malformed config is a fatal
// configuration error (spec.md §7) — Load panics rather than returning an
// error that a caller might swallow.
func Load(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Panic().Err(err).Str("path", path).Msg("config: cannot read file")
	}
	return Parse(data)
}

// Parse decodes an in-memory YAML document.
func Parse(data []byte) *Config {
	var tree map[any]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		log.Panic().Err(err).Msg("config: invalid YAML")
	}
	return &Config{tree: tree}
}

func (c *Config) lookup(path string) (any, bool) {
	cur := any(c.tree)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[any]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Int returns the integer value at path, or def if absent.
func (c *Config) Int(path string, def int64) int64 {
	v, ok := c.lookup(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("config: %q is not an integer: %v", path, err))
		}
		return i
	default:
		panic(fmt.Sprintf("config: %q is not an integer", path))
	}
}

// Uint64 returns the unsigned integer value at path, or def if absent.
func (c *Config) Uint64(path string, def uint64) uint64 {
	return uint64(c.Int(path, int64(def)))
}

// Float64 returns the floating-point value at path, or def if absent.
func (c *Config) Float64(path string, def float64) float64 {
	v, ok := c.lookup(path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		panic(fmt.Sprintf("config: %q is not a number", path))
	}
}

// String returns the string value at path, or def if absent.
func (c *Config) String(path string, def string) string {
	v, ok := c.lookup(path)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		panic(fmt.Sprintf("config: %q is not a string", path))
	}
	return s
}

// Bool returns the boolean value at path, or def if absent.
func (c *Config) Bool(path string, def bool) bool {
	v, ok := c.lookup(path)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		panic(fmt.Sprintf("config: %q is not a boolean", path))
	}
	return b
}

// Has reports whether path resolves to any value.
func (c *Config) Has(path string) bool {
	_, ok := c.lookup(path)
	return ok
}
