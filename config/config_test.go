// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testYAML = `
pal:
  channels: 4
  dma_speed_mhz: 400
icl:
  dram_bandwidth_bps: 12800000000.5
  policy: "lru"
  read_cache: true
nested:
  only:
    here: 7
`

func TestConfigTypedGetters(t *testing.T) {
	c := Parse([]byte(testYAML))

	require.Equal(t, int64(4), c.Int("pal.channels", 0))
	require.Equal(t, uint64(400), c.Uint64("pal.dma_speed_mhz", 0))
	require.Equal(t, 12800000000.5, c.Float64("icl.dram_bandwidth_bps", 0))
	require.Equal(t, "lru", c.String("icl.policy", "fifo"))
	require.True(t, c.Bool("icl.read_cache", false))
	require.Equal(t, int64(7), c.Int("nested.only.here", 0))
}

func TestConfigMissingPathReturnsDefault(t *testing.T) {
	c := Parse([]byte(testYAML))

	require.Equal(t, int64(99), c.Int("pal.does_not_exist", 99))
	require.Equal(t, "fallback", c.String("nowhere", "fallback"))
	require.False(t, c.Has("nowhere"))
	require.True(t, c.Has("pal.channels"))
}

func TestConfigWrongTypePanics(t *testing.T) {
	c := Parse([]byte(testYAML))
	require.Panics(t, func() { c.Int("icl.policy", 0) })
	require.Panics(t, func() { c.Bool("icl.policy", false) })
}

func TestConfigMalformedYAMLPanics(t *testing.T) {
	require.Panics(t, func() { Parse([]byte("not: [valid: yaml")) })
}
