// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// NAND latency model: a per-(NAND type, page type, operation, busy phase)
// lookup table of picosecond latencies, loaded from an external TOML
// database. This mirrors the teacher's drivedb.toml pattern (see
// cmd/drivedb, cmd/mkdrivedb): a flat, hand-maintained vendor/geometry
// database, shipped as data rather than code.

package pal

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/dswarbrick/ssdsim/logging"
)

var log = logging.New("pal")

// NandKind selects the cell technology, which determines how many distinct
// page types a block exposes.
type NandKind int

const (
	NandSLC NandKind = iota
	NandMLC
	NandTLC
)

func (k NandKind) String() string {
	switch k {
	case NandSLC:
		return "SLC"
	case NandMLC:
		return "MLC"
	case NandTLC:
		return "TLC"
	default:
		return "unknown"
	}
}

func parseNandKind(s string) (NandKind, error) {
	switch s {
	case "SLC":
		return NandSLC, nil
	case "MLC":
		return NandMLC, nil
	case "TLC":
		return NandTLC, nil
	default:
		return 0, fmt.Errorf("pal: unsupported NAND type %q", s)
	}
}

// PageType distinguishes the per-page latency class within a multi-bit
// cell (LSB/CSB/MSB for TLC; LSB/MSB for MLC; a single class for SLC).
type PageType int

const (
	PageLSB PageType = iota
	PageCSB
	PageMSB
	numPageTypes
)

// Phase identifies one of the three PAL2 operation phases.
type Phase int

const (
	PhaseDMA0 Phase = iota
	PhaseMEM
	PhaseDMA1
	numPhases
)

// latencyKey indexes the flattened lookup table.
type latencyKey struct {
	op    Op
	page  PageType
	phase Phase
}

// Profile is the latency model for one NAND type: a lookup table plus the
// anti-collision policy decided in SPEC_FULL.md (Open Question #2).
type Profile struct {
	Kind                 NandKind
	table                map[latencyKey]Tick
	ReserveAntiCollision bool
	AntiCollisionPs      Tick
}

// Lookup returns the latency, in picoseconds, for (op, page, phase). A
// missing entry is a fatal configuration error: spec.md §4.3 requires an
// unsupported NAND type/operation combination to fail at init, not silently
// default to zero.
func (p *Profile) Lookup(op Op, page PageType, phase Phase) Tick {
	v, ok := p.table[latencyKey{op, page, phase}]
	if !ok {
		panic(fmt.Sprintf("pal: no latency entry for %s op=%d page=%d phase=%d", p.Kind, op, page, phase))
	}
	return v
}

// tomlLatencyDB is the on-disk shape of the NAND latency database.
type tomlLatencyDB struct {
	Entries []tomlLatencyEntry `toml:"entry"`
}

type tomlLatencyEntry struct {
	NandType        string `toml:"nand_type"`
	PageType        string `toml:"page_type"` // "LSB", "CSB", "MSB"
	Operation       string `toml:"operation"`  // "read", "write", "erase"
	Phase           string `toml:"phase"`      // "dma0", "mem", "dma1"
	Picoseconds     uint64 `toml:"picoseconds"`
	AntiCollision   bool   `toml:"anti_collision"`
	AntiCollisionPs uint64 `toml:"anti_collision_ps"`
}

// LatencyModel holds one Profile per configured NAND type.
type LatencyModel struct {
	profiles map[NandKind]*Profile
}

// LoadLatencyModel parses a TOML latency database (see testdata for the
// expected shape) into a LatencyModel. Parse or semantic errors are fatal
// at init per spec.md §7.
func LoadLatencyModel(path string) *LatencyModel {
	var db tomlLatencyDB
	if _, err := toml.DecodeFile(path, &db); err != nil {
		log.Panic().Err(err).Str("path", path).Msg("pal: cannot load NAND latency database")
	}
	return buildLatencyModel(db)
}

// ParseLatencyModel decodes an in-memory TOML document, for tests.
func ParseLatencyModel(data string) *LatencyModel {
	var db tomlLatencyDB
	if _, err := toml.Decode(data, &db); err != nil {
		panic(fmt.Sprintf("pal: invalid NAND latency database: %v", err))
	}
	return buildLatencyModel(db)
}

func buildLatencyModel(db tomlLatencyDB) *LatencyModel {
	m := &LatencyModel{profiles: make(map[NandKind]*Profile)}
	for _, e := range db.Entries {
		kind, err := parseNandKind(e.NandType)
		if err != nil {
			panic(err)
		}
		page, err := parsePageType(e.PageType)
		if err != nil {
			panic(err)
		}
		op, err := parseOp(e.Operation)
		if err != nil {
			panic(err)
		}
		phase, err := parsePhase(e.Phase)
		if err != nil {
			panic(err)
		}
		p, ok := m.profiles[kind]
		if !ok {
			p = &Profile{Kind: kind, table: make(map[latencyKey]Tick)}
			m.profiles[kind] = p
		}
		p.table[latencyKey{op, page, phase}] = Tick(e.Picoseconds)
		if e.AntiCollision {
			p.ReserveAntiCollision = true
			p.AntiCollisionPs = Tick(e.AntiCollisionPs)
		}
	}
	return m
}

func parsePageType(s string) (PageType, error) {
	switch s {
	case "LSB":
		return PageLSB, nil
	case "CSB":
		return PageCSB, nil
	case "MSB":
		return PageMSB, nil
	default:
		return 0, fmt.Errorf("pal: unsupported page type %q", s)
	}
}

func parseOp(s string) (Op, error) {
	switch s {
	case "read":
		return OpRead, nil
	case "write":
		return OpWrite, nil
	case "erase":
		return OpErase, nil
	default:
		return 0, fmt.Errorf("pal: unsupported operation %q", s)
	}
}

func parsePhase(s string) (Phase, error) {
	switch s {
	case "dma0":
		return PhaseDMA0, nil
	case "mem":
		return PhaseMEM, nil
	case "dma1":
		return PhaseDMA1, nil
	default:
		return 0, fmt.Errorf("pal: unsupported phase %q", s)
	}
}

// NumPageTypes returns how many distinct per-page latency classes a cell of
// the given kind exposes (1 for SLC, 2 for MLC, 3 for TLC).
func NumPageTypes(kind NandKind) uint32 {
	switch kind {
	case NandSLC:
		return 1
	case NandMLC:
		return 2
	case NandTLC:
		return 3
	default:
		panic(fmt.Sprintf("pal: NumPageTypes: unknown NAND kind %d", kind))
	}
}

// PageTypeForPage maps a within-block page index to its latency class,
// cycling LSB/CSB/MSB (or the subset the NAND kind supports) across
// consecutive pages the way a multi-plane TLC block interleaves them.
func PageTypeForPage(kind NandKind, page uint32) PageType {
	return PageType(page % NumPageTypes(kind))
}

// Profile returns the latency profile for kind, or panics if unconfigured
// (an unsupported NAND type is fatal at init per spec.md §4.3).
func (m *LatencyModel) Profile(kind NandKind) *Profile {
	p, ok := m.profiles[kind]
	if !ok {
		panic(fmt.Sprintf("pal: NAND type %s not present in latency database", kind))
	}
	return p
}
