// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Command ssdsim runs the discrete-event SSD simulator described by a YAML
// config, the way cmd/smartctl drives a real device from the command line.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dswarbrick/ssdsim/config"
	"github.com/dswarbrick/ssdsim/disk"
	"github.com/dswarbrick/ssdsim/ftl"
	"github.com/dswarbrick/ssdsim/icl"
	"github.com/dswarbrick/ssdsim/logging"
	"github.com/dswarbrick/ssdsim/nvme"
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
	"github.com/dswarbrick/ssdsim/transport"
)

var log = logging.New("cmd/ssdsim")

func main() {
	configPath := flag.String("config", "", "path to the simulation config YAML")
	outPrefix := flag.String("out", "ssdsim", "output file prefix for stats/checkpoints")
	ticks := flag.Uint64("ticks", 0, "simulation duration, in picoseconds; 0 runs until the event queue drains")
	progress := flag.Bool("progress", false, "emit tick-interval progress to stderr")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "ssdsim: -config is required")
		os.Exit(2)
	}

	exitCode := 0
	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "ssdsim: fatal: %v\n", r)
				exitCode = 1
			}
		}()
		run(*configPath, *outPrefix, simcore.Tick(*ticks), *progress)
	}()
	os.Exit(exitCode)
}

// run wires every subsystem together from cfg and drives the simulation to
// completion. Any config or geometry error panics (recovered only in
// main), per spec.md §7's fatal-at-init taxonomy.
func run(configPath, outPrefix string, ticks simcore.Tick, progress bool) {
	cfg := config.Load(configPath)
	eng := simcore.NewEngine()

	geom := pal.NewGeometry(
		uint32(cfg.Int("pal.channels", 2)),
		uint32(cfg.Int("pal.packages", 1)),
		uint32(cfg.Int("pal.dies", 2)),
		uint32(cfg.Int("pal.planes", 2)),
		uint32(cfg.Int("pal.blocks", 256)),
		uint32(cfg.Int("pal.pages", 256)),
		pal.DefaultOrder,
	)

	latency := pal.LoadLatencyModel(cfg.String("pal.latency_db", ""))

	pageSize := uint32(cfg.Uint64("pal.page_size", 4096))
	dmaSpeedMHz := cfg.Uint64("pal.dma_speed_mhz", 400)
	pal2 := pal.NewPAL2(geom, latency, pageSize, dmaSpeedMHz)

	kind := parseNandKind(cfg.String("pal.nand_kind", "MLC"))
	gcPolicy := parseGCPolicy(cfg.String("ftl.gc_policy", "greedy"))

	var mapper ftl.Translator
	switch scheme := cfg.String("ftl.mapping_scheme", "page"); scheme {
	case "page":
		mapper = ftl.NewMapper(geom, pal2, kind, cfg.Float64("ftl.gc_low_watermark", 0.10), gcPolicy)
	case "hybrid":
		mapper = ftl.NewHybridMapper(geom, pal2, kind, int(cfg.Int("ftl.hybrid_max_log_blocks", 4)))
	default:
		panic(fmt.Sprintf("ssdsim: unknown ftl.mapping_scheme %q", scheme))
	}

	totalBytes := int64(geom.TotalPages()) * int64(pageSize)
	media := mediaStore(cfg, totalBytes)

	dram := &icl.SimpleMemory{
		FixedPs:      pal.Tick(cfg.Uint64("icl.dram_fixed_ps", 15_000)),
		BandwidthBps: cfg.Float64("icl.dram_bandwidth_bps", 12.8e9),
	}
	sram := &icl.SimpleMemory{FixedPs: pal.Tick(cfg.Uint64("icl.sram_fixed_ps", 500))}

	prefetch := icl.NewPrefetchTrigger(
		cfg.Bool("icl.prefetch.enable", true),
		int(cfg.Int("icl.prefetch.seq_threshold", 2)),
		cfg.Float64("icl.prefetch.coverage_ratio", 0.5),
		cfg.Uint64("icl.prefetch.window_bytes", uint64(pageSize)*8),
		int(cfg.Int("icl.prefetch.pages", 1)),
	)

	cache := icl.NewCache(eng, mapper, media, icl.Config{
		Sets:        int(cfg.Int("icl.sets", 64)),
		Ways:        int(cfg.Int("icl.ways", 4)),
		LineSize:    pageSize,
		ReadEnable:  cfg.Bool("icl.read_cache", true),
		WriteEnable: cfg.Bool("icl.write_cache", true),
		Policy:      parseCachePolicy(cfg.String("icl.policy", "lru")),
		Granularity: parseGranularity(cfg.String("icl.granularity", "one")),
		DRAM:        dram,
		SRAM:        sram,
		MetaLine:    uint32(cfg.Int("icl.meta_bytes", 8)),
		Prefetch:    prefetch,
	})

	hostMemBytes := int64(cfg.Uint64("nvme.host_mem_bytes", 64<<20))
	hostMem := disk.NewMemoryStore(hostMemBytes)
	hostBus := &transport.StoreUpstream{Store: hostMem, Eng: eng}
	fifo := transport.NewFIFO(eng, hostBus,
		cfg.Uint64("transport.fifo_capacity", 4096),
		cfg.Uint64("transport.fifo_transfer_unit", 512),
		func(bytes uint64) simcore.Tick {
			return simcore.Tick(cfg.Uint64("transport.fifo_ns_per_byte", 1) * bytes * 1000)
		},
	)

	sys := nvme.NewSubsystem(eng, cache, pal2, geom, hostMem, fifo, pageSize)

	lbaSize := uint32(cfg.Uint64("namespace.lba_size", 512))
	lbaCount := cfg.Uint64("namespace.lba_count", uint64(totalBytes)/uint64(lbaSize)/2)
	if _, status := sys.CreateNamespace(lbaSize, lbaCount, 0); status != nvme.StatusSuccess {
		panic(fmt.Sprintf("ssdsim: CreateNamespace failed: status %#x", uint16(status)))
	}

	regs := nvme.NewRegisters(uint16(cfg.Int("nvme.mqes", 1023)), uint8(cfg.Int("nvme.dstrd", 0)), uint8(cfg.Int("nvme.timeout_500ms", 30)))
	adminSQEntries := uint32(cfg.Int("nvme.admin_sq_size", 64))
	adminCQEntries := uint32(cfg.Int("nvme.admin_cq_size", 64))
	regs.AQA = (adminCQEntries-1)<<16 | (adminSQEntries - 1)
	regs.ASQ = uint64(cfg.Uint64("nvme.admin_sq_addr", 0))
	regs.ACQ = uint64(cfg.Uint64("nvme.admin_cq_addr", uint64(adminSQEntries)*64))
	ctrl := sys.AttachController(regs)
	regs.CC = 1
	regs.Ready(true)
	ctrl.CreateAdminQueues()
	ctrl.Arb.Start(eng, pal.Tick(cfg.Uint64("nvme.arbitration_interval_ps", 10_000)))

	log.Info().Str("config", configPath).Msg("ssdsim: simulation configured, starting run")

	if !progress || ticks == 0 {
		if ticks == 0 {
			for eng.Pending() > 0 {
				eng.RunOne()
			}
		} else {
			eng.RunUntil(ticks)
		}
	} else {
		step := ticks / 20
		if step == 0 {
			step = ticks
		}
		for next := step; next < ticks; next += step {
			eng.RunUntil(next)
			log.Info().Uint64("tick", uint64(eng.Now())).Uint64("of", uint64(ticks)).Msg("ssdsim: progress")
		}
		eng.RunUntil(ticks)
	}

	writeStats(outPrefix, mapper, pal2, cache)
	log.Info().Uint64("final_tick", uint64(eng.Now())).Msg("ssdsim: run complete")
}

func mediaStore(cfg *config.Config, totalBytes int64) disk.Store {
	path := cfg.String("disk.path", "")
	if path == "" {
		return disk.NewMemoryStore(totalBytes)
	}
	f, err := disk.OpenFileStore(path, totalBytes)
	if err != nil {
		panic(fmt.Sprintf("ssdsim: cannot open disk backing file %q: %v", path, err))
	}
	return f
}

func writeStats(outPrefix string, mapper ftl.Translator, pal2 *pal.PAL2, cache *icl.Cache) {
	path := outPrefix + ".stats"
	f, err := os.Create(path)
	if err != nil {
		panic(fmt.Sprintf("ssdsim: cannot create stats file %q: %v", path, err))
	}
	defer f.Close()
	for _, name := range mapper.Stats().Names() {
		fmt.Fprintf(f, "%s %d\n", name, mapper.Stats().Get(name))
	}
	for _, name := range pal2.Stats().Names() {
		fmt.Fprintf(f, "%s %d\n", name, pal2.Stats().Get(name))
	}
	for _, name := range cache.Stats().Names() {
		fmt.Fprintf(f, "%s %d\n", name, cache.Stats().Get(name))
	}
}

func parseNandKind(s string) pal.NandKind {
	switch s {
	case "SLC":
		return pal.NandSLC
	case "MLC":
		return pal.NandMLC
	case "TLC":
		return pal.NandTLC
	default:
		panic(fmt.Sprintf("ssdsim: unknown pal.nand_kind %q", s))
	}
}

func parseGCPolicy(s string) ftl.VictimPolicy {
	switch s {
	case "greedy":
		return ftl.Greedy
	case "cost_benefit":
		return ftl.CostBenefit
	default:
		panic(fmt.Sprintf("ssdsim: unknown ftl.gc_policy %q", s))
	}
}

func parseCachePolicy(s string) icl.Policy {
	switch s {
	case "random":
		return icl.PolicyRandom
	case "fifo":
		return icl.PolicyFIFO
	case "lru":
		return icl.PolicyLRU
	default:
		panic(fmt.Sprintf("ssdsim: unknown icl.policy %q", s))
	}
}

func parseGranularity(s string) icl.Granularity {
	switch s {
	case "one":
		return icl.GranularityOne
	case "superpage":
		return icl.GranularitySuperpage
	case "all":
		return icl.GranularityAll
	default:
		panic(fmt.Sprintf("ssdsim: unknown icl.granularity %q", s))
	}
}
