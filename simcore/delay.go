// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Pure transport-latency functions. All return picoseconds; none mutate or
// read any shared state, so they need no SimContext.

package simcore

// PCIeGen identifies a PCI Express generation, used to size the per-lane
// transfer rate for the PCIe delay model.
type PCIeGen int

const (
	PCIeGen3 PCIeGen = 3
	PCIeGen4 PCIeGen = 4
	PCIeGen5 PCIeGen = 5
)

// pcieGbps gives the raw per-lane bit rate, in gigabits/sec, for each
// supported generation.
var pcieGbps = map[PCIeGen]float64{
	PCIeGen3: 8.0,
	PCIeGen4: 16.0,
	PCIeGen5: 32.0,
}

// pcieEncodingOverhead is the line-coding tax: 128b/130b for Gen3+.
const pcieEncodingOverhead = 130.0 / 128.0

// PCIeDelay returns the transfer time, in picoseconds, for bytes over a
// PCIe link of the given generation and lane count.
func PCIeDelay(gen PCIeGen, lanes int, bytes uint64) Tick {
	rate, ok := pcieGbps[gen]
	if !ok || lanes <= 0 {
		panic("simcore: PCIeDelay: unsupported generation or lane count")
	}
	bitsPerSec := rate * float64(lanes) * 1e9 / pcieEncodingOverhead
	return psFromBits(float64(bytes)*8, bitsPerSec)
}

// SATAGen identifies a SATA generation (1/2/3 corresponding to 1.5/3/6 Gbps).
type SATAGen int

const (
	SATAGen1 SATAGen = 1
	SATAGen2 SATAGen = 2
	SATAGen3 SATAGen = 3
)

var sataGbps = map[SATAGen]float64{
	SATAGen1: 1.5,
	SATAGen2: 3.0,
	SATAGen3: 6.0,
}

// sataEncodingOverhead is the 8b/10b line-coding tax used by all SATA
// generations.
const sataEncodingOverhead = 10.0 / 8.0

// SATADelay returns the transfer time, in picoseconds, for bytes over a
// SATA link of the given generation.
func SATADelay(gen SATAGen, bytes uint64) Tick {
	rate, ok := sataGbps[gen]
	if !ok {
		panic("simcore: SATADelay: unsupported generation")
	}
	bitsPerSec := rate * 1e9 / sataEncodingOverhead
	return psFromBits(float64(bytes)*8, bitsPerSec)
}

// MPHYMode selects an M-PHY HS-GEAR (UFS physical layer).
type MPHYMode int

const (
	MPHYGear1 MPHYMode = 1
	MPHYGear2 MPHYMode = 2
	MPHYGear3 MPHYMode = 3
	MPHYGear4 MPHYMode = 4
)

// mphyGbpsPerLane gives the per-lane symbol rate, in gigabits/sec, for each
// HS-GEAR.
var mphyGbpsPerLane = map[MPHYMode]float64{
	MPHYGear1: 1.248,
	MPHYGear2: 2.496,
	MPHYGear3: 4.992,
	MPHYGear4: 11.984,
}

// MPHYDelay returns the transfer time, in picoseconds, for the given
// number of 8-bit symbols over lane parallel M-PHY lanes in mode mode.
func MPHYDelay(mode MPHYMode, lanes int, symbols uint64) Tick {
	rate, ok := mphyGbpsPerLane[mode]
	if !ok || lanes <= 0 {
		panic("simcore: MPHYDelay: unsupported mode or lane count")
	}
	bitsPerSec := rate * float64(lanes) * 1e9
	return psFromBits(float64(symbols)*8, bitsPerSec)
}

// AXIDelay returns the transfer time, in picoseconds, to move bytes over an
// AXI bus of the given clock frequency (Hz) and data width (bits).
func AXIDelay(clockHz float64, widthBits int, bytes uint64) Tick {
	if clockHz <= 0 || widthBits <= 0 {
		panic("simcore: AXIDelay: invalid clock or width")
	}
	bytesPerCycle := float64(widthBits) / 8
	cycles := (float64(bytes) + bytesPerCycle - 1) / bytesPerCycle
	psPerCycle := 1e12 / clockHz
	return Tick(cycles * psPerCycle)
}

// psFromBits converts a bit count transferred at bitsPerSec into an integer
// picosecond duration, rounding up so that a delay function never reports a
// transfer as instantaneous.
func psFromBits(bits float64, bitsPerSec float64) Tick {
	seconds := bits / bitsPerSec
	ps := seconds * 1e12
	if ps <= 0 {
		return 0
	}
	return Tick(ps + 0.999999)
}
