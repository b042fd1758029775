// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Identify and Get Log Page data structure builders. Field layouts follow
// the NVMe 1.4b Identify Controller/Namespace data structures; field
// widths and byte offsets are carried forward from the teacher's
// nvmeIdentController/nvmeIdentNamespace struct definitions (nvme.go),
// adapted here from "decode an ioctl result" to "encode a simulated
// response", little-endian throughout.
package nvme

// CNS values for Identify, per spec.md §4.7.
const (
	CNSNamespace        = 0x00
	CNSController       = 0x01
	CNSActiveNSIDList   = 0x02
)

const identifyPageSize = 4096

func putString(b []byte, s string) {
	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = ' '
	}
}

// buildIdentifyController fills a 4096-byte Identify Controller structure.
func buildIdentifyController(sys *Subsystem, ctrlID uint32) []byte {
	buf := make([]byte, identifyPageSize)
	putLE16(buf[0:2], 0x0000)                   // VID: simulated vendor
	putLE16(buf[2:4], 0x0000)                   // SSVID
	putString(buf[4:24], "SSDSIM0000000000001") // SN
	putString(buf[24:64], "ssdsim NVMe simulator controller")
	putString(buf[64:72], "1.0")       // FR (firmware revision)
	buf[77] = 0                        // MDTS: 0 = no limit
	putLE16(buf[78:80], uint16(ctrlID)) // CNTLID
	putLE32(buf[80:84], 0x00010400)    // VER: 1.4.0
	buf[512] = 0x66                    // SQES: required min/max both 2^6 (64 bytes)
	buf[513] = 0x44                    // CQES: required min/max both 2^4 (16 bytes)
	putLE32(buf[516:520], uint32(len(sys.namespaces))) // NN
	putLE16(buf[520:522], 0x0001)      // ONCS bit0: compare supported
	return buf
}

// buildIdentifyNamespace fills a 4096-byte Identify Namespace structure for
// ns, or an all-zero page for an inactive nsid.
func buildIdentifyNamespace(ns *Namespace) []byte {
	buf := make([]byte, identifyPageSize)
	if ns == nil {
		return buf
	}
	putLE64(buf[0:8], ns.LBACount)      // NSZE
	putLE64(buf[8:16], ns.LBACount)     // NCAP
	putLE64(buf[16:24], ns.LBACount)    // NUSE
	buf[25] = 0                         // NLBAF (0's based: one format, index 0)
	buf[26] = ns.LBAFormatIndex         // FLBAS
	// LBA Format 0 descriptor at offset 128: MS(2)=0, LBADS(1)=log2(LBASize), RP(1)=0
	putLE16(buf[128:130], 0)
	buf[130] = log2u32(ns.LBASize)
	buf[131] = 0
	return buf
}

func log2u32(v uint32) byte {
	var n byte
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// buildActiveNSIDList fills a 4096-byte list of active namespace ids
// greater than startAfter, ascending, zero-terminated per spec.md §4.7
// (CNS=0x02).
func buildActiveNSIDList(sys *Subsystem, startAfter uint32) []byte {
	buf := make([]byte, identifyPageSize)
	ids := sys.SortedNamespaceIDs()
	off := 0
	for _, id := range ids {
		if id <= startAfter {
			continue
		}
		if off+4 > len(buf) {
			break
		}
		putLE32(buf[off:off+4], id)
		off += 4
	}
	return buf
}

// buildSMARTLog fills a 512-byte SMART / Health Information log page
// (Log Page ID 0x02), per spec.md §4.7. Only two fields are non-zero: the
// composite temperature and, in bytes 160..175, the cumulative NAND busy
// ps; every other byte stays at zero.
func buildSMARTLog(sys *Subsystem, pal2Busy uint64) []byte {
	buf := make([]byte, 512)
	buf[0] = 0 // Critical Warning: none
	putLE16(buf[1:3], 310)           // Composite Temperature, Kelvin
	putLE128(buf[160:176], pal2Busy) // cumulative NAND busy ps
	return buf
}

// putLE128 writes a 64-bit value into the low 8 bytes of a 128-bit field;
// the high 8 bytes stay zero, matching every actual value this simulator
// tracks.
func putLE128(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// buildChangedNSLog fills a 4096-byte Changed Namespace List log page
// (Log Page ID 0x04), per spec.md §4.7's overflow sentinel rule.
func buildChangedNSLog(sys *Subsystem) []byte {
	buf := make([]byte, identifyPageSize)
	ids := sys.ChangedNamespaceList()
	off := 0
	for _, id := range ids {
		if off+4 > len(buf) {
			break
		}
		putLE32(buf[off:off+4], id)
		off += 4
	}
	return buf
}
