// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// I/O command handlers: Read, Write, Compare, Flush, Dataset Management,
// per spec.md §4.7. Each bridges one LBA-range host command onto the
// line-granular icl.Cache API, splitting across cache lines when the
// namespace's LBA size does not evenly fill one line.
package nvme

import (
	"bytes"

	"github.com/dswarbrick/ssdsim/icl"
	"github.com/dswarbrick/ssdsim/pal"
	"github.com/dswarbrick/ssdsim/simcore"
)

// namespaceByteOffset maps a namespace-relative LBA to its flat byte offset
// in the shared FTL/ICL logical address space.
func (s *Subsystem) namespaceByteOffset(ns *Namespace, lba uint64) int64 {
	return int64(ns.LPNStart)*int64(s.lineSize) + int64(lba)*int64(ns.LBASize)
}

type lineChunk struct {
	lpn     pal.LPN
	lineOff uint32
	length  uint32
	bufOff  int
}

func computeLineChunks(startByte int64, totalLen int, lineSize uint32) []lineChunk {
	var chunks []lineChunk
	cur := startByte
	bufOff := 0
	for bufOff < totalLen {
		lpn := pal.LPN(cur / int64(lineSize))
		lineOff := uint32(cur % int64(lineSize))
		avail := lineSize - lineOff
		remain := uint32(totalLen - bufOff)
		n := avail
		if remain < n {
			n = remain
		}
		chunks = append(chunks, lineChunk{lpn: lpn, lineOff: lineOff, length: n, bufOff: bufOff})
		cur += int64(n)
		bufOff += int(n)
	}
	return chunks
}

// readLines fills buf (a flat namespace byte range starting at startByte)
// from the cache, one line at a time.
func readLines(sys *Subsystem, startByte int64, buf []byte, now pal.Tick, done func(at pal.Tick)) {
	chunks := computeLineChunks(startByte, len(buf), sys.lineSize)
	if len(chunks) == 0 {
		done(now)
		return
	}
	pending := len(chunks)
	finish := now
	track := func(at pal.Tick) {
		pending--
		if at > finish {
			finish = at
		}
		if pending == 0 {
			done(finish)
		}
	}
	for _, ch := range chunks {
		ch := ch
		lineBuf := make([]byte, sys.lineSize)
		sys.Cache.Read(ch.lpn, lineBuf, now, func(at pal.Tick) {
			copy(buf[ch.bufOff:ch.bufOff+int(ch.length)], lineBuf[ch.lineOff:ch.lineOff+ch.length])
			track(at)
		})
	}
}

// writeLines drains buf into the cache, one line at a time, read-modifying
// a line first when the chunk does not cover it in full. done's ok is
// false if any line hit FTL OutOfCapacity (spec.md §4.4).
func writeLines(sys *Subsystem, startByte int64, buf []byte, now pal.Tick, done func(at pal.Tick, ok bool)) {
	chunks := computeLineChunks(startByte, len(buf), sys.lineSize)
	if len(chunks) == 0 {
		done(now, true)
		return
	}
	pending := len(chunks)
	finish := now
	failed := false
	track := func(at pal.Tick, ok bool) {
		pending--
		if !ok {
			failed = true
		}
		if at > finish {
			finish = at
		}
		if pending == 0 {
			done(finish, !failed)
		}
	}
	for _, ch := range chunks {
		ch := ch
		if ch.length == sys.lineSize {
			status := sys.Cache.Write(ch.lpn, buf[ch.bufOff:ch.bufOff+int(ch.length)], now, func(at pal.Tick) {
				track(at, true)
			})
			if status == icl.StatusOutOfCapacity {
				track(now, false)
			}
			continue
		}
		full := make([]byte, sys.lineSize)
		sys.Cache.Read(ch.lpn, full, now, func(at pal.Tick) {
			copy(full[ch.lineOff:ch.lineOff+ch.length], buf[ch.bufOff:ch.bufOff+int(ch.length)])
			status := sys.Cache.Write(ch.lpn, full, at, func(at2 pal.Tick) {
				track(at2, true)
			})
			if status == icl.StatusOutOfCapacity {
				track(at, false)
			}
		})
	}
}

// ioRange decodes the common SLBA/NLB fields of a Read/Write/Compare
// command, validating the request against the namespace bounds.
func ioRange(ctrl *Controller, cmd *Command) (ns *Namespace, slba uint64, nlb uint32, startByte int64, totalBytes uint64, status StatusCode) {
	ns, ok := ctrl.sys.Namespace(cmd.Entry.NSID)
	if !ok {
		return nil, 0, 0, 0, 0, StatusNamespaceNotFound
	}
	slba = uint64(cmd.Entry.CDW10) | uint64(cmd.Entry.CDW11)<<32
	nlb = (cmd.Entry.CDW12 & 0xFFFF) + 1
	if slba+uint64(nlb) > ns.LBACount {
		return nil, 0, 0, 0, 0, StatusLBAOutOfRange
	}
	startByte = ctrl.sys.namespaceByteOffset(ns, slba)
	totalBytes = uint64(nlb) * uint64(ns.LBASize)
	return ns, slba, nlb, startByte, totalBytes, StatusSuccess
}

func handleIORead(ctrl *Controller, cmd *Command, now simcore.Tick) {
	cmd.State = CmdInFlight
	_, _, _, startByte, totalBytes, status := ioRange(ctrl, cmd)
	if status != StatusSuccess {
		ctrl.completeCmd(now, cmd, status, 0)
		return
	}
	cmd.LPNRange = [2]pal.LPN{pal.LPN(startByte / int64(ctrl.sys.lineSize)), pal.LPN((startByte + int64(totalBytes)) / int64(ctrl.sys.lineSize))}
	buf := make([]byte, totalBytes)
	readLines(ctrl.sys, startByte, buf, pal.Tick(now), func(at pal.Tick) {
		resolveAndTransfer(ctrl, cmd, buf, true, simcore.Tick(at), func(at2 simcore.Tick) {
			ctrl.completeCmd(at2, cmd, StatusSuccess, 0)
		})
	})
}

func handleIOWrite(ctrl *Controller, cmd *Command, now simcore.Tick) {
	cmd.State = CmdInFlight
	_, _, _, startByte, totalBytes, status := ioRange(ctrl, cmd)
	if status != StatusSuccess {
		ctrl.completeCmd(now, cmd, status, 0)
		return
	}
	cmd.LPNRange = [2]pal.LPN{pal.LPN(startByte / int64(ctrl.sys.lineSize)), pal.LPN((startByte + int64(totalBytes)) / int64(ctrl.sys.lineSize))}
	buf := make([]byte, totalBytes)
	resolveAndTransfer(ctrl, cmd, buf, false, now, func(at simcore.Tick) {
		writeLines(ctrl.sys, startByte, buf, pal.Tick(at), func(at2 pal.Tick, ok bool) {
			if !ok {
				ctrl.sys.Log.Error().
					Uint32("nsid", cmd.Entry.NSID).
					Int64("byte_offset", startByte).
					Msg("write failed: FTL out of capacity")
				ctrl.completeCmd(simcore.Tick(at2), cmd, StatusInternalError, 0)
				return
			}
			ctrl.completeCmd(simcore.Tick(at2), cmd, StatusSuccess, 0)
		})
	})
}

// handleIOCompare reads the namespace's current contents and the host's
// supplied comparison data, completing with StatusCompareFailure on any
// mismatch (spec.md's scenario S5).
func handleIOCompare(ctrl *Controller, cmd *Command, now simcore.Tick) {
	_, _, _, startByte, totalBytes, status := ioRange(ctrl, cmd)
	if status != StatusSuccess {
		ctrl.completeCmd(now, cmd, status, 0)
		return
	}
	hostBuf := make([]byte, totalBytes)
	resolveAndTransfer(ctrl, cmd, hostBuf, false, now, func(at simcore.Tick) {
		mediaBuf := make([]byte, totalBytes)
		readLines(ctrl.sys, startByte, mediaBuf, pal.Tick(at), func(at2 pal.Tick) {
			if !bytes.Equal(hostBuf, mediaBuf) {
				ctrl.sys.Log.Error().
					Uint32("nsid", cmd.Entry.NSID).
					Int64("byte_offset", startByte).
					Uint64("length", totalBytes).
					Msg("compare failure: media contents do not match host buffer")
				ctrl.completeCmd(simcore.Tick(at2), cmd, StatusCompareFailure, 0)
				return
			}
			ctrl.completeCmd(simcore.Tick(at2), cmd, StatusSuccess, 0)
		})
	})
}

// handleIOFlush drains every dirty line in the target namespace's LPN
// range (NSID==0xFFFFFFFF flushes every namespace, per spec.md §4.7).
func handleIOFlush(ctrl *Controller, cmd *Command, now simcore.Tick) {
	if cmd.Entry.NSID == 0xFFFFFFFF {
		pending := len(ctrl.sys.namespaces)
		if pending == 0 {
			ctrl.completeCmd(now, cmd, StatusSuccess, 0)
			return
		}
		finish := pal.Tick(now)
		track := func(at pal.Tick) {
			pending--
			if at > finish {
				finish = at
			}
			if pending == 0 {
				ctrl.completeCmd(simcore.Tick(finish), cmd, StatusSuccess, 0)
			}
		}
		for _, id := range ctrl.sys.SortedNamespaceIDs() {
			ns := ctrl.sys.namespaces[id]
			ctrl.sys.Cache.Flush(ns.LPNStart, ns.LPNEnd, pal.Tick(now), track)
		}
		return
	}
	ns, ok := ctrl.sys.Namespace(cmd.Entry.NSID)
	if !ok {
		ctrl.completeCmd(now, cmd, StatusNamespaceNotFound, 0)
		return
	}
	ctrl.sys.Cache.Flush(ns.LPNStart, ns.LPNEnd, pal.Tick(now), func(at pal.Tick) {
		ctrl.completeCmd(simcore.Tick(at), cmd, StatusSuccess, 0)
	})
}

// handleIODatasetManagement implements the Deallocate (trim) attribute
// only, per spec.md §4.7 — Integral Dataset for Write and Latency/Access
// Frequency hints are accepted but have no effect on this model's timing.
func handleIODatasetManagement(ctrl *Controller, cmd *Command, now simcore.Tick) {
	ns, ok := ctrl.sys.Namespace(cmd.Entry.NSID)
	if !ok {
		ctrl.completeCmd(now, cmd, StatusNamespaceNotFound, 0)
		return
	}
	attrs := cmd.Entry.CDW11
	if attrs&0x1 == 0 { // Deallocate bit clear: nothing to do in this model
		ctrl.completeCmd(now, cmd, StatusSuccess, 0)
		return
	}
	nr := (cmd.Entry.CDW10 & 0xFF) + 1 // number of LBA range descriptors, 0's based
	descBuf := make([]byte, uint32(nr)*16)
	resolveAndTransfer(ctrl, cmd, descBuf, false, now, func(at simcore.Tick) {
		for i := uint32(0); i < uint32(nr); i++ {
			d := descBuf[i*16 : i*16+16]
			slba := leU64(d[8:16])
			length := leU32(d[4:8])
			if slba+uint64(length) > ns.LBACount {
				continue
			}
			startByte := ctrl.sys.namespaceByteOffset(ns, slba)
			endByte := ctrl.sys.namespaceByteOffset(ns, slba+uint64(length))
			startLPN := pal.LPN(startByte / int64(ctrl.sys.lineSize))
			endLPN := pal.LPN((endByte + int64(ctrl.sys.lineSize) - 1) / int64(ctrl.sys.lineSize))
			ctrl.sys.Cache.Invalidate(startLPN, endLPN)
		}
		ctrl.completeCmd(at, cmd, StatusSuccess, 0)
	})
}
