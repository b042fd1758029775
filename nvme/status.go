// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package nvme implements the NVMe command path: register space, SQ/CQ
// queues, the arbitrator, DMA-backed command handlers, and the
// subsystem/namespace manager, per spec.md §3/§4.7/§6.
package nvme

// StatusCode packs the NVMe completion Status Field's Status Code Type
// (bits 11:9 of the 16-bit field) and Status Code (bits 8:0) into one
// value, SCT<<8|SC — the Phase Tag and More/DNR bits are set separately by
// the completion queue when the entry is written (see queue.go).
type StatusCode uint16

func sc(sct, code uint16) StatusCode { return StatusCode(sct<<8 | code) }

// Generic Command Status (SCT=0), per spec.md §4.7/§7.
const (
	StatusSuccess             = StatusCode(0x0000)
	StatusInvalidOpcode       = StatusCode(0x0001)
	StatusInvalidField        = StatusCode(0x0002)
	StatusCommandIDConflict   = StatusCode(0x0003)
	StatusDataTransferError   = StatusCode(0x0004)
	StatusInternalError       = StatusCode(0x0006)
	StatusAbortRequested      = StatusCode(0x0007)
	StatusAbortedSQDeletion   = StatusCode(0x0008)
	StatusInvalidSGLSegDesc   = StatusCode(0x000D)
	StatusInvalidNumSGLDesc   = StatusCode(0x000E)
	StatusDataSGLLengthInval  = StatusCode(0x000F)
	StatusSGLDescTypeInvalid  = StatusCode(0x0011)
	StatusLBAOutOfRange       = StatusCode(0x0080)
	StatusNamespaceNotReady   = StatusCode(0x0082)
)

// Command Specific Status (SCT=1).
const (
	StatusInvalidCompletionQueue = StatusCode(0x0100)
	StatusInvalidQueueIdentifier = StatusCode(0x0101)
	StatusInvalidQueueSize       = StatusCode(0x0102)
	StatusInvalidFormat          = StatusCode(0x010A)
	StatusInvalidQueueDeletion   = StatusCode(0x010C)
	StatusFeatureIDNotSaveable   = StatusCode(0x010D)
	StatusFeatureNotChangeable   = StatusCode(0x010E)
	StatusFeatureNotNamespace    = StatusCode(0x010F)
	StatusNamespaceNotFound      = StatusCode(0x010B)
	StatusNamespaceIsAttached    = StatusCode(0x0118)
	StatusNamespaceNotAttached   = StatusCode(0x011A)
)

// Media and Data Integrity Errors (SCT=2).
const (
	StatusCompareFailure          = StatusCode(0x0285)
	StatusUnrecoveredReadError    = StatusCode(0x0281)
	StatusMediaAndDataIntegrity   = StatusCode(0x0280)
)
