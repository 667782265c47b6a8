// Copyright 2024 The Barnacle Boot authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hal declares the hardware abstraction surface the boot core
// depends on but does not implement: random number generation, block-erase
// flash, the firewall peripheral that seals private regions, the
// reset-cause register, and a debug-print sink. Concrete bring-up for a
// given microcontroller lives outside this module; internal/halsim provides
// in-memory stand-ins for tests and for the bench tooling in
// cmd/barnacle-prov.
package hal

import "io"

// RNG is the hardware random number generator used to seed the device CDI
// on first boot.
type RNG interface {
	// Read fills p with random bytes, returning the number of bytes read.
	// A short read or non-nil error is treated as an unrecoverable
	// hardware error by the caller.
	Read(p []byte) (int, error)
}

// Flash is the block-erase persistent store backing every region in
// internal/store. Implementations are expected to provide page-granular
// erase: writeRegion erases exactly the pages covering [dest, dest+len)
// before programming, so a crash mid-call leaves the region either fully
// written or fully erased, never partially programmed.
type Flash interface {
	// ReadAt returns the length bytes stored at ptr. Embedded flash is
	// memory-mapped on the target platform, so this is a plain read, not a
	// distinct flash operation; it exists on the interface purely so
	// in-memory test fakes and the real platform share one surface.
	ReadAt(ptr uint32, length uint32) ([]byte, error)

	// WriteRegion erases the flash pages fully covering [dest, dest+len(src))
	// and programs src into them. Returns an error on alignment violations
	// or a programming-error status from the underlying hardware.
	WriteRegion(dest uint32, src []byte) error

	// IsBlank reports whether every byte in [ptr, ptr+length) reads back as
	// the flash's erased value. Used to decide whether an optional public
	// key slot has been populated.
	IsBlank(ptr uint32, length uint32) (bool, error)

	// PageSize returns the erase granularity of the device, in bytes.
	PageSize() uint32
}

// FirewallConfig describes the address ranges the firewall peripheral
// should gate once enabled. A zero-length segment disables that kind of
// access entirely within the configured range.
type FirewallConfig struct {
	// CodeSegmentStart/Length: address range still fetchable as code from
	// outside the locked region. Zero-length means no code may execute
	// from the protected area.
	CodeSegmentStart  uint32
	CodeSegmentLength uint32

	// NonVolatileDataStart/Length: the non-volatile (flash) data range to
	// seal behind the firewall.
	NonVolatileDataStart  uint32
	NonVolatileDataLength uint32

	// VolatileDataStart/Length: the RAM data range to seal behind the
	// firewall, if any.
	VolatileDataStart  uint32
	VolatileDataLength uint32
}

// Firewall models the on-chip firewall peripheral: once Enable is called,
// any fetch or data access to the configured non-volatile/volatile ranges
// from code outside CodeSegment triggers a firewall reset, and the gate
// latches until the next device reset.
type Firewall interface {
	// Configure programs the firewall with the given address ranges but
	// does not yet enable enforcement.
	Configure(cfg FirewallConfig) error

	// Enable latches the firewall. It is not possible to Configure again
	// without a device reset.
	Enable() error

	// Enabled reports whether the firewall is currently latched.
	Enabled() bool
}

// ResetCause exposes the sticky reset-cause register so a diagnostic tool
// can tell whether the previous boot ended in a firewall violation.
type ResetCause interface {
	// FirewallViolation reports whether the last reset was caused by a
	// firewall violation.
	FirewallViolation() bool

	// Clear resets the sticky reset-cause flags.
	Clear()
}

// DebugPort is the platform's debug-print channel: a polled UART, an SWO
// trace sink, or a DMA-backed console. It is a plain io.Writer so it can sit
// behind a klog.SetOutput call exactly as the teacher points its own debug
// channel at an os.File in debug builds.
type DebugPort interface {
	io.Writer
}
