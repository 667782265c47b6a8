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

// Package halsim provides in-memory implementations of internal/hal for
// tests and for the bench tooling in cmd/barnacle-prov. MemFlash is grounded
// on the teacher's testonly.MemDev: a flat byte slice with a page size,
// page-granular erase, and an injectable fault hook used the same way
// MemDev.OnBlockWritten lets tests observe writes.
package halsim

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/project-barnacle/barnacle-boot/internal/hal"
)

// MemFlash is a flat in-memory stand-in for hal.Flash. The erased value is
// 0xFF, matching typical NOR flash and the original's certBag pre-fill.
type MemFlash struct {
	mem      []byte
	pageSize uint32

	// OnWrite, if set, is called after each successful WriteRegion, letting
	// tests observe writes the way MemDev.OnBlockWritten does.
	OnWrite func(dest uint32, n int)

	// FailNextWrite, if set, makes the next WriteRegion call fail after
	// erasing but before programming, simulating a crash between erase and
	// program for the interrupted-write property in spec §8.
	FailNextWrite bool
}

// NewMemFlash allocates an all-erased (0xFF) flash image of size bytes with
// the given page size.
func NewMemFlash(size int, pageSize uint32) *MemFlash {
	m := &MemFlash{mem: make([]byte, size), pageSize: pageSize}
	for i := range m.mem {
		m.mem[i] = 0xFF
	}
	return m
}

// PageSize returns the configured erase granularity.
func (m *MemFlash) PageSize() uint32 { return m.pageSize }

func (m *MemFlash) pageBounds(dest uint32, length uint32) (uint32, uint32, error) {
	if m.pageSize == 0 {
		return 0, 0, fmt.Errorf("halsim: page size not configured")
	}
	start := (dest / m.pageSize) * m.pageSize
	end := ((dest + length + m.pageSize - 1) / m.pageSize) * m.pageSize
	if end > uint32(len(m.mem)) {
		return 0, 0, fmt.Errorf("halsim: write [%d,%d) exceeds flash size %d", dest, dest+length, len(m.mem))
	}
	return start, end, nil
}

// WriteRegion erases the pages covering [dest, dest+len(src)) and programs
// src, matching hal.Flash's erase-then-program contract.
func (m *MemFlash) WriteRegion(dest uint32, src []byte) error {
	start, end, err := m.pageBounds(dest, uint32(len(src)))
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		m.mem[i] = 0xFF
	}
	if m.FailNextWrite {
		m.FailNextWrite = false
		return fmt.Errorf("halsim: simulated write failure between erase and program")
	}
	copy(m.mem[dest:], src)
	if m.OnWrite != nil {
		m.OnWrite(dest, len(src))
	}
	return nil
}

// ReadAt returns a copy of the length bytes starting at ptr.
func (m *MemFlash) ReadAt(ptr uint32, length uint32) ([]byte, error) {
	if ptr+length > uint32(len(m.mem)) {
		return nil, fmt.Errorf("halsim: read [%d,%d) exceeds flash size %d", ptr, ptr+length, len(m.mem))
	}
	out := make([]byte, length)
	copy(out, m.mem[ptr:ptr+length])
	return out, nil
}

// IsBlank reports whether every byte in [ptr, ptr+length) is the erased
// value 0xFF.
func (m *MemFlash) IsBlank(ptr uint32, length uint32) (bool, error) {
	b, err := m.ReadAt(ptr, length)
	if err != nil {
		return false, err
	}
	return bytes.Count(b, []byte{0xFF}) == len(b), nil
}

// RNG is a thin wrapper over crypto/rand satisfying hal.RNG, with an
// optional override for deterministic tests.
type RNG struct {
	// Source, if set, is read from instead of crypto/rand.
	Source func(p []byte) (int, error)
}

// Read fills p from Source if set, otherwise from crypto/rand.
func (r RNG) Read(p []byte) (int, error) {
	if r.Source != nil {
		return r.Source(p)
	}
	return rand.Read(p)
}

// Firewall is an in-memory firewall peripheral: Configure/Enable/Enabled
// just track state, with no actual memory protection, sufficient for
// exercising internal/gate's call sequence in tests.
type Firewall struct {
	configured bool
	enabled    bool
	lastCfg    hal.FirewallConfig
}

// Configure records the configuration and marks the firewall as
// configured.
func (f *Firewall) Configure(cfg hal.FirewallConfig) error {
	if f.enabled {
		return fmt.Errorf("halsim: firewall already enabled, reset required to reconfigure")
	}
	f.lastCfg = cfg
	f.configured = true
	return nil
}

// Enable latches the firewall.
func (f *Firewall) Enable() error {
	if !f.configured {
		return fmt.Errorf("halsim: firewall enabled before configure")
	}
	f.enabled = true
	return nil
}

// Enabled reports whether Enable has been called since the last reset.
func (f *Firewall) Enabled() bool { return f.enabled }

// LastConfig returns the most recently configured FirewallConfig, for test
// assertions.
func (f *Firewall) LastConfig() hal.FirewallConfig { return f.lastCfg }

// Reset clears the latch, simulating a device reset.
func (f *Firewall) Reset() { f.enabled = false; f.configured = false }

// ResetCause is an in-memory reset-cause register.
type ResetCause struct {
	violation bool
}

// SetViolation marks the simulated last reset as caused by a firewall
// violation, for tests exercising diagnostics.
func (r *ResetCause) SetViolation(v bool) { r.violation = v }

// FirewallViolation reports the sticky violation flag.
func (r *ResetCause) FirewallViolation() bool { return r.violation }

// Clear resets the sticky flag.
func (r *ResetCause) Clear() { r.violation = false }

// DebugPort is an in-memory debug-print sink that buffers everything
// written to it, for assertions in tests.
type DebugPort struct {
	buf bytes.Buffer
}

// Write implements io.Writer.
func (d *DebugPort) Write(p []byte) (int, error) { return d.buf.Write(p) }

// String returns everything written so far.
func (d *DebugPort) String() string { return d.buf.String() }
