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

// Package layout carries the flash region geometry as an explicit
// configuration value rather than as address differences between
// linker-placed symbols. The linker script remains responsible for the
// physical placement of each region; this package is the only place that
// needs to know the resulting base and length of each one.
package layout

import "fmt"

// Region describes one named flash (or RAM) extent.
type Region struct {
	// Base is the byte address of the first byte of the region.
	Base uint32
	// Length is the size of the region in bytes.
	Length uint32
}

// End returns the address one past the last byte of the region.
func (r Region) End() uint32 { return r.Base + r.Length }

// Config is the complete flash/RAM geometry needed by the boot core. It
// mirrors the layout table in spec §6: AgentHdr and AgentCode are adjacent,
// followed by IssuedCerts, then the two private regions FwDeviceId and
// FwCache. CompoundId and CertStore live in RAM and are supplied for
// completeness (callers may leave them zero-valued if the platform assigns
// them at link time instead).
type Config struct {
	AgentHdr    Region
	AgentCode   Region
	IssuedCerts Region
	FwDeviceId  Region
	FwCache     Region
	CompoundId  Region
	CertStore   Region

	// PageSize is the flash erase granularity in bytes, used to derive the
	// DFU region descriptor string.
	PageSize uint32
}

// Validate checks that the persistent regions are non-empty and
// non-overlapping, that IssuedCerts starts on a page boundary, and that
// AgentCode immediately follows AgentHdr as the boot core's code-start
// check requires. The other regions' alignment is not checked.
func (c Config) Validate() error {
	if c.PageSize == 0 {
		return fmt.Errorf("layout: page size must be non-zero")
	}
	regions := []struct {
		name string
		r    Region
	}{
		{"AgentHdr", c.AgentHdr},
		{"AgentCode", c.AgentCode},
		{"IssuedCerts", c.IssuedCerts},
		{"FwDeviceId", c.FwDeviceId},
		{"FwCache", c.FwCache},
	}
	for _, reg := range regions {
		if reg.r.Length == 0 {
			return fmt.Errorf("layout: region %s has zero length", reg.name)
		}
	}
	if c.AgentHdr.End() != c.AgentCode.Base {
		return fmt.Errorf("layout: AgentCode (base %#x) does not immediately follow AgentHdr (end %#x)", c.AgentCode.Base, c.AgentHdr.End())
	}
	for i, a := range regions {
		for j, b := range regions {
			if i == j {
				continue
			}
			if a.r.Base < b.r.End() && b.r.Base < a.r.End() {
				return fmt.Errorf("layout: region %s overlaps region %s", a.name, b.name)
			}
		}
	}
	if c.IssuedCerts.Base%c.PageSize != 0 {
		return fmt.Errorf("layout: IssuedCerts base %#x is not page-aligned (page size %d)", c.IssuedCerts.Base, c.PageSize)
	}
	return nil
}

// AgentAreaPages returns the number of PageSize-sized pages spanned by
// [AgentHdr.Base, IssuedCerts.Base), the DFU-updatable agent area.
func (c Config) AgentAreaPages() uint32 {
	span := c.IssuedCerts.Base - c.AgentHdr.Base
	return span / c.PageSize
}
