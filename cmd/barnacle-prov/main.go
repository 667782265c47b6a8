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

// Command barnacle-prov is the manufacturing-line and bench-debug tool: it
// inspects and provisions a unit's persistent store over whatever transport
// the caller's internal/hal.Flash implementation fronts. The USB DFU
// transport itself is out of scope (spec §1 names it an external
// collaborator); this tool talks to an in-memory halsim.MemFlash standing
// in for a bench unit, the way a real build would point it at a DFU- or
// UART-backed hal.Flash instead.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/project-barnacle/barnacle-boot/internal/halsim"
	"github.com/project-barnacle/barnacle-boot/internal/layout"
	"github.com/project-barnacle/barnacle-boot/internal/store"
)

const (
	flashSize = 1 << 20
	pageSize  = 4096

	agentHdrLen    = pageSize
	agentCodeLen   = 0xDD000 // keeps IssuedCerts page-aligned after a one-page header
	issuedCertsLen = pageSize
	fwDeviceIdLen  = 512
	fwCacheLen     = 4096
)

func benchLayout() layout.Config {
	agentHdr := layout.Region{Base: 0, Length: agentHdrLen}
	agentCode := layout.Region{Base: agentHdr.End(), Length: agentCodeLen}
	issuedCerts := layout.Region{Base: agentCode.End(), Length: issuedCertsLen}
	fwDeviceId := layout.Region{Base: issuedCerts.End(), Length: fwDeviceIdLen}
	fwCache := layout.Region{Base: fwDeviceId.End(), Length: fwCacheLen}
	return layout.Config{
		AgentHdr:    agentHdr,
		AgentCode:   agentCode,
		IssuedCerts: issuedCerts,
		FwDeviceId:  fwDeviceId,
		FwCache:     fwCache,
		PageSize:    pageSize,
	}
}

// benchStore is shared by every subcommand; it stands in for an open
// connection to the unit under test.
var benchStore *store.Store

func newBenchStore() (*store.Store, error) {
	flash := halsim.NewMemFlash(flashSize, pageSize)
	return store.New(flash, benchLayout())
}

func main() {
	var err error
	benchStore, err = newBenchStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "barnacle-prov: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "barnacle-prov",
		Short: "Manufacturing-line provisioning and bench-debug tool for Barnacle units",
	}
	root.AddCommand(statusCmd, dumpCertsCmd, forceProvisionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
