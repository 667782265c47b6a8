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

// Command barnacle-boot is the measured-boot loader: it wires a hardware
// abstraction implementation into a boot.Boot value and runs the
// provision/verify/gate sequence once, then hands control to the agent.
//
// The concrete RNG, flash, firewall, and reset-cause peripherals are a
// platform integration concern left out of this module's scope; the
// halsim-backed wiring below is the reference platform used for
// standalone builds and bench testing, the same role the teacher's
// usbarmory bring-up plays for its own applet.
package main

import (
	"flag"

	"k8s.io/klog/v2"

	"github.com/project-barnacle/barnacle-boot/internal/boot"
	"github.com/project-barnacle/barnacle-boot/internal/halsim"
	"github.com/project-barnacle/barnacle-boot/internal/layout"
	"github.com/project-barnacle/barnacle-boot/internal/verify"
)

const (
	// flashSize and pageSize describe the reference platform's flash
	// geometry. A real integration supplies its own hal.Flash instead of
	// halsim.MemFlash and need not match these constants.
	flashSize = 1 << 20 // 1 MiB
	pageSize  = 4096

	agentHdrLen    = pageSize
	agentCodeLen   = 0xDD000 // keeps IssuedCerts page-aligned after a one-page header
	issuedCertsLen = pageSize
	fwDeviceIdLen  = 512
	fwCacheLen     = 4096
)

func referenceLayout() layout.Config {
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

func main() {
	klog.InitFlags(nil)
	flag.Set("logtostderr", "true")
	flag.Parse()

	cfg := referenceLayout()
	flash := halsim.NewMemFlash(flashSize, pageSize)
	rng := halsim.RNG{}
	fw := &halsim.Firewall{}
	rc := &halsim.ResetCause{}

	b, err := boot.New(flash, cfg, rng, fw, rc, verify.ReportOnly, nil)
	if err != nil {
		klog.Exitf("barnacle-boot: constructing boot core: %v", err)
	}
	if err := b.Run(); err != nil {
		klog.Exitf("barnacle-boot: %v", err)
	}
	klog.Infof("barnacle-boot: certificate chain assembled (%d bytes), handing off to agent", b.CertStore.Cursor)
}
