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

package boot

import (
	"testing"

	"github.com/project-barnacle/barnacle-boot/internal/halsim"
	"github.com/project-barnacle/barnacle-boot/internal/layout"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
	"github.com/project-barnacle/barnacle-boot/internal/store"
	"github.com/project-barnacle/barnacle-boot/internal/verify"
)

const (
	testPageSize     = 4096
	testAgentHdrLen  = testPageSize
	testAgentCodeLen = testPageSize * 2
)

func testLayout() layout.Config {
	agentHdr := layout.Region{Base: 0, Length: testAgentHdrLen}
	agentCode := layout.Region{Base: agentHdr.End(), Length: testAgentCodeLen}
	issuedCerts := layout.Region{Base: agentCode.End(), Length: testPageSize}
	fwDeviceId := layout.Region{Base: issuedCerts.End(), Length: 512}
	fwCache := layout.Region{Base: fwDeviceId.End(), Length: 4096}
	return layout.Config{
		AgentHdr:    agentHdr,
		AgentCode:   agentCode,
		IssuedCerts: issuedCerts,
		FwDeviceId:  fwDeviceId,
		FwCache:     fwCache,
		PageSize:    testPageSize,
	}
}

// writeAgent packs a minimal verify.AgentHeader plus code bytes directly
// into the flash image at AgentHdr/AgentCode, the layout boot.Run expects to
// read back.
func writeAgent(t *testing.T, flash *halsim.MemFlash, cfg layout.Config, code []byte, version, issued uint32) {
	t.Helper()
	hdr := verify.AgentHeader{
		HeaderMagic:   verify.Magic,
		HeaderVersion: 1,
		HeaderSize:    cfg.AgentCode.Base - cfg.AgentHdr.Base,
		Name:          "witness-agent",
		AgentVersion:  version,
		Issued:        issued,
		AgentSize:     uint32(len(code)),
		Digest:        riot.Hash(code),
	}
	raw, err := hdr.Marshal(riot.CoordSize())
	if err != nil {
		t.Fatalf("AgentHeader.Marshal: %v", err)
	}
	if err := flash.WriteRegion(cfg.AgentHdr.Base, raw); err != nil {
		t.Fatalf("WriteRegion(AgentHdr): %v", err)
	}
	if err := flash.WriteRegion(cfg.AgentCode.Base, code); err != nil {
		t.Fatalf("WriteRegion(AgentCode): %v", err)
	}
}

func TestRunEndToEndProvisionsMeasuresAndSeals(t *testing.T) {
	cfg := testLayout()
	flash := halsim.NewMemFlash(1<<20, testPageSize)
	rng := halsim.RNG{}
	fw := &halsim.Firewall{}
	rc := &halsim.ResetCause{}

	code := []byte("first boot agent image")
	writeAgent(t, flash, cfg, code, 1, 1000)

	b, err := New(flash, cfg, rng, fw, rc, verify.ReportOnly, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if b.CertStore == nil {
		t.Fatal("Run did not populate CertStore")
	}
	if b.CertStore.Slot(store.CertStoreLoader) == nil {
		t.Error("assembled CertStore has no loader certificate")
	}
	if !fw.Enabled() {
		t.Error("Run did not enable the firewall before returning")
	}
}

func TestRunTwiceWithUnchangedAgentReusesCertStore(t *testing.T) {
	cfg := testLayout()
	flash := halsim.NewMemFlash(1<<20, testPageSize)
	code := []byte("stable agent image across two boots")
	writeAgent(t, flash, cfg, code, 1, 1000)

	rng := halsim.RNG{}

	fw1 := &halsim.Firewall{}
	rc1 := &halsim.ResetCause{}
	b1, err := New(flash, cfg, rng, fw1, rc1, verify.ReportOnly, nil)
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	if err := b1.Run(); err != nil {
		t.Fatalf("Run (first): %v", err)
	}

	fw2 := &halsim.Firewall{}
	rc2 := &halsim.ResetCause{}
	b2, err := New(flash, cfg, rng, fw2, rc2, verify.ReportOnly, nil)
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	if err := b2.Run(); err != nil {
		t.Fatalf("Run (second): %v", err)
	}

	if !b1.CertStore.Equal(b2.CertStore) {
		t.Error("CertStore differs across two boots of the same agent image, should be byte-identical")
	}
}

func TestRunFailsClosedOnTamperedAgent(t *testing.T) {
	cfg := testLayout()
	flash := halsim.NewMemFlash(1<<20, testPageSize)
	code := []byte("agent image as originally measured")
	writeAgent(t, flash, cfg, code, 1, 1000)

	// Corrupt the code after the header was written, so the header's digest
	// no longer matches what boot.Run measures.
	tampered := append([]byte{}, code...)
	tampered[0] ^= 0xFF
	if err := flash.WriteRegion(cfg.AgentCode.Base, tampered); err != nil {
		t.Fatalf("WriteRegion(tampered AgentCode): %v", err)
	}

	rng := halsim.RNG{}
	fw := &halsim.Firewall{}
	rc := &halsim.ResetCause{}
	b, err := New(flash, cfg, rng, fw, rc, verify.ReportOnly, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Run(); err == nil {
		t.Error("Run succeeded despite a tampered agent image")
	}
	if fw.Enabled() {
		t.Error("firewall was enabled despite Run failing; private regions must stay unsealed on a failed boot")
	}
	if b.CertStore != nil {
		t.Error("CertStore was exposed despite Run failing")
	}
}
