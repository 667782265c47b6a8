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

// Package boot wires PersistentStore, IdentityProvisioner, AgentVerifier,
// and SecurityGate together into the single serial sequence spec §9
// describes: "an idiomatic reimplementation models them as values owned by
// a top-level Boot object whose sole method is run()". Boot.Run is that
// method; everything it touches is either a field of Boot or local to the
// call.
package boot

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/project-barnacle/barnacle-boot/internal/gate"
	"github.com/project-barnacle/barnacle-boot/internal/hal"
	"github.com/project-barnacle/barnacle-boot/internal/layout"
	"github.com/project-barnacle/barnacle-boot/internal/provision"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
	"github.com/project-barnacle/barnacle-boot/internal/store"
	"github.com/project-barnacle/barnacle-boot/internal/verify"
)

// maxCachedPEM bounds the alias certificate length read back out of
// FwCache, guarding against a corrupt length field driving an unbounded
// allocation.
const maxCachedPEM = 4096

// Boot owns every piece of boot-time state: the persistent store, the
// hardware collaborators, and the policy choices (rollback, optional
// factory root). Run executes the full provision-verify-gate sequence
// exactly once.
type Boot struct {
	store *store.Store
	rng   hal.RNG
	fw    hal.Firewall
	rc    hal.ResetCause

	rollbackPolicy verify.RollbackPolicy
	root           *provision.RootMaterial

	// Outcome of the most recent Run, kept for a caller (e.g.
	// cmd/barnacle-prov) that wants to inspect the result without a second
	// parameter-passing layer. Nil until Run succeeds.
	CertStore    *store.CertStore
	CompoundPub  *riot.PublicKey
	CompoundPriv *riot.PrivateKey
}

// New constructs a Boot over the given flash device, layout, and hardware
// collaborators. root is optional factory root material; nil means the
// device self-signs its device certificate (spec §4.4's default path).
func New(flash hal.Flash, cfg layout.Config, rng hal.RNG, fw hal.Firewall, rc hal.ResetCause, policy verify.RollbackPolicy, root *provision.RootMaterial) (*Boot, error) {
	s, err := store.New(flash, cfg)
	if err != nil {
		return nil, fmt.Errorf("boot: constructing store: %w", err)
	}
	return &Boot{
		store:          s,
		rng:            rng,
		fw:             fw,
		rc:             rc,
		rollbackPolicy: policy,
		root:           root,
	}, nil
}

// Run executes, in strict order: PersistentStore inspection and
// first-boot provisioning, agent measurement and attestation, certificate
// chain assembly, and the security gate. On success the agent's entry
// point is safe to jump to; on any error the caller must not do so, and no
// partial CertStore has been exposed.
func (b *Boot) Run() error {
	if _, err := provision.New(b.store, b.rng).Run(b.root); err != nil {
		return fmt.Errorf("boot: provisioning: %w", err)
	}

	cfg := b.store.Layout()

	devRaw, err := b.store.Read(cfg.FwDeviceId)
	if err != nil {
		return fmt.Errorf("boot: reading FwDeviceId: %w", err)
	}
	dev, err := store.UnmarshalDeviceIdentity(devRaw)
	if err != nil {
		return fmt.Errorf("boot: unmarshaling FwDeviceId: %w", err)
	}
	devicePub, err := riot.DecodePublicKey(dev.Key.PubBytes())
	if err != nil {
		return fmt.Errorf("boot: decoding device public key: %w", err)
	}
	devicePriv := riot.DecodePrivateKey(dev.Key.PrivBytes(), devicePub)

	issuedRaw, err := b.store.Read(cfg.IssuedCerts)
	if err != nil {
		return fmt.Errorf("boot: reading IssuedCerts: %w", err)
	}
	issued, err := store.UnmarshalIssuedCerts(issuedRaw)
	if err != nil {
		return fmt.Errorf("boot: unmarshaling IssuedCerts: %w", err)
	}

	hasSignature := issued.Flags&store.FlagAuthenticatedBoot != 0
	hdrRaw, err := b.store.Read(cfg.AgentHdr)
	if err != nil {
		return fmt.Errorf("boot: reading AgentHdr: %w", err)
	}
	hdr, err := verify.UnmarshalAgentHeader(hdrRaw, hasSignature, riot.CoordSize())
	if err != nil {
		return fmt.Errorf("boot: unmarshaling agent header: %w", err)
	}
	if codeStart := cfg.AgentCode.Base - cfg.AgentHdr.Base; hdr.HeaderSize != codeStart {
		return fmt.Errorf("boot: agent header size %d does not place code at AgentCode (offset %d)", hdr.HeaderSize, codeStart)
	}

	code, err := b.store.Read(cfg.AgentCode)
	if err != nil {
		return fmt.Errorf("boot: reading AgentCode: %w", err)
	}

	cacheRaw, err := b.store.Read(cfg.FwCache)
	if err != nil {
		return fmt.Errorf("boot: reading FwCache: %w", err)
	}
	cached, err := store.UnmarshalCachedAgentData(cacheRaw, maxCachedPEM)
	if err != nil {
		return fmt.Errorf("boot: unmarshaling FwCache: %w", err)
	}

	var codeAuthPub *riot.PublicKey
	if issued.CodeAuthKeyPopulated() {
		codeAuthPub, err = riot.DecodePublicKey(issued.CodeAuthPubKey[:issued.CodeAuthPubKeyLen])
		if err != nil {
			return fmt.Errorf("boot: decoding code-authentication public key: %w", err)
		}
	}

	av := verify.New(verify.Config{
		RollbackPolicy: b.rollbackPolicy,
		DevicePub:      devicePub,
		DevicePriv:     devicePriv,
		CodeAuthPub:    codeAuthPub,
		IssuedFlags:    issued.Flags,
		RootPEM:        issued.Slot(store.IssuedRoot),
		DevicePEM:      issued.Slot(store.IssuedDevice),
	})
	result, err := av.Run(hdr, code, cached)
	if err != nil {
		return fmt.Errorf("boot: agent verification failed: %w", err)
	}
	if result.Rollback {
		klog.Warningf("boot: proceeding past detected rollback (policy=%v)", b.rollbackPolicy)
	}
	if result.CacheChanged {
		if err := b.store.Write(cfg.FwCache, result.Cache.Marshal()); err != nil {
			return fmt.Errorf("boot: persisting refreshed FwCache: %w", err)
		}
	}

	if err := gate.New(b.fw, b.rc).Seal(cfg); err != nil {
		return fmt.Errorf("boot: sealing private regions: %w", err)
	}

	b.CertStore = result.CertStore
	b.CompoundPub = result.CompoundPub
	b.CompoundPriv = result.CompoundPriv

	klog.Info("boot: agent verified and identity chain assembled, jumping to agent")
	return nil
}
