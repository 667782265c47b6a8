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

// Package verify implements the per-boot AgentVerifier of spec §4.5: it
// measures the resident agent, enforces rollback and an optional author
// signature, derives a fresh compound key when the measurement changes,
// issues the alias certificate, and assembles the RAM-resident CertStore.
//
// The state machine Start -> Measure -> CheckDigest -> MaybeAuth ->
// Compound -> {RefreshCache,Assemble} -> Assemble is modeled as a plain
// sequence of early-returning methods rather than an explicit state enum;
// each one corresponds to exactly one row of that table.
package verify

import (
	"crypto/sha256"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"k8s.io/klog/v2"

	"github.com/project-barnacle/barnacle-boot/internal/bpem"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
	"github.com/project-barnacle/barnacle-boot/internal/store"
	"github.com/project-barnacle/barnacle-boot/internal/x509build"
)

// RollbackPolicy selects what AgentVerifier does once it detects a
// rollback. The source this package is grounded on only ever printed a
// warning; the abort path existed in the code but was commented out. This
// module keeps that as an explicit, documented choice rather than an
// accident: ReportOnly reproduces the observed behavior, Abort is available
// for deployments that want rollback to be fatal.
type RollbackPolicy int

const (
	// ReportOnly logs a rollback and lets the boot proceed. This is the
	// default, matching the original's observed (if accidental) behavior.
	ReportOnly RollbackPolicy = iota
	// Abort fails the boot when a rollback is detected.
	Abort
)

func (p RollbackPolicy) String() string {
	switch p {
	case ReportOnly:
		return "ReportOnly"
	case Abort:
		return "Abort"
	default:
		return fmt.Sprintf("RollbackPolicy(%d)", int(p))
	}
}

// tbsBufSize and certStoreCapacity size the scratch buffer used to build a
// fresh alias certificate and the RAM CertStore assembled from it.
const (
	tbsBufSize        = 2048
	certStoreCapacity = 8192
)

// Identity fields stamped into the alias certificate's names; mirrors
// internal/provision's constants since both chain to the same device
// identity.
const (
	certOrg     = "Project Barnacle"
	certCountry = "US"
	validFrom   = "240101000000Z"
	validTo     = "440101000000Z"
)

// Config bundles the inputs AgentVerifier needs beyond the agent header and
// code bytes themselves.
type Config struct {
	RollbackPolicy RollbackPolicy

	DevicePub  *riot.PublicKey
	DevicePriv *riot.PrivateKey

	// CodeAuthPub is the factory-programmed author-verification public key,
	// or nil if IssuedCerts.CodeAuthKeyPopulated() is false.
	CodeAuthPub *riot.PublicKey

	// IssuedFlags is the IssuedCerts region's flags word, consulted for the
	// PROVISIONED|AUTHENTICATED_BOOT bits at MaybeAuth.
	IssuedFlags uint32

	// RootPEM and DevicePEM are the factory certificates to place ahead of
	// the alias certificate in the assembled CertStore; RootPEM may be nil.
	RootPEM, DevicePEM []byte
}

// Result carries everything the caller needs after a successful Run: the
// assembled certificate chain, the compound key pair for this boot, and an
// updated cache record to persist (only when the cache actually changed —
// callers should compare against the previous CachedAgentData before
// writing, matching the invariant that FwCache is rewritten only when the
// digest changes).
type Result struct {
	CertStore    *store.CertStore
	CompoundPub  *riot.PublicKey
	CompoundPriv *riot.PrivateKey
	Cache        store.CachedAgentData
	CacheChanged bool
	Rollback     bool
}

// AgentVerifier runs the per-boot measurement and attestation sequence.
type AgentVerifier struct {
	cfg Config
}

// New constructs an AgentVerifier from cfg.
func New(cfg Config) *AgentVerifier {
	return &AgentVerifier{cfg: cfg}
}

// Run executes the state machine against hdr and the agent's code bytes,
// consulting and possibly refreshing cached (the previous FwCache
// contents). It returns an error for any Start/Measure/CheckDigest/
// MaybeAuth failure, classified by spec §7 as an attestation failure: no
// partial CertStore is ever returned.
func (v *AgentVerifier) Run(hdr AgentHeader, code []byte, cached store.CachedAgentData) (*Result, error) {
	if err := v.start(hdr); err != nil {
		return nil, err
	}
	digest, err := v.measure(hdr, code)
	if err != nil {
		return nil, err
	}
	if err := v.checkDigest(hdr, digest); err != nil {
		return nil, err
	}
	headerDigest := v.headerDigest(hdr)
	if err := v.maybeAuth(hdr, headerDigest); err != nil {
		return nil, err
	}
	return v.compound(hdr, headerDigest, cached)
}

// start enforces Start's guard: header magic and format version.
func (v *AgentVerifier) start(hdr AgentHeader) error {
	if hdr.HeaderMagic != Magic {
		return fmt.Errorf("verify: agent header magic %#x does not match %#x", hdr.HeaderMagic, Magic)
	}
	if hdr.HeaderVersion > MaxHeaderVersion {
		return fmt.Errorf("verify: agent header version %d exceeds maximum %d", hdr.HeaderVersion, MaxHeaderVersion)
	}
	return nil
}

// measure checks that code holds at least hdr.AgentSize bytes and computes
// the agent digest over them. The code-start check (hdr.HeaderSize against
// the flash layout) is made by internal/boot, which knows the layout.
func (v *AgentVerifier) measure(hdr AgentHeader, code []byte) ([riot.DigestLength]byte, error) {
	var digest [riot.DigestLength]byte
	if uint32(len(code)) < hdr.AgentSize {
		return digest, fmt.Errorf("verify: agent code region (%d bytes) shorter than header's agent.size (%d)", len(code), hdr.AgentSize)
	}
	digest = riot.Hash(code[:hdr.AgentSize])
	return digest, nil
}

// checkDigest enforces CheckDigest's guard: the measured digest must match
// the one the header claims.
func (v *AgentVerifier) checkDigest(hdr AgentHeader, digest [riot.DigestLength]byte) error {
	if digest != hdr.Digest {
		return fmt.Errorf("verify: agent digest mismatch: computed %x, header claims %x", digest, hdr.Digest)
	}
	return nil
}

// headerDigest computes SHA256(hdr.signedRegion), the value the author
// signature is checked over and the compound key is derived from. The riot
// extension's FWID is the agent code digest hdr.Digest, not this value.
func (v *AgentVerifier) headerDigest(hdr AgentHeader) [riot.DigestLength]byte {
	return sha256.Sum256(hdr.signedBytes())
}

// maybeAuth enforces MaybeAuth: the author signature is only checked when
// authenticated boot is configured and a code-authentication public key is
// present; otherwise this step is a no-op and verification proceeds.
func (v *AgentVerifier) maybeAuth(hdr AgentHeader, headerDigest [riot.DigestLength]byte) error {
	const authenticatedBootRequired = store.FlagProvisioned | store.FlagAuthenticatedBoot
	if v.cfg.IssuedFlags&authenticatedBootRequired != authenticatedBootRequired {
		return nil
	}
	if v.cfg.CodeAuthPub == nil {
		return nil
	}
	if !hdr.HasSignature {
		return fmt.Errorf("verify: authenticated boot configured but agent header carries no signature")
	}
	if !riot.VerifyDigest(headerDigest[:], hdr.Signature, v.cfg.CodeAuthPub) {
		return fmt.Errorf("verify: agent author signature does not verify under the configured author key")
	}
	return nil
}

// isRollback implements the rollback guard of spec §4.5/§9: a rollback is
// flagged when the cached last-seen version is not strictly less than the
// new header's version, or the cached last-issued timestamp is not
// strictly less than the new header's issued timestamp. The version
// comparison prefers semantic-version ordering when both the cached and
// the new agent name parse as semver, falling back to the raw uint32
// compare the original used otherwise.
func isRollback(cached store.CachedAgentData, hdr AgentHeader) bool {
	oldSV, oldErr := semver.NewVersion(cached.LastName)
	newSV, newErr := semver.NewVersion(hdr.Name)
	var versionRolledBack bool
	if oldErr == nil && newErr == nil {
		versionRolledBack = newSV.Compare(*oldSV) <= 0
	} else {
		versionRolledBack = hdr.AgentVersion <= cached.LastVersion
	}
	return versionRolledBack || hdr.Issued <= cached.LastIssued
}

// compound implements Compound: it always runs the rollback check, then
// either rebuilds the cache (RefreshCache) or reuses it (straight to
// Assemble) depending on whether the measurement actually changed.
func (v *AgentVerifier) compound(hdr AgentHeader, headerDigest [riot.DigestLength]byte, cached store.CachedAgentData) (*Result, error) {
	rollback := false
	if cached.Provisioned() {
		rollback = isRollback(cached, hdr)
		if rollback {
			// Intentionally logs the full 32-bit decimal values; the
			// source this is grounded on truncated them with %hu on a
			// 32-bit field.
			klog.Warningf("verify: rollback detected: cached version=%d issued=%d, agent reports version=%d issued=%d",
				cached.LastVersion, cached.LastIssued, hdr.AgentVersion, hdr.Issued)
			if v.cfg.RollbackPolicy == Abort {
				return nil, fmt.Errorf("verify: rollback detected and RollbackPolicy is Abort")
			}
		}
	}

	needsRefresh := !cached.Provisioned() || headerDigest != cached.AgentHdrDigest
	if !needsRefresh {
		return v.assemble(cached.CompoundKey, cached.AliasCertPEM, cached, false, rollback)
	}
	return v.refreshCache(hdr, headerDigest, rollback)
}

// serialFor derives a KDF-based serial number from pubBytes, applying the
// positive/non-zero normalization spec §9 requires.
func serialFor(pubBytes []byte) ([x509build.SerialLength]byte, error) {
	var out [x509build.SerialLength]byte
	digest, err := riot.KDF(x509build.SerialLength, pubBytes, nil, riot.LabelSerial)
	if err != nil {
		return out, err
	}
	x509build.ForcePositiveNonZero(digest)
	copy(out[:], digest)
	return out, nil
}

// refreshCache implements RefreshCache: derive a fresh compound key from
// the header digest mixed with the device secret, build and sign a new
// alias certificate, and hand the updated cache record to Assemble.
func (v *AgentVerifier) refreshCache(hdr AgentHeader, headerDigest [riot.DigestLength]byte, rollback bool) (*Result, error) {
	devPrivBytes, err := riot.PadCoordinate(v.cfg.DevicePriv.D)
	if err != nil {
		return nil, fmt.Errorf("verify: padding device private scalar: %w", err)
	}
	seed := append(append([]byte{}, devPrivBytes...), headerDigest[:]...)
	compoundPub, compoundPriv, err := riot.DeriveECCKey(seed, riot.LabelCompound)
	if err != nil {
		return nil, fmt.Errorf("verify: deriving compound key: %w", err)
	}

	serial, err := serialFor(riot.ExportECCPub(compoundPub))
	if err != nil {
		return nil, err
	}
	data := x509build.TBSData{
		SerialNum:     serial,
		IssuerCommon:  "Barnacle Device",
		IssuerOrg:     certOrg,
		IssuerCountry: certCountry,
		ValidFrom:     validFrom,
		ValidTo:       validTo,
		SubjectCommon: "*",
		SubjectOrg:    certOrg,
		SubjectCountry: certCountry,
	}
	buf := make([]byte, tbsBufSize)
	tbs, err := x509build.AliasTBS(buf, data, compoundPub, v.cfg.DevicePub, hdr.Digest[:])
	if err != nil {
		return nil, fmt.Errorf("verify: building alias TBS: %w", err)
	}
	tbsDigest := riot.Hash(tbs.Bytes())
	sig, err := riot.Sign(tbsDigest[:], v.cfg.DevicePriv)
	if err != nil {
		return nil, fmt.Errorf("verify: signing alias certificate: %w", err)
	}
	if err := x509build.MakeAliasCert(tbs, sig); err != nil {
		return nil, fmt.Errorf("verify: finalizing alias certificate: %w", err)
	}
	aliasPEM := bpem.Encode(bpem.TypeCertificate, tbs.Bytes())

	var key store.KeyPair
	if err := key.SetPub(riot.ExportECCPub(compoundPub)); err != nil {
		return nil, err
	}
	compoundPrivBytes, err := riot.PadCoordinate(compoundPriv.D)
	if err != nil {
		return nil, err
	}
	if err := key.SetPriv(compoundPrivBytes); err != nil {
		return nil, err
	}

	newCache := store.CachedAgentData{
		MagicTag:       store.Magic,
		CompoundKey:    key,
		AgentHdrDigest: headerDigest,
		LastVersion:    hdr.AgentVersion,
		LastIssued:     hdr.Issued,
		LastName:       hdr.Name,
		AliasCertPEM:   aliasPEM,
	}
	klog.Infof("verify: agent digest changed, refreshed compound key and alias certificate")
	return v.assemble(key, aliasPEM, newCache, true, rollback)
}

// assemble implements Assemble: build the RAM CertStore in Root, Device,
// Loader order (skipping Root when absent) and decode the compound key
// pair for the caller.
func (v *AgentVerifier) assemble(key store.KeyPair, aliasPEM []byte, cache store.CachedAgentData, changed bool, rollback bool) (*Result, error) {
	cs := store.NewCertStore(certStoreCapacity)
	if v.cfg.RootPEM != nil {
		if err := cs.Append(store.CertStoreRoot, v.cfg.RootPEM); err != nil {
			return nil, fmt.Errorf("verify: assembling CertStore: %w", err)
		}
	}
	if err := cs.Append(store.CertStoreDevice, v.cfg.DevicePEM); err != nil {
		return nil, fmt.Errorf("verify: assembling CertStore: %w", err)
	}
	if err := cs.Append(store.CertStoreLoader, aliasPEM); err != nil {
		return nil, fmt.Errorf("verify: assembling CertStore: %w", err)
	}

	compoundPub, err := riot.DecodePublicKey(key.PubBytes())
	if err != nil {
		return nil, fmt.Errorf("verify: decoding cached compound public key: %w", err)
	}
	compoundPriv := riot.DecodePrivateKey(key.PrivBytes(), compoundPub)

	return &Result{
		CertStore:    cs,
		CompoundPub:  compoundPub,
		CompoundPriv: compoundPriv,
		Cache:        cache,
		CacheChanged: changed,
		Rollback:     rollback,
	}, nil
}
