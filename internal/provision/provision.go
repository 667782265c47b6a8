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

// Package provision implements the first-boot IdentityProvisioner of spec
// §4.4: generate the device key from the hardware RNG, persist it, and —
// if not already present — self-sign (or root-sign, see RootMaterial) a
// device certificate into IssuedCerts.
package provision

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/project-barnacle/barnacle-boot/internal/bpem"
	"github.com/project-barnacle/barnacle-boot/internal/hal"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
	"github.com/project-barnacle/barnacle-boot/internal/store"
	"github.com/project-barnacle/barnacle-boot/internal/x509build"
)

// tbsBufSize and certBagCapacity size the scratch buffers used while
// building the self-signed device certificate. IssuedCerts.Marshal adds a
// 167-byte fixed header ahead of the cert bag, so a 3072-byte bag keeps the
// record inside a 4 KiB IssuedCerts region.
const (
	tbsBufSize      = 2048
	certBagCapacity = 3072
)

// Identity fields stamped into the device certificate's issuer/subject
// names. A fleet operator wanting different values issues through the
// RootMaterial path instead of relying on these.
const (
	certCommonName = "Barnacle Device"
	certOrg        = "Project Barnacle"
	certCountry    = "US"
	validFrom      = "240101000000Z"
	validTo        = "440101000000Z"
)

// RootMaterial optionally supplies a factory root CA key pair. When
// present, the device certificate is signed by the root (and carries an
// AuthorityKeyIdentifier equal to SHA-1(RootPub)) instead of being
// self-signed, and a Root certificate is built and stored in the ROOT
// slot, matching the original's X509GetRootCertTBS/X509MakeRootCert path
// (spec.md's distillation only self-signs; §12 supplements this back in).
type RootMaterial struct {
	Pub  *riot.PublicKey
	Priv *riot.PrivateKey
}

// Provisioner runs the one-time identity bootstrap.
type Provisioner struct {
	store *store.Store
	rng   hal.RNG
}

// New constructs a Provisioner over the given store and RNG.
func New(s *store.Store, rng hal.RNG) *Provisioner {
	return &Provisioner{store: s, rng: rng}
}

// Run executes the provisioning steps described in spec §4.4. It is
// idempotent: once FwDeviceId carries the magic tag, step 1-3 are a no-op,
// and once IssuedCerts carries the magic tag, step 4 is a no-op. Returns
// true if any region was newly provisioned this call.
func (p *Provisioner) Run(root *RootMaterial) (bool, error) {
	layout := p.store.Layout()
	changed := false

	devRaw, err := p.store.Read(layout.FwDeviceId)
	if err != nil {
		return false, fmt.Errorf("provision: reading FwDeviceId: %w", err)
	}
	dev, err := store.UnmarshalDeviceIdentity(devRaw)
	if err != nil {
		return false, fmt.Errorf("provision: unmarshaling FwDeviceId: %w", err)
	}

	if !dev.Provisioned() {
		klog.Info("provision: device identity not present, generating")
		cdi := make([]byte, riot.DigestLength)
		if n, err := p.rng.Read(cdi); err != nil || n != len(cdi) {
			return false, fmt.Errorf("provision: reading hardware RNG: %w", err)
		}
		pub, priv, err := riot.DeriveECCKey(cdi, riot.LabelIdentity)
		if err != nil {
			return false, fmt.Errorf("provision: deriving device key: %w", err)
		}
		dev = store.DeviceIdentity{MagicTag: store.Magic}
		if err := dev.Key.SetPub(riot.ExportECCPub(pub)); err != nil {
			return false, err
		}
		priv32, err := riot.PadCoordinate(priv.D)
		if err != nil {
			return false, err
		}
		if err := dev.Key.SetPriv(priv32); err != nil {
			return false, err
		}
		if err := p.store.Write(layout.FwDeviceId, dev.Marshal()); err != nil {
			return false, fmt.Errorf("provision: persisting FwDeviceId: %w", err)
		}
		changed = true
		klog.Infof("provision: device identity persisted, pub=%x", dev.Key.PubBytes())
	}

	issuedRaw, err := p.store.Read(layout.IssuedCerts)
	if err != nil {
		return changed, fmt.Errorf("provision: reading IssuedCerts: %w", err)
	}
	issued, err := store.UnmarshalIssuedCerts(issuedRaw)
	if err != nil || !issued.Provisioned() {
		klog.Info("provision: issued certs not present, self-issuing device certificate")
		if err := p.issueDeviceCert(&dev, root); err != nil {
			return changed, err
		}
		changed = true
	}

	return changed, nil
}

func (p *Provisioner) issueDeviceCert(dev *store.DeviceIdentity, root *RootMaterial) error {
	layout := p.store.Layout()
	devicePub, err := riot.DecodePublicKey(dev.Key.PubBytes())
	if err != nil {
		return fmt.Errorf("provision: decoding device public key: %w", err)
	}

	bag := store.NewIssuedCerts(certBagCapacity)
	bag.MagicTag = store.Magic

	var rootPubForDevice *riot.PublicKey
	if root != nil {
		rootPEM, err := buildRootCert(root)
		if err != nil {
			return fmt.Errorf("provision: building root certificate: %w", err)
		}
		if err := bag.Append(store.IssuedRoot, rootPEM); err != nil {
			return fmt.Errorf("provision: appending root certificate: %w", err)
		}
		rootPubForDevice = root.Pub
		bag.Flags |= store.FlagProvisioned
	}

	devicePEM, err := buildDeviceCert(dev, devicePub, root, rootPubForDevice)
	if err != nil {
		return fmt.Errorf("provision: building device certificate: %w", err)
	}
	if err := bag.Append(store.IssuedDevice, devicePEM); err != nil {
		return fmt.Errorf("provision: appending device certificate: %w", err)
	}

	if err := p.store.Write(layout.IssuedCerts, bag.Marshal()); err != nil {
		return fmt.Errorf("provision: persisting IssuedCerts: %w", err)
	}
	klog.Info("provision: issued certs persisted")
	return nil
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

func buildDeviceCert(dev *store.DeviceIdentity, devicePub *riot.PublicKey, root *RootMaterial, rootPub *riot.PublicKey) ([]byte, error) {
	serial, err := serialFor(dev.Key.PubBytes())
	if err != nil {
		return nil, err
	}
	data := x509build.TBSData{
		SerialNum:     serial,
		IssuerCommon:  certCommonName,
		IssuerOrg:     certOrg,
		IssuerCountry: certCountry,
		ValidFrom:     validFrom,
		ValidTo:       validTo,
		SubjectCommon: certCommonName,
		SubjectOrg:    certOrg,
		SubjectCountry: certCountry,
	}
	if root != nil {
		// Issuer must match the Root certificate's subject (buildRootCert).
		data.IssuerCommon = certCommonName + " Root"
	}
	buf := make([]byte, tbsBufSize)
	tbs, err := x509build.DeviceTBS(buf, data, devicePub, rootPub)
	if err != nil {
		return nil, err
	}
	digest := riot.Hash(tbs.Bytes())

	var signErr error
	var sig riot.Signature
	if root != nil {
		sig, signErr = riot.Sign(digest[:], root.Priv)
	} else {
		priv := riot.DecodePrivateKey(dev.Key.PrivBytes(), devicePub)
		sig, signErr = riot.Sign(digest[:], priv)
	}
	if signErr != nil {
		return nil, signErr
	}
	if err := x509build.MakeDeviceCert(tbs, sig); err != nil {
		return nil, err
	}
	return bpem.Encode(bpem.TypeCertificate, tbs.Bytes()), nil
}

func buildRootCert(root *RootMaterial) ([]byte, error) {
	serial, err := serialFor(riot.ExportECCPub(root.Pub))
	if err != nil {
		return nil, err
	}
	data := x509build.TBSData{
		SerialNum:      serial,
		IssuerCommon:   certCommonName + " Root",
		IssuerOrg:      certOrg,
		IssuerCountry:  certCountry,
		ValidFrom:      validFrom,
		ValidTo:        validTo,
		SubjectCommon:  certCommonName + " Root",
		SubjectOrg:     certOrg,
		SubjectCountry: certCountry,
	}
	buf := make([]byte, tbsBufSize)
	tbs, err := x509build.RootTBS(buf, data, root.Pub)
	if err != nil {
		return nil, err
	}
	digest := riot.Hash(tbs.Bytes())
	sig, err := riot.Sign(digest[:], root.Priv)
	if err != nil {
		return nil, err
	}
	if err := x509build.MakeRootCert(tbs, sig); err != nil {
		return nil, err
	}
	return bpem.Encode(bpem.TypeCertificate, tbs.Bytes()), nil
}
