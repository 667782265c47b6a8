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

// Package x509build constructs the four certificate shapes the boot core
// needs — Root, Device, Alias, and CSR — using internal/der as the DER
// encoder and internal/riot for the ECDSA operations. Each *TBS function
// produces a to-be-signed region; the caller signs it with internal/riot
// and passes the signature to the matching Make* function to produce the
// final DER certificate.
package x509build

import (
	"crypto/sha1" //nolint:gosec // SHA-1 here is only used for an X.509 AuthorityKeyIdentifier, not a security boundary.
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/project-barnacle/barnacle-boot/internal/der"
	"github.com/project-barnacle/barnacle-boot/internal/riot"
)

// SerialLength is the fixed width of every certificate serial number this
// package emits, matching spec §4.4's KDF-derived serial.
const SerialLength = 20

// TBSData carries the subject/issuer/validity fields common to every
// certificate shape. SerialNum must already satisfy the "positive,
// non-zero" MSB constraint (spec §9); ForcePositiveNonZero does that
// normalization for callers deriving it from a KDF digest.
type TBSData struct {
	SerialNum [SerialLength]byte

	IssuerCommon, IssuerOrg, IssuerCountry    string
	ValidFrom, ValidTo                        string // UTCTime, "YYMMDDhhmmssZ"
	SubjectCommon, SubjectOrg, SubjectCountry string
}

// ForcePositiveNonZero applies the serial-number normalization spec §9
// describes: clear the MSB of byte 0 so the INTEGER is never read as
// negative, then set the low bit so it is never exactly zero.
func ForcePositiveNonZero(digest []byte) {
	digest[0] &= 0x7F
	digest[0] |= 0x01
}

func addName(b *der.Builder, common, org, country string) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	for _, rdn := range []struct {
		oid []int
		val string
	}{
		{commonNameOID, common},
		{countryNameOID, country},
		{orgNameOID, org},
	} {
		if rdn.val == "" {
			continue
		}
		if err := b.StartSet(); err != nil {
			return err
		}
		if err := b.StartSequence(); err != nil {
			return err
		}
		if err := b.OID(rdn.oid); err != nil {
			return err
		}
		if err := b.UTF8String(rdn.val); err != nil {
			return err
		}
		if err := b.PopNesting(); err != nil {
			return err
		}
		if err := b.PopNesting(); err != nil {
			return err
		}
	}
	return b.PopNesting()
}

func addValidity(b *der.Builder, from, to string) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.UTCTime(from); err != nil {
		return err
	}
	if err := b.UTCTime(to); err != nil {
		return err
	}
	return b.PopNesting()
}

func addSubjectPublicKeyInfo(b *der.Builder, pub *riot.PublicKey) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(ecPublicKeyOID); err != nil {
		return err
	}
	if err := b.OID(riot.CurveOID); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.BitString(riot.ExportECCPub(pub)); err != nil {
		return err
	}
	return b.PopNesting()
}

func addKeyUsage(b *der.Builder) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(keyUsageOID); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.BitString([]byte{keyUsage}); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

func addExtKeyUsageClientAuth(b *der.Builder) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(extKeyUsageOID); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(clientAuthOID); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

func addBasicConstraints(b *der.Builder, pathLen int) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(basicConstraintsOID); err != nil {
		return err
	}
	if err := b.Boolean(true); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.Boolean(true); err != nil {
		return err
	}
	if err := b.Integer(pathLen); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

func addAuthKeyIdentifier(b *der.Builder, issuerPub *riot.PublicKey) error {
	akid := sha1.Sum(riot.ExportECCPub(issuerPub)) //nolint:gosec
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(extAuthKeyIdentifierOID); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.StartExplicit(0); err != nil {
		return err
	}
	if err := b.OctetString(akid[:]); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// GenerateGUID derives the 22-character device-unique pseudo-GUID (unpadded
// URL-safe base64 of the first 16 bytes of SHA-256(seed)) spec §4.3 uses to replace a "*" alias subject common name.
func GenerateGUID(seed []byte) string {
	sum := sha256.Sum256(seed)
	return base64.RawURLEncoding.EncodeToString(sum[:16])[:22]
}

func tbsPrefix(b *der.Builder, data TBSData) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.ShortExplicitInteger(0, 2); err != nil { // [0] version: X.509 v3
		return err
	}
	if err := b.IntegerFromArray(data.SerialNum[:]); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(ecdsaWithSHA256OID); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := addName(b, data.IssuerCommon, data.IssuerOrg, data.IssuerCountry); err != nil {
		return err
	}
	if err := addValidity(b, data.ValidFrom, data.ValidTo); err != nil {
		return err
	}
	return nil
}

// RootTBS builds the Root certificate's TBS region: subject == issuer,
// basic constraints cA=true, pathLen=2.
func RootTBS(buf []byte, data TBSData, rootPub *riot.PublicKey) (*der.Builder, error) {
	b := der.New(buf)
	if err := tbsPrefix(b, data); err != nil {
		return nil, err
	}
	if err := addName(b, data.SubjectCommon, data.SubjectOrg, data.SubjectCountry); err != nil {
		return nil, err
	}
	if err := addSubjectPublicKeyInfo(b, rootPub); err != nil {
		return nil, err
	}
	if err := b.StartExplicit(3); err != nil {
		return nil, err
	}
	if err := b.StartSequence(); err != nil {
		return nil, err
	}
	if err := addKeyUsage(b); err != nil {
		return nil, err
	}
	if err := addBasicConstraints(b, 2); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if b.NestingDepth() != 0 {
		return nil, fmt.Errorf("x509build: RootTBS left nesting depth %d", b.NestingDepth())
	}
	return b, nil
}

// DeviceTBS builds the Device certificate's TBS region: basic constraints
// cA=true, pathLen=1; self-signed when rootPub is nil, otherwise carries an
// AuthorityKeyIdentifier equal to SHA-1(rootPub).
func DeviceTBS(buf []byte, data TBSData, devicePub *riot.PublicKey, rootPub *riot.PublicKey) (*der.Builder, error) {
	b := der.New(buf)
	if err := tbsPrefix(b, data); err != nil {
		return nil, err
	}
	if err := addName(b, data.SubjectCommon, data.SubjectOrg, data.SubjectCountry); err != nil {
		return nil, err
	}
	if err := addSubjectPublicKeyInfo(b, devicePub); err != nil {
		return nil, err
	}
	if err := b.StartExplicit(3); err != nil {
		return nil, err
	}
	if err := b.StartSequence(); err != nil {
		return nil, err
	}
	if err := addKeyUsage(b); err != nil {
		return nil, err
	}
	if err := addExtKeyUsageClientAuth(b); err != nil {
		return nil, err
	}
	if err := addBasicConstraints(b, 1); err != nil {
		return nil, err
	}
	if rootPub != nil {
		if err := addAuthKeyIdentifier(b, rootPub); err != nil {
			return nil, err
		}
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if b.NestingDepth() != 0 {
		return nil, fmt.Errorf("x509build: DeviceTBS left nesting depth %d", b.NestingDepth())
	}
	return b, nil
}

func addRiotExtension(b *der.Builder, devIdPub *riot.PublicKey, fwid []byte) error {
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(riotOID); err != nil {
		return err
	}
	if err := b.StartEnvelopingOctetString(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.Integer(1); err != nil { // riot extension version
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(ecPublicKeyOID); err != nil {
		return err
	}
	if err := b.OID(riot.CurveOID); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.BitString(riot.ExportECCPub(devIdPub)); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(sha256OID); err != nil {
		return err
	}
	if err := b.OctetString(fwid); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	return b.PopNesting()
}

// AliasTBS builds the Alias certificate's TBS region: subject is the
// compound public key, issuer is the device key, and a custom riot
// extension carries the exact firmware measurement (fwid, expected to be
// riot.DigestLength bytes) so a verifier can recover it from the
// certificate alone. A SubjectCommon of "*" is replaced with a
// device-unique pseudo-GUID derived from devIdPub.
func AliasTBS(buf []byte, data TBSData, aliasPub, devIdPub *riot.PublicKey, fwid []byte) (*der.Builder, error) {
	if data.SubjectCommon == "*" {
		data.SubjectCommon = GenerateGUID(riot.ExportECCPub(devIdPub))
	}
	b := der.New(buf)
	if err := tbsPrefix(b, data); err != nil {
		return nil, err
	}
	if err := addName(b, data.SubjectCommon, data.SubjectOrg, data.SubjectCountry); err != nil {
		return nil, err
	}
	if err := addSubjectPublicKeyInfo(b, aliasPub); err != nil {
		return nil, err
	}
	if err := b.StartExplicit(3); err != nil {
		return nil, err
	}
	if err := b.StartSequence(); err != nil {
		return nil, err
	}
	if err := addKeyUsage(b); err != nil {
		return nil, err
	}
	if err := addExtKeyUsageClientAuth(b); err != nil {
		return nil, err
	}
	if err := addAuthKeyIdentifier(b, devIdPub); err != nil {
		return nil, err
	}
	if err := addRiotExtension(b, devIdPub, fwid); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if b.NestingDepth() != 0 {
		return nil, fmt.Errorf("x509build: AliasTBS left nesting depth %d", b.NestingDepth())
	}
	return b, nil
}

// CSRTBS builds a PKCS#10 certificationRequestInfo: version 0, subject,
// SubjectPublicKeyInfo, and an empty [0] attributes set.
func CSRTBS(buf []byte, data TBSData, devicePub *riot.PublicKey) (*der.Builder, error) {
	b := der.New(buf)
	if err := b.StartSequence(); err != nil {
		return nil, err
	}
	if err := b.Integer(0); err != nil {
		return nil, err
	}
	if err := addName(b, data.IssuerCommon, data.IssuerOrg, data.IssuerCountry); err != nil {
		return nil, err
	}
	if err := addSubjectPublicKeyInfo(b, devicePub); err != nil {
		return nil, err
	}
	if err := b.StartExplicit(0); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if b.NestingDepth() != 0 {
		return nil, fmt.Errorf("x509build: CSRTBS left nesting depth %d", b.NestingDepth())
	}
	return b, nil
}

// finalize wraps a completed TBS structure into a signed DER object:
// outer SEQUENCE = { TBS, algorithmIdentifier(ecdsa-with-SHA-256),
// BIT STRING enclosing SEQUENCE{INTEGER r, INTEGER s} }. It backs
// MakeRootCert, MakeDeviceCert, MakeAliasCert, and MakeCSR, which are kept
// as distinct functions for call-site clarity even though the wrapping
// shape is identical, matching the original's four near-identical
// X509Make*Cert routines.
func finalize(b *der.Builder, sig riot.Signature) error {
	if err := b.TBSToCert(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	if err := b.OID(ecdsaWithSHA256OID); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.StartEnvelopingBitString(); err != nil {
		return err
	}
	if err := b.StartSequence(); err != nil {
		return err
	}
	r, err := riot.PadCoordinate(sig.R)
	if err != nil {
		return err
	}
	if err := b.IntegerFromArray(r); err != nil {
		return err
	}
	s, err := riot.PadCoordinate(sig.S)
	if err != nil {
		return err
	}
	if err := b.IntegerFromArray(s); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if err := b.PopNesting(); err != nil {
		return err
	}
	if b.NestingDepth() != 0 {
		return fmt.Errorf("x509build: finalize left nesting depth %d", b.NestingDepth())
	}
	return nil
}

// MakeRootCert finalizes a Root certificate given its signed TBS region.
func MakeRootCert(b *der.Builder, sig riot.Signature) error { return finalize(b, sig) }

// MakeDeviceCert finalizes a Device certificate given its signed TBS region.
func MakeDeviceCert(b *der.Builder, sig riot.Signature) error { return finalize(b, sig) }

// MakeAliasCert finalizes an Alias certificate given its signed TBS region.
func MakeAliasCert(b *der.Builder, sig riot.Signature) error { return finalize(b, sig) }

// MakeCSR finalizes a PKCS#10 CertificateRequest given its signed TBS
// region.
func MakeCSR(b *der.Builder, sig riot.Signature) error { return finalize(b, sig) }

// EncodePublicKey emits a standalone SubjectPublicKeyInfo DER structure for
// pub, matching the original's X509GetDEREccPub: used for bare public-key
// PEM dumps outside of a certificate.
func EncodePublicKey(buf []byte, pub *riot.PublicKey) (*der.Builder, error) {
	b := der.New(buf)
	if err := addSubjectPublicKeyInfo(b, pub); err != nil {
		return nil, err
	}
	if b.NestingDepth() != 0 {
		return nil, fmt.Errorf("x509build: EncodePublicKey left nesting depth %d", b.NestingDepth())
	}
	return b, nil
}

// EncodePrivateKey emits a SEC1-style EC private key DER structure —
// SEQUENCE{ version=1, privateKey OCTET STRING, [0] parameters (curve OID),
// [1] publicKey BIT STRING } — matching the original's X509GetDEREcc.
func EncodePrivateKey(buf []byte, pub *riot.PublicKey, priv *riot.PrivateKey) (*der.Builder, error) {
	b := der.New(buf)
	if err := b.StartSequence(); err != nil {
		return nil, err
	}
	if err := b.Integer(1); err != nil {
		return nil, err
	}
	d, err := riot.PadCoordinate(priv.D)
	if err != nil {
		return nil, err
	}
	if err := b.OctetString(d); err != nil {
		return nil, err
	}
	if err := b.StartExplicit(0); err != nil {
		return nil, err
	}
	if err := b.OID(riot.CurveOID); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.StartExplicit(1); err != nil {
		return nil, err
	}
	if err := b.BitString(riot.ExportECCPub(pub)); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if err := b.PopNesting(); err != nil {
		return nil, err
	}
	if b.NestingDepth() != 0 {
		return nil, fmt.Errorf("x509build: EncodePrivateKey left nesting depth %d", b.NestingDepth())
	}
	return b, nil
}

// TrimGUID strips trailing '=' padding from s, mirroring the original's
// truncation of the base64 GUID buffer to a NUL-terminated C string.
// GenerateGUID's unpadded encoding already carries no padding.
func TrimGUID(s string) string {
	return strings.TrimRight(s, "=")
}
