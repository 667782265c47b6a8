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

package x509build

import (
	"crypto/x509"
	"strconv"
	"strings"
	"testing"

	"github.com/project-barnacle/barnacle-boot/internal/riot"
)

func mustKey(t *testing.T, seed string) (*riot.PublicKey, *riot.PrivateKey) {
	t.Helper()
	pub, priv, err := riot.DeriveECCKey([]byte(seed), riot.LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey(%q): %v", seed, err)
	}
	return pub, priv
}

func serial(t *testing.T, seed byte) [SerialLength]byte {
	t.Helper()
	var out [SerialLength]byte
	digest, err := riot.KDF(SerialLength, []byte{seed}, nil, riot.LabelSerial)
	if err != nil {
		t.Fatalf("KDF: %v", err)
	}
	ForcePositiveNonZero(digest)
	copy(out[:], digest)
	return out
}

func baseData(t *testing.T, seed byte) TBSData {
	return TBSData{
		SerialNum:      serial(t, seed),
		IssuerCommon:   "Barnacle Device",
		IssuerOrg:      "Project Barnacle",
		IssuerCountry:  "US",
		ValidFrom:      "240101000000Z",
		ValidTo:        "440101000000Z",
		SubjectCommon:  "Barnacle Device",
		SubjectOrg:     "Project Barnacle",
		SubjectCountry: "US",
	}
}

func TestForcePositiveNonZeroClearsMSBAndSetsLowBit(t *testing.T) {
	digest := []byte{0xFF, 0xFF, 0xFF, 0xFE}
	ForcePositiveNonZero(digest)
	if digest[0]&0x80 != 0 {
		t.Errorf("byte 0 = %#x, MSB still set", digest[0])
	}
	if digest[0]&0x01 == 0 {
		t.Errorf("byte 0 = %#x, low bit not set", digest[0])
	}

	allZero := make([]byte, 20)
	ForcePositiveNonZero(allZero)
	nonZero := false
	for _, b := range allZero {
		if b != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("ForcePositiveNonZero left an all-zero digest, serial would be zero")
	}
}

func TestGenerateGUIDIsDeterministicAndURLSafe(t *testing.T) {
	seed := []byte{1, 2, 3, 4}
	g1 := GenerateGUID(seed)
	g2 := GenerateGUID(seed)
	if g1 != g2 {
		t.Error("GenerateGUID is not deterministic for the same seed")
	}
	if len(g1) != 22 {
		t.Errorf("GenerateGUID length = %d, want 22", len(g1))
	}
	other := GenerateGUID([]byte{5, 6, 7, 8})
	if g1 == other {
		t.Error("GenerateGUID produced the same output for two different seeds")
	}
}

func TestRootDeviceAliasChainVerifiesWithStdlibX509(t *testing.T) {
	rootPub, rootPriv := mustKey(t, "root seed")
	devicePub, devicePriv := mustKey(t, "device seed")
	aliasPub, _ := mustKey(t, "alias seed")

	rootData := baseData(t, 1)
	rootData.SubjectCommon = "Barnacle Device Root"
	rootData.IssuerCommon = "Barnacle Device Root"
	rootBuf := make([]byte, 2048)
	rootTBS, err := RootTBS(rootBuf, rootData, rootPub)
	if err != nil {
		t.Fatalf("RootTBS: %v", err)
	}
	rootDigest := riot.Hash(rootTBS.Bytes())
	rootSig, err := riot.Sign(rootDigest[:], rootPriv)
	if err != nil {
		t.Fatalf("Sign(root): %v", err)
	}
	if err := MakeRootCert(rootTBS, rootSig); err != nil {
		t.Fatalf("MakeRootCert: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootTBS.Bytes())
	if err != nil {
		t.Fatalf("ParseCertificate(root): %v", err)
	}
	if !rootCert.IsCA {
		t.Error("root certificate is not marked as a CA")
	}

	deviceData := baseData(t, 2)
	deviceData.IssuerCommon = "Barnacle Device Root"
	deviceBuf := make([]byte, 2048)
	deviceTBS, err := DeviceTBS(deviceBuf, deviceData, devicePub, rootPub)
	if err != nil {
		t.Fatalf("DeviceTBS: %v", err)
	}
	deviceDigest := riot.Hash(deviceTBS.Bytes())
	deviceSig, err := riot.Sign(deviceDigest[:], rootPriv)
	if err != nil {
		t.Fatalf("Sign(device): %v", err)
	}
	if err := MakeDeviceCert(deviceTBS, deviceSig); err != nil {
		t.Fatalf("MakeDeviceCert: %v", err)
	}
	deviceCert, err := x509.ParseCertificate(deviceTBS.Bytes())
	if err != nil {
		t.Fatalf("ParseCertificate(device): %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(rootCert)
	if _, err := deviceCert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		t.Errorf("device certificate did not chain to root: %v", err)
	}

	fwid := riot.Hash([]byte("firmware image bytes"))
	aliasData := baseData(t, 3)
	aliasData.SubjectCommon = "*"
	aliasData.IssuerCommon = deviceData.SubjectCommon
	aliasBuf := make([]byte, 2048)
	aliasTBS, err := AliasTBS(aliasBuf, aliasData, aliasPub, devicePub, fwid[:])
	if err != nil {
		t.Fatalf("AliasTBS: %v", err)
	}
	aliasDigest := riot.Hash(aliasTBS.Bytes())
	aliasSig, err := riot.Sign(aliasDigest[:], devicePriv)
	if err != nil {
		t.Fatalf("Sign(alias): %v", err)
	}
	if err := MakeAliasCert(aliasTBS, aliasSig); err != nil {
		t.Fatalf("MakeAliasCert: %v", err)
	}
	aliasCert, err := x509.ParseCertificate(aliasTBS.Bytes())
	if err != nil {
		t.Fatalf("ParseCertificate(alias): %v", err)
	}
	if aliasCert.Subject.CommonName == "*" {
		t.Error("AliasTBS did not replace the \"*\" subject common name with a GUID")
	}

	devicePool := x509.NewCertPool()
	devicePool.AddCert(deviceCert)
	if _, err := aliasCert.Verify(x509.VerifyOptions{
		Roots:     devicePool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		t.Errorf("alias certificate did not chain to device: %v", err)
	}

	var foundFWID bool
	for _, ext := range aliasCert.Extensions {
		if ext.Id.String() == riotOIDString() {
			foundFWID = true
			if !bytesContain(ext.Value, fwid[:]) {
				t.Error("riot extension does not contain the exact fwid bytes")
			}
		}
	}
	if !foundFWID {
		t.Error("alias certificate is missing the riot extension")
	}
}

func TestCSRRoundTripsThroughStdlib(t *testing.T) {
	devicePub, devicePriv := mustKey(t, "csr device seed")
	data := TBSData{IssuerCommon: "Barnacle Device", IssuerOrg: "Project Barnacle", IssuerCountry: "US"}
	buf := make([]byte, 2048)
	tbs, err := CSRTBS(buf, data, devicePub)
	if err != nil {
		t.Fatalf("CSRTBS: %v", err)
	}
	digest := riot.Hash(tbs.Bytes())
	sig, err := riot.Sign(digest[:], devicePriv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := MakeCSR(tbs, sig); err != nil {
		t.Fatalf("MakeCSR: %v", err)
	}
	csr, err := x509.ParseCertificateRequest(tbs.Bytes())
	if err != nil {
		t.Fatalf("ParseCertificateRequest: %v", err)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Errorf("CSR signature does not verify: %v", err)
	}
}

func TestEncodePublicKeyAndPrivateKeyDER(t *testing.T) {
	pub, priv := mustKey(t, "standalone key seed")
	pubBuf := make([]byte, 256)
	pubDER, err := EncodePublicKey(pubBuf, pub)
	if err != nil {
		t.Fatalf("EncodePublicKey: %v", err)
	}
	parsedPub, err := x509.ParsePKIXPublicKey(pubDER.Bytes())
	if err != nil {
		t.Fatalf("ParsePKIXPublicKey: %v", err)
	}
	if _, ok := parsedPub.(*riot.PublicKey); !ok {
		t.Errorf("ParsePKIXPublicKey returned %T, want *ecdsa.PublicKey", parsedPub)
	}

	privBuf := make([]byte, 256)
	privDER, err := EncodePrivateKey(privBuf, pub, priv)
	if err != nil {
		t.Fatalf("EncodePrivateKey: %v", err)
	}
	parsedPriv, err := x509.ParseECPrivateKey(privDER.Bytes())
	if err != nil {
		t.Fatalf("ParseECPrivateKey: %v", err)
	}
	if parsedPriv.D.Cmp(priv.D) != 0 {
		t.Error("ParseECPrivateKey did not recover the original private scalar")
	}
}

func bytesContain(haystack, needle []byte) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func riotOIDString() string {
	parts := make([]string, len(riotOID))
	for i, arc := range riotOID {
		parts[i] = strconv.Itoa(arc)
	}
	return strings.Join(parts, ".")
}
