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

package riot

import (
	"bytes"
	"math/big"
	"testing"
)

func TestDeriveECCKeyIsDeterministic(t *testing.T) {
	seed := []byte("a firmware digest, 32 bytes long")
	pub1, priv1, err := DeriveECCKey(seed, LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey: %v", err)
	}
	pub2, priv2, err := DeriveECCKey(seed, LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey (second call): %v", err)
	}
	if priv1.D.Cmp(priv2.D) != 0 {
		t.Error("DeriveECCKey produced different private scalars for the same (seed, label)")
	}
	if pub1.X.Cmp(pub2.X) != 0 || pub1.Y.Cmp(pub2.Y) != 0 {
		t.Error("DeriveECCKey produced different public keys for the same (seed, label)")
	}
}

func TestDeriveECCKeyDiversifiesByLabel(t *testing.T) {
	seed := []byte("a firmware digest, 32 bytes long")
	_, privIdentity, err := DeriveECCKey(seed, LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey(LabelIdentity): %v", err)
	}
	_, privCompound, err := DeriveECCKey(seed, LabelCompound)
	if err != nil {
		t.Fatalf("DeriveECCKey(LabelCompound): %v", err)
	}
	if privIdentity.D.Cmp(privCompound.D) == 0 {
		t.Error("DeriveECCKey produced the same key for two different labels")
	}
}

func TestSignVerifyDigestRoundTrip(t *testing.T) {
	_, priv, err := DeriveECCKey([]byte("seed"), LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey: %v", err)
	}
	digest := Hash([]byte("some firmware image bytes"))
	sig, err := Sign(digest[:], priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !VerifyDigest(digest[:], sig, &priv.PublicKey) {
		t.Error("VerifyDigest rejected a signature produced by the matching private key")
	}
	other := Hash([]byte("a different image"))
	if VerifyDigest(other[:], sig, &priv.PublicKey) {
		t.Error("VerifyDigest accepted a signature over the wrong digest")
	}
}

func TestExportDecodePublicKeyRoundTrip(t *testing.T) {
	pub, _, err := DeriveECCKey([]byte("seed"), LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey: %v", err)
	}
	raw := ExportECCPub(pub)
	if raw[0] != 0x04 {
		t.Fatalf("ExportECCPub prefix = %#x, want 0x04", raw[0])
	}
	if len(raw) != 1+2*CoordSize() {
		t.Fatalf("ExportECCPub length = %d, want %d", len(raw), 1+2*CoordSize())
	}
	decoded, err := DecodePublicKey(raw)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if decoded.X.Cmp(pub.X) != 0 || decoded.Y.Cmp(pub.Y) != 0 {
		t.Error("DecodePublicKey did not reconstruct the original public key")
	}
}

func TestDecodePublicKeyRejectsWrongLength(t *testing.T) {
	if _, err := DecodePublicKey([]byte{0x04, 0x01, 0x02}); err == nil {
		t.Error("DecodePublicKey accepted a truncated buffer")
	}
}

func TestDecodePublicKeyRejectsWrongPrefix(t *testing.T) {
	raw := make([]byte, 1+2*CoordSize())
	raw[0] = 0x02 // compressed-form prefix, unsupported
	if _, err := DecodePublicKey(raw); err == nil {
		t.Error("DecodePublicKey accepted a non-0x04 prefix")
	}
}

func TestPadCoordinateLeftPadsToCoordSize(t *testing.T) {
	v := big.NewInt(1)
	out, err := PadCoordinate(v)
	if err != nil {
		t.Fatalf("PadCoordinate: %v", err)
	}
	if len(out) != CoordSize() {
		t.Fatalf("PadCoordinate length = %d, want %d", len(out), CoordSize())
	}
	if out[len(out)-1] != 1 {
		t.Errorf("PadCoordinate last byte = %d, want 1", out[len(out)-1])
	}
	for _, b := range out[:len(out)-1] {
		if b != 0 {
			t.Fatalf("PadCoordinate left-padding byte = %#x, want 0", b)
		}
	}
}

func TestPadCoordinateRejectsOversizedValue(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), uint(CoordSize()*8+8))
	if _, err := PadCoordinate(huge); err == nil {
		t.Error("PadCoordinate accepted a value wider than the configured curve")
	}
}

func TestDecodePrivateKeyMatchesPadCoordinate(t *testing.T) {
	pub, priv, err := DeriveECCKey([]byte("seed"), LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey: %v", err)
	}
	raw, err := PadCoordinate(priv.D)
	if err != nil {
		t.Fatalf("PadCoordinate: %v", err)
	}
	decoded := DecodePrivateKey(raw, pub)
	if decoded.D.Cmp(priv.D) != 0 {
		t.Error("DecodePrivateKey(PadCoordinate(D)) did not round-trip D")
	}
}

func TestKDFIsDeterministicAndLabelSensitive(t *testing.T) {
	secret := []byte("device secret")
	out1, err := KDF(20, secret, nil, LabelSerial)
	if err != nil {
		t.Fatalf("KDF: %v", err)
	}
	out2, err := KDF(20, secret, nil, LabelSerial)
	if err != nil {
		t.Fatalf("KDF (second call): %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Error("KDF is not deterministic for identical inputs")
	}
	out3, err := KDF(20, secret, nil, LabelIdentity)
	if err != nil {
		t.Fatalf("KDF with different label: %v", err)
	}
	if bytes.Equal(out1, out3) {
		t.Error("KDF produced identical output for two different labels")
	}
}
