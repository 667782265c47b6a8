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

// Package riot implements the CryptoPrimitives surface the boot core
// consumes: hash, one-shot KDF, deterministic ECC key derivation, sign,
// verify, and SEC1 public-key export. It depends on a single audited curve
// library (crypto/ecdsa plus golang.org/x/crypto/hkdf) rather than mixing
// bigint backends the way the original C implementation mixed an mbedTLS
// MPI representation with a separate ECC library; the BigIntToBigVal-style
// normalization the original needed at its library boundary simply does
// not arise here.
package riot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// DigestLength is the length in bytes of a firmware measurement digest.
const DigestLength = sha256.Size

// LabelIdentity, LabelCompound and LabelSerial are the diversifier labels
// fed to KDF and DeriveECCKey when deriving the device identity, the
// compound identity and a certificate serial number, respectively.
var (
	LabelIdentity = []byte("Identity")
	LabelSerial   = []byte("Serial")
	LabelCompound = []byte("Compound")
)

// Curve is the single configured curve for every derived key and
// certificate in this build. The riotsecp384r1 or riotsecp521r1 build tag
// selects P-384 or P-521; with neither tag set it is P-256. See curve_*.go.
var Curve elliptic.Curve = elliptic.P256()

// CoordSize returns the byte width of a curve coordinate (and thus of an
// ECDSA signature's r/s components once left-padded), e.g. 32 for P-256.
func CoordSize() int {
	return (Curve.Params().BitSize + 7) / 8
}

// Hash computes SHA-256 over in.
func Hash(in []byte) [DigestLength]byte {
	return sha256.Sum256(in)
}

// KDF is a one-shot HKDF (extract then expand) derivation: it mixes secret
// (the HKDF input keying material, with no salt) with context and label
// (concatenated as HKDF "info") and reads outLen bytes from the resulting
// stream. label is
// typically a short ASCII tag such as "Identity" or "Serial"; context may
// be nil.
func KDF(outLen int, secret, context, label []byte) ([]byte, error) {
	info := append(append([]byte{}, context...), label...)
	r := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("riot: KDF: %w", err)
	}
	return out, nil
}

// PublicKey and PrivateKey alias the stdlib ECDSA types; kept as named
// types so call sites read like the original's RIOT_ECC_PUBLIC/PRIVATE.
type (
	PublicKey  = ecdsa.PublicKey
	PrivateKey = ecdsa.PrivateKey
)

// deterministicReader turns an HKDF stream into an io.Reader that always
// fills the whole buffer, the source of DeriveECCKey's private scalar:
// the same (seed, label) always yields the same key pair.
type deterministicReader struct {
	r io.Reader
}

func (d *deterministicReader) Read(p []byte) (int, error) { return io.ReadFull(d.r, p) }

// DeriveECCKey deterministically derives an ECC key pair on Curve from seed
// (the CDI, or a firmware digest) and label (a diversifier such as
// "Identity"). The derivation never touches crypto/rand: the same
// (seed, label) pair always yields the same key pair, which is exactly the
// DICE property the compound key depends on.
func DeriveECCKey(seed, label []byte) (*PublicKey, *PrivateKey, error) {
	stream := &deterministicReader{r: hkdf.New(sha256.New, seed, nil, label)}
	// Draw 64 extra bits and reduce into [1, N-1], so the scalar depends
	// only on the HKDF output and is free of noticeable modulo bias.
	b := make([]byte, CoordSize()+8)
	if _, err := stream.Read(b); err != nil {
		return nil, nil, fmt.Errorf("riot: DeriveECCKey: %w", err)
	}
	nMinusOne := new(big.Int).Sub(Curve.Params().N, big.NewInt(1))
	d := new(big.Int).SetBytes(b)
	d.Mod(d, nMinusOne).Add(d, big.NewInt(1))
	priv := &PrivateKey{PublicKey: PublicKey{Curve: Curve}, D: d}
	priv.PublicKey.X, priv.PublicKey.Y = Curve.ScalarBaseMult(d.Bytes())
	return &priv.PublicKey, priv, nil
}

// Signature is an ECDSA (r, s) pair.
type Signature struct {
	R, S *big.Int
}

// Sign computes an ECDSA signature of digest (expected to already be a
// SHA-256 hash) under priv.
func Sign(digest []byte, priv *PrivateKey) (Signature, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return Signature{}, fmt.Errorf("riot: Sign: %w", err)
	}
	return Signature{R: r, S: s}, nil
}

// VerifyDigest reports whether sig is a valid signature of digest under
// pub.
func VerifyDigest(digest []byte, sig Signature, pub *PublicKey) bool {
	return ecdsa.Verify(pub, digest, sig.R, sig.S)
}

// ExportECCPub encodes pub in uncompressed SEC1 form: 0x04 || X || Y, each
// coordinate left-padded to CoordSize bytes.
func ExportECCPub(pub *PublicKey) []byte {
	sz := CoordSize()
	out := make([]byte, 1+2*sz)
	out[0] = 0x04
	pub.X.FillBytes(out[1 : 1+sz])
	pub.Y.FillBytes(out[1+sz : 1+2*sz])
	return out
}

// DecodePublicKey parses an uncompressed SEC1 public key (0x04||X||Y) on
// Curve, the inverse of ExportECCPub.
func DecodePublicKey(raw []byte) (*PublicKey, error) {
	sz := CoordSize()
	if len(raw) != 1+2*sz || raw[0] != 0x04 {
		return nil, fmt.Errorf("riot: unexpected public key encoding (len %d, want %d)", len(raw), 1+2*sz)
	}
	return &PublicKey{
		Curve: Curve,
		X:     new(big.Int).SetBytes(raw[1 : 1+sz]),
		Y:     new(big.Int).SetBytes(raw[1+sz : 1+2*sz]),
	}, nil
}

// DecodePrivateKey pairs a raw big-endian private scalar with its public
// key, the inverse of PadCoordinate applied to priv.D.
func DecodePrivateKey(raw []byte, pub *PublicKey) *PrivateKey {
	return &PrivateKey{PublicKey: *pub, D: new(big.Int).SetBytes(raw)}
}

// PadCoordinate left-pads a signature component to CoordSize bytes, the
// same normalization the original applied when copying an mbedTLS MPI into
// a fixed-width buffer ahead of DER encoding.
func PadCoordinate(v *big.Int) ([]byte, error) {
	sz := CoordSize()
	b := v.Bytes()
	if len(b) > sz {
		return nil, errors.New("riot: coordinate too large for configured curve")
	}
	out := make([]byte, sz)
	copy(out[sz-len(b):], b)
	return out, nil
}
