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

// Package bpem wraps encoding/pem for the handful of PEM block types the
// boot core produces. Base64 and PEM wrapping are named in spec §1 as
// external collaborators of the original C implementation; here they are
// simply the standard library, the same boundary spec.md draws.
package bpem

import (
	"bytes"
	"encoding/pem"
)

// Block type labels, matching the original's small PEMhf table.
const (
	TypeCertificate        = "CERTIFICATE"
	TypeCertificateRequest = "CERTIFICATE REQUEST"
	TypeECPrivateKey       = "EC PRIVATE KEY"
	TypePublicKey          = "PUBLIC KEY"
)

// Encode wraps der as a PEM block of the given type, base64-encoded and
// wrapped to 64 columns by encoding/pem.
func Encode(typ string, der []byte) []byte {
	var buf bytes.Buffer
	// pem.Encode never returns an error for a well-formed *pem.Block.
	_ = pem.Encode(&buf, &pem.Block{Type: typ, Bytes: der})
	return buf.Bytes()
}

// Decode extracts the DER payload from the first PEM block in data. It
// reports false if data holds no PEM block or if that first block's type is
// not typ; later blocks are not examined.
func Decode(typ string, data []byte) ([]byte, bool) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != typ {
		return nil, false
	}
	return block.Bytes, true
}
