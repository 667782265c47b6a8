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

package verify

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/project-barnacle/barnacle-boot/internal/riot"
)

// Magic is the agent header's expected magic tag, the same value every
// other persistent region uses.
const Magic uint32 = 0x42524E4C // "BRNL"

// MaxHeaderVersion is the highest header-format version this build
// understands. A header reporting a higher version is rejected at Start
// rather than misparsed.
const MaxHeaderVersion = 1

// NameFieldLen is the fixed width of the agent's name field.
const NameFieldLen = 32

// AgentHeader is the packed header spec §6 describes: little-endian,
// fixed-width, resident at the start of the AgentHdr region immediately
// before the agent's code bytes.
type AgentHeader struct {
	HeaderMagic   uint32
	HeaderVersion uint32
	// HeaderSize is the byte count from the start of the header to the
	// start of the agent's code, i.e. AgentCode.Base - AgentHdr.Base.
	HeaderSize uint32

	Name         string
	AgentVersion uint32
	Issued       uint32
	AgentSize    uint32
	Digest       [riot.DigestLength]byte

	HasSignature bool
	Signature    riot.Signature
}

func fixedName(name string) [NameFieldLen]byte {
	var out [NameFieldLen]byte
	copy(out[:], name)
	return out
}

// signedBytes returns the byte span the header digest is computed over:
// every field up to and including the agent digest, excluding the
// signature itself.
func (h AgentHeader) signedBytes() []byte {
	buf := make([]byte, 0, 4+4+4+NameFieldLen+4+4+4+riot.DigestLength)
	buf = binary.LittleEndian.AppendUint32(buf, h.HeaderMagic)
	buf = binary.LittleEndian.AppendUint32(buf, h.HeaderVersion)
	buf = binary.LittleEndian.AppendUint32(buf, h.HeaderSize)
	name := fixedName(h.Name)
	buf = append(buf, name[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.AgentVersion)
	buf = binary.LittleEndian.AppendUint32(buf, h.Issued)
	buf = binary.LittleEndian.AppendUint32(buf, h.AgentSize)
	buf = append(buf, h.Digest[:]...)
	return buf
}

// Marshal serializes h, including the signature when HasSignature is set.
// coordSize must be riot.CoordSize() for the configured curve.
func (h AgentHeader) Marshal(coordSize int) ([]byte, error) {
	out := h.signedBytes()
	if !h.HasSignature {
		return out, nil
	}
	r, err := riot.PadCoordinate(h.Signature.R)
	if err != nil {
		return nil, err
	}
	s, err := riot.PadCoordinate(h.Signature.S)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)
	out = append(out, s...)
	return out, nil
}

// UnmarshalAgentHeader parses b, which must begin with a signed region
// followed — when hasSignature is true — by a raw big-endian (r, s) pair
// each coordSize bytes wide.
func UnmarshalAgentHeader(b []byte, hasSignature bool, coordSize int) (AgentHeader, error) {
	var h AgentHeader
	signedLen := 4 + 4 + 4 + NameFieldLen + 4 + 4 + 4 + riot.DigestLength
	if len(b) < signedLen {
		return h, fmt.Errorf("verify: short buffer unmarshaling agent header (have %d, want %d)", len(b), signedLen)
	}
	h.HeaderMagic = binary.LittleEndian.Uint32(b)
	b = b[4:]
	h.HeaderVersion = binary.LittleEndian.Uint32(b)
	b = b[4:]
	h.HeaderSize = binary.LittleEndian.Uint32(b)
	b = b[4:]
	name := b[:NameFieldLen]
	h.Name = string(bytes.TrimRight(name, "\x00"))
	b = b[NameFieldLen:]
	h.AgentVersion = binary.LittleEndian.Uint32(b)
	b = b[4:]
	h.Issued = binary.LittleEndian.Uint32(b)
	b = b[4:]
	h.AgentSize = binary.LittleEndian.Uint32(b)
	b = b[4:]
	copy(h.Digest[:], b[:riot.DigestLength])
	b = b[riot.DigestLength:]

	if !hasSignature {
		return h, nil
	}
	if len(b) < 2*coordSize {
		return h, fmt.Errorf("verify: short buffer unmarshaling agent signature (have %d, want %d)", len(b), 2*coordSize)
	}
	h.HasSignature = true
	h.Signature = riot.Signature{
		R: new(big.Int).SetBytes(b[:coordSize]),
		S: new(big.Int).SetBytes(b[coordSize : 2*coordSize]),
	}
	return h, nil
}
