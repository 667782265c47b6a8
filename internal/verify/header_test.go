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
	"testing"

	"github.com/project-barnacle/barnacle-boot/internal/riot"
)

func TestAgentHeaderMarshalUnmarshalRoundTripWithoutSignature(t *testing.T) {
	h := AgentHeader{
		HeaderMagic:   Magic,
		HeaderVersion: 1,
		HeaderSize:    4096,
		Name:          "witness-agent",
		AgentVersion:  3,
		Issued:        1700000000,
		AgentSize:     1024,
		Digest:        riot.Hash([]byte("some code")),
	}
	raw, err := h.Marshal(riot.CoordSize())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalAgentHeader(raw, false, riot.CoordSize())
	if err != nil {
		t.Fatalf("UnmarshalAgentHeader: %v", err)
	}
	if got != h {
		t.Errorf("round-tripped header = %+v, want %+v", got, h)
	}
}

func TestAgentHeaderMarshalUnmarshalRoundTripWithSignature(t *testing.T) {
	_, priv, err := riot.DeriveECCKey([]byte("author seed"), riot.LabelIdentity)
	if err != nil {
		t.Fatalf("DeriveECCKey: %v", err)
	}
	h := AgentHeader{
		HeaderMagic:   Magic,
		HeaderVersion: 1,
		HeaderSize:    4096,
		Name:          "witness-agent",
		AgentVersion:  3,
		Issued:        1700000000,
		AgentSize:     1024,
		Digest:        riot.Hash([]byte("some code")),
	}
	digest := riot.Hash(h.signedBytes())
	sig, err := riot.Sign(digest[:], priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	h.HasSignature = true
	h.Signature = sig

	raw, err := h.Marshal(riot.CoordSize())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalAgentHeader(raw, true, riot.CoordSize())
	if err != nil {
		t.Fatalf("UnmarshalAgentHeader: %v", err)
	}
	if got.Name != h.Name || got.AgentVersion != h.AgentVersion || got.Issued != h.Issued {
		t.Error("round-tripped header fields do not match")
	}
	if got.Signature.R.Cmp(h.Signature.R) != 0 || got.Signature.S.Cmp(h.Signature.S) != 0 {
		t.Error("round-tripped signature does not match")
	}
}

func TestUnmarshalAgentHeaderTrimsNameField(t *testing.T) {
	h := AgentHeader{HeaderMagic: Magic, Name: "short", Digest: riot.Hash([]byte("x"))}
	raw, err := h.Marshal(riot.CoordSize())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalAgentHeader(raw, false, riot.CoordSize())
	if err != nil {
		t.Fatalf("UnmarshalAgentHeader: %v", err)
	}
	if got.Name != "short" {
		t.Errorf("Name = %q, want %q (NUL padding not trimmed)", got.Name, "short")
	}
}

func TestUnmarshalAgentHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := UnmarshalAgentHeader([]byte{1, 2, 3}, false, riot.CoordSize()); err == nil {
		t.Error("UnmarshalAgentHeader accepted a buffer far shorter than a header")
	}
}

func TestUnmarshalAgentHeaderRejectsShortSignature(t *testing.T) {
	h := AgentHeader{HeaderMagic: Magic, Digest: riot.Hash([]byte("x"))}
	raw, err := h.Marshal(riot.CoordSize())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := UnmarshalAgentHeader(raw, true, riot.CoordSize()); err == nil {
		t.Error("UnmarshalAgentHeader accepted hasSignature=true with no signature bytes present")
	}
}
