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

package provreport

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := BenchReport{
		DeviceSerial:     []byte{0x04, 0x01, 0x02, 0x03},
		Provisioned:      true,
		RollbackDetected: true,
		LastVersion:      42,
		LastIssued:       1700000000,
		CertStorePEM:     []byte("-----BEGIN CERTIFICATE-----\n...\n-----END CERTIFICATE-----\n"),
		LoggedAt:         1712345678,
	}
	got, err := Unmarshal(want.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(got.DeviceSerial, want.DeviceSerial) {
		t.Errorf("DeviceSerial = %x, want %x", got.DeviceSerial, want.DeviceSerial)
	}
	if got.Provisioned != want.Provisioned {
		t.Errorf("Provisioned = %v, want %v", got.Provisioned, want.Provisioned)
	}
	if got.RollbackDetected != want.RollbackDetected {
		t.Errorf("RollbackDetected = %v, want %v", got.RollbackDetected, want.RollbackDetected)
	}
	if got.LastVersion != want.LastVersion {
		t.Errorf("LastVersion = %d, want %d", got.LastVersion, want.LastVersion)
	}
	if got.LastIssued != want.LastIssued {
		t.Errorf("LastIssued = %d, want %d", got.LastIssued, want.LastIssued)
	}
	if !bytes.Equal(got.CertStorePEM, want.CertStorePEM) {
		t.Error("CertStorePEM did not round-trip")
	}
	if got.LoggedAt != want.LoggedAt {
		t.Errorf("LoggedAt = %d, want %d", got.LoggedAt, want.LoggedAt)
	}
}

func TestMarshalOmitsZeroValueFields(t *testing.T) {
	r := BenchReport{}
	if len(r.Marshal()) != 0 {
		t.Errorf("Marshal of the zero value produced %d bytes, want 0 (proto3 omits default fields)", len(r.Marshal()))
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	// A varint field 99 (unknown to this schema) followed by a valid
	// last_version field 4; Unmarshal must skip the former and still decode
	// the latter.
	var b []byte
	b = appendTestVarintField(b, 99, 7)
	want := BenchReport{LastVersion: 42}
	b = append(b, want.Marshal()...)
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.LastVersion != 42 {
		t.Errorf("LastVersion = %d, want 42 (unknown field not skipped correctly)", got.LastVersion)
	}
}

// appendTestVarintField hand-encodes a single protobuf varint field without
// depending on any field this package's schema defines, exercising the
// unknown-field skip path in Unmarshal.
func appendTestVarintField(b []byte, fieldNum int, v uint64) []byte {
	tag := uint64(fieldNum)<<3 | 0 // wire type 0: varint
	b = appendVarint(b, tag)
	b = appendVarint(b, v)
	return b
}

func appendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}
