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

// Package provreport defines a wire format for cmd/barnacle-prov bench log
// records: one record per unit inspected, carrying the outcome of a status
// or force-provision run. force-provision fills a BenchReport and prints it
// as a countersigned text note; no command writes the wire encoding below.
// Encoding is hand-rolled over
// google.golang.org/protobuf/encoding/protowire rather than a
// protoc-generated message type, since this module is built without
// running the protobuf compiler; the field layout below is the message
// schema a .proto definition would otherwise describe:
//
//	message BenchReport {
//	  bytes  device_serial     = 1;
//	  bool   provisioned       = 2;
//	  bool   rollback_detected = 3;
//	  uint32 last_version      = 4;
//	  uint32 last_issued       = 5;
//	  bytes  cert_store_pem    = 6;
//	  uint32 logged_at         = 7;
//	}
package provreport

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for BenchReport, matching the schema in the package doc.
const (
	fieldDeviceSerial     = 1
	fieldProvisioned      = 2
	fieldRollbackDetected = 3
	fieldLastVersion      = 4
	fieldLastIssued       = 5
	fieldCertStorePEM     = 6
	fieldLoggedAt         = 7
)

// BenchReport is one bench log entry.
type BenchReport struct {
	DeviceSerial     []byte
	Provisioned      bool
	RollbackDetected bool
	LastVersion      uint32
	LastIssued       uint32
	CertStorePEM     []byte
	LoggedAt         uint32 // Unix seconds
}

// Marshal encodes r in protobuf wire format.
func (r BenchReport) Marshal() []byte {
	var b []byte
	if len(r.DeviceSerial) > 0 {
		b = protowire.AppendTag(b, fieldDeviceSerial, protowire.BytesType)
		b = protowire.AppendBytes(b, r.DeviceSerial)
	}
	if r.Provisioned {
		b = protowire.AppendTag(b, fieldProvisioned, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(r.Provisioned))
	}
	if r.RollbackDetected {
		b = protowire.AppendTag(b, fieldRollbackDetected, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(r.RollbackDetected))
	}
	if r.LastVersion != 0 {
		b = protowire.AppendTag(b, fieldLastVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.LastVersion))
	}
	if r.LastIssued != 0 {
		b = protowire.AppendTag(b, fieldLastIssued, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.LastIssued))
	}
	if len(r.CertStorePEM) > 0 {
		b = protowire.AppendTag(b, fieldCertStorePEM, protowire.BytesType)
		b = protowire.AppendBytes(b, r.CertStorePEM)
	}
	if r.LoggedAt != 0 {
		b = protowire.AppendTag(b, fieldLoggedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.LoggedAt))
	}
	return b
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// Unmarshal decodes a BenchReport from protobuf wire format, skipping any
// unknown fields (forwards compatibility, matching proto3 semantics).
func Unmarshal(b []byte) (BenchReport, error) {
	var r BenchReport
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("provreport: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldDeviceSerial, fieldCertStorePEM:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, fmt.Errorf("provreport: invalid bytes field %d: %w", num, protowire.ParseError(n))
			}
			if num == fieldDeviceSerial {
				r.DeviceSerial = append([]byte{}, v...)
			} else {
				r.CertStorePEM = append([]byte{}, v...)
			}
			b = b[n:]
		case fieldProvisioned, fieldRollbackDetected, fieldLastVersion, fieldLastIssued, fieldLoggedAt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("provreport: invalid varint field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldProvisioned:
				r.Provisioned = v != 0
			case fieldRollbackDetected:
				r.RollbackDetected = v != 0
			case fieldLastVersion:
				r.LastVersion = uint32(v)
			case fieldLastIssued:
				r.LastIssued = uint32(v)
			case fieldLoggedAt:
				r.LoggedAt = uint32(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("provreport: invalid field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}
