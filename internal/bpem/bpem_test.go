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

package bpem

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	der := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 20)
	pem := Encode(TypeCertificate, der)
	if !bytes.Contains(pem, []byte("BEGIN CERTIFICATE")) {
		t.Fatalf("Encode output missing BEGIN header: %s", pem)
	}
	got, ok := Decode(TypeCertificate, pem)
	if !ok {
		t.Fatal("Decode reported failure on output it just encoded")
	}
	if !bytes.Equal(got, der) {
		t.Error("Decode did not recover the original DER bytes")
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	pem := Encode(TypeCertificate, []byte{1, 2, 3})
	if _, ok := Decode(TypeECPrivateKey, pem); ok {
		t.Error("Decode accepted a block of a different type")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, ok := Decode(TypeCertificate, []byte("not a pem block")); ok {
		t.Error("Decode accepted non-PEM input")
	}
}
