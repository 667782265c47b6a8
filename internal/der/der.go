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

// Package der is a small stack-based streaming ASN.1 DER encoder, just
// capable enough to build the handful of SEQUENCE/SET/INTEGER/OID/BIT
// STRING shapes that make up an X.509 certificate. It mirrors the
// encode-forward, backpatch-length-on-pop approach of a minimal embedded
// DER encoder: callers open a SEQUENCE, SET, [n] EXPLICIT, or an enveloping
// OCTET/BIT STRING with a Start* call, write its contents, and close it
// with PopNesting, which measures the span written since the matching
// Start*, computes the DER length encoding, and shifts the payload right to
// make room for the tag+length header.
package der

import (
	"errors"
	"fmt"
)

// MaxNested bounds the nesting-frame stack, matching the small fixed-size
// stack a constrained encoder budgets for.
const MaxNested = 12

// ErrOverflow is returned by any adder that would write past the end of the
// caller-supplied buffer. Once returned, the Builder must be discarded: the
// buffer may be left in an indeterminate state.
var ErrOverflow = errors.New("der: buffer overflow")

// ErrEmptyStack is returned by PopNesting when there is no open frame to
// close.
var ErrEmptyStack = errors.New("der: pop with no open nesting frame")

// Builder is a fixed-capacity DER encoder. The zero value is not usable;
// construct with New.
type Builder struct {
	buf    []byte
	pos    int
	frames [MaxNested]int
	depth  int
}

// New wraps buf (which the caller owns and must size generously: an
// encoding routine that overflows the buffer returns ErrOverflow and
// leaves the Builder unusable) as a fresh Builder.
func New(buf []byte) *Builder {
	for i := range buf {
		buf[i] = 0
	}
	return &Builder{buf: buf}
}

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return b.pos }

// Bytes returns the encoded bytes written so far. The returned slice aliases
// the Builder's internal buffer.
func (b *Builder) Bytes() []byte { return b.buf[:b.pos] }

// NestingDepth returns the number of currently open Start* frames. A
// complete top-level structure has NestingDepth() == 0.
func (b *Builder) NestingDepth() int { return b.depth }

func (b *Builder) checkSpace(n int) error {
	if b.pos+n > len(b.buf) {
		return ErrOverflow
	}
	return nil
}

func (b *Builder) put(bs ...byte) error {
	if err := b.checkSpace(len(bs)); err != nil {
		return err
	}
	copy(b.buf[b.pos:], bs)
	b.pos += len(bs)
	return nil
}

// lenEncodedSize returns the number of bytes the DER length-encoding of n
// occupies: short-form (1 byte) for n < 128, long-form otherwise. Lengths
// above 64KiB are rejected; nothing this encoder builds needs them.
func lenEncodedSize(n int) (int, error) {
	switch {
	case n < 0 || n >= 1<<16:
		return 0, fmt.Errorf("der: length %d out of range", n)
	case n < 128:
		return 1, nil
	case n < 256:
		return 2, nil
	default:
		return 3, nil
	}
}

func encodeLen(n int) ([]byte, error) {
	sz, err := lenEncodedSize(n)
	if err != nil {
		return nil, err
	}
	switch sz {
	case 1:
		return []byte{byte(n)}, nil
	case 2:
		return []byte{0x81, byte(n)}, nil
	default:
		return []byte{0x82, byte(n >> 8), byte(n)}, nil
	}
}

// Boolean appends a DER BOOLEAN.
func (b *Builder) Boolean(v bool) error {
	val := byte(0x00)
	if v {
		val = 0xFF
	}
	return b.put(0x01, 0x01, val)
}

// IntegerFromArray appends a DER INTEGER built from an unsigned big-endian
// byte array: leading zero bytes are stripped, and a leading 0x00 byte is
// re-inserted if the most significant remaining bit is set, so the value is
// never misread as negative.
func (b *Builder) IntegerFromArray(val []byte) error {
	lead := 0
	for lead < len(val)-1 && val[lead] == 0 {
		lead++
	}
	v := val[lead:]
	negative := len(v) > 0 && v[0] >= 0x80
	n := len(v)
	if negative {
		n++
	}
	if err := b.checkSpace(2 + n); err != nil {
		return err
	}
	hdr, err := encodeLen(n)
	if err != nil {
		return err
	}
	if err := b.put(0x02); err != nil {
		return err
	}
	if err := b.put(hdr...); err != nil {
		return err
	}
	if negative {
		if err := b.put(0x00); err != nil {
			return err
		}
	}
	return b.put(v...)
}

// Integer appends a DER INTEGER built from a native int, treated as a
// 32-bit big-endian unsigned quantity before the same leading-zero/negative
// handling as IntegerFromArray.
func (b *Builder) Integer(val int) error {
	bs := []byte{byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val)}
	return b.IntegerFromArray(bs)
}

// ShortExplicitInteger appends a small context-specific [n] EXPLICIT
// wrapper around a 32-bit INTEGER, the shape X.509 uses for the version
// field: tag 0xA0+n, a length byte, then the INTEGER TLV.
func (b *Builder) ShortExplicitInteger(n int, val int) error {
	if n < 0 || n > 30 {
		return fmt.Errorf("der: explicit tag number %d out of range", n)
	}
	if err := b.StartExplicit(n); err != nil {
		return err
	}
	if err := b.Integer(val); err != nil {
		return err
	}
	return b.PopNesting()
}

// OID appends a DER OBJECT IDENTIFIER built from an arc list, e.g.
// {1, 2, 840, 10045, 4, 3, 2} for ecdsa-with-SHA256.
func (b *Builder) OID(arcs []int) error {
	if len(arcs) < 2 {
		return fmt.Errorf("der: OID needs at least two arcs")
	}
	body := []byte{byte(arcs[0]*40 + arcs[1])}
	for _, v := range arcs[2:] {
		body = append(body, encodeBase128(v)...)
	}
	if err := b.checkSpace(2 + len(body)); err != nil {
		return err
	}
	hdr, err := encodeLen(len(body))
	if err != nil {
		return err
	}
	if err := b.put(0x06); err != nil {
		return err
	}
	if err := b.put(hdr...); err != nil {
		return err
	}
	return b.put(body...)
}

func encodeBase128(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte(v % 128)}, digits...)
		v /= 128
	}
	for i := 0; i < len(digits)-1; i++ {
		digits[i] |= 0x80
	}
	return digits
}

// UTCTime appends a DER UTCTime. The value must already be in the
// YYMMDDhhmmssZ form DER requires.
func (b *Builder) UTCTime(s string) error {
	if len(s) != 13 {
		return fmt.Errorf("der: UTCTime value %q must be 13 characters (YYMMDDhhmmssZ)", s)
	}
	return b.tlv(0x17, []byte(s))
}

// UTF8String appends a DER UTF8String.
func (b *Builder) UTF8String(s string) error {
	if len(s) >= 127 {
		return fmt.Errorf("der: UTF8String too long for single-byte length (%d bytes)", len(s))
	}
	return b.tlv(0x0c, []byte(s))
}

// PrintableString appends a DER PrintableString.
func (b *Builder) PrintableString(s string) error {
	if len(s) >= 127 {
		return fmt.Errorf("der: PrintableString too long for single-byte length (%d bytes)", len(s))
	}
	return b.tlv(0x13, []byte(s))
}

// OctetString appends a DER OCTET STRING.
func (b *Builder) OctetString(v []byte) error {
	return b.tlv(0x04, v)
}

// BitString appends a DER BIT STRING with zero unused trailing bits, which
// is all that this package's callers ever need.
func (b *Builder) BitString(v []byte) error {
	return b.tlv(0x03, append([]byte{0x00}, v...))
}

func (b *Builder) tlv(tag byte, v []byte) error {
	if err := b.checkSpace(2 + len(v)); err != nil {
		return err
	}
	hdr, err := encodeLen(len(v))
	if err != nil {
		return err
	}
	if err := b.put(tag); err != nil {
		return err
	}
	if err := b.put(hdr...); err != nil {
		return err
	}
	return b.put(v...)
}

// StartSequence opens a constructed SEQUENCE frame; it must be matched by
// exactly one PopNesting.
func (b *Builder) StartSequence() error { return b.startConstructed(0x30) }

// StartSet opens a constructed SET frame.
func (b *Builder) StartSet() error { return b.startConstructed(0x31) }

func (b *Builder) startConstructed(tag byte) error {
	if b.depth >= MaxNested {
		return fmt.Errorf("der: nesting depth exceeds %d", MaxNested)
	}
	if err := b.checkSpace(1); err != nil {
		return err
	}
	if err := b.put(tag); err != nil {
		return err
	}
	b.frames[b.depth] = b.pos
	b.depth++
	return nil
}

// StartExplicit opens a context-specific [n] EXPLICIT constructed frame.
func (b *Builder) StartExplicit(n int) error {
	if n < 0 || n > 30 {
		return fmt.Errorf("der: explicit tag number %d out of range", n)
	}
	return b.startConstructed(0xA0 + byte(n))
}

// StartEnvelopingOctetString opens an OCTET STRING frame whose contents are
// themselves further DER, closed by PopNesting like any other frame.
func (b *Builder) StartEnvelopingOctetString() error { return b.startConstructed(0x04) }

// StartEnvelopingBitString opens a BIT STRING frame, writing the
// zero-unused-bits byte immediately so the frame's payload starts past it.
func (b *Builder) StartEnvelopingBitString() error {
	if b.depth >= MaxNested {
		return fmt.Errorf("der: nesting depth exceeds %d", MaxNested)
	}
	if err := b.checkSpace(2); err != nil {
		return err
	}
	if err := b.put(0x03); err != nil {
		return err
	}
	b.frames[b.depth] = b.pos
	b.depth++
	return b.put(0x00)
}

// PopNesting closes the most recently opened Start* frame: it measures the
// bytes written since the matching start, computes the DER length
// encoding, shifts the payload right to make room for the tag+length
// header (the header was already written by the matching Start* call; only
// the length is backpatched here), and writes the length.
func (b *Builder) PopNesting() error {
	if b.depth == 0 {
		return ErrEmptyStack
	}
	b.depth--
	start := b.frames[b.depth]
	n := b.pos - start

	szNow, err := lenEncodedSize(n)
	if err != nil {
		return err
	}
	if err := b.checkSpace(szNow); err != nil {
		return err
	}
	// Shift the payload right by the width of the length header to make
	// room, then write the length header into the gap.
	copy(b.buf[start+szNow:b.pos+szNow], b.buf[start:b.pos])
	hdr, err := encodeLen(n)
	if err != nil {
		return err
	}
	copy(b.buf[start:], hdr)
	b.pos += szNow
	return nil
}

// TBSToCert wraps the current top-level structure (expected to be a
// complete TBS SEQUENCE) inside another SEQUENCE, preparing the buffer for
// a second pass that appends the signature algorithm and signature value
// fields alongside it. The outer SEQUENCE is left open as a nesting frame;
// the caller closes it with PopNesting once those fields are written.
func (b *Builder) TBSToCert() error {
	if b.depth != 0 {
		return fmt.Errorf("der: TBSToCert called with %d unclosed frame(s)", b.depth)
	}
	if err := b.checkSpace(1); err != nil {
		return err
	}
	copy(b.buf[1:b.pos+1], b.buf[:b.pos])
	b.buf[0] = 0x30
	b.pos++
	b.frames[b.depth] = 1
	b.depth++
	return nil
}
