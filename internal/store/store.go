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

// Package store implements the PersistentStore model of spec §4.1/§3: a
// fixed flash layout partitioned into regions with distinct write-lock and
// read-protection policies, plus the small {start,size} certificate-table
// index each persistent cert container carries. Every region is tagged
// with a 32-bit magic; a region whose tag doesn't match Magic is
// unprovisioned and is only a legal state before first successful
// provisioning. No region is ever updated in place: Store.Write always
// erases before it programs, delegating the actual erase/program atomicity
// to the hal.Flash implementation.
package store

import (
	"encoding/binary"
	"fmt"

	"github.com/project-barnacle/barnacle-boot/internal/hal"
	"github.com/project-barnacle/barnacle-boot/internal/layout"
)

// Magic tags every provisioned region. A region whose stored tag isn't
// Magic is treated as unprovisioned.
const Magic uint32 = 0x42524E4C // "BRNL"

// IssuedCerts flag bits.
const (
	FlagProvisioned       uint32 = 0x1
	FlagAuthenticatedBoot uint32 = 0x2
	FlagWriteLock         uint32 = 0x4
)

// Certificate slot indices into IssuedCerts' table.
const (
	IssuedRoot   = 0
	IssuedDevice = 1
	numIssued    = 2
)

// Certificate slot indices into CertStore's table (spec §6).
const (
	CertStoreRoot   = 0
	CertStoreDevice = 1
	CertStoreLoader = 2
	numCertStore    = 3
)

// MaxPubKeyLen and MaxCoordLen size the fixed byte arrays backing a key
// pair, generous enough for the largest curve this module supports
// (P-521: 1 + 2*66 bytes for an uncompressed public key, 66 for a
// coordinate/scalar).
const (
	MaxPubKeyLen = 1 + 2*66
	MaxCoordLen  = 66
)

// KeyPair is the on-disk representation of an ECC key pair: raw SEC1
// uncompressed public key bytes and a raw big-endian private scalar, each
// stored in a fixed-capacity array with an explicit length so the region
// has a stable size regardless of which curve is configured.
type KeyPair struct {
	Pub    [MaxPubKeyLen]byte
	PubLen uint16
	Priv   [MaxCoordLen]byte
	PrivLen uint16
}

// SetPub copies pub into the fixed Pub array.
func (k *KeyPair) SetPub(pub []byte) error {
	if len(pub) > MaxPubKeyLen {
		return fmt.Errorf("store: public key length %d exceeds %d", len(pub), MaxPubKeyLen)
	}
	k.PubLen = uint16(len(pub))
	copy(k.Pub[:], pub)
	return nil
}

// SetPriv copies priv into the fixed Priv array.
func (k *KeyPair) SetPriv(priv []byte) error {
	if len(priv) > MaxCoordLen {
		return fmt.Errorf("store: private scalar length %d exceeds %d", len(priv), MaxCoordLen)
	}
	k.PrivLen = uint16(len(priv))
	copy(k.Priv[:], priv)
	return nil
}

// PubBytes returns the populated prefix of Pub.
func (k KeyPair) PubBytes() []byte { return k.Pub[:k.PubLen] }

// PrivBytes returns the populated prefix of Priv.
func (k KeyPair) PrivBytes() []byte { return k.Priv[:k.PrivLen] }

func (k KeyPair) marshal() []byte {
	out := make([]byte, 0, 4+MaxPubKeyLen+MaxCoordLen)
	out = binary.BigEndian.AppendUint16(out, k.PubLen)
	out = append(out, k.Pub[:]...)
	out = binary.BigEndian.AppendUint16(out, k.PrivLen)
	out = append(out, k.Priv[:]...)
	return out
}

func (k *KeyPair) unmarshal(b []byte) ([]byte, error) {
	if len(b) < 2+MaxPubKeyLen+2+MaxCoordLen {
		return nil, fmt.Errorf("store: short buffer unmarshaling key pair")
	}
	k.PubLen = binary.BigEndian.Uint16(b)
	b = b[2:]
	copy(k.Pub[:], b[:MaxPubKeyLen])
	b = b[MaxPubKeyLen:]
	k.PrivLen = binary.BigEndian.Uint16(b)
	b = b[2:]
	copy(k.Priv[:], b[:MaxCoordLen])
	return b[MaxCoordLen:], nil
}

const keyPairSize = 2 + MaxPubKeyLen + 2 + MaxCoordLen

// DeviceIdentity is the FwDeviceId region: created once, on first boot, and
// never mutated thereafter.
type DeviceIdentity struct {
	MagicTag uint32
	Key      KeyPair
}

// Provisioned reports whether the region carries the expected magic tag.
func (d DeviceIdentity) Provisioned() bool { return d.MagicTag == Magic }

// Marshal serializes d for a Store.Write call.
func (d DeviceIdentity) Marshal() []byte {
	out := binary.BigEndian.AppendUint32(nil, d.MagicTag)
	return append(out, d.Key.marshal()...)
}

// UnmarshalDeviceIdentity parses the bytes read back from the FwDeviceId
// region.
func UnmarshalDeviceIdentity(b []byte) (DeviceIdentity, error) {
	var d DeviceIdentity
	if len(b) < 4 {
		return d, fmt.Errorf("store: short buffer unmarshaling device identity")
	}
	d.MagicTag = binary.BigEndian.Uint32(b)
	if _, err := d.Key.unmarshal(b[4:]); err != nil {
		return d, err
	}
	return d, nil
}

// DeviceIdentitySize is the fixed on-flash size of a DeviceIdentity region.
const DeviceIdentitySize = 4 + keyPairSize

// CachedAgentData is the FwCache region: last boot's compound key pair,
// last-seen agent digest, last version & issuance, and the cached alias
// certificate PEM. Rewritten only when the agent digest changes.
type CachedAgentData struct {
	MagicTag       uint32
	CompoundKey    KeyPair
	AgentHdrDigest [32]byte
	LastVersion    uint32
	LastIssued     uint32
	// LastName is the agent name string seen on the boot that last
	// refreshed this cache. internal/verify consults it for a semver-aware
	// rollback comparison when the agent names itself with a version tag,
	// falling back to LastVersion otherwise.
	LastName     string
	AliasCertPEM []byte
}

// Provisioned reports whether the region carries the expected magic tag.
func (c CachedAgentData) Provisioned() bool { return c.MagicTag == Magic }

// Marshal serializes c for a Store.Write call.
func (c CachedAgentData) Marshal() []byte {
	out := binary.BigEndian.AppendUint32(nil, c.MagicTag)
	out = append(out, c.CompoundKey.marshal()...)
	out = append(out, c.AgentHdrDigest[:]...)
	out = binary.BigEndian.AppendUint32(out, c.LastVersion)
	out = binary.BigEndian.AppendUint32(out, c.LastIssued)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.LastName)))
	out = append(out, c.LastName...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.AliasCertPEM)))
	out = append(out, c.AliasCertPEM...)
	return out
}

// UnmarshalCachedAgentData parses the bytes read back from the FwCache
// region. maxPEM bounds the alias certificate PEM length so a corrupt
// length field can't cause an unbounded allocation. A region whose tag is
// not Magic (e.g. blank flash) is returned unprovisioned, with its other
// fields left zero.
func UnmarshalCachedAgentData(b []byte, maxPEM int) (CachedAgentData, error) {
	var c CachedAgentData
	if len(b) < 4 {
		return c, fmt.Errorf("store: short buffer unmarshaling cached agent data")
	}
	c.MagicTag = binary.BigEndian.Uint32(b)
	if c.MagicTag != Magic {
		return c, nil
	}
	b = b[4:]
	rest, err := c.CompoundKey.unmarshal(b)
	if err != nil {
		return c, err
	}
	b = rest
	if len(b) < 32+4+4+4 {
		return c, fmt.Errorf("store: short buffer unmarshaling cached agent data tail")
	}
	copy(c.AgentHdrDigest[:], b[:32])
	b = b[32:]
	c.LastVersion = binary.BigEndian.Uint32(b)
	b = b[4:]
	c.LastIssued = binary.BigEndian.Uint32(b)
	b = b[4:]
	if len(b) < 4 {
		return c, fmt.Errorf("store: short buffer unmarshaling cached agent name length")
	}
	nameLen := binary.BigEndian.Uint32(b)
	b = b[4:]
	if int(nameLen) > len(b) {
		return c, fmt.Errorf("store: cached agent name length %d exceeds buffer", nameLen)
	}
	c.LastName = string(b[:nameLen])
	b = b[nameLen:]
	if len(b) < 4 {
		return c, fmt.Errorf("store: short buffer unmarshaling cached alias cert length")
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if int(n) > maxPEM || int(n) > len(b) {
		return c, fmt.Errorf("store: cached alias cert length %d out of range", n)
	}
	c.AliasCertPEM = append([]byte{}, b[:n]...)
	return c, nil
}

// CertTableEntry is the {start, size} index pointing into a contiguous PEM
// byte bag. size == 0 means the slot is not populated in this
// configuration.
type CertTableEntry struct {
	Start uint32
	Size  uint32
}

// IssuedCerts is the factory-issued, read-only (once write-locked) region:
// root and device certificates, the optional author-verification public
// key, and the flags word.
type IssuedCerts struct {
	MagicTag         uint32
	Flags            uint32
	CodeAuthPubKey   [MaxPubKeyLen]byte
	CodeAuthPubKeyLen uint16
	Table            [numIssued]CertTableEntry
	Cursor           uint32
	CertBag          []byte
}

// Provisioned reports whether the region carries the expected magic tag.
func (c IssuedCerts) Provisioned() bool { return c.MagicTag == Magic }

// CodeAuthKeyPopulated reports whether an author-verification public key
// has been programmed (the "null check" of spec §4.1).
func (c IssuedCerts) CodeAuthKeyPopulated() bool { return c.CodeAuthPubKeyLen > 0 }

// Slot returns the stored PEM bytes (without trailing NUL) for the given
// slot index, or nil if the slot is empty.
func (c IssuedCerts) Slot(idx int) []byte {
	e := c.Table[idx]
	if e.Size == 0 {
		return nil
	}
	return c.CertBag[e.Start : e.Start+e.Size]
}

// Append writes pem into the next free offset of the cert bag, recording
// its {start,size} in Table[idx] and advancing the cursor past a trailing
// NUL separator (consumers of the PEM bag expect a C-string tail).
func (c *IssuedCerts) Append(idx int, pem []byte) error {
	if int(c.Cursor)+len(pem)+1 > len(c.CertBag) {
		return fmt.Errorf("store: issued-cert bag overflow appending slot %d", idx)
	}
	start := c.Cursor
	copy(c.CertBag[start:], pem)
	c.Table[idx] = CertTableEntry{Start: start, Size: uint32(len(pem))}
	c.Cursor += uint32(len(pem))
	c.CertBag[c.Cursor] = 0
	c.Cursor++
	return nil
}

// NewIssuedCerts allocates a blank IssuedCerts region with a cert bag of
// the given capacity.
func NewIssuedCerts(bagCapacity int) *IssuedCerts {
	return &IssuedCerts{CertBag: make([]byte, bagCapacity)}
}

// Marshal serializes c for a Store.Write call.
func (c IssuedCerts) Marshal() []byte {
	out := binary.BigEndian.AppendUint32(nil, c.MagicTag)
	out = binary.BigEndian.AppendUint32(out, c.Flags)
	out = binary.BigEndian.AppendUint16(out, c.CodeAuthPubKeyLen)
	out = append(out, c.CodeAuthPubKey[:]...)
	for _, e := range c.Table {
		out = binary.BigEndian.AppendUint32(out, e.Start)
		out = binary.BigEndian.AppendUint32(out, e.Size)
	}
	out = binary.BigEndian.AppendUint32(out, c.Cursor)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.CertBag)))
	out = append(out, c.CertBag...)
	return out
}

// UnmarshalIssuedCerts parses the bytes read back from the IssuedCerts
// region.
func UnmarshalIssuedCerts(b []byte) (*IssuedCerts, error) {
	c := &IssuedCerts{}
	if len(b) < 4+4+2+MaxPubKeyLen {
		return nil, fmt.Errorf("store: short buffer unmarshaling issued certs")
	}
	c.MagicTag = binary.BigEndian.Uint32(b)
	b = b[4:]
	c.Flags = binary.BigEndian.Uint32(b)
	b = b[4:]
	c.CodeAuthPubKeyLen = binary.BigEndian.Uint16(b)
	b = b[2:]
	copy(c.CodeAuthPubKey[:], b[:MaxPubKeyLen])
	b = b[MaxPubKeyLen:]
	for i := range c.Table {
		if len(b) < 8 {
			return nil, fmt.Errorf("store: short buffer unmarshaling issued certs table")
		}
		c.Table[i].Start = binary.BigEndian.Uint32(b)
		b = b[4:]
		c.Table[i].Size = binary.BigEndian.Uint32(b)
		b = b[4:]
	}
	if len(b) < 8 {
		return nil, fmt.Errorf("store: short buffer unmarshaling issued certs bag header")
	}
	c.Cursor = binary.BigEndian.Uint32(b)
	b = b[4:]
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if int(n) > len(b) {
		return nil, fmt.Errorf("store: issued certs bag length %d exceeds buffer", n)
	}
	c.CertBag = append([]byte{}, b[:n]...)
	return c, nil
}

// CertStore is the RAM-resident, agent-visible certificate chain assembled
// fresh on every boot (spec §6): magic, a fixed {start,size}[N] index, a
// cursor, and a contiguous PEM byte bag.
type CertStore struct {
	MagicTag uint32
	Table    [numCertStore]CertTableEntry
	Cursor   uint32
	Bytes    []byte
}

// NewCertStore allocates a blank CertStore with the given capacity.
func NewCertStore(capacity int) *CertStore {
	return &CertStore{MagicTag: Magic, Bytes: make([]byte, capacity)}
}

// Append writes pem into the next free offset, enforcing the capacity
// check spec §4.5 requires before each append; overflow is fatal to
// assembly. Each certificate ends with a single NUL byte.
func (cs *CertStore) Append(slot int, pem []byte) error {
	if int(cs.Cursor)+len(pem)+1 > len(cs.Bytes) {
		return fmt.Errorf("store: cert store overflow appending slot %d", slot)
	}
	start := cs.Cursor
	copy(cs.Bytes[start:], pem)
	cs.Table[slot] = CertTableEntry{Start: start, Size: uint32(len(pem))}
	cs.Cursor += uint32(len(pem))
	cs.Bytes[cs.Cursor] = 0
	cs.Cursor++
	return nil
}

// Slot returns the stored PEM bytes (without trailing NUL) for the given
// slot, or nil if empty.
func (cs CertStore) Slot(slot int) []byte {
	e := cs.Table[slot]
	if e.Size == 0 {
		return nil
	}
	return cs.Bytes[e.Start : e.Start+e.Size]
}

// Equal reports whether two CertStores hold byte-identical chains,
// regardless of unused tail capacity — the shape property §8's invariant 2
// checks.
func (cs CertStore) Equal(other *CertStore) bool {
	if cs.MagicTag != other.MagicTag || cs.Cursor != other.Cursor {
		return false
	}
	if cs.Table != other.Table {
		return false
	}
	for i := uint32(0); i < cs.Cursor; i++ {
		if cs.Bytes[i] != other.Bytes[i] {
			return false
		}
	}
	return true
}

// Store wraps a hal.Flash device and a layout.Config, implementing the
// region-level write/read/blank-check operations of spec §4.1. It never
// updates a region in place: Write always erases the covering pages first.
type Store struct {
	flash hal.Flash
	cfg   layout.Config
}

// New constructs a Store over the given flash device and layout.
func New(flash hal.Flash, cfg layout.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{flash: flash, cfg: cfg}, nil
}

// Write erases and reprograms the named region with data. data must not
// exceed the region's configured length.
func (s *Store) Write(r layout.Region, data []byte) error {
	if uint32(len(data)) > r.Length {
		return fmt.Errorf("store: write of %d bytes exceeds region length %d", len(data), r.Length)
	}
	return s.flash.WriteRegion(r.Base, data)
}

// Read returns the full contents of the named region.
func (s *Store) Read(r layout.Region) ([]byte, error) {
	return s.flash.ReadAt(r.Base, r.Length)
}

// IsBlank reports whether [ptr, ptr+length) is unprogrammed flash.
func (s *Store) IsBlank(ptr, length uint32) (bool, error) {
	return s.flash.IsBlank(ptr, length)
}

// Layout returns the store's region configuration.
func (s *Store) Layout() layout.Config { return s.cfg }

// DFUDescriptor builds the @Barnacle DFU region descriptor string spec §6
// describes: a run of updatable 4KB pages covering the agent area, then a
// single terminal page for IssuedCerts whose mode is 'a' (read-only) when
// the region's WRITELOCK flag is set, else 'g' (generic/writable).
func DFUDescriptor(cfg layout.Config, issuedLocked bool) string {
	mode := byte('g')
	if issuedLocked {
		mode = 'a'
	}
	pages := int(cfg.AgentAreaPages())
	s := fmt.Sprintf("@Barnacle /0x%08X/", cfg.AgentHdr.Base)
	for pages > 0 {
		n := pages
		if n > 99 {
			n = 99
		}
		s += fmt.Sprintf("%02d*004Kf,", n)
		pages -= n
	}
	s += fmt.Sprintf("01*04K%c", mode)
	return s
}
