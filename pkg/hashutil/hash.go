// Copyright 2025 Certen Protocol
//
// Canonical hashing primitive for the evidence ledger.
//
// Every hash in the ledger is SHA3-256 over a canonical byte sequence, never
// over JSON. JSON-based hashing is not reproducible across implementations
// (map key order, whitespace, number formatting all vary) and would break
// Merkle proofs the moment two nodes disagree on encoding. See DESIGN.md for
// the migration hazard this replaces.

package hashutil

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes of the ledger's hash function.
const Size = 32

// Sum returns the SHA3-256 digest of data.
func Sum(data []byte) [Size]byte {
	return sha3.Sum256(data)
}

// HexSum returns the lower-case hex-encoded SHA3-256 digest of data.
func HexSum(data []byte) string {
	sum := Sum(data)
	return fmt.Sprintf("%x", sum[:])
}

// Value is anything that can append its canonical byte encoding to a buffer.
// Strings, integers, []Value sequences, and key-sorted maps all implement the
// canonical form described in spec §4.1.
type Value interface {
	canonicalAppend(buf []byte) []byte
}

// String wraps a UTF-8 string as a canonical Value.
type String string

func (s String) canonicalAppend(buf []byte) []byte {
	return appendLengthPrefixed(buf, []byte(s))
}

// Int wraps an integer as a canonical Value (decimal ASCII).
type Int int64

func (i Int) canonicalAppend(buf []byte) []byte {
	return appendLengthPrefixed(buf, []byte(strconv.FormatInt(int64(i), 10)))
}

// Float wraps a float as a canonical Value. Formatted with the shortest
// round-trippable representation so the same number always serializes
// identically.
type Float float64

func (f Float) canonicalAppend(buf []byte) []byte {
	return appendLengthPrefixed(buf, []byte(strconv.FormatFloat(float64(f), 'g', -1, 64)))
}

// Bytes wraps a raw byte slice as a canonical Value.
type Bytes []byte

func (b Bytes) canonicalAppend(buf []byte) []byte {
	return appendLengthPrefixed(buf, b)
}

// Seq is an ordered sequence of canonical Values.
type Seq []Value

func (s Seq) canonicalAppend(buf []byte) []byte {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	buf = append(buf, lenBuf[:]...)
	for _, v := range s {
		buf = v.canonicalAppend(buf)
	}
	return buf
}

// Map is a key/value canonical Value. Keys are sorted before serialization so
// map iteration order never affects the digest.
type Map map[string]Value

func (m Map) canonicalAppend(buf []byte) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(keys)))
	buf = append(buf, lenBuf[:]...)
	for _, k := range keys {
		buf = appendLengthPrefixed(buf, []byte(k))
		buf = append(buf, '=')
		buf = m[k].canonicalAppend(buf)
	}
	return buf
}

func appendLengthPrefixed(buf []byte, data []byte) []byte {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

// Canonical serializes v to its canonical byte sequence.
func Canonical(v Value) []byte {
	return v.canonicalAppend(nil)
}

// HashCanonical hashes the canonical encoding of v and returns the lower-case
// hex digest.
func HashCanonical(v Value) string {
	return HexSum(Canonical(v))
}
