// Package dbformat defines the internal-key encoding shared by the
// skiplist and the memtable: a user key followed by an 8-byte trailer
// packing a sequence number and an operation type.
//
// The format is bit-compatible with RocksDB's db/dbformat.h, trimmed to
// the two value types a memtable actually stores.
//
// Reference: RocksDB v10.7.5 db/dbformat.h, db/dbformat.cc
package dbformat

import (
	"errors"
	"fmt"

	"github.com/aalhour/rockymem/internal/encoding"
)

// SequenceNumber is a 56-bit logical write timestamp (stored in the
// upper 56 bits of the 64-bit trailer).
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number (2^56-1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the size of the internal-key trailer (sequence + type).
const NumInternalBytes = 8

// ValueType distinguishes a live value from a tombstone. These values
// are part of the encoded record format (§3.1) and must not change.
type ValueType uint8

const (
	// TypeDeletion marks a tombstone: the key is deleted as of this sequence.
	TypeDeletion ValueType = 0x00
	// TypeValue marks a live value.
	TypeValue ValueType = 0x01

	// typeForSeek is used only to build lookup-key trailers. It is
	// larger than every stored ValueType so that, at equal sequence
	// numbers, a lookup key sorts before (i.e. "newer than") any real
	// record; a record written at exactly the lookup's sequence number
	// is therefore still found by a seek. Matches RocksDB's
	// kValueTypeForSeek convention.
	typeForSeek ValueType = 0x7F
)

var (
	// ErrKeyTooSmall is returned when an internal key is smaller than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")
)

// PackSequenceAndType packs a sequence number and value type into the
// 64-bit trailer: (sequence << 8) | type.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType extracts the sequence number and value type from
// a packed 64-bit trailer.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xFF)
}

// ParsedInternalKey is a decoded internal key: a user key plus its
// sequence number and operation type.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Type     ValueType
}

// String returns a human-readable representation, useful in test failures.
func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Seq: %d, Type: %d}", p.UserKey, p.Sequence, p.Type)
}

// AppendInternalKey appends the encoding of key (user_key || trailer) to dst.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	return encoding.AppendFixed64(dst, PackSequenceAndType(key.Sequence, key.Type))
}

// ParseInternalKey decodes an internal key from data.
// Returns ErrKeyTooSmall if data is shorter than the trailer.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}
	packed := encoding.DecodeFixed64(data[n-NumInternalBytes:])
	seq, t := UnpackSequenceAndType(packed)
	return &ParsedInternalKey{
		UserKey:  data[:n-NumInternalBytes],
		Sequence: seq,
		Type:     t,
	}, nil
}

// ExtractUserKey returns the user-key portion of an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes.
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractValueType returns the value type from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes.
func ExtractValueType(internalKey []byte) ValueType {
	n := len(internalKey)
	if n < NumInternalBytes {
		return TypeDeletion
	}
	return ValueType(encoding.DecodeFixed64(internalKey[n-NumInternalBytes:]) & 0xFF)
}

// ExtractSequenceNumber returns the sequence number from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes.
func ExtractSequenceNumber(internalKey []byte) SequenceNumber {
	n := len(internalKey)
	if n < NumInternalBytes {
		return 0
	}
	return SequenceNumber(encoding.DecodeFixed64(internalKey[n-NumInternalBytes:]) >> 8)
}

// UserKeyComparer compares two user keys: negative if a < b, zero if
// equal, positive if a > b. It is a strict weak order supplied by the
// caller (the comparator itself is an external, pluggable collaborator;
// dbformat only consumes it).
type UserKeyComparer func(a, b []byte) int

// BytewiseCompare is the default user-key comparer: lexicographic byte order.
func BytewiseCompare(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := range minLen {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// InternalKeyComparator orders internal keys by user key ascending, then
// by trailer descending (newer sequence/type sorts first). This is the
// ordering the skiplist uses when it is instantiated for a memtable.
//
// Reference: RocksDB v10.7.5 db/dbformat.h InternalKeyComparator::Compare
type InternalKeyComparator struct {
	userCompare UserKeyComparer
}

// NewInternalKeyComparator builds an InternalKeyComparator wrapping the
// given user-key comparer (BytewiseCompare if nil).
func NewInternalKeyComparator(userCompare UserKeyComparer) *InternalKeyComparator {
	if userCompare == nil {
		userCompare = BytewiseCompare
	}
	return &InternalKeyComparator{userCompare: userCompare}
}

// Compare returns negative if a < b, zero if equal, positive if a > b,
// per the ordering described above.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	userA, userB := ExtractUserKey(a), ExtractUserKey(b)
	if userA == nil {
		userA = a
	}
	if userB == nil {
		userB = b
	}

	if cmp := c.userCompare(userA, userB); cmp != 0 {
		return cmp
	}

	if len(a) >= NumInternalBytes && len(b) >= NumInternalBytes {
		trailerA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
		trailerB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
		switch {
		case trailerA > trailerB:
			return -1
		case trailerA < trailerB:
			return 1
		}
	}
	return 0
}

// UserCompare returns the wrapped user-key comparer, letting a caller
// compare two internal keys' user portions without going through the
// full (sequence-aware) Compare.
func (c *InternalKeyComparator) UserCompare() UserKeyComparer {
	return c.userCompare
}

// LookupKey is a pre-encoded probe for finding the newest visible
// version of a user key as of a given sequence number. Seeking a
// memtable's skiplist to MemtableKey() lands on the first entry whose
// internal key is >= the lookup's — which, because trailers sort
// newer-first, is the newest version of that exact user key with a
// sequence number <= the lookup's, if one is present.
type LookupKey struct {
	// rep holds: [varint32 internal_key_size][user_key][8-byte trailer].
	// MemtableKey() is the whole thing; UserKey() is the middle slice.
	rep []byte
	ksz int // offset of the user key in rep (length of the varint prefix)
}

// NewLookupKey builds a LookupKey for userKey as of sequence seq: it
// will match the newest version of userKey with Sequence <= seq.
func NewLookupKey(userKey []byte, seq SequenceNumber) *LookupKey {
	internalKeySize := len(userKey) + NumInternalBytes
	dst := make([]byte, 0, encoding.MaxVarint32Length+internalKeySize)
	dst = encoding.AppendVarint32(dst, uint32(internalKeySize))
	ksz := len(dst)
	dst = append(dst, userKey...)
	dst = encoding.AppendFixed64(dst, PackSequenceAndType(seq, typeForSeek))
	return &LookupKey{rep: dst, ksz: ksz}
}

// MemtableKey returns the length-prefixed internal key ready to feed to
// the skiplist's Seek.
func (lk *LookupKey) MemtableKey() []byte {
	return lk.rep
}

// UserKey returns the raw user-key bytes, without the varint prefix or trailer.
func (lk *LookupKey) UserKey() []byte {
	n := len(lk.rep)
	return lk.rep[lk.ksz : n-NumInternalBytes]
}

// InternalKey returns the user_key||trailer portion, without the length prefix.
func (lk *LookupKey) InternalKey() []byte {
	return lk.rep[lk.ksz:]
}
