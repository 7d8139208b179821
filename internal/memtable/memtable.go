// Package memtable implements the in-memory write buffer: a reference
// counted wrapper around a skiplist of multi-version records, keyed by
// the encoding db/dbformat.h calls an internal key.
//
// Entry format stored in the skiplist (RocksDB calls this "memtable
// key"):
//
//	internal_key_size : varint32 (length of internal_key)
//	internal_key      : internal_key_size bytes (user_key + 8-byte trailer)
//	value_size        : varint32 (length of value)
//	value             : value_size bytes
//
// Every byte of every entry is allocated from this memtable's Arena, so
// the whole structure — skiplist nodes and encoded records alike — is
// released in one step when the memtable is destroyed.
//
// Reference: RocksDB v10.7.5 db/memtable.cc, db/memtable.h
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockymem/internal/arena"
	"github.com/aalhour/rockymem/internal/dbformat"
	"github.com/aalhour/rockymem/internal/encoding"
	"github.com/aalhour/rockymem/internal/skiplist"
)

// MemTable is the in-memory write buffer for a single column family's
// live writes. A MemTable does not delete: Add with TypeDeletion
// records a tombstone entry that Get honors, the same as any other
// versioned record.
//
// Range deletions, merge operators, and WAL bookkeeping are handled by
// collaborators outside this package (or not at all, by design) — a
// MemTable here only ever stores point records.
type MemTable struct {
	a       *arena.Arena
	sl      *skiplist.SkipList
	ikCmp   *dbformat.InternalKeyComparator
	userCmp dbformat.UserKeyComparer

	mu sync.Mutex

	// refs starts at zero: a caller must Ref a freshly constructed
	// MemTable before using it for anything else.
	refs atomic.Int32

	firstSeqno    atomic.Uint64
	earliestSeqno atomic.Uint64
}

// New creates an empty MemTable ordered by userCmp (BytewiseCompare if
// nil). Its initial reference count is zero.
func New(userCmp dbformat.UserKeyComparer) *MemTable {
	if userCmp == nil {
		userCmp = dbformat.BytewiseCompare
	}
	ikCmp := dbformat.NewInternalKeyComparator(userCmp)

	mt := &MemTable{
		a:       arena.New(),
		ikCmp:   ikCmp,
		userCmp: userCmp,
	}
	mt.sl = skiplist.New(mt.a, func(x, y []byte) int {
		return mt.ikCmp.Compare(extractInternalKey(x), extractInternalKey(y))
	})
	mt.earliestSeqno.Store(uint64(dbformat.MaxSequenceNumber))
	return mt
}

// Ref increments the reference count.
func (mt *MemTable) Ref() {
	mt.refs.Add(1)
}

// Unref decrements the reference count and reports whether it reached
// zero. The caller owns destroying the MemTable (dropping its last
// reference so the GC can reclaim the arena) when this returns true.
func (mt *MemTable) Unref() bool {
	return mt.refs.Add(-1) == 0
}

// extractInternalKey strips the leading varint32 length prefix from a
// raw skiplist entry, returning just the internal key (user_key ||
// trailer) that precedes the value.
func extractInternalKey(entry []byte) []byte {
	keyLen, n, err := encoding.DecodeVarint32(entry)
	if err != nil || n+int(keyLen) > len(entry) {
		return nil
	}
	return entry[n : n+int(keyLen)]
}

// Add inserts key=value as of sequence seq with the given value type.
// Add holds the MemTable's internal mutex for its whole duration, so
// concurrent Add calls are serialized and the underlying skiplist only
// ever sees one writer at a time. Readers take no lock.
// REQUIRES: (key, seq) has not already been added to this memtable.
func (mt *MemTable) Add(seq dbformat.SequenceNumber, typ dbformat.ValueType, key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	internalKeyLen := len(key) + dbformat.NumInternalBytes
	entryLen := encoding.VarintLength(uint64(internalKeyLen)) + internalKeyLen +
		encoding.VarintLength(uint64(len(value))) + len(value)

	buf := mt.a.Allocate(entryLen)
	n := encoding.EncodeVarint32(buf, uint32(internalKeyLen))
	n += copy(buf[n:], key)
	encoding.EncodeFixed64(buf[n:], dbformat.PackSequenceAndType(seq, typ))
	n += dbformat.NumInternalBytes
	n += encoding.EncodeVarint32(buf[n:], uint32(len(value)))
	copy(buf[n:], value)

	mt.sl.Insert(buf)

	if seq < dbformat.SequenceNumber(mt.earliestSeqno.Load()) {
		mt.earliestSeqno.Store(uint64(seq))
	}
	if seq > dbformat.SequenceNumber(mt.firstSeqno.Load()) {
		mt.firstSeqno.Store(uint64(seq))
	}
}

// parseEntry splits a raw skiplist entry into its internal key and
// value. ok is false if entry is malformed.
func parseEntry(entry []byte) (internalKey, value []byte, ok bool) {
	keyLen, n, err := encoding.DecodeVarint32(entry)
	if err != nil || n+int(keyLen) > len(entry) {
		return nil, nil, false
	}
	internalKey = entry[n : n+int(keyLen)]
	rest := entry[n+int(keyLen):]

	valLen, n2, err := encoding.DecodeVarint32(rest)
	if err != nil || n2+int(valLen) > len(rest) {
		return nil, nil, false
	}
	value = rest[n2 : n2+int(valLen)]
	return internalKey, value, true
}

// Get looks up the newest version of lk's user key visible at lk's
// sequence number.
//
//   - If the newest visible record is a TypeValue, it returns
//     (value, true).
//   - If the newest visible record is a TypeDeletion (or no record for
//     this user key exists at all), it returns (nil, false).
//
// The returned slice aliases memory owned by this MemTable's arena and
// is only valid for the MemTable's lifetime.
func (mt *MemTable) Get(lk *dbformat.LookupKey) (value []byte, found bool) {
	iter := mt.sl.NewIterator()
	iter.Seek(lk.MemtableKey())
	if !iter.Valid() {
		return nil, false
	}

	internalKey, val, ok := parseEntry(iter.Key())
	if !ok {
		return nil, false
	}

	entryUserKey := dbformat.ExtractUserKey(internalKey)
	if mt.userCmp(entryUserKey, lk.UserKey()) != 0 {
		return nil, false
	}

	switch dbformat.ExtractValueType(internalKey) {
	case dbformat.TypeValue:
		return val, true
	default: // TypeDeletion
		return nil, false
	}
}

// NewIterator returns a forward/backward iterator over every record in
// the memtable in internal-key order (user key ascending, newest
// version of each user key first).
func (mt *MemTable) NewIterator() *Iterator {
	return &Iterator{iter: mt.sl.NewIterator()}
}

// ApproximateMemoryUsage returns an upper-bound estimate, in bytes, of
// all memory this memtable's arena has ever handed out.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return mt.a.MemoryUsage()
}

// FirstSequenceNumber returns the largest sequence number Add has seen.
func (mt *MemTable) FirstSequenceNumber() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(mt.firstSeqno.Load())
}

// EarliestSequenceNumber returns the smallest sequence number Add has seen.
func (mt *MemTable) EarliestSequenceNumber() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(mt.earliestSeqno.Load())
}

// Iterator walks every record in a MemTable in internal-key order,
// decoding the internal key and value lazily on each move.
type Iterator struct {
	iter *skiplist.Iterator

	internalKey []byte
	value       []byte
	valid       bool
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool {
	return it.valid
}

// SeekToFirst positions the iterator at the first record.
func (it *Iterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.parse()
}

// SeekToLast positions the iterator at the last record.
func (it *Iterator) SeekToLast() {
	it.iter.SeekToLast()
	it.parse()
}

// Next advances to the next record. REQUIRES: Valid().
func (it *Iterator) Next() {
	it.iter.Next()
	it.parse()
}

// Prev moves to the previous record. REQUIRES: Valid().
func (it *Iterator) Prev() {
	it.iter.Prev()
	it.parse()
}

// InternalKey returns the current record's internal key (user_key ||
// trailer). REQUIRES: Valid().
func (it *Iterator) InternalKey() []byte {
	return it.internalKey
}

// UserKey returns the current record's user key. REQUIRES: Valid().
func (it *Iterator) UserKey() []byte {
	return dbformat.ExtractUserKey(it.internalKey)
}

// Value returns the current record's value. REQUIRES: Valid().
func (it *Iterator) Value() []byte {
	return it.value
}

// Type returns the current record's value type. REQUIRES: Valid().
func (it *Iterator) Type() dbformat.ValueType {
	return dbformat.ExtractValueType(it.internalKey)
}

// Status reports any error encountered while walking the memtable. A
// MemTable iterator only ever traverses in-memory skiplist records, so
// it has no I/O or decode path that can fail after construction: Status
// always reports OK.
func (it *Iterator) Status() error {
	return nil
}

func (it *Iterator) parse() {
	if !it.iter.Valid() {
		it.valid = false
		it.internalKey = nil
		it.value = nil
		return
	}
	internalKey, value, ok := parseEntry(it.iter.Key())
	it.internalKey = internalKey
	it.value = value
	it.valid = ok
}
