// Package skiplist implements a probabilistic ordered container with
// single-writer / many-reader concurrency and arena-accounted node
// storage, matching RocksDB's memtable/skiplist.h semantics:
//   - Reads (Contains, iteration) are lock-free and safe concurrently
//     with at most one writer and any number of other readers.
//   - Insert requires external synchronization; two concurrent writers
//     are undefined behavior.
//   - Nodes are never individually freed; they live as long as the
//     SkipList (and its backing Arena) does.
//
// Reference: RocksDB v10.7.5 memtable/skiplist.h
package skiplist

import (
	"bytes"
	"math/rand"
	"sync/atomic"
	"unsafe"

	"github.com/aalhour/rockymem/internal/arena"
	"github.com/aalhour/rockymem/internal/logging"
)

const (
	// MaxHeight is the tallest a node's forward-pointer array may ever be.
	MaxHeight = 12

	// Branching is the inverse promotion probability: on average 1 in
	// Branching nodes at level L is also linked at level L+1.
	Branching = 4

	// seed is fixed so that height assignment (and therefore test
	// fixtures built on top of it) is reproducible across runs and
	// platforms.
	seed = 0xDEADBEEF
)

// Comparator imposes a strict weak order over keys: negative if a < b,
// zero if equal, positive if a > b. It is supplied by value at
// construction and owned by the SkipList for its lifetime.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys lexicographically by raw bytes.
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// node is a single skiplist entry: an immutable key and a trailing,
// height-sized array of next pointers (levels 0..height). Only next[0]
// forms the exhaustive ordered chain (I3); upper levels are sparse
// shortcuts built by randomHeight.
//
// A node's forward pointers are stored as a slice of atomic.Pointer so
// that publishing a new node (Insert's release store into a
// predecessor's next[L]) pairs with an acquire load in any concurrent
// reader, regardless of how many levels the node has (I6).
type node struct {
	key  []byte
	next []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{key: key, next: make([]atomic.Pointer[node], height)}
}

func (n *node) getNext(level int) *node {
	return n.next[level].Load()
}

// nodeFootprint is the estimated arena charge for a node of the given
// height: a header (key slice + backing struct) plus one pointer-sized
// slot per level. Go cannot place atomic.Pointer values inside a raw
// arena byte span and still use them as atomics safely, so a node's
// *pointers* remain ordinary GC-managed memory (see newNode);
// this function only sizes the arena charge that mirrors what the
// equivalent C++ allocation (`sizeof(Node) + sizeof(void*)*(height-1)`)
// would have cost, keeping ApproximateMemoryUsage meaningful.
func nodeFootprint(height int) int {
	const headerSize = int(unsafe.Sizeof(node{}))
	const ptrSize = int(unsafe.Sizeof(uintptr(0)))
	return headerSize + ptrSize*height
}

// SkipList is the ordered container described above. It is built over
// an external Arena: node key bytes are expected to already live in (or
// alongside) that arena, and every Insert charges the arena for the
// node's pointer-array footprint so ApproximateMemoryUsage reflects the
// whole structure, not just the encoded records a caller hands it.
type SkipList struct {
	a       *arena.Arena
	head    *node
	height  atomic.Int32 // published max height; monotone (I7)
	compare Comparator
	rng     *rand.Rand

	count atomic.Int64

	// logger receives a Fatalf call whenever a caller violates I1 (the
	// no-duplicate-keys precondition). Defaults to logging.Discard.
	logger logging.Logger
}

// New creates a SkipList over the given arena with the given comparator.
// A nil comparator defaults to BytewiseComparator. The arena must
// outlive the SkipList.
func New(a *arena.Arena, cmp Comparator) *SkipList {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	sl := &SkipList{
		a:       a,
		head:    newNode(nil, MaxHeight),
		compare: cmp,
		rng:     rand.New(rand.NewSource(seed)),
		logger:  logging.Discard,
	}
	sl.height.Store(1)
	return sl
}

// SetLogger installs the logger notified when a caller violates I1 by
// inserting a key that already compares equal to one in the list. A nil
// logger resets to logging.Discard.
func (sl *SkipList) SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.Discard
	}
	sl.logger = l
}

// Insert adds key to the skiplist.
// REQUIRES: external synchronization (single writer).
// REQUIRES: no key currently in the list compares equal to key (I1);
// violating this is a caller bug, not a runtime error (see §7).
func (sl *SkipList) Insert(key []byte) {
	var prev [MaxHeight]*node
	x := sl.findGreaterOrEqual(key, prev[:])
	if x != nil && sl.compare(key, x.key) == 0 {
		sl.logger.Fatalf("skiplist: insert of duplicate key %q", key)
		return
	}

	height := sl.randomHeight()
	if maxH := int(sl.height.Load()); height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		// Relaxed: a reader observing the old (smaller) height still
		// reaches every key via the level-0 chain (see §5 rationale).
		sl.height.Store(int32(height))
	}

	n := newNode(key, height)
	for level := range height {
		// Relaxed read/write while building the node's own next
		// pointers: the node isn't reachable from any other goroutine
		// yet, so no ordering is required here.
		n.next[level].Store(prev[level].getNext(level))
		// Release: publishes n (and everything written above) to any
		// reader that acquire-loads this slot.
		prev[level].next[level].Store(n)
	}

	sl.count.Add(1)
	if sl.a != nil {
		sl.a.AllocateAligned(nodeFootprint(height))
	}
}

// Contains reports whether key is present.
func (sl *SkipList) Contains(key []byte) bool {
	x := sl.findGreaterOrEqual(key, nil)
	return x != nil && sl.compare(key, x.key) == 0
}

// Count returns the number of entries currently in the skiplist.
func (sl *SkipList) Count() int64 {
	return sl.count.Load()
}

// findGreaterOrEqual returns the first node with key >= target, or nil
// if none exists. If prev is non-nil, prev[level] is filled with the
// predecessor node at each level — the information Insert needs to
// splice in a new node.
func (sl *SkipList) findGreaterOrEqual(target []byte, prev []*node) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1

	for {
		next := x.getNext(level) // acquire
		if next != nil && sl.compare(target, next.key) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with key < target, or nil if
// target is smaller than every key in the list.
func (sl *SkipList) findLessThan(target []byte) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(next.key, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// findLast returns the last node in the list, or nil if it is empty.
func (sl *SkipList) findLast() *node {
	x := sl.head
	level := int(sl.height.Load()) - 1

	for {
		next := x.getNext(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// randomHeight draws a node height in [1, MaxHeight]: starting at 1,
// each additional level is granted with probability 1/Branching.
func (sl *SkipList) randomHeight() int {
	height := 1
	for height < MaxHeight && sl.rng.Intn(Branching) == 0 {
		height++
	}
	return height
}

// Iterator provides bidirectional traversal over a SkipList. An
// Iterator borrows the SkipList it was created from; the caller must
// keep that SkipList (and its arena) alive for the Iterator's lifetime.
type Iterator struct {
	list *SkipList
	n    *node
}

// NewIterator creates an Iterator over sl. It is not positioned at a
// valid entry until one of the Seek* methods is called.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{list: sl}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.n != nil
}

// Key returns the key at the current position.
// REQUIRES: Valid().
func (it *Iterator) Key() []byte {
	return it.n.key
}

// Next advances to the next entry in ascending order.
// REQUIRES: Valid().
func (it *Iterator) Next() {
	it.n = it.n.getNext(0)
}

// Prev moves to the previous entry in ascending order. No back-links
// are maintained, so this costs an O(log n) expected re-search from the
// head, same as findLessThan for any other target.
// REQUIRES: Valid().
func (it *Iterator) Prev() {
	it.n = it.list.findLessThan(it.n.key)
}

// Seek positions the iterator at the first entry with key >= target, or
// makes it invalid if no such entry exists.
func (it *Iterator) Seek(target []byte) {
	it.n = it.list.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions the iterator at the smallest entry.
func (it *Iterator) SeekToFirst() {
	it.n = it.list.head.getNext(0)
}

// SeekToLast positions the iterator at the largest entry, or makes it
// invalid if the list is empty.
func (it *Iterator) SeekToLast() {
	it.n = it.list.findLast()
}
