/*
Package rockymem provides the in-memory write buffer of a log-structured
key/value store: a skip-list-backed memtable that absorbs recent writes
before they are flushed to immutable on-disk sorted tables.

Three pieces compose the buffer, in internal/arena, internal/skiplist,
and internal/memtable respectively: a bump-pointer allocator, a
probabilistic ordered container with single-writer/many-reader
concurrency, and the multi-version record encoding and point-lookup
logic layered on top of it. See internal/memtable for the entry point
most callers want.

# Concurrency

A MemTable supports exactly one writer (Add) at a time, concurrent with
any number of readers (Get, iteration). Concurrent Add calls on the same
MemTable are serialized by an internal mutex; see internal/skiplist for
the memory-ordering discipline that makes concurrent reads safe.

# Compatibility

The encoded record format (internal_key_size | internal_key | value_size
| value) is bit-exact with RocksDB v10.7.5's memtable entry layout, so
that write-ahead-log replay code built against that format can decode
these records unchanged.

Reference: RocksDB v10.7.5 db/memtable.h, db/memtable.cc
*/
package rockymem
