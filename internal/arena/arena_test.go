package arena

import (
	"testing"
	"unsafe"
)

func TestArenaAllocateReturnsRequestedSize(t *testing.T) {
	a := New()
	buf := a.Allocate(37)
	if len(buf) != 37 {
		t.Errorf("len(buf) = %d, want 37", len(buf))
	}
}

func TestArenaAllocationsDoNotOverlap(t *testing.T) {
	a := New()
	bufs := make([][]byte, 0, 64)
	for i := range 64 {
		buf := a.Allocate(i + 1)
		for j := range buf {
			buf[j] = byte(i)
		}
		bufs = append(bufs, buf)
	}
	for i, buf := range bufs {
		for _, b := range buf {
			if b != byte(i) {
				t.Fatalf("allocation %d corrupted: got %d", i, b)
			}
		}
	}
}

func TestArenaAllocateAlignedIsPointerAligned(t *testing.T) {
	a := New()
	// Force an odd offset first.
	a.Allocate(3)
	buf := a.AllocateAligned(16)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if addr%pointerSize != 0 {
		t.Errorf("AllocateAligned returned unaligned buffer: addr mod %d = %d", pointerSize, addr%pointerSize)
	}
}

func TestArenaLargeAllocationGetsDedicatedBlock(t *testing.T) {
	a := NewWithBlockSize(64)
	before := a.MemoryUsage()
	big := a.Allocate(1000)
	if len(big) != 1000 {
		t.Errorf("len(big) = %d, want 1000", len(big))
	}
	if got := a.MemoryUsage(); got != before+1000 {
		t.Errorf("MemoryUsage() = %d, want %d", got, before+1000)
	}
}

func TestArenaMemoryUsageMonotone(t *testing.T) {
	a := NewWithBlockSize(128)
	var last int64
	for i := range 200 {
		a.Allocate(i%37 + 1)
		cur := a.MemoryUsage()
		if cur < last {
			t.Fatalf("MemoryUsage decreased: %d -> %d", last, cur)
		}
		last = cur
	}
}

func TestArenaSpansMultipleBlocks(t *testing.T) {
	a := NewWithBlockSize(32)
	total := 0
	for range 100 {
		buf := a.Allocate(5)
		total += len(buf)
	}
	if total != 500 {
		t.Errorf("total allocated = %d, want 500", total)
	}
	if a.MemoryUsage() < int64(total) {
		t.Errorf("MemoryUsage() = %d, should be >= bytes handed out (%d)", a.MemoryUsage(), total)
	}
}

