package netcode

import (
	"net/netip"
	"testing"
)

func mustAddr(s string) netip.AddrPort {
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestSlotTableAllocateFindRelease(t *testing.T) {
	tbl := newSlotTable(2)

	if tbl.capacity() != 2 {
		t.Fatalf("capacity = %d, want 2", tbl.capacity())
	}
	if i := tbl.allocate(); i != 0 {
		t.Fatalf("first allocate = %d, want 0", i)
	}
	tbl.set(0, &Connection{ClientID: 1, Channel: &Channel{addr: mustAddr("127.0.0.1:1")}})

	if i := tbl.allocate(); i != 1 {
		t.Fatalf("second allocate = %d, want 1", i)
	}
	tbl.set(1, &Connection{ClientID: 2, Channel: &Channel{addr: mustAddr("127.0.0.1:2")}})

	if i := tbl.allocate(); i != -1 {
		t.Fatalf("allocate on full table = %d, want -1", i)
	}

	if i := tbl.findByID(2); i != 1 {
		t.Fatalf("findByID(2) = %d, want 1", i)
	}
	if i := tbl.findByID(99); i != -1 {
		t.Fatalf("findByID(99) = %d, want -1", i)
	}
	if i := tbl.findByAddr(mustAddr("127.0.0.1:1")); i != 0 {
		t.Fatalf("findByAddr = %d, want 0", i)
	}

	tbl.release(0)
	if tbl.get(0) != nil {
		t.Fatal("slot 0 not released")
	}
	if i := tbl.allocate(); i != 0 {
		t.Fatalf("allocate after release = %d, want 0 (first-fit)", i)
	}
}

func TestSlotTableOutOfRangeIsSafe(t *testing.T) {
	tbl := newSlotTable(1)
	if tbl.get(-1) != nil || tbl.get(5) != nil {
		t.Fatal("get with out-of-range index should return nil")
	}
	tbl.release(-1) // must not panic
	tbl.release(5)  // must not panic
}
