package mempool

import (
	"encoding/binary"
	"testing"
)

func TestBufferHeaderRoundTrip(t *testing.T) {
	raw := make([]byte, headerSize+64)
	binary.LittleEndian.PutUint32(raw[16:20], 7)
	buf := WrapBuffer(raw)

	buf.SetSize(42)
	if got := buf.Size(); got != 42 {
		t.Fatalf("Size() = %d, want 42", got)
	}
	if got, want := buf.PoolID(), 7; got != want {
		t.Fatalf("PoolID() = %d, want %d", got, want)
	}

	if got, want := len(buf.Headroom()), headRoomSize; got != want {
		t.Fatalf("Headroom() length = %d, want %d", got, want)
	}

	if got, want := len(buf.Data()), 42; got != want {
		t.Fatalf("Data() length = %d, want %d", got, want)
	}

	if got, want := buf.Capacity(), 64; got != want {
		t.Fatalf("Capacity() = %d, want %d", got, want)
	}
}

func TestPoolIDRegistryReusesLowestFreeID(t *testing.T) {
	registryMu.Lock()
	registry = map[int]*Pool{}
	registryMu.Unlock()

	a := &Pool{}
	registryMu.Lock()
	a.ID = nextID()
	registry[a.ID] = a
	registryMu.Unlock()

	b := &Pool{}
	registryMu.Lock()
	b.ID = nextID()
	registry[b.ID] = b
	registryMu.Unlock()

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("got ids %d, %d, want 1, 2", a.ID, b.ID)
	}

	a.Free()

	c := &Pool{}
	registryMu.Lock()
	c.ID = nextID()
	registry[c.ID] = c
	registryMu.Unlock()

	if c.ID != 1 {
		t.Fatalf("got id %d, want reused id 1", c.ID)
	}

	b.Free()
	c.Free()
}

func TestBufferFreeReturnsToRegisteredPool(t *testing.T) {
	registryMu.Lock()
	registry = map[int]*Pool{}
	registryMu.Unlock()

	p := &Pool{entrySize: 128, numEntries: 2}
	registryMu.Lock()
	p.ID = nextID()
	registry[p.ID] = p
	registryMu.Unlock()
	defer p.Free()

	raw1 := make([]byte, headerSize+64)
	raw2 := make([]byte, headerSize+64)
	binary.LittleEndian.PutUint32(raw1[16:20], uint32(p.ID))
	binary.LittleEndian.PutUint32(raw2[16:20], uint32(p.ID))
	buf1 := WrapBuffer(raw1)
	buf2 := WrapBuffer(raw2)
	p.free = []*Buffer{buf1, buf2}

	got := p.Get()
	if got != buf2 {
		t.Fatalf("Get() did not return the most recently pushed buffer (LIFO order)")
	}

	if len(p.free) != 1 {
		t.Fatalf("free list length = %d, want 1", len(p.free))
	}

	got.Free()
	if len(p.free) != 2 {
		t.Fatalf("free list length after Free() = %d, want 2", len(p.free))
	}
}

func TestPoolGetMultipleCapsAtAvailable(t *testing.T) {
	p := &Pool{}
	p.free = []*Buffer{WrapBuffer(nil), WrapBuffer(nil)}

	got := p.GetMultiple(5)
	if len(got) != 2 {
		t.Fatalf("GetMultiple(5) returned %d buffers, want 2", len(got))
	}
	if len(p.free) != 0 {
		t.Fatalf("free list length = %d, want 0", len(p.free))
	}
}
