package blockmgr

import (
	"path/filepath"
	"testing"

	"github.com/covstore/covstore/internal/cerrors"
)

func open(t *testing.T, totalBlocks uint64) *Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blocks.img")
	m, err := Open(path, int64(totalBlocks)*4096, 4096)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAllocateFirstFit(t *testing.T) {
	m := open(t, 4)
	for i := uint64(0); i < 4; i++ {
		idx, err := m.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if idx != i {
			t.Fatalf("Allocate() = %d, want %d (ascending first-fit)", idx, i)
		}
	}
	if _, err := m.Allocate(); !cerrors.Is(err, cerrors.OutOfSpace) {
		t.Fatalf("Allocate on full map = %v, want OutOfSpace", err)
	}
}

func TestFreeReopensSlot(t *testing.T) {
	m := open(t, 2)
	a, _ := m.Allocate()
	_, _ = m.Allocate()
	m.Free(a)
	idx, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if idx != a {
		t.Fatalf("Allocate after Free = %d, want reused index %d", idx, a)
	}
}

func TestFreeOutOfRangeIsNoop(t *testing.T) {
	m := open(t, 2)
	m.Free(1000) // must not panic
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := open(t, 2)
	idx, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	payload := []byte("hello block")
	if err := m.Write(idx, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(idx, len(payload))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Read = %q, want %q", got, payload)
	}
}

func TestWriteBadIndex(t *testing.T) {
	m := open(t, 1)
	if err := m.Write(5, []byte("x")); !cerrors.Is(err, cerrors.BadIndex) {
		t.Fatalf("Write(5, ...) = %v, want BadIndex", err)
	}
}

func TestWriteNotAllocated(t *testing.T) {
	m := open(t, 1)
	if err := m.Write(0, []byte("x")); !cerrors.Is(err, cerrors.NotAllocated) {
		t.Fatalf("Write(0, ...) on unallocated block = %v, want NotAllocated", err)
	}
}

func TestReadNotAllocated(t *testing.T) {
	m := open(t, 1)
	if _, err := m.Read(0, 4096); !cerrors.Is(err, cerrors.NotAllocated) {
		t.Fatalf("Read(0, ...) on unallocated block = %v, want NotAllocated", err)
	}
}

func TestSyncPersistsFreeMapAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocks.img")

	m, err := Open(path, 4*4096, 4096)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a, _ := m.Allocate()
	b, _ := m.Allocate()
	if err := m.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	m.Close()

	reopened, err := Open(path, 4*4096, 4096)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.IsUsed(a) || !reopened.IsUsed(b) {
		t.Fatalf("free map not restored: IsUsed(%d)=%v IsUsed(%d)=%v", a, reopened.IsUsed(a), b, reopened.IsUsed(b))
	}
	if reopened.IsUsed(2) {
		t.Fatalf("block 2 should still be free after reopen")
	}
}

func TestIsUsedAfterFree(t *testing.T) {
	m := open(t, 2)
	idx, _ := m.Allocate()
	if !m.IsUsed(idx) {
		t.Fatalf("block %d should be used right after Allocate", idx)
	}
	m.Free(idx)
	if m.IsUsed(idx) {
		t.Fatalf("block %d should be free after Free", idx)
	}
}
