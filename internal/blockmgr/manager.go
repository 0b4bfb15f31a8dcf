// Package blockmgr implements the fixed-size block allocator: one backing
// file of fixed byte capacity split into equal-size blocks, with a durable
// free map sibling file. It has no knowledge of files or versions — that
// bookkeeping lives in internal/version and internal/graph.
package blockmgr

import (
	"os"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/covstore/covstore/internal/cerrors"
)

// Manager owns one backing block file and its free map. It is not safe for
// concurrent use; the engine façade serialises all access.
type Manager struct {
	path     string
	metaPath string
	file     *os.File

	blockSize   int
	totalBlocks uint64
	fm          *freeMap
}

// Open (re)creates the backing file at path, truncated to hold totalBytes
// rounded down to whole blocks, and loads (or initializes) its free map.
func Open(path string, totalBytes int64, blockSize int) (*Manager, error) {
	const op = "blockmgr.Open"
	if blockSize <= 0 {
		return nil, cerrors.Errorf(cerrors.IoError, "%s: invalid block size %d", op, blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, cerrors.New(cerrors.IoError, op, err)
	}
	totalBlocks := uint64(totalBytes) / uint64(blockSize)
	capacity := int64(totalBlocks) * int64(blockSize)
	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, cerrors.New(cerrors.IoError, op, err)
	}

	m := &Manager{
		path:        path,
		metaPath:    path + ".meta",
		file:        f,
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}

	raw, err := os.ReadFile(m.metaPath)
	if err != nil {
		if !os.IsNotExist(err) {
			f.Close()
			return nil, cerrors.New(cerrors.IoError, op, err)
		}
		m.fm = newFreeMap(totalBlocks)
	} else {
		m.fm = loadFreeMap(raw, totalBlocks)
	}
	return m, nil
}

// TotalBlocks returns the number of addressable blocks.
func (m *Manager) TotalBlocks() uint64 { return m.totalBlocks }

// BlockSize returns the fixed block payload size in bytes.
func (m *Manager) BlockSize() int { return m.blockSize }

// IsUsed reports whether block idx is currently allocated.
func (m *Manager) IsUsed(idx uint64) bool { return m.fm.test(idx) }

// Allocate returns the smallest free block index, marks it used, and persists
// the free map before returning — a crash after Allocate but before the
// caller writes to the block leaks at most one block, reclaimable by GC.
func (m *Manager) Allocate() (uint64, error) {
	const op = "blockmgr.Allocate"
	idx, ok := m.fm.firstFree()
	if !ok {
		return 0, cerrors.New(cerrors.OutOfSpace, op, nil)
	}
	m.fm.set(idx)
	if err := m.persistFreeMap(); err != nil {
		m.fm.clear(idx)
		return 0, err
	}
	return idx, nil
}

// Free clears block idx if it is currently allocated and in range. Out of
// range or already-free indices are a silent no-op, matching the reference
// implementation.
func (m *Manager) Free(idx uint64) {
	if idx >= m.totalBlocks {
		return
	}
	m.fm.clear(idx)
}

// Write writes payload (at most BlockSize bytes) at block idx, zero-padding
// a short payload up to the block boundary.
func (m *Manager) Write(idx uint64, payload []byte) error {
	const op = "blockmgr.Write"
	if idx >= m.totalBlocks {
		return cerrors.New(cerrors.BadIndex, op, nil)
	}
	if !m.fm.test(idx) {
		return cerrors.New(cerrors.NotAllocated, op, nil)
	}
	if len(payload) > m.blockSize {
		return cerrors.Errorf(cerrors.BadIndex, "%s: payload %d exceeds block size %d", op, len(payload), m.blockSize)
	}
	buf := make([]byte, m.blockSize)
	copy(buf, payload)
	offset := int64(idx) * int64(m.blockSize)
	if _, err := unix.Pwrite(int(m.file.Fd()), buf, offset); err != nil {
		return cerrors.New(cerrors.IoError, op, err)
	}
	return nil
}

// Read returns up to size bytes (at most BlockSize) starting at block idx.
func (m *Manager) Read(idx uint64, size int) ([]byte, error) {
	const op = "blockmgr.Read"
	if idx >= m.totalBlocks {
		return nil, cerrors.New(cerrors.BadIndex, op, nil)
	}
	if !m.fm.test(idx) {
		return nil, cerrors.New(cerrors.NotAllocated, op, nil)
	}
	if size > m.blockSize {
		size = m.blockSize
	}
	buf := make([]byte, size)
	offset := int64(idx) * int64(m.blockSize)
	if _, err := unix.Pread(int(m.file.Fd()), buf, offset); err != nil {
		return nil, cerrors.New(cerrors.IoError, op, err)
	}
	return buf, nil
}

// Sync flushes the backing file and persists the free map.
func (m *Manager) Sync() error {
	const op = "blockmgr.Sync"
	if err := unix.Fsync(int(m.file.Fd())); err != nil {
		return cerrors.New(cerrors.IoError, op, err)
	}
	return m.persistFreeMap()
}

// Close releases the backing file descriptor. Callers should Sync first if
// durability is required.
func (m *Manager) Close() error {
	return m.file.Close()
}

func (m *Manager) persistFreeMap() error {
	const op = "blockmgr.persistFreeMap"
	f, err := renameio.TempFile("", m.metaPath)
	if err != nil {
		return cerrors.New(cerrors.IoError, op, err)
	}
	defer f.Cleanup()
	if _, err := f.Write(m.fm.bits); err != nil {
		return cerrors.New(cerrors.IoError, op, err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return cerrors.New(cerrors.IoError, op, xerrors.Errorf("atomically replacing free map: %w", err))
	}
	return nil
}
