// Package covstore implements a copy-on-write versioned file store on top
// of a fixed-size block device: named logical files can be created, read,
// written at arbitrary byte ranges, and rolled back to any prior version,
// with unchanged blocks shared between versions instead of copied.
package covstore

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/covstore/covstore/internal/blockmgr"
	"github.com/covstore/covstore/internal/cerrors"
	"github.com/covstore/covstore/internal/diff"
	"github.com/covstore/covstore/internal/env"
	"github.com/covstore/covstore/internal/graph"
	"github.com/covstore/covstore/internal/version"
)

// Engine is the stateful front end composing the block manager and version
// graph into a single versioned file store. It is not safe for concurrent
// use; a host wanting concurrency serialises calls externally.
type Engine struct {
	bm        *blockmgr.Manager
	vg        *graph.Graph
	blockSize int

	open map[string]bool

	cleanup *cleanupRegistry
}

// Init (re)creates an engine backed by the block file at path, with
// capacity sizeMB megabytes rounded down to whole blocks. If a metadata
// directory already exists alongside path, its contents are loaded so the
// engine resumes from the last durable checkpoint.
func Init(path string, sizeMB int) (*Engine, error) {
	const op = "covstore.Init"
	blockSize := env.DefaultBlockSize
	totalBytes := int64(sizeMB) * 1024 * 1024

	bm, err := blockmgr.Open(path, totalBytes, blockSize)
	if err != nil {
		return nil, err
	}

	metaDir := path + "_metadata"
	vg := graph.New(bm, metaDir)
	if err := vg.Load(); err != nil {
		bm.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e := &Engine{
		bm:        bm,
		vg:        vg,
		blockSize: blockSize,
		open:      make(map[string]bool),
		cleanup:   &cleanupRegistry{},
	}
	e.cleanup.register(bm.Close)
	return e, nil
}

// Create registers a new file with a single empty root version. It fails
// with AlreadyExists if name is already present.
func (e *Engine) Create(name, typ string) error {
	return e.vg.CreateFile(name, typ, time.Now().Unix())
}

// Open marks name as open, required before Write or Read. A file already
// open cannot be opened again until Close.
func (e *Engine) Open(name string) error {
	const op = "covstore.Open"
	if !e.vg.FileExists(name) {
		return cerrors.New(cerrors.NotFound, op, nil)
	}
	if e.open[name] {
		return cerrors.New(cerrors.AlreadyOpen, op, nil)
	}
	e.open[name] = true
	return nil
}

// Close clears name's open flag and implicitly syncs.
func (e *Engine) Close(name string) error {
	const op = "covstore.Close"
	if !e.open[name] {
		return cerrors.New(cerrors.NotOpen, op, nil)
	}
	delete(e.open, name)
	return e.Sync()
}

// Read returns the full current-version content of name, with trailing NULs
// produced by block padding already stripped.
func (e *Engine) Read(name string) ([]byte, error) {
	const op = "covstore.Read"
	if !e.open[name] {
		return nil, cerrors.New(cerrors.NotOpen, op, nil)
	}
	cur, err := e.vg.CurrentVersion(name)
	if err != nil {
		return nil, err
	}
	return e.vg.Restore(name, cur)
}

// Write performs the copy-on-write write at the heart of the engine: it
// reconstructs the current version, splices in data at offset, diffs the
// result against the current version at block granularity, allocates fresh
// blocks only for the changed positions, and appends a new version. If any
// allocation or block write fails mid-call, every block this call allocated
// is freed before the error is returned and no new version is recorded.
func (e *Engine) Write(name string, offset int, data []byte) error {
	const op = "covstore.Write"
	if !e.open[name] {
		return cerrors.New(cerrors.NotOpen, op, nil)
	}

	curID, err := e.vg.CurrentVersion(name)
	if err != nil {
		return err
	}
	current, err := e.vg.Restore(name, curID)
	if err != nil {
		return err
	}
	fm, err := e.vg.Metadata(name)
	if err != nil {
		return err
	}
	parent := fm.Version(curID)

	newBuf := splice(current, offset, data)
	modified := diff.Modified(current, newBuf, e.blockSize)
	modifiedSet := make(map[int]bool, len(modified))
	for _, i := range modified {
		modifiedSet[i] = true
	}

	n := diff.NumBlocks(len(newBuf), e.blockSize)
	newBlockList := make([]uint64, n)
	var allocated []uint64

	for i := 0; i < n; i++ {
		if !modifiedSet[i] {
			newBlockList[i] = parent.BlockList[i]
			continue
		}
		idx, err := e.bm.Allocate()
		if err != nil {
			e.freeAll(allocated)
			return err
		}
		allocated = append(allocated, idx)
		if err := e.bm.Write(idx, diff.Block(newBuf, i, e.blockSize)); err != nil {
			e.freeAll(allocated)
			return err
		}
		newBlockList[i] = idx
	}

	modUint := make([]uint64, len(modified))
	for i, m := range modified {
		modUint[i] = uint64(m)
	}
	vi := &version.VersionInfo{
		VersionID:      curID + 1,
		Timestamp:      time.Now().Unix(),
		ParentVersion:  curID,
		BlockList:      newBlockList,
		ModifiedBlocks: modUint,
	}
	return e.vg.AppendVersion(name, vi, uint64(len(newBuf)))
}

func (e *Engine) freeAll(indices []uint64) {
	for _, idx := range indices {
		e.bm.Free(idx)
	}
}

// splice builds the new buffer: data is spliced in at offset when offset is
// within the current content; writes past EOF pad the gap with ASCII spaces
// (0x20), not NUL, a behavioural quirk carried over unchanged from the
// original implementation.
func splice(current []byte, offset int, data []byte) []byte {
	if offset <= len(current) {
		out := make([]byte, 0, offset+len(data)+maxInt(0, len(current)-offset-len(data)))
		out = append(out, current[:offset]...)
		out = append(out, data...)
		if tailStart := offset + len(data); tailStart < len(current) {
			out = append(out, current[tailStart:]...)
		}
		return out
	}
	out := make([]byte, 0, offset+len(data))
	out = append(out, current...)
	for len(out) < offset {
		out = append(out, ' ')
	}
	out = append(out, data...)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Rollback retargets name's current-version pointer to an existing version
// id without discarding later versions — they remain in the history and a
// later rollback forward can retarget to them. CollectGarbage does not mark
// them, so it frees their blocks, and a Write after the rollback records
// its version under id current+1, replacing any version stored under that id.
func (e *Engine) Rollback(name string, versionID uint64) error {
	return e.vg.Rollback(name, versionID)
}

// Sync flushes the block manager and persists all metadata.
func (e *Engine) Sync() error {
	if err := e.bm.Sync(); err != nil {
		return err
	}
	return e.vg.Persist()
}

// CollectGarbage frees every allocated block not reachable from the current
// version of some file and returns the number of blocks freed.
func (e *Engine) CollectGarbage() int {
	return e.vg.CollectGarbage()
}

// ListFiles returns the names of all known files.
func (e *Engine) ListFiles() []string {
	return e.vg.ListFiles()
}

// PrintMetadata writes a human-readable summary of name's version history to
// w, defaulting to os.Stdout. It never mutates engine state.
func (e *Engine) PrintMetadata(w io.Writer, name string) error {
	if w == nil {
		w = os.Stdout
	}
	fm, err := e.vg.Metadata(name)
	if err != nil {
		return err
	}
	cur, _ := e.vg.CurrentVersion(name)
	bold, reset := decorationFor(w)
	fmt.Fprintf(w, "%s%s%s type=%s size=%d current=%d\n", bold, fm.Name, reset, fm.Type, fm.FileSize, cur)
	ids := fm.LatestVersion()
	for id := uint64(1); id <= ids; id++ {
		vi := fm.Version(id)
		if vi == nil {
			continue
		}
		marker := ""
		if id == cur {
			marker = bold + "*" + reset
		}
		fmt.Fprintf(w, "  v%d%s parent=%d blocks=%d modified=%d ts=%d\n",
			vi.VersionID, marker, vi.ParentVersion, len(vi.BlockList), len(vi.ModifiedBlocks), vi.Timestamp)
	}
	return nil
}

// InspectBlocks writes the physical block list of name's current version to
// w, highlighting blocks modified versus the parent version when w is a
// terminal.
func (e *Engine) InspectBlocks(w io.Writer, name string) error {
	if w == nil {
		w = os.Stdout
	}
	fm, err := e.vg.Metadata(name)
	if err != nil {
		return err
	}
	cur, err := e.vg.CurrentVersion(name)
	if err != nil {
		return err
	}
	vi := fm.Version(cur)
	if vi == nil {
		return cerrors.New(cerrors.NotFound, "covstore.InspectBlocks", nil)
	}
	modified := make(map[int]bool, len(vi.ModifiedBlocks))
	for _, m := range vi.ModifiedBlocks {
		modified[int(m)] = true
	}
	bold, reset := decorationFor(w)
	for i, idx := range vi.BlockList {
		if modified[i] {
			fmt.Fprintf(w, "  [%d] -> block %d %s(new)%s\n", i, idx, bold, reset)
		} else {
			fmt.Fprintf(w, "  [%d] -> block %d (shared)\n", i, idx)
		}
	}
	return nil
}

// decorationFor returns ANSI bold/reset sequences when w is attached to a
// terminal, or empty strings otherwise — the same "only decorate a tty"
// judgment call distri's stdout-writing diagnostics make.
func decorationFor(w io.Writer) (bold, reset string) {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "\x1b[1m", "\x1b[0m"
	}
	return "", ""
}

// Destroy performs a graceful teardown: it syncs, then runs every
// registered cleanup action (closing the backing file) in registration
// order.
func (e *Engine) Destroy() error {
	if err := e.Sync(); err != nil {
		return err
	}
	return e.cleanup.run()
}
