// Package graph implements the version graph: an index over per-file
// version metadata plus a current-version pointer per file, with a borrowed
// reference to the block manager for reconstruction and garbage collection.
package graph

import (
	"bytes"

	"github.com/covstore/covstore/internal/blockmgr"
	"github.com/covstore/covstore/internal/cerrors"
	"github.com/covstore/covstore/internal/version"
)

// Graph indexes FileMetadata by name and tracks each file's current version.
// It borrows bm for the lifetime of the engine; it does not own it, and does
// not close it.
type Graph struct {
	bm      *blockmgr.Manager
	metaDir string

	files   map[string]*version.FileMetadata
	current map[string]uint64
}

// New constructs an empty Graph over bm, persisting to metaDir.
func New(bm *blockmgr.Manager, metaDir string) *Graph {
	return &Graph{
		bm:      bm,
		metaDir: metaDir,
		files:   make(map[string]*version.FileMetadata),
		current: make(map[string]uint64),
	}
}

// FileExists reports whether name has metadata in the graph.
func (g *Graph) FileExists(name string) bool {
	_, ok := g.files[name]
	return ok
}

// Metadata returns the FileMetadata for name.
func (g *Graph) Metadata(name string) (*version.FileMetadata, error) {
	fm, ok := g.files[name]
	if !ok {
		return nil, cerrors.New(cerrors.NotFound, "graph.Metadata", nil)
	}
	return fm, nil
}

// CurrentVersion returns the current version id for name.
func (g *Graph) CurrentVersion(name string) (uint64, error) {
	if !g.FileExists(name) {
		return 0, cerrors.New(cerrors.NotFound, "graph.CurrentVersion", nil)
	}
	return g.current[name], nil
}

// CreateFile registers a new file with a single empty root version:
// version_id 1, parent_version 0, empty block_list and modified_blocks.
func (g *Graph) CreateFile(name, typ string, now int64) error {
	const op = "graph.CreateFile"
	if g.FileExists(name) {
		return cerrors.New(cerrors.AlreadyExists, op, nil)
	}
	root := &version.VersionInfo{
		VersionID:     1,
		Timestamp:     now,
		ParentVersion: 0,
	}
	g.files[name] = &version.FileMetadata{
		Name:     name,
		FileSize: 0,
		Type:     typ,
		Versions: map[uint64]*version.VersionInfo{1: root},
	}
	g.current[name] = 1
	return nil
}

// AppendVersion records vi as the newest version of name and advances its
// current-version pointer. Callers must set vi.VersionID to current+1.
func (g *Graph) AppendVersion(name string, vi *version.VersionInfo, fileSize uint64) error {
	const op = "graph.AppendVersion"
	fm, ok := g.files[name]
	if !ok {
		return cerrors.New(cerrors.NotFound, op, nil)
	}
	fm.Versions[vi.VersionID] = vi
	fm.FileSize = fileSize
	g.current[name] = vi.VersionID
	return nil
}

// Restore reconstructs the full byte content of name at versionID by reading
// every block in its block_list, in order, and trimming trailing NUL bytes
// produced by block padding.
func (g *Graph) Restore(name string, versionID uint64) ([]byte, error) {
	const op = "graph.Restore"
	fm, ok := g.files[name]
	if !ok {
		return nil, cerrors.New(cerrors.NotFound, op, nil)
	}
	vi, ok := fm.Versions[versionID]
	if !ok {
		return nil, cerrors.New(cerrors.NotFound, op, nil)
	}

	blockSize := g.bm.BlockSize()
	buf := make([]byte, 0, len(vi.BlockList)*blockSize)
	for _, idx := range vi.BlockList {
		block, err := g.bm.Read(idx, blockSize)
		if err != nil {
			return nil, err
		}
		buf = append(buf, block...)
	}
	return bytes.TrimRight(buf, "\x00"), nil
}

// Rollback retargets name's current-version pointer to an existing version
// id without discarding later versions.
func (g *Graph) Rollback(name string, versionID uint64) error {
	const op = "graph.Rollback"
	fm, ok := g.files[name]
	if !ok {
		return cerrors.New(cerrors.NotFound, op, nil)
	}
	if _, ok := fm.Versions[versionID]; !ok {
		return cerrors.New(cerrors.NotFound, op, nil)
	}
	g.current[name] = versionID
	return nil
}

// ListFiles returns the names of all files known to the graph.
func (g *Graph) ListFiles() []string {
	names := make([]string, 0, len(g.files))
	for name := range g.files {
		names = append(names, name)
	}
	return names
}
