package graph

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/covstore/covstore/internal/cerrors"
	"github.com/covstore/covstore/internal/version"
)

const currentVersionsFile = "current_versions.meta"

// Persist writes one <name>.meta file per tracked file plus
// current_versions.meta, all atomically via renameio, under metaDir. Each
// file's write is independent, so they fan out over an errgroup.Group the
// way internal/fuse and internal/install join independent writes in the
// teacher repo.
func (g *Graph) Persist() error {
	const op = "graph.Persist"
	if err := os.MkdirAll(g.metaDir, 0755); err != nil {
		return cerrors.New(cerrors.IoError, op, err)
	}

	var eg errgroup.Group
	for name, fm := range g.files {
		name, fm := name, fm
		eg.Go(func() error {
			return g.persistFile(name, fm)
		})
	}
	eg.Go(func() error {
		return g.persistCurrentVersions()
	})
	if err := eg.Wait(); err != nil {
		return cerrors.New(cerrors.IoError, op, err)
	}
	return nil
}

func (g *Graph) persistFile(name string, fm *version.FileMetadata) error {
	data, err := version.Encode(fm)
	if err != nil {
		return xerrors.Errorf("encoding %q: %w", name, err)
	}
	path := filepath.Join(g.metaDir, name+".meta")
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("creating temp file for %q: %w", name, err)
	}
	defer f.Cleanup()
	if _, err := f.Write(data); err != nil {
		return xerrors.Errorf("writing metadata for %q: %w", name, err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("replacing metadata for %q: %w", name, err)
	}
	return nil
}

func (g *Graph) persistCurrentVersions() error {
	data, err := version.EncodeCurrentVersions(g.current)
	if err != nil {
		return xerrors.Errorf("encoding current versions: %w", err)
	}
	path := filepath.Join(g.metaDir, currentVersionsFile)
	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("creating temp file for current versions: %w", err)
	}
	defer f.Cleanup()
	if _, err := f.Write(data); err != nil {
		return xerrors.Errorf("writing current versions: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("replacing current versions: %w", err)
	}
	return nil
}

// Load clears in-memory state, then reads every *.meta file in metaDir
// except current_versions.meta, mirroring VersionGraph::loadMetadata's
// directory scan in the original implementation.
func (g *Graph) Load() error {
	const op = "graph.Load"
	g.files = make(map[string]*version.FileMetadata)
	g.current = make(map[string]uint64)

	entries, err := os.ReadDir(g.metaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.New(cerrors.IoError, op, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == currentVersionsFile || !strings.HasSuffix(name, ".meta") {
			continue
		}
		fileName := strings.TrimSuffix(name, ".meta")
		data, err := os.ReadFile(filepath.Join(g.metaDir, name))
		if err != nil {
			return cerrors.New(cerrors.IoError, op, err)
		}
		fm, err := version.Decode(data)
		if err != nil {
			return xerrors.Errorf("%s: decoding %q: %w", op, fileName, err)
		}
		g.files[fileName] = fm
		g.current[fileName] = fm.LatestVersion()
	}

	cvPath := filepath.Join(g.metaDir, currentVersionsFile)
	data, err := os.ReadFile(cvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.New(cerrors.IoError, op, err)
	}
	current, err := version.DecodeCurrentVersions(data)
	if err != nil {
		return xerrors.Errorf("%s: decoding current versions: %w", op, err)
	}
	for name, ver := range current {
		if _, ok := g.files[name]; ok {
			g.current[name] = ver
		}
	}
	return nil
}
