package version

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/covstore/covstore/internal/cerrors"
)

// encodeBufPool pools the scratch buffers used by Encode, the way
// pb.ReadMetaFile pools a *bytes.Buffer for repeated metadata
// deserialisation.
var encodeBufPool = sync.Pool{
	New: func() interface{} { return &bytes.Buffer{} },
}

var order = binary.LittleEndian

// Encode serialises fm into its exact on-disk wire format: a self-describing
// binary layout with an explicit version count and no extensibility — this
// is why covstore does not use protobuf here (see DESIGN.md).
func Encode(fm *FileMetadata) ([]byte, error) {
	const op = "version.Encode"
	b := encodeBufPool.Get().(*bytes.Buffer)
	b.Reset()
	defer encodeBufPool.Put(b)

	if err := writeString(b, fm.Name); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	if err := binary.Write(b, order, fm.FileSize); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	if err := writeString(b, fm.Type); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}

	ids := make([]uint64, 0, len(fm.Versions))
	for id := range fm.Versions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := binary.Write(b, order, uint64(len(ids))); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	for _, id := range ids {
		vi := fm.Versions[id]
		if err := writeVersionInfo(b, vi); err != nil {
			return nil, cerrors.New(cerrors.FormatError, op, err)
		}
	}

	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out, nil
}

func writeVersionInfo(b *bytes.Buffer, vi *VersionInfo) error {
	if err := binary.Write(b, order, vi.VersionID); err != nil {
		return err
	}
	if err := binary.Write(b, order, vi.Timestamp); err != nil {
		return err
	}
	if err := binary.Write(b, order, vi.ParentVersion); err != nil {
		return err
	}
	if err := binary.Write(b, order, uint64(len(vi.BlockList))); err != nil {
		return err
	}
	for _, idx := range vi.BlockList {
		if err := binary.Write(b, order, idx); err != nil {
			return err
		}
	}
	if err := binary.Write(b, order, uint64(len(vi.ModifiedBlocks))); err != nil {
		return err
	}
	for _, idx := range vi.ModifiedBlocks {
		if err := binary.Write(b, order, idx); err != nil {
			return err
		}
	}
	return nil
}

func writeString(b *bytes.Buffer, s string) error {
	if err := binary.Write(b, order, uint64(len(s))); err != nil {
		return err
	}
	_, err := b.WriteString(s)
	return err
}

// Decode deserialises the exact wire format written by Encode. Truncated
// input is rejected with a FormatError, never a panic; trailing bytes after
// the last version are a hard error since the format is exact, not
// extensible.
func Decode(data []byte) (*FileMetadata, error) {
	const op = "version.Decode"
	r := bytes.NewReader(data)

	name, err := readString(r)
	if err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	var fileSize uint64
	if err := binary.Read(r, order, &fileSize); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	typ, err := readString(r)
	if err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	var verCount uint64
	if err := binary.Read(r, order, &verCount); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}

	versions := make(map[uint64]*VersionInfo, verCount)
	for i := uint64(0); i < verCount; i++ {
		vi, err := readVersionInfo(r)
		if err != nil {
			return nil, cerrors.New(cerrors.FormatError, op, err)
		}
		versions[vi.VersionID] = vi
	}

	if r.Len() != 0 {
		return nil, cerrors.Errorf(cerrors.FormatError, "%s: %d trailing bytes after last version", op, r.Len())
	}

	return &FileMetadata{
		Name:     name,
		FileSize: fileSize,
		Type:     typ,
		Versions: versions,
	}, nil
}

func readVersionInfo(r *bytes.Reader) (*VersionInfo, error) {
	vi := &VersionInfo{}
	if err := binary.Read(r, order, &vi.VersionID); err != nil {
		return nil, err
	}
	if err := binary.Read(r, order, &vi.Timestamp); err != nil {
		return nil, err
	}
	if err := binary.Read(r, order, &vi.ParentVersion); err != nil {
		return nil, err
	}
	var blockCount uint64
	if err := binary.Read(r, order, &blockCount); err != nil {
		return nil, err
	}
	if blockCount > 0 {
		vi.BlockList = make([]uint64, blockCount)
	}
	for i := range vi.BlockList {
		if err := binary.Read(r, order, &vi.BlockList[i]); err != nil {
			return nil, err
		}
	}
	var modCount uint64
	if err := binary.Read(r, order, &modCount); err != nil {
		return nil, err
	}
	if modCount > 0 {
		vi.ModifiedBlocks = make([]uint64, modCount)
	}
	for i := range vi.ModifiedBlocks {
		if err := binary.Read(r, order, &vi.ModifiedBlocks[i]); err != nil {
			return nil, err
		}
	}
	return vi, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, order, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// EncodeCurrentVersions serialises the {file_count, (name_len, name,
// current_version)*} layout of current_versions.meta.
func EncodeCurrentVersions(current map[string]uint64) ([]byte, error) {
	const op = "version.EncodeCurrentVersions"
	b := encodeBufPool.Get().(*bytes.Buffer)
	b.Reset()
	defer encodeBufPool.Put(b)

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := binary.Write(b, order, uint64(len(names))); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	for _, name := range names {
		if err := writeString(b, name); err != nil {
			return nil, cerrors.New(cerrors.FormatError, op, err)
		}
		if err := binary.Write(b, order, current[name]); err != nil {
			return nil, cerrors.New(cerrors.FormatError, op, err)
		}
	}
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out, nil
}

// DecodeCurrentVersions deserialises current_versions.meta.
func DecodeCurrentVersions(data []byte) (map[string]uint64, error) {
	const op = "version.DecodeCurrentVersions"
	r := bytes.NewReader(data)
	var fileCount uint64
	if err := binary.Read(r, order, &fileCount); err != nil {
		return nil, cerrors.New(cerrors.FormatError, op, err)
	}
	out := make(map[string]uint64, fileCount)
	for i := uint64(0); i < fileCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, cerrors.New(cerrors.FormatError, op, err)
		}
		var cur uint64
		if err := binary.Read(r, order, &cur); err != nil {
			return nil, cerrors.New(cerrors.FormatError, op, err)
		}
		out[name] = cur
	}
	if r.Len() != 0 {
		return nil, cerrors.Errorf(cerrors.FormatError, "%s: %d trailing bytes", op, r.Len())
	}
	return out, nil
}
