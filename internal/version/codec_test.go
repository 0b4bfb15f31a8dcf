package version

import (
	"testing"

	"github.com/covstore/covstore/internal/cerrors"
	"github.com/google/go-cmp/cmp"
)

func sampleMetadata() *FileMetadata {
	return &FileMetadata{
		Name:     "report.txt",
		FileSize: 11,
		Type:     "txt",
		Versions: map[uint64]*VersionInfo{
			1: {VersionID: 1, Timestamp: 1000, ParentVersion: 0},
			2: {
				VersionID:      2,
				Timestamp:      1001,
				ParentVersion:  1,
				BlockList:      []uint64{0},
				ModifiedBlocks: []uint64{0},
			},
			3: {
				VersionID:      3,
				Timestamp:      1002,
				ParentVersion:  2,
				BlockList:      []uint64{0, 3},
				ModifiedBlocks: []uint64{1},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleMetadata()
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode(Encode(fm)) mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTruncatedInput(t *testing.T) {
	data, err := Encode(sampleMetadata())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, n := range []int{0, 1, 4, len(data) - 1} {
		if _, err := Decode(data[:n]); !cerrors.Is(err, cerrors.FormatError) {
			t.Errorf("Decode(truncated to %d bytes) = %v, want FormatError", n, err)
		}
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(sampleMetadata())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data = append(data, 0xFF)
	if _, err := Decode(data); !cerrors.Is(err, cerrors.FormatError) {
		t.Errorf("Decode(data with trailing byte) = %v, want FormatError", err)
	}
}

func TestCurrentVersionsRoundTrip(t *testing.T) {
	want := map[string]uint64{"a.txt": 3, "b.bin": 1}
	data, err := EncodeCurrentVersions(want)
	if err != nil {
		t.Fatalf("EncodeCurrentVersions: %v", err)
	}
	got, err := DecodeCurrentVersions(data)
	if err != nil {
		t.Fatalf("DecodeCurrentVersions: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLatestVersion(t *testing.T) {
	fm := sampleMetadata()
	if got := fm.LatestVersion(); got != 3 {
		t.Errorf("LatestVersion() = %d, want 3", got)
	}
}
