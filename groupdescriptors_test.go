package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
)

func TestGroupDescriptorsFromBytesNoChecksum(t *testing.T) {
	sb := &superblock{
		groupDescriptorSize: 32,
		blockCount:          200,
		blocksPerGroup:      100,
		inodeCount:          200,
		inodesPerGroup:      100,
	}
	b := make([]byte, 64) // two 32-byte descriptors
	binary.LittleEndian.PutUint32(b[0x0:0x4], 10)  // group 0 block bitmap
	binary.LittleEndian.PutUint32(b[0x4:0x8], 11)  // group 0 inode bitmap
	binary.LittleEndian.PutUint32(b[0x8:0xc], 12)  // group 0 inode table
	binary.LittleEndian.PutUint32(b[32:36], 110)   // group 1 block bitmap
	binary.LittleEndian.PutUint32(b[36:40], 111)   // group 1 inode bitmap
	binary.LittleEndian.PutUint32(b[40:44], 112)   // group 1 inode table

	gds, err := groupDescriptorsFromBytes(b, sb)
	if err != nil {
		t.Fatalf("groupDescriptorsFromBytes: %v", err)
	}
	if len(gds.descriptors) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(gds.descriptors))
	}
	gd0, err := gds.get(0)
	if err != nil {
		t.Fatalf("get(0): %v", err)
	}
	if gd0.blockBitmapLocation != 10 || gd0.inodeBitmapLocation != 11 || gd0.inodeTableLocation != 12 {
		t.Errorf("unexpected group 0 descriptor: %+v", gd0)
	}
	gd1, err := gds.get(1)
	if err != nil {
		t.Fatalf("get(1): %v", err)
	}
	if gd1.inodeTableLocation != 112 {
		t.Errorf("unexpected group 1 descriptor: %+v", gd1)
	}
}

func TestGroupDescriptorsGetOutOfRange(t *testing.T) {
	gds := &groupDescriptors{descriptors: make([]groupDescriptor, 1)}
	if _, err := gds.get(5); err == nil {
		t.Fatalf("expected an error for an out-of-range group")
	}
}

func TestGroupDescriptorsFromBytesRejectsTruncatedTable(t *testing.T) {
	sb := &superblock{groupDescriptorSize: 32, blockCount: 300, blocksPerGroup: 100, inodeCount: 100, inodesPerGroup: 100}
	if _, err := groupDescriptorsFromBytes(make([]byte, 32), sb); err == nil {
		t.Fatalf("expected an error when the buffer is too short for the computed group count")
	}
}

func TestGroupDescriptorsFromBytesRejectsBadDescriptorSize(t *testing.T) {
	sb := &superblock{groupDescriptorSize: 17, blockCount: 100, blocksPerGroup: 100, inodeCount: 100, inodesPerGroup: 100}
	if _, err := groupDescriptorsFromBytes(make([]byte, 32), sb); err == nil {
		t.Fatalf("expected an error for an unsupported descriptor size")
	}
}

func TestGroupDescriptorChecksumGdtRoundTrips(t *testing.T) {
	id := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	b := make([]byte, 32)
	binary.LittleEndian.PutUint32(b[0x0:0x4], 10)
	binary.LittleEndian.PutUint32(b[0x4:0x8], 11)
	binary.LittleEndian.PutUint32(b[0x8:0xc], 12)

	checksum := groupDescriptorChecksum(b, id[:], 0, gdtChecksumGdt, 0)
	binary.LittleEndian.PutUint16(b[0x1e:0x20], checksum)

	gd, err := groupDescriptorFromBytes(b, false, 0, gdtChecksumGdt, id[:], 0)
	if err != nil {
		t.Fatalf("groupDescriptorFromBytes: %v", err)
	}
	if gd.blockBitmapLocation != 10 {
		t.Errorf("unexpected descriptor: %+v", gd)
	}
}

func TestGroupDescriptorChecksumMetadataRejectsMismatch(t *testing.T) {
	id := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	b := make([]byte, 32)
	binary.LittleEndian.PutUint32(b[0x0:0x4], 10)
	binary.LittleEndian.PutUint16(b[0x1e:0x20], 0xdead) // deliberately wrong

	if _, err := groupDescriptorFromBytes(b, false, 0, gdtChecksumMetadata, id[:], 0); err == nil {
		t.Fatalf("expected an error for a mismatched metadata checksum")
	}
}

func TestGroupDescriptorChecksumNoneSkipsValidation(t *testing.T) {
	got := groupDescriptorChecksum(make([]byte, 32), make([]byte, 16), 0, gdtChecksumNone, 0)
	if got != 0 {
		t.Errorf("expected 0 for gdtChecksumNone, got %#x", got)
	}
}

func TestGroupDescriptorFromBytes64Bit(t *testing.T) {
	b := make([]byte, 64)
	binary.LittleEndian.PutUint32(b[0x0:0x4], 0x1000)
	binary.LittleEndian.PutUint32(b[0x20:0x24], 1) // high 32 bits of block bitmap

	gd, err := groupDescriptorFromBytes(b, true, 0, gdtChecksumNone, nil, 0)
	if err != nil {
		t.Fatalf("groupDescriptorFromBytes: %v", err)
	}
	want := uint64(1)<<32 | 0x1000
	if gd.blockBitmapLocation != want {
		t.Errorf("blockBitmapLocation = %#x, want %#x", gd.blockBitmapLocation, want)
	}
}
