package ext4

import (
	"encoding/binary"
	"testing"
)

func writeExtentHeader(b []byte, entries, max, depth uint16) {
	binary.LittleEndian.PutUint16(b[0:2], extentHeaderSignature)
	binary.LittleEndian.PutUint16(b[2:4], entries)
	binary.LittleEndian.PutUint16(b[4:6], max)
	binary.LittleEndian.PutUint16(b[6:8], depth)
}

func writeLeafExtent(b []byte, idx int, fileBlock uint32, count uint16, uninit bool, startingBlock uint64) {
	off := idx*extentTreeEntryLength + extentTreeHeaderLength
	binary.LittleEndian.PutUint32(b[off:off+4], fileBlock)
	rawCount := count
	if uninit {
		rawCount |= uninitializedExtentBit
	}
	binary.LittleEndian.PutUint16(b[off+4:off+6], rawCount)
	binary.LittleEndian.PutUint16(b[off+6:off+8], uint16(startingBlock>>32))
	binary.LittleEndian.PutUint32(b[off+8:off+12], uint32(startingBlock))
}

func TestParseExtentsLeafSingleRun(t *testing.T) {
	b := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(b, 1, 4, 0)
	writeLeafExtent(b, 0, 0, 10, false, 100)

	ebf, err := parseExtents(b, 4096, 0, 10)
	if err != nil {
		t.Fatalf("parseExtents: %v", err)
	}
	if ebf.getDepth() != 0 {
		t.Fatalf("expected leaf depth 0, got %d", ebf.getDepth())
	}

	runs, err := ebf.findBlocks(0, 10, nil)
	if err != nil {
		t.Fatalf("findBlocks: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1: %+v", len(runs), runs)
	}
	if runs[0].diskBlock != 100 || runs[0].count != 10 || runs[0].hole {
		t.Errorf("unexpected run: %+v", runs[0])
	}
}

func TestParseExtentsLeafUninitializedIsHole(t *testing.T) {
	b := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(b, 1, 4, 0)
	writeLeafExtent(b, 0, 0, 5, true, 200)

	ebf, err := parseExtents(b, 4096, 0, 5)
	if err != nil {
		t.Fatalf("parseExtents: %v", err)
	}
	runs, err := ebf.findBlocks(0, 5, nil)
	if err != nil {
		t.Fatalf("findBlocks: %v", err)
	}
	if len(runs) != 1 || !runs[0].hole {
		t.Fatalf("expected a hole run, got %+v", runs)
	}
}

func TestParseExtentsPartialOverlap(t *testing.T) {
	b := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(b, 1, 4, 0)
	writeLeafExtent(b, 0, 10, 20, false, 1000)

	ebf, err := parseExtents(b, 4096, 10, 20)
	if err != nil {
		t.Fatalf("parseExtents: %v", err)
	}
	// Request only logical blocks 15..19 (5 blocks) of the 20-block extent.
	runs, err := ebf.findBlocks(15, 5, nil)
	if err != nil {
		t.Fatalf("findBlocks: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1: %+v", len(runs), runs)
	}
	if runs[0].diskBlock != 1005 || runs[0].count != 5 || runs[0].fileBlock != 15 {
		t.Errorf("unexpected run: %+v", runs[0])
	}
}

func TestParseExtentsRejectsBadSignature(t *testing.T) {
	b := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	binary.LittleEndian.PutUint16(b[0:2], 0x1234)
	if _, err := parseExtents(b, 4096, 0, 1); err == nil {
		t.Fatalf("expected an error for a bad extent signature")
	}
}

func TestParseExtentsRejectsExcessiveDepth(t *testing.T) {
	b := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(b, 1, 4, uint16(extentTreeMaxDepth+1))
	if _, err := parseExtents(b, 4096, 0, 1); err == nil {
		t.Fatalf("expected an error for depth exceeding the maximum")
	}
}

func TestParseExtentsRejectsTruncatedBuffer(t *testing.T) {
	b := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(b, 3, 4, 0) // claims 3 entries but buffer only holds 1
	if _, err := parseExtents(b, 4096, 0, 1); err == nil {
		t.Fatalf("expected an error for a buffer too short for the claimed entry count")
	}
}

func TestParseExtentsInternalNodeDescends(t *testing.T) {
	const blockSize = 4096
	root := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(root, 1, 4, 1)
	off := extentTreeHeaderLength
	binary.LittleEndian.PutUint32(root[off:off+4], 0) // child covers file blocks starting at 0
	binary.LittleEndian.PutUint32(root[off+4:off+8], 50)
	binary.LittleEndian.PutUint16(root[off+8:off+10], 0)

	leaf := make([]byte, extentTreeHeaderLength+extentTreeEntryLength)
	writeExtentHeader(leaf, 1, 4, 0)
	writeLeafExtent(leaf, 0, 0, 8, false, 900)

	data := make([]byte, blockSize*51)
	copy(data[50*blockSize:], leaf)
	v := newTestVolume(blockSize, data)

	ebf, err := parseExtents(root, blockSize, 0, 8)
	if err != nil {
		t.Fatalf("parseExtents: %v", err)
	}
	if ebf.getDepth() != 1 {
		t.Fatalf("expected internal depth 1, got %d", ebf.getDepth())
	}
	runs, err := ebf.findBlocks(0, 8, v)
	if err != nil {
		t.Fatalf("findBlocks: %v", err)
	}
	if len(runs) != 1 || runs[0].diskBlock != 900 || runs[0].count != 8 {
		t.Fatalf("unexpected run: %+v", runs)
	}
}
