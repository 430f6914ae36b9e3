package ext4

import (
	"encoding/binary"
	"testing"
)

// writeDirEntry appends one directory entry to b at the given offset and
// returns the offset immediately past it.
func writeDirEntry(b []byte, off int, inode uint32, recLen uint16, fileType dirFileType, name string) int {
	binary.LittleEndian.PutUint32(b[off:off+4], inode)
	binary.LittleEndian.PutUint16(b[off+4:off+6], recLen)
	b[off+6] = byte(len(name))
	b[off+7] = byte(fileType)
	copy(b[off+8:], name)
	return off + int(recLen)
}

func TestParseDirEntriesLinear(t *testing.T) {
	const blockSize = 1024
	b := make([]byte, blockSize)

	off := writeDirEntry(b, 0, 2, 12, dirFileTypeDir, ".")
	off = writeDirEntry(b, off, 2, 12, dirFileTypeDir, "..")
	off = writeDirEntry(b, off, 12, 20, dirFileTypeRegular, "hello.txt")
	// Final entry absorbs the rest of the block.
	writeDirEntry(b, off, 13, uint16(blockSize-off), dirFileTypeRegular, "world")

	entries, err := parseDirEntriesLinear(b, true, blockSize)
	if err != nil {
		t.Fatalf("parseDirEntriesLinear: %v", err)
	}

	want := []directoryEntry{
		{inode: 2, recLen: 12, fileType: dirFileTypeDir, name: "."},
		{inode: 2, recLen: 12, fileType: dirFileTypeDir, name: ".."},
		{inode: 12, recLen: 20, fileType: dirFileTypeRegular, name: "hello.txt"},
		{inode: 13, recLen: uint16(blockSize - off), fileType: dirFileTypeRegular, name: "world"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParseDirEntriesLinearSkipsDeleted(t *testing.T) {
	const blockSize = 64
	b := make([]byte, blockSize)
	off := writeDirEntry(b, 0, 0, 12, dirFileTypeUnknown, "gone") // inode 0: deleted
	writeDirEntry(b, off, 5, uint16(blockSize-off), dirFileTypeRegular, "alive")

	entries, err := parseDirEntriesLinear(b, true, blockSize)
	if err != nil {
		t.Fatalf("parseDirEntriesLinear: %v", err)
	}
	if len(entries) != 1 || entries[0].name != "alive" {
		t.Fatalf("got %+v, want a single \"alive\" entry", entries)
	}
}

func TestParseDirEntriesLinearRejectsTruncatedRecLen(t *testing.T) {
	const blockSize = 64
	b := make([]byte, blockSize)
	// rec_len claims more than the block has room for.
	writeDirEntry(b, 0, 5, blockSize+8, dirFileTypeRegular, "x")

	if _, err := parseDirEntriesLinear(b, true, blockSize); err == nil {
		t.Fatalf("expected an error for an out-of-bounds rec_len")
	}
}

func TestParseDirEntriesLinearRejectsWrongBlockSize(t *testing.T) {
	b := make([]byte, 10)
	if _, err := parseDirEntriesLinear(b, true, 1024); err == nil {
		t.Fatalf("expected an error for a buffer shorter than blockSize")
	}
}

func TestParseDirEntriesInline(t *testing.T) {
	const selfInode = 12
	const parentInode = 2
	b := make([]byte, 32)
	binary.LittleEndian.PutUint32(b[0:4], parentInode)
	writeDirEntry(b, 4, 13, uint16(len(b)-4), dirFileTypeRegular, "child")

	entries, err := parseDirEntriesInline(b, true, selfInode)
	if err != nil {
		t.Fatalf("parseDirEntriesInline: %v", err)
	}

	want := []directoryEntry{
		{inode: selfInode, fileType: dirFileTypeDir, name: "."},
		{inode: parentInode, fileType: dirFileTypeDir, name: ".."},
		{inode: 13, recLen: uint16(len(b) - 4), fileType: dirFileTypeRegular, name: "child"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParseDirEntriesInlineRejectsTooShortForDotdotHeader(t *testing.T) {
	if _, err := parseDirEntriesInline([]byte{1, 2, 3}, true, 2); err == nil {
		t.Fatalf("expected an error for data shorter than the dotdot header")
	}
}
