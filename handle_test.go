package ext4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
)

// buildTestImage assembles a minimal, non-checksummed classic-ext2-style
// image (128-byte inodes, no extents, no journal, no HTree) with a root
// directory containing one regular file, "hello.txt", holding "world\n".
// Layout (1024-byte blocks): 0 boot, 1 superblock, 2 group descriptor
// table, 3 block bitmap (unused by this viewer, left zero), 4 inode
// bitmap, 5 inode table, 6 root directory data, 7 file data.
func buildTestImage(t *testing.T) []byte {
	t.Helper()
	const blockSize = 1024
	const blockCount = 8
	img := make([]byte, blockSize*blockCount)

	sb := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(sb[0x0:0x4], 8)   // inode count
	binary.LittleEndian.PutUint32(sb[0x4:0x8], blockCount)
	binary.LittleEndian.PutUint32(sb[0xc:0x10], 1) // free blocks
	binary.LittleEndian.PutUint32(sb[0x10:0x14], 5) // free inodes
	binary.LittleEndian.PutUint32(sb[0x14:0x18], 1) // first data block
	binary.LittleEndian.PutUint32(sb[0x18:0x1c], 0) // log block size -> 1024
	binary.LittleEndian.PutUint32(sb[0x20:0x24], blockCount) // blocks per group
	binary.LittleEndian.PutUint32(sb[0x28:0x2c], 8)          // inodes per group
	binary.LittleEndian.PutUint16(sb[0x38:0x3a], superblockMagic)
	binary.LittleEndian.PutUint16(sb[0x58:0x5a], 128) // inode size
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	copy(sb[0x68:0x78], id[:])
	copy(sb[0x78:0x88], []byte("testvol"))
	copy(img[superblockOffset:superblockOffset+superblockSize], sb)

	gd := make([]byte, 32)
	binary.LittleEndian.PutUint32(gd[0x0:0x4], 3) // block bitmap
	binary.LittleEndian.PutUint32(gd[0x4:0x8], 4) // inode bitmap
	binary.LittleEndian.PutUint32(gd[0x8:0xc], 5) // inode table
	copy(img[2*blockSize:], gd)

	// Inode bitmap: inode 2 (root) and inode 3 (file) allocated -> bits 1,2.
	img[4*blockSize] = 0b00000110

	const inodeSize = 128
	writeInode := func(idx int, mode uint16, size uint32, links uint16, blockPtr0 uint32, linkTarget string) {
		off := 5*blockSize + idx*inodeSize
		b := img[off : off+inodeSize]
		binary.LittleEndian.PutUint16(b[0x0:0x2], mode)
		binary.LittleEndian.PutUint32(b[0x4:0x8], size)
		binary.LittleEndian.PutUint16(b[0x1a:0x1c], links)
		binary.LittleEndian.PutUint32(b[0x1c:0x20], blockSize/512)
		if linkTarget != "" {
			copy(b[0x28:0x28+len(linkTarget)], linkTarget)
		} else {
			binary.LittleEndian.PutUint32(b[0x28:0x2c], blockPtr0)
		}
	}
	// idx 1 = inode 2 (root dir), idx 2 = inode 3 (file).
	writeInode(1, 0x41ED, blockSize, 2, 6, "")
	writeInode(2, 0x81A4, uint32(len("world\n")), 1, 7, "")

	// Root directory data block: ".", "..", "hello.txt".
	dirBlock := make([]byte, blockSize)
	off := writeDirEntry(dirBlock, 0, 2, 12, dirFileTypeDir, ".")
	off = writeDirEntry(dirBlock, off, 2, 12, dirFileTypeDir, "..")
	writeDirEntry(dirBlock, off, 3, uint16(blockSize-off), dirFileTypeRegular, "hello.txt")
	copy(img[6*blockSize:], dirBlock)

	// File data block.
	copy(img[7*blockSize:], []byte("world\n"))

	return img
}

func TestHandleLoadAndReadRoundTrip(t *testing.T) {
	img := buildTestImage(t)
	h, err := Load(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if h.Label() != "testvol" {
		t.Errorf("Label() = %q, want %q", h.Label(), "testvol")
	}
	if h.UUID().String() != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("UUID() = %s", h.UUID())
	}

	got, err := h.Read("/hello.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "world\n" {
		t.Fatalf("Read(/hello.txt) = %q, want %q", got, "world\n")
	}

	md, err := h.Metadata("/hello.txt")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Size != int64(len("world\n")) || md.IsDir {
		t.Errorf("unexpected metadata: %+v", md)
	}

	exists, err := h.Exists("/hello.txt")
	if err != nil || !exists {
		t.Fatalf("Exists(/hello.txt) = %v, %v", exists, err)
	}
	exists, err = h.Exists("/nope.txt")
	if err != nil || exists {
		t.Fatalf("Exists(/nope.txt) = %v, %v, want false, nil", exists, err)
	}
}

func TestHandleReadDirListsEntries(t *testing.T) {
	img := buildTestImage(t)
	h, err := Load(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	entries, err := h.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, want := range []string{".", "..", "hello.txt"} {
		if !names[want] {
			t.Errorf("ReadDir(/) missing entry %q, got %+v", want, entries)
		}
	}
}

func TestHandleOpenSeekAndReadAt(t *testing.T) {
	img := buildTestImage(t)
	h, err := Load(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	f, err := h.Open("/hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.Len() != int64(len("world\n")) {
		t.Fatalf("Len() = %d, want %d", f.Len(), len("world\n"))
	}

	buf := make([]byte, 5)
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("Read after Seek = %q, want %q", buf[:n], "world")
	}
}

func TestHandleReadRejectsDirectory(t *testing.T) {
	img := buildTestImage(t)
	h, err := Load(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := h.Read("/"); err == nil {
		t.Fatalf("expected an error reading a directory as a file")
	} else if e, ok := err.(*Error); !ok || e.Kind != IsADirectory {
		t.Fatalf("expected IsADirectory, got %v", err)
	}
}

func TestHandleRejectsCorruptSuperblock(t *testing.T) {
	img := buildTestImage(t)
	binary.LittleEndian.PutUint16(img[superblockOffset+0x38:superblockOffset+0x3a], 0)
	if _, err := Load(bytes.NewReader(img)); err == nil {
		t.Fatalf("expected an error loading an image with a corrupt superblock magic")
	}
}
