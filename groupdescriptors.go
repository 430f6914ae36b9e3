package ext4

import (
	"encoding/binary"

	"github.com/ext4view/ext4view/crc"
)

type gdtChecksumType uint8

const (
	gdtChecksumNone gdtChecksumType = iota
	gdtChecksumGdt
	gdtChecksumMetadata
)

type blockGroupFlags struct {
	inodesUninitialized      bool
	blockBitmapUninitialized bool
	inodeTableZeroed         bool
}

const (
	blockGroupFlagInodesUninitialized      uint16 = 0x1
	blockGroupFlagBlockBitmapUninitialized uint16 = 0x2
	blockGroupFlagInodeTableZeroed         uint16 = 0x4
)

func parseBlockGroupFlags(flags uint16) blockGroupFlags {
	return blockGroupFlags{
		inodesUninitialized:      flags&blockGroupFlagInodesUninitialized != 0,
		blockBitmapUninitialized: flags&blockGroupFlagBlockBitmapUninitialized != 0,
		inodeTableZeroed:         flags&blockGroupFlagInodeTableZeroed != 0,
	}
}

// groupDescriptor describes one block group: where its inode and block
// bitmaps live, where its inode table starts, and free-space accounting.
type groupDescriptor struct {
	number uint64

	blockBitmapLocation uint64
	inodeBitmapLocation uint64
	inodeTableLocation  uint64

	freeBlocks      uint32
	freeInodes      uint32
	usedDirectories uint32
	unusedInodes    uint32

	flags blockGroupFlags
}

type groupDescriptors struct {
	descriptors []groupDescriptor
}

func (gds *groupDescriptors) get(group uint64) (*groupDescriptor, error) {
	if group >= uint64(len(gds.descriptors)) {
		return nil, errCorrupt("", "block group %d out of range (have %d groups)", group, len(gds.descriptors))
	}
	return &gds.descriptors[group], nil
}

// groupDescriptorsFromBytes parses the block group descriptor table, one
// 32- or 64-byte entry per group depending on the 64bit feature and the
// superblock's recorded descriptor size.
func groupDescriptorsFromBytes(b []byte, sb *superblock) (*groupDescriptors, error) {
	gdSize := int(sb.groupDescriptorSize)
	if gdSize != 32 && gdSize != 64 {
		return nil, errCorrupt("", "unsupported group descriptor size %d", gdSize)
	}

	count := int(sb.groupCount())
	if count*gdSize > len(b) {
		return nil, errCorrupt("", "group descriptor table truncated: need %d bytes for %d groups, have %d", count*gdSize, count, len(b))
	}

	checksumType := sb.gdtChecksumType()
	uuidBytes := sb.uuid[:]

	descriptors := make([]groupDescriptor, count)
	for i := 0; i < count; i++ {
		start := i * gdSize
		gd, err := groupDescriptorFromBytes(b[start:start+gdSize], sb.is64Bit(), uint64(i), checksumType, uuidBytes, sb.checksumSeed)
		if err != nil {
			return nil, err
		}
		descriptors[i] = *gd
	}

	return &groupDescriptors{descriptors: descriptors}, nil
}

func groupDescriptorFromBytes(b []byte, is64bit bool, number uint64, checksumType gdtChecksumType, superblockUUID []byte, checksumSeed uint32) (*groupDescriptor, error) {
	blockBitmap := uint64(binary.LittleEndian.Uint32(b[0x0:0x4]))
	inodeBitmap := uint64(binary.LittleEndian.Uint32(b[0x4:0x8]))
	inodeTable := uint64(binary.LittleEndian.Uint32(b[0x8:0xc]))
	freeBlocks := uint32(binary.LittleEndian.Uint16(b[0xc:0xe]))
	freeInodes := uint32(binary.LittleEndian.Uint16(b[0xe:0x10]))
	usedDirs := uint32(binary.LittleEndian.Uint16(b[0x10:0x12]))
	flags := binary.LittleEndian.Uint16(b[0x12:0x14])
	unusedInodes := uint32(binary.LittleEndian.Uint16(b[0x1c:0x1e]))

	if is64bit && len(b) >= 64 {
		blockBitmap |= uint64(binary.LittleEndian.Uint32(b[0x20:0x24])) << 32
		inodeBitmap |= uint64(binary.LittleEndian.Uint32(b[0x24:0x28])) << 32
		inodeTable |= uint64(binary.LittleEndian.Uint32(b[0x28:0x2c])) << 32
		freeBlocks |= uint32(binary.LittleEndian.Uint16(b[0x2c:0x2e])) << 16
		freeInodes |= uint32(binary.LittleEndian.Uint16(b[0x2e:0x30])) << 16
		usedDirs |= uint32(binary.LittleEndian.Uint16(b[0x30:0x32])) << 16
		unusedInodes |= uint32(binary.LittleEndian.Uint16(b[0x32:0x34])) << 16
	}

	if checksumType != gdtChecksumNone {
		want := binary.LittleEndian.Uint16(b[0x1e:0x20])
		got := groupDescriptorChecksum(b, superblockUUID, number, checksumType, checksumSeed)
		if want != got {
			return nil, errCorrupt("", "group descriptor %d checksum mismatch: got 0x%x, want 0x%x", number, got, want)
		}
	}

	return &groupDescriptor{
		number:              number,
		blockBitmapLocation: blockBitmap,
		inodeBitmapLocation: inodeBitmap,
		inodeTableLocation:  inodeTable,
		freeBlocks:          freeBlocks,
		freeInodes:          freeInodes,
		usedDirectories:     usedDirs,
		unusedInodes:        unusedInodes,
		flags:               parseBlockGroupFlags(flags),
	}, nil
}

// groupDescriptorChecksum reproduces the kernel's ext4_group_desc_csum:
// a CRC16 over the superblock UUID, the group number, and the descriptor
// bytes with the checksum field left out for gdt_csum filesystems, or a
// CRC32c over the group number and the descriptor (checksum field zeroed)
// folded to 16 bits for metadata_csum filesystems.
func groupDescriptorChecksum(b, superblockUUID []byte, groupNumber uint64, checksumType gdtChecksumType, checksumSeed uint32) uint16 {
	if checksumType == gdtChecksumNone {
		return 0
	}

	zeroed := make([]byte, len(b))
	copy(zeroed, b)
	zeroed[0x1e] = 0
	zeroed[0x1f] = 0

	groupBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupBytes, uint32(groupNumber))

	switch checksumType {
	case gdtChecksumMetadata:
		c := crc.CRC32c(checksumSeed, groupBytes)
		c = crc.CRC32c(c, zeroed)
		return uint16(c & 0xffff)
	case gdtChecksumGdt:
		c := crc.CRC16(0xffff, superblockUUID)
		c = crc.CRC16(c, groupBytes)
		c = crc.CRC16(c, zeroed[:0x1e])
		c = crc.CRC16(c, zeroed[0x20:])
		return c
	default:
		return 0
	}
}
