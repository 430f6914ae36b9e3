package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/ext4view/ext4view/crc"
	"github.com/google/uuid"
)

// superblockSize is the on-disk size of the ext4 superblock structure,
// always padded to 1024 bytes regardless of how many of its fields a
// given revision actually populates.
const superblockSize = 1024

// superblockOffset is the fixed byte offset of the superblock from the
// start of the volume. It never moves, even on filesystems with larger
// sector or block sizes, so it can always be located before block size
// is even known.
const superblockOffset = 1024

const superblockMagic uint16 = 0xef53

// hashAlgorithm identifies the default HTree hash an ext4 volume was
// formatted with; directories may override it per-index but most use
// the superblock default.
type hashAlgorithm byte

// superblock holds the subset of the ext2/3/4 superblock this viewer
// needs to locate block groups, interpret inodes, and negotiate features.
// Fields that only matter to a writer (mount counts, last-mounted paths,
// preallocation hints) are intentionally not modeled.
type superblock struct {
	inodeCount     uint32
	blockCount     uint64
	freeBlocks     uint64
	freeInodes     uint32
	firstDataBlock uint32
	blockSize      uint32
	blocksPerGroup uint32
	inodesPerGroup uint32

	inodeSize uint16

	features featureFlags

	uuid        uuid.UUID
	volumeLabel string

	journalInode uint32

	hashTreeSeed [4]uint32
	hashVersion  hashAlgorithm

	groupDescriptorSize uint16

	checksumType uint8
	checksumSeed uint32
}

// groupCount returns the number of block group descriptor entries the
// filesystem has, derived from the block and inode counts the way e2fsprogs
// computes it (whichever of the two yields more groups wins, since either
// could in principle be the limiting factor on a crafted or unusual image).
func (sb *superblock) groupCount() uint64 {
	byBlocks := (sb.blockCount - uint64(sb.firstDataBlock) + uint64(sb.blocksPerGroup) - 1) / uint64(sb.blocksPerGroup)
	byInodes := (uint64(sb.inodeCount) + uint64(sb.inodesPerGroup) - 1) / uint64(sb.inodesPerGroup)
	if byInodes > byBlocks {
		return byInodes
	}
	return byBlocks
}

func (sb *superblock) gdtChecksumType() gdtChecksumType {
	switch {
	case sb.features.metadataChecksums:
		return gdtChecksumMetadata
	case sb.features.gdtChecksum:
		return gdtChecksumGdt
	default:
		return gdtChecksumNone
	}
}

func (sb *superblock) is64Bit() bool {
	return sb.features.fs64Bit && sb.groupDescriptorSize >= 64
}

// superblockFromBytes parses a 1024-byte buffer read from offset 1024 of
// the volume into a superblock, validating the magic number and, when
// metadata_csum is enabled, the trailing CRC32c checksum.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) != superblockSize {
		return nil, errCorrupt("", "superblock buffer is %d bytes, want %d", len(b), superblockSize)
	}

	magic := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if magic != superblockMagic {
		return nil, errCorrupt("", "bad superblock magic 0x%x, want 0x%x", magic, superblockMagic)
	}

	sb := &superblock{}

	compatFlags := binary.LittleEndian.Uint32(b[0x5c:0x60])
	incompatFlags := binary.LittleEndian.Uint32(b[0x60:0x64])
	roCompatFlags := binary.LittleEndian.Uint32(b[0x64:0x68])
	sb.features = parseFeatureFlags(compatFlags, incompatFlags, roCompatFlags)

	sb.inodeCount = binary.LittleEndian.Uint32(b[0x0:0x4])

	blockCount := uint64(binary.LittleEndian.Uint32(b[0x4:0x8]))
	freeBlocks := uint64(binary.LittleEndian.Uint32(b[0xc:0x10]))
	if sb.features.fs64Bit {
		blockCount |= uint64(binary.LittleEndian.Uint32(b[0x150:0x154])) << 32
		freeBlocks |= uint64(binary.LittleEndian.Uint32(b[0x158:0x15c])) << 32
	}
	sb.blockCount = blockCount
	sb.freeBlocks = freeBlocks

	sb.freeInodes = binary.LittleEndian.Uint32(b[0x10:0x14])
	sb.firstDataBlock = binary.LittleEndian.Uint32(b[0x14:0x18])

	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	if logBlockSize > 16 {
		return nil, errCorrupt("", "implausible block size exponent %d", logBlockSize)
	}
	sb.blockSize = 1024 << logBlockSize

	sb.blocksPerGroup = binary.LittleEndian.Uint32(b[0x20:0x24])
	sb.inodesPerGroup = binary.LittleEndian.Uint32(b[0x28:0x2c])
	if sb.blocksPerGroup == 0 || sb.inodesPerGroup == 0 {
		return nil, errCorrupt("", "zero blocks-per-group or inodes-per-group")
	}

	sb.inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
	if sb.inodeSize == 0 {
		sb.inodeSize = 128
	}

	volUUID, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, errCorrupt("", "invalid volume UUID: %v", err)
	}
	sb.uuid = volUUID
	sb.volumeLabel = trimNUL(b[0x78:0x88])

	sb.journalInode = binary.LittleEndian.Uint32(b[0xe0:0xe4])

	for i := 0; i < 4; i++ {
		sb.hashTreeSeed[i] = binary.LittleEndian.Uint32(b[0xec+4*i : 0xf0+4*i])
	}
	sb.hashVersion = hashAlgorithm(b[0xfc])

	if sb.features.fs64Bit || sb.features.metadataChecksums {
		sb.groupDescriptorSize = binary.LittleEndian.Uint16(b[0xfe:0x100])
	}
	if sb.groupDescriptorSize == 0 {
		sb.groupDescriptorSize = 32
	}

	sb.checksumType = b[0x175]
	if sb.features.csumSeed {
		sb.checksumSeed = binary.LittleEndian.Uint32(b[0x270:0x274])
	} else {
		// Without an explicit seed stored on disk, the kernel derives one
		// from the volume UUID so descriptor/inode checksums still differ
		// across filesystems.
		sb.checksumSeed = crc.CRC32c(0xffffffff, b[0x68:0x78])
	}

	if sb.features.metadataChecksums {
		want := binary.LittleEndian.Uint32(b[0x3fc:0x400])
		got := crc.CRC32c(0xffffffff, b[0:0x3fc])
		if got != want {
			return nil, errCorrupt("", "superblock checksum mismatch: got 0x%x, want 0x%x", got, want)
		}
	}

	if err := sb.features.checkSupported(); err != nil {
		return nil, err
	}

	return sb, nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// calculateBackupSuperblockGroups returns, in ascending order, the block
// group numbers that carry a backup superblock and group descriptor table
// when the sparse_super feature is set: group 0 (handled separately by
// callers) plus every group whose number is a power of 3, 5, or 7 and is
// less than bgs.
func calculateBackupSuperblockGroups(bgs int64) []int64 {
	seen := map[int64]bool{}
	for _, base := range []int64{3, 5, 7} {
		for p := int64(1); p < bgs; p *= base {
			seen[p] = true
		}
	}

	groups := make([]int64, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j-1] > groups[j]; j-- {
			groups[j-1], groups[j] = groups[j], groups[j-1]
		}
	}
	return groups
}

// hasBackupSuperblock reports whether group carries a redundant copy of
// the superblock and GDT: always group 0, and under sparse_super only the
// groups calculateBackupSuperblockGroups names; without sparse_super every
// group does.
func (sb *superblock) hasBackupSuperblock(group int64) bool {
	if group == 0 {
		return true
	}
	if !sb.features.sparseSuperblock {
		return true
	}
	for _, g := range calculateBackupSuperblockGroups(int64(sb.groupCount())) {
		if g == group {
			return true
		}
	}
	return false
}

func (sb *superblock) String() string {
	return fmt.Sprintf("ext4 superblock: label=%q uuid=%s blocks=%d blocksize=%d", sb.volumeLabel, sb.uuid, sb.blockCount, sb.blockSize)
}
