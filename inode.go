package ext4

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/ext4view/ext4view/crc"
)

type inodeFlag uint32
type fileType uint16

func (i inodeFlag) included(a uint32) bool {
	return a&uint32(i) == uint32(i)
}

const (
	ext2InodeSize uint16 = 128

	inodeFlagSecureDeletion          inodeFlag = 0x1
	inodeFlagPreserveForUndeletion   inodeFlag = 0x2
	inodeFlagCompressed              inodeFlag = 0x4
	inodeFlagSynchronous             inodeFlag = 0x8
	inodeFlagImmutable               inodeFlag = 0x10
	inodeFlagAppendOnly              inodeFlag = 0x20
	inodeFlagNoDump                  inodeFlag = 0x40
	inodeFlagNoAccessTimeUpdate      inodeFlag = 0x80
	inodeFlagDirtyCompressed         inodeFlag = 0x100
	inodeFlagCompressedClusters      inodeFlag = 0x200
	inodeFlagNoCompress              inodeFlag = 0x400
	inodeFlagEncryptedInode          inodeFlag = 0x800
	inodeFlagHashedDirectoryIndexes  inodeFlag = 0x1000
	inodeFlagAFSMagicDirectory       inodeFlag = 0x2000
	inodeFlagAlwaysJournal           inodeFlag = 0x4000
	inodeFlagNoMergeTail             inodeFlag = 0x8000
	inodeFlagSyncDirectoryData       inodeFlag = 0x10000
	inodeFlagTopDirectory            inodeFlag = 0x20000
	inodeFlagHugeFile                inodeFlag = 0x40000
	inodeFlagUsesExtents             inodeFlag = 0x80000
	inodeFlagExtendedAttributes      inodeFlag = 0x200000
	inodeFlagBlocksPastEOF           inodeFlag = 0x400000
	inodeFlagSnapshot                inodeFlag = 0x1000000
	inodeFlagDeletingSnapshot        inodeFlag = 0x4000000
	inodeFlagCompletedSnapshotShrink inodeFlag = 0x8000000
	inodeFlagInlineData              inodeFlag = 0x10000000
	inodeFlagInheritProject          inodeFlag = 0x20000000

	fileTypeFifo            fileType = 0x1000
	fileTypeCharacterDevice fileType = 0x2000
	fileTypeDirectory       fileType = 0x4000
	fileTypeBlockDevice     fileType = 0x6000
	fileTypeRegularFile     fileType = 0x8000
	fileTypeSymbolicLink    fileType = 0xA000
	fileTypeSocket          fileType = 0xC000

	filePermissionsOwnerExecute uint16 = 0x40
	filePermissionsOwnerWrite   uint16 = 0x80
	filePermissionsOwnerRead    uint16 = 0x100
	filePermissionsGroupExecute uint16 = 0x8
	filePermissionsGroupWrite   uint16 = 0x10
	filePermissionsGroupRead    uint16 = 0x20
	filePermissionsOtherExecute uint16 = 0x1
	filePermissionsOtherWrite   uint16 = 0x2
	filePermissionsOtherRead    uint16 = 0x4
	filePermissionsSticky       uint16 = 0x200
	filePermissionsGroupSetgid  uint16 = 0x400
	filePermissionsOwnerSetuid  uint16 = 0x800
)

type inodeFlags struct {
	secureDeletion          bool
	preserveForUndeletion   bool
	compressed              bool
	synchronous             bool
	immutable               bool
	appendOnly              bool
	noDump                  bool
	noAccessTimeUpdate      bool
	dirtyCompressed         bool
	compressedClusters      bool
	noCompress              bool
	encryptedInode          bool
	hashedDirectoryIndexes  bool
	AFSMagicDirectory       bool
	alwaysJournal           bool
	noMergeTail             bool
	syncDirectoryData       bool
	topDirectory            bool
	hugeFile                bool
	usesExtents             bool
	extendedAttributes      bool
	blocksPastEOF           bool
	snapshot                bool
	deletingSnapshot        bool
	completedSnapshotShrink bool
	inlineData              bool
	inheritProject          bool
}

type filePermissions struct {
	read    bool
	write   bool
	execute bool
	special bool
}

// inode is everything this viewer needs to know about one on-disk inode:
// its metadata, and enough about its data layout (an extent tree, a
// classic indirect-block map, or inline bytes) to resolve reads without
// re-parsing the raw bytes.
type inode struct {
	number uint32

	permissionsOther filePermissions
	permissionsGroup filePermissions
	permissionsOwner filePermissions
	fileType         fileType

	owner uint32
	group uint32
	size  uint64

	accessTime time.Time
	changeTime time.Time
	modifyTime time.Time
	createTime time.Time

	hardLinks uint16
	blocks    uint64

	flags inodeFlags

	nfsFileVersion uint32

	extendedAttributeBlock uint64

	// Data layout: exactly one of extents, blockPointers, or inlineData
	// is populated, chosen by the usesExtents and inlineData flags.
	extents       extentBlockFinder
	blockPointers [15]uint32
	inlineData    []byte

	linkTarget string
}

// inodeFromBytes parses one on-disk inode record, verifies its checksum
// when metadata_csum is enabled, and rejects encrypted inodes outright:
// this viewer has no key material and never attempts to decrypt content.
//
// Only the classic 128-byte region (offsets 0x0-0x80) is guaranteed to
// exist: that's all a revision-0 ext2 inode has. Everything from 0x80
// onward (extra_isize, checksum_hi, nanosecond time extensions, crtime)
// is only present when the superblock's inode size exceeds 128, and is
// read with explicit bounds checks rather than assumed present.
func inodeFromBytes(b []byte, sb *superblock, number uint32) (*inode, error) {
	if len(b) < int(ext2InodeSize) {
		return nil, errCorrupt("", "inode %d: data too short: %d bytes, must be min %d", number, len(b), ext2InodeSize)
	}
	hasExtra := len(b) >= 0x84

	var extraIsize uint16
	if len(b) >= 0x82 {
		extraIsize = binary.LittleEndian.Uint16(b[0x80:0x82])
	}

	checksumBytes := make([]byte, 4)
	copy(checksumBytes[0:2], b[0x7c:0x7e])
	b[0x7c] = 0
	b[0x7d] = 0
	if hasExtra {
		copy(checksumBytes[2:4], b[0x82:0x84])
		b[0x82] = 0
		b[0x83] = 0
	}

	owner := make([]byte, 4)
	fileSize := make([]byte, 8)
	group := make([]byte, 4)
	extendedAttributeBlock := make([]byte, 8)

	mode := binary.LittleEndian.Uint16(b[0x0:0x2])

	copy(owner[0:2], b[0x2:0x4])
	copy(owner[2:4], b[0x78:0x7a])
	copy(group[0:2], b[0x18:0x20])
	copy(group[2:4], b[0x7a:0x7c])
	copy(fileSize[0:4], b[0x4:0x8])
	copy(fileSize[4:8], b[0x6c:0x70])
	copy(extendedAttributeBlock[0:4], b[0x68:0x6c])
	copy(extendedAttributeBlock[4:6], b[0x76:0x78])

	accessTimeSeconds := int32(binary.LittleEndian.Uint32(b[0x8:0xc]))
	changeTimeSeconds := int32(binary.LittleEndian.Uint32(b[0xc:0x10]))
	modifyTimeSeconds := int32(binary.LittleEndian.Uint32(b[0x10:0x14]))
	var createTimeSeconds int32
	var accessTimeExtra, changeTimeExtra, modifyTimeExtra, createTimeExtra uint32
	if hasExtra {
		changeTimeExtra = binary.LittleEndian.Uint32(b[0x84:0x88])
	}
	if len(b) >= 0x90 {
		modifyTimeExtra = binary.LittleEndian.Uint32(b[0x88:0x8c])
		accessTimeExtra = binary.LittleEndian.Uint32(b[0x8c:0x90])
	}
	if len(b) >= 0x94 {
		createTimeSeconds = int32(binary.LittleEndian.Uint32(b[0x90:0x94]))
	}
	if len(b) >= 0x98 {
		createTimeExtra = binary.LittleEndian.Uint32(b[0x94:0x98])
	}

	decodeTimestamp := func(seconds int32, extra uint32) (int64, int64) {
		sec := int64(seconds) + (int64(extra&0x3) << 32)
		nano := int64(extra >> 2)
		return sec, nano
	}

	atimeSec, atimeNano := decodeTimestamp(accessTimeSeconds, accessTimeExtra)
	ctimeSec, ctimeNano := decodeTimestamp(changeTimeSeconds, changeTimeExtra)
	mtimeSec, mtimeNano := decodeTimestamp(modifyTimeSeconds, modifyTimeExtra)
	crtimeSec, crtimeNano := decodeTimestamp(createTimeSeconds, createTimeExtra)

	flagsNum := binary.LittleEndian.Uint32(b[0x20:0x24])
	flags := parseInodeFlags(flagsNum)

	if flags.encryptedInode {
		return nil, &Error{Kind: Encrypted, Msg: "inode is encrypted"}
	}

	blocksLow := binary.LittleEndian.Uint32(b[0x1c:0x20])
	blocksHigh := binary.LittleEndian.Uint16(b[0x74:0x76])
	var blocks uint64
	if sb.features.hugeFile {
		// Either unit (512-byte sectors, or filesystem blocks when the
		// inode's own huge_file flag is set) fits in the same 48-bit count.
		blocks = uint64(blocksHigh)<<32 + uint64(blocksLow)
	} else {
		blocks = uint64(blocksLow)
	}

	ft := parseFileType(mode)
	fileSizeNum := binary.LittleEndian.Uint64(fileSize)

	blockArea := make([]byte, 60)
	copy(blockArea, b[0x28:0x64])

	i := inode{
		number:                 number,
		permissionsGroup:       parseGroupPermissions(mode),
		permissionsOwner:       parseOwnerPermissions(mode),
		permissionsOther:       parseOtherPermissions(mode),
		fileType:               ft,
		owner:                  binary.LittleEndian.Uint32(owner),
		group:                  binary.LittleEndian.Uint32(group),
		size:                   fileSizeNum,
		hardLinks:              binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		blocks:                 blocks,
		flags:                  flags,
		nfsFileVersion:         binary.LittleEndian.Uint32(b[0x64:0x68]),
		accessTime:             time.Unix(atimeSec, atimeNano),
		changeTime:             time.Unix(ctimeSec, ctimeNano),
		modifyTime:             time.Unix(mtimeSec, mtimeNano),
		createTime:             time.Unix(crtimeSec, crtimeNano),
		extendedAttributeBlock: binary.LittleEndian.Uint64(extendedAttributeBlock),
	}

	switch {
	case ft == fileTypeSymbolicLink && fileSizeNum < 60 && !flags.usesExtents && !flags.extendedAttributes:
		// A "fast" symlink stores its target directly in the block area
		// instead of pointing at a data block.
		i.linkTarget = string(blockArea[:fileSizeNum])
	case flags.inlineData:
		// The 60-byte i_block area holds the first part of a small inline
		// file or directory; anything past that lives in the in-inode
		// "system.data" extended attribute, appended here so callers never
		// need to know the content came from two different regions.
		data := append([]byte{}, blockArea...)
		if xattrValue := inlineDataXattrValue(b, sb.inodeSize, extraIsize); xattrValue != nil {
			data = append(data, xattrValue...)
		}
		i.inlineData = data
	case flags.usesExtents:
		allExtents, err := parseExtents(blockArea, sb.blockSize, 0, uint32(blocks))
		if err != nil {
			return nil, errCorrupt("", "inode %d: error parsing extent tree: %v", number, err)
		}
		i.extents = allExtents
	default:
		for idx := 0; idx < 15; idx++ {
			i.blockPointers[idx] = binary.LittleEndian.Uint32(blockArea[idx*4 : idx*4+4])
		}
	}

	checksum := binary.LittleEndian.Uint32(checksumBytes)
	actualChecksum := inodeChecksum(b, sb.checksumSeed, number, i.nfsFileVersion)
	if sb.features.metadataChecksums && actualChecksum != checksum {
		return nil, errCorrupt("", "inode %d: checksum mismatch, on-disk 0x%x vs calculated 0x%x", number, checksum, actualChecksum)
	}

	return &i, nil
}

func (i *inode) permissionsToMode() os.FileMode {
	var mode os.FileMode

	switch i.fileType {
	case fileTypeRegularFile:
	case fileTypeDirectory:
		mode |= os.ModeDir
	case fileTypeSymbolicLink:
		mode |= os.ModeSymlink
	case fileTypeCharacterDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case fileTypeBlockDevice:
		mode |= os.ModeDevice
	case fileTypeFifo:
		mode |= os.ModeNamedPipe
	case fileTypeSocket:
		mode |= os.ModeSocket
	}

	if i.permissionsOwner.read {
		mode |= 0o400
	}
	if i.permissionsOwner.write {
		mode |= 0o200
	}
	if i.permissionsOwner.execute {
		mode |= 0o100
	}
	if i.permissionsOwner.special {
		mode |= os.ModeSetuid
	}
	if i.permissionsGroup.read {
		mode |= 0o040
	}
	if i.permissionsGroup.write {
		mode |= 0o020
	}
	if i.permissionsGroup.execute {
		mode |= 0o010
	}
	if i.permissionsGroup.special {
		mode |= os.ModeSetgid
	}
	if i.permissionsOther.read {
		mode |= 0o004
	}
	if i.permissionsOther.write {
		mode |= 0o002
	}
	if i.permissionsOther.execute {
		mode |= 0o001
	}
	if i.permissionsOther.special {
		mode |= os.ModeSticky
	}

	return mode
}

func parseOwnerPermissions(mode uint16) filePermissions {
	return filePermissions{
		execute: mode&filePermissionsOwnerExecute == filePermissionsOwnerExecute,
		write:   mode&filePermissionsOwnerWrite == filePermissionsOwnerWrite,
		read:    mode&filePermissionsOwnerRead == filePermissionsOwnerRead,
		special: mode&filePermissionsOwnerSetuid == filePermissionsOwnerSetuid,
	}
}

func parseGroupPermissions(mode uint16) filePermissions {
	return filePermissions{
		execute: mode&filePermissionsGroupExecute == filePermissionsGroupExecute,
		write:   mode&filePermissionsGroupWrite == filePermissionsGroupWrite,
		read:    mode&filePermissionsGroupRead == filePermissionsGroupRead,
		special: mode&filePermissionsGroupSetgid == filePermissionsGroupSetgid,
	}
}

func parseOtherPermissions(mode uint16) filePermissions {
	return filePermissions{
		execute: mode&filePermissionsOtherExecute == filePermissionsOtherExecute,
		write:   mode&filePermissionsOtherWrite == filePermissionsOtherWrite,
		read:    mode&filePermissionsOtherRead == filePermissionsOtherRead,
		special: mode&filePermissionsSticky == filePermissionsSticky,
	}
}

// parseFileType extracts the top 4 bits of the mode word, ext2/3/4's
// file-type discriminant; the bottom 12 bits are the "any of" permission
// bits handled separately.
func parseFileType(mode uint16) fileType {
	return fileType(mode & 0xF000)
}

func parseInodeFlags(flags uint32) inodeFlags {
	return inodeFlags{
		secureDeletion:          inodeFlagSecureDeletion.included(flags),
		preserveForUndeletion:   inodeFlagPreserveForUndeletion.included(flags),
		compressed:              inodeFlagCompressed.included(flags),
		synchronous:             inodeFlagSynchronous.included(flags),
		immutable:               inodeFlagImmutable.included(flags),
		appendOnly:              inodeFlagAppendOnly.included(flags),
		noDump:                  inodeFlagNoDump.included(flags),
		noAccessTimeUpdate:      inodeFlagNoAccessTimeUpdate.included(flags),
		dirtyCompressed:         inodeFlagDirtyCompressed.included(flags),
		compressedClusters:      inodeFlagCompressedClusters.included(flags),
		noCompress:              inodeFlagNoCompress.included(flags),
		encryptedInode:          inodeFlagEncryptedInode.included(flags),
		hashedDirectoryIndexes:  inodeFlagHashedDirectoryIndexes.included(flags),
		AFSMagicDirectory:       inodeFlagAFSMagicDirectory.included(flags),
		alwaysJournal:           inodeFlagAlwaysJournal.included(flags),
		noMergeTail:             inodeFlagNoMergeTail.included(flags),
		syncDirectoryData:       inodeFlagSyncDirectoryData.included(flags),
		topDirectory:            inodeFlagTopDirectory.included(flags),
		hugeFile:                inodeFlagHugeFile.included(flags),
		usesExtents:             inodeFlagUsesExtents.included(flags),
		extendedAttributes:      inodeFlagExtendedAttributes.included(flags),
		blocksPastEOF:           inodeFlagBlocksPastEOF.included(flags),
		snapshot:                inodeFlagSnapshot.included(flags),
		deletingSnapshot:        inodeFlagDeletingSnapshot.included(flags),
		completedSnapshotShrink: inodeFlagCompletedSnapshotShrink.included(flags),
		inlineData:              inodeFlagInlineData.included(flags),
		inheritProject:          inodeFlagInheritProject.included(flags),
	}
}

// inodeChecksum reproduces ext4_inode_csum: CRC32c seeded from the
// superblock's checksum seed, chained over the inode number, the NFS
// generation number, and finally the inode bytes themselves (with the
// on-disk checksum fields zeroed).
func inodeChecksum(b []byte, checksumSeed, inodeNumber, inodeGeneration uint32) uint32 {
	numberBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(numberBytes, inodeNumber)
	crcResult := crc.CRC32c(checksumSeed, numberBytes)

	genBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(genBytes, inodeGeneration)
	crcResult = crc.CRC32c(crcResult, genBytes)

	return crc.CRC32c(crcResult, b)
}
