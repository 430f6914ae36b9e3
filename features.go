package ext4

import "fmt"

// featureFlags tracks the compat/incompat/ro_compat bits read from the
// superblock. Only the bits this viewer needs to reason about are broken
// out as named booleans; everything else is preserved in the raw uint32s
// without the core needing to understand every historical flag ext4 has
// ever defined.
type featureFlags struct {
	compat   uint32
	incompat uint32
	roCompat uint32

	hasJournal bool

	directoryEntriesRecordFileType bool
	recoveryNeeded                 bool
	metaBlockGroups                bool
	extents                        bool
	fs64Bit                        bool
	multiMountProtection           bool
	flexBlockGroups                bool
	directoryData                  bool
	largeDirectory                 bool
	inlineData                     bool
	csumSeed                       bool
	encrypt                        bool

	sparseSuperblock  bool
	largeFile         bool
	hugeFile          bool
	gdtChecksum       bool
	hasLargeInodes    bool
	metadataChecksums bool
	readOnly          bool
	bigalloc          bool
}

const (
	compatHasJournal uint32 = 0x4

	incompatDirectoryEntriesRecordFileType uint32 = 0x2
	incompatRecoveryNeeded                 uint32 = 0x4
	incompatMetaBlockGroups                uint32 = 0x10
	incompatExtents                        uint32 = 0x40
	incompat64Bit                          uint32 = 0x80
	incompatMultiMountProtection           uint32 = 0x100
	incompatFlexBlockGroups                uint32 = 0x200
	incompatDirectoryData                  uint32 = 0x1000
	incompatCSumSeed                       uint32 = 0x2000
	incompatLargeDirectory                 uint32 = 0x4000
	incompatInlineData                     uint32 = 0x8000
	incompatEncrypt                        uint32 = 0x10000

	roCompatSparseSuperblock  uint32 = 0x1
	roCompatLargeFile         uint32 = 0x2
	roCompatHugeFile          uint32 = 0x8
	roCompatGDTChecksum       uint32 = 0x10
	roCompatLargeInodes       uint32 = 0x40
	roCompatMetadataChecksums uint32 = 0x400
	roCompatReadOnly          uint32 = 0x1000
	roCompatBigalloc          uint32 = 0x200
)

// incompatSupported lists every INCOMPAT_* bit this reader knows how to
// handle. Anything else set in the superblock makes the filesystem
// unreadable: mounting it would require on-disk semantics this core does
// not implement, and guessing would risk silently misreading data.
//
// ENCRYPT is included here even though this core never decrypts anything:
// an encryption policy on the filesystem only prevents reading the
// specific inodes it applies to, which is enforced per-inode where the
// encrypted flag is actually checked, not by refusing the whole volume.
const incompatSupported = incompatDirectoryEntriesRecordFileType |
	incompatRecoveryNeeded |
	incompatMetaBlockGroups |
	incompatExtents |
	incompat64Bit |
	incompatMultiMountProtection |
	incompatFlexBlockGroups |
	incompatDirectoryData |
	incompatCSumSeed |
	incompatLargeDirectory |
	incompatInlineData |
	incompatEncrypt

func parseFeatureFlags(compat, incompat, roCompat uint32) featureFlags {
	return featureFlags{
		compat:   compat,
		incompat: incompat,
		roCompat: roCompat,

		hasJournal: compat&compatHasJournal != 0,

		directoryEntriesRecordFileType: incompat&incompatDirectoryEntriesRecordFileType != 0,
		recoveryNeeded:                 incompat&incompatRecoveryNeeded != 0,
		metaBlockGroups:                incompat&incompatMetaBlockGroups != 0,
		extents:                        incompat&incompatExtents != 0,
		fs64Bit:                        incompat&incompat64Bit != 0,
		multiMountProtection:           incompat&incompatMultiMountProtection != 0,
		flexBlockGroups:                incompat&incompatFlexBlockGroups != 0,
		directoryData:                  incompat&incompatDirectoryData != 0,
		largeDirectory:                 incompat&incompatLargeDirectory != 0,
		inlineData:                     incompat&incompatInlineData != 0,
		csumSeed:                       incompat&incompatCSumSeed != 0,
		encrypt:                        incompat&incompatEncrypt != 0,

		sparseSuperblock:  roCompat&roCompatSparseSuperblock != 0,
		largeFile:         roCompat&roCompatLargeFile != 0,
		hugeFile:          roCompat&roCompatHugeFile != 0,
		gdtChecksum:       roCompat&roCompatGDTChecksum != 0,
		hasLargeInodes:    roCompat&roCompatLargeInodes != 0,
		metadataChecksums: roCompat&roCompatMetadataChecksums != 0,
		readOnly:          roCompat&roCompatReadOnly != 0,
		bigalloc:          roCompat&roCompatBigalloc != 0,
	}
}

// checkSupported rejects incompat features this core cannot honor. It
// never looks at ro_compat: a read-only viewer is unaffected by flags
// that only constrain writers. The presence of an encryption policy
// (encrypt) is not rejected here: it only matters to the specific inodes
// it applies to, and is enforced there instead of against the whole
// volume.
func (f featureFlags) checkSupported() error {
	if unsupported := f.incompat &^ incompatSupported; unsupported != 0 {
		return &Error{Kind: Incompatible, Msg: fmt.Sprintf("unsupported incompatible feature bits: 0x%x", unsupported)}
	}
	return nil
}
