package ext4

import "encoding/binary"

// In-inode extended attributes live in the space between the classic
// 128-byte region (extended by i_extra_isize) and the end of the inode
// record. There is no teacher precedent for this area in the example
// pack; the layout below follows the documented ext4_xattr_ibody_header/
// ext4_xattr_entry on-disk structures directly.
const (
	xattrIBodyMagic uint32 = 0xEA020000
	xattrEntryLength       = 16

	// xattrIndexSystem is the name_index ext4 uses for attributes in the
	// "system." namespace; the inline-data overflow attribute is
	// system.data, stored under this index with name "data".
	xattrIndexSystem  uint8  = 7
	xattrInlineDataName      = "data"
)

// inlineDataXattrValue returns the value bytes of the in-inode
// "system.data" extended attribute, which holds whatever part of a small
// inline file or directory's content didn't fit in the 60-byte i_block
// area. It returns nil whenever the ibody xattr region is absent, too
// short, or simply doesn't carry that entry — the common case of an
// inline file small enough to fit entirely in i_block has no such
// attribute at all.
func inlineDataXattrValue(b []byte, inodeSize, extraIsize uint16) []byte {
	if extraIsize == 0 {
		return nil
	}

	ibodyOffset := int(ext2InodeSize) + int(extraIsize)
	end := int(inodeSize)
	if end > len(b) {
		end = len(b)
	}
	if ibodyOffset+4 > end {
		return nil
	}
	if binary.LittleEndian.Uint32(b[ibodyOffset:ibodyOffset+4]) != xattrIBodyMagic {
		return nil
	}

	// Entries follow the 4-byte magic directly; value offsets are
	// relative to this same point, not to the start of the header.
	valueBase := ibodyOffset + 4

	pos := valueBase
	for pos+xattrEntryLength <= end {
		nameLen := int(b[pos])
		nameIndex := b[pos+1]
		if nameLen == 0 && nameIndex == 0 {
			break
		}
		valueOffs := int(binary.LittleEndian.Uint16(b[pos+2 : pos+4]))
		valueSize := int(binary.LittleEndian.Uint32(b[pos+8 : pos+12]))

		nameStart := pos + xattrEntryLength
		if nameStart+nameLen > end {
			break
		}
		name := string(b[nameStart : nameStart+nameLen])

		if nameIndex == xattrIndexSystem && name == xattrInlineDataName {
			start := valueBase + valueOffs
			if start < 0 || valueSize < 0 || start+valueSize > len(b) || start+valueSize > end {
				return nil
			}
			return b[start : start+valueSize]
		}

		entryLen := xattrEntryLength + nameLen
		entryLen = (entryLen + 3) &^ 3
		pos += entryLen
	}
	return nil
}
