package ext4

import "encoding/binary"

// minDirEntryLength is the smallest legal directory entry: inode (4) +
// rec_len (2) + name_len (1) + file_type (1), with a zero-length name.
const minDirEntryLength = 8

// dirFileType mirrors the low byte ext4 stores in a linear directory entry
// once the directory-entries-record-file-type feature is on, so a reader
// doesn't need to load the target inode just to tell a file from a
// directory while scanning.
type dirFileType uint8

const (
	dirFileTypeUnknown  dirFileType = 0
	dirFileTypeRegular  dirFileType = 1
	dirFileTypeDir      dirFileType = 2
	dirFileTypeCharDev  dirFileType = 3
	dirFileTypeBlockDev dirFileType = 4
	dirFileTypeFifo     dirFileType = 5
	dirFileTypeSocket   dirFileType = 6
	dirFileTypeSymlink  dirFileType = 7
	// dirFileTypeChecksum marks the synthetic tail entry ext4 appends to a
	// directory block to hold its checksum; it is never a real entry.
	dirFileTypeChecksum dirFileType = 0xde
)

// directoryEntry is one linear directory entry: a name, the inode it
// points at, and the on-disk record length used to skip to the next entry
// (which may be larger than the entry strictly needs, absorbing space
// freed by a deleted neighbor).
type directoryEntry struct {
	inode    uint32
	recLen   uint16
	fileType dirFileType
	name     string
}

// parseDirEntriesLinear walks one block's worth of classic (non-HTree)
// directory entries. Deleted entries (inode == 0) are skipped but still
// consume their rec_len; the checksum tail entry, when present, is
// dropped. hasFileType controls whether the file_type byte is meaningful
// (pre-filetype filesystems repurpose those bytes as the high half of a
// 16-bit name_len, which this viewer never needs to produce).
func parseDirEntriesLinear(b []byte, hasFileType bool, blockSize uint32) ([]directoryEntry, error) {
	if uint32(len(b)) != blockSize {
		return nil, errCorrupt("", "directory block is %d bytes, want %d", len(b), blockSize)
	}

	var entries []directoryEntry
	var pos uint32
	for pos < blockSize {
		if pos+8 > blockSize {
			return nil, errCorrupt("", "directory entry header runs past end of block at offset %d", pos)
		}
		inodeNum := binary.LittleEndian.Uint32(b[pos : pos+4])
		recLen := binary.LittleEndian.Uint16(b[pos+4 : pos+6])
		nameLen := b[pos+6]
		fileTypeByte := b[pos+7]

		if recLen < minDirEntryLength {
			return nil, errCorrupt("", "directory entry rec_len %d smaller than minimum at offset %d", recLen, pos)
		}
		if uint32(recLen)+pos > blockSize {
			return nil, errCorrupt("", "directory entry rec_len %d runs past end of block at offset %d", recLen, pos)
		}
		if uint32(8+nameLen) > uint32(recLen) {
			return nil, errCorrupt("", "directory entry name_len %d does not fit rec_len %d at offset %d", nameLen, recLen, pos)
		}

		fileType := dirFileTypeUnknown
		if hasFileType {
			fileType = dirFileType(fileTypeByte)
		}

		if inodeNum != 0 && fileType != dirFileTypeChecksum {
			name := string(b[pos+8 : pos+8+uint32(nameLen)])
			entries = append(entries, directoryEntry{
				inode:    inodeNum,
				recLen:   recLen,
				fileType: fileType,
				name:     name,
			})
		}

		pos += uint32(recLen)
	}

	return entries, nil
}

// parseDirEntriesInline walks the directory entries packed into an
// inline-data directory's content. Unlike a regular directory block, an
// inline directory never stores literal "." and ".." records: its first
// 4 bytes hold the parent inode number, and "." (pointing at selfInode)
// and ".." (pointing at that parent) are synthesized here to match what
// a linear-scan reader of a normal directory block would see. The
// remaining bytes are real entries in the usual inode/rec_len/name_len/
// file_type/name shape, not padded to a full block, so a run that no
// longer leaves room for even a minimal entry simply ends the scan
// instead of erroring, since inline-data space is whatever was left over
// after the inode's fixed fields and rarely ends on a tidy boundary.
func parseDirEntriesInline(b []byte, hasFileType bool, selfInode uint32) ([]directoryEntry, error) {
	const dotdotHeaderLength = 4
	if len(b) < dotdotHeaderLength {
		return nil, errCorrupt("", "inline directory data too short for dotdot header: %d bytes", len(b))
	}
	parentInode := binary.LittleEndian.Uint32(b[0:4])

	entries := []directoryEntry{
		{inode: selfInode, fileType: dirFileTypeDir, name: "."},
		{inode: parentInode, fileType: dirFileTypeDir, name: ".."},
	}

	rest, err := parseDirEntriesInlineBody(b[dotdotHeaderLength:], hasFileType)
	if err != nil {
		return nil, err
	}
	return append(entries, rest...), nil
}

// parseDirEntriesInlineBody walks the real (non-synthesized) entries
// following an inline directory's dotdot header.
func parseDirEntriesInlineBody(b []byte, hasFileType bool) ([]directoryEntry, error) {
	var entries []directoryEntry
	var pos uint32
	size := uint32(len(b))
	for pos+minDirEntryLength <= size {
		inodeNum := binary.LittleEndian.Uint32(b[pos : pos+4])
		recLen := binary.LittleEndian.Uint16(b[pos+4 : pos+6])
		nameLen := b[pos+6]
		fileTypeByte := b[pos+7]

		if recLen < minDirEntryLength {
			break
		}
		if uint32(recLen)+pos > size {
			break
		}
		if uint32(8+nameLen) > uint32(recLen) {
			return nil, errCorrupt("", "inline directory entry name_len %d does not fit rec_len %d at offset %d", nameLen, recLen, pos)
		}

		fileType := dirFileTypeUnknown
		if hasFileType {
			fileType = dirFileType(fileTypeByte)
		}

		if inodeNum != 0 && fileType != dirFileTypeChecksum {
			name := string(b[pos+8 : pos+8+uint32(nameLen)])
			entries = append(entries, directoryEntry{
				inode:    inodeNum,
				recLen:   recLen,
				fileType: fileType,
				name:     name,
			})
		}

		pos += uint32(recLen)
	}

	return entries, nil
}
