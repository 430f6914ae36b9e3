package ext4

// volume bundles everything shared by every component that needs to read
// filesystem metadata: the parsed superblock and group descriptor table,
// the byte-level reader, the block cache, and the journal-replay overlay.
// It is the "fs" context object the rest of the package threads through,
// analogous to the teacher's *FileSystem but stripped of every
// write-path field (allocators, bitmaps-for-writing, dirty tracking).
type volume struct {
	sb   *superblock
	gds  *groupDescriptors
	sec  *sectionReader
	cache *blockCache
	ov   *overlay
}

// readBlock returns the bytes of physical block num, consulting the
// journal overlay first (so replayed metadata always wins over what's
// physically on disk), then the LRU cache, and finally the backend.
func (v *volume) readBlock(num uint64) ([]byte, error) {
	if b, ok := v.ov.get(num); ok {
		return b, nil
	}
	if b, ok := v.cache.get(num); ok {
		return b, nil
	}
	b, err := v.sec.readBlock(num)
	if err != nil {
		return nil, err
	}
	v.cache.put(num, b)
	return b, nil
}

// readBytesAt stitches together a byte range that may span multiple blocks,
// used for reading file data once its extents or indirect blocks have
// been resolved to a run of physical blocks.
func (v *volume) readBytesAt(physicalOffset int64, length int) ([]byte, error) {
	blockSize := int64(v.sb.blockSize)
	out := make([]byte, 0, length)
	offset := physicalOffset
	remaining := length
	for remaining > 0 {
		blockNum := uint64(offset / blockSize)
		withinBlock := int(offset % blockSize)
		block, err := v.readBlock(blockNum)
		if err != nil {
			return nil, err
		}
		n := len(block) - withinBlock
		if n > remaining {
			n = remaining
		}
		out = append(out, block[withinBlock:withinBlock+n]...)
		offset += int64(n)
		remaining -= n
	}
	return out, nil
}

// blockGroupForInode returns which block group an inode number falls in
// and its zero-based index within that group's inode table.
func (v *volume) blockGroupForInode(inodeNum uint32) (group uint64, indexInGroup uint64) {
	group = uint64(inodeNum-1) / uint64(v.sb.inodesPerGroup)
	indexInGroup = uint64(inodeNum-1) % uint64(v.sb.inodesPerGroup)
	return group, indexInGroup
}

// inodeOffset returns the absolute byte offset of inodeNum's on-disk
// inode record.
func (v *volume) inodeOffset(inodeNum uint32) (int64, error) {
	group, idx := v.blockGroupForInode(inodeNum)
	gd, err := v.gds.get(group)
	if err != nil {
		return 0, errCorrupt("", "inode %d: %v", inodeNum, err)
	}
	tableStart := gd.inodeTableLocation * uint64(v.sb.blockSize)
	return int64(tableStart) + int64(idx)*int64(v.sb.inodeSize), nil
}

// readInode loads and validates the on-disk inode record for inodeNum.
// If the inode bitmap is readable and says inodeNum isn't allocated, the
// inode table slot is stale leftover data from a deleted file rather
// than a live inode, and is reported as Corrupt instead of whatever
// structurally-valid-looking garbage happens to be sitting there.
func (v *volume) readInode(inodeNum uint32) (*inode, error) {
	if allocated, ok := v.isInodeAllocated(inodeNum); ok && !allocated {
		return nil, errCorrupt("", "inode %d is not marked allocated", inodeNum)
	}

	offset, err := v.inodeOffset(inodeNum)
	if err != nil {
		return nil, err
	}
	b, err := v.readBytesAt(offset, int(v.sb.inodeSize))
	if err != nil {
		return nil, err
	}
	return inodeFromBytes(b, v.sb, inodeNum)
}
