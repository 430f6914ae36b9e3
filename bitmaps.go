package ext4

import "fmt"

// bitmap is a block or inode allocation bitmap: one bit per block/inode,
// set when allocated. This viewer only reads inode bitmaps, to sanity-check
// that an inode a directory entry points at is actually marked in use;
// block bitmaps are not checked. A deleted file's inode table slot keeps its
// old bytes until reallocated, so trusting the slot's contents alone
// can resurrect stale data.
type bitmap struct {
	bits []byte
}

// bitmapFromBytes copies b into a bitmap.
func bitmapFromBytes(b []byte) *bitmap {
	bits := make([]byte, len(b))
	copy(bits, b)
	return &bitmap{bits: bits}
}

// isSet reports whether location's bit is set (allocated).
func (bm *bitmap) isSet(location int) (bool, error) {
	byteNumber, bitNumber := findBitForIndex(location)
	if byteNumber >= len(bm.bits) {
		return false, fmt.Errorf("location %d is not in %d size bitmap", location, len(bm.bits)*8)
	}
	mask := byte(0x1) << bitNumber
	return bm.bits[byteNumber]&mask == mask, nil
}

func findBitForIndex(index int) (byteNumber int, bitNumber uint8) {
	return index / 8, uint8(index % 8)
}

// isInodeAllocated reports whether inodeNum's bit is set in its group's
// inode bitmap. It returns ok=false whenever the bitmap itself can't be
// read or parsed, so callers that only want this as a best-effort sanity
// check can simply skip it rather than treating a damaged bitmap as
// proof the inode is unused.
func (v *volume) isInodeAllocated(inodeNum uint32) (allocated, ok bool) {
	group, idx := v.blockGroupForInode(inodeNum)
	gd, err := v.gds.get(group)
	if err != nil {
		return false, false
	}
	b, err := v.readBlock(gd.inodeBitmapLocation)
	if err != nil {
		return false, false
	}
	bm := bitmapFromBytes(b)
	set, err := bm.isSet(int(idx))
	if err != nil {
		return false, false
	}
	return set, true
}
