package ext4

import "io"

// resolveRuns returns the physical runs backing logical blocks
// [start, start+count) of ino, dispatching to whichever data layout the
// inode actually uses.
func resolveRuns(ino *inode, blockSize uint32, start, count uint64, v *volume) ([]physicalRun, error) {
	switch {
	case ino.extents != nil:
		return ino.extents.findBlocks(start, count, v)
	case ino.inlineData != nil:
		// Inline data lives entirely inside the inode; readFileAt handles
		// it directly rather than resolving block ranges for it.
		return nil, nil
	default:
		return findBlocksIndirect(ino.blockPointers, blockSize, start, count, v)
	}
}

// readFileAt reads up to len(p) bytes of a regular file's content
// starting at byte offset off, stitching together whatever mix of
// extents, indirect blocks, holes, and (for small files) inline data the
// inode uses. It never reads past the inode's recorded size and returns
// io.EOF exactly like io.ReaderAt requires.
func readFileAt(ino *inode, v *volume, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errCorrupt("", "negative read offset %d", off)
	}
	if uint64(off) >= ino.size {
		return 0, io.EOF
	}

	if ino.inlineData != nil {
		data := ino.inlineData
		if uint64(len(data)) > ino.size {
			data = data[:ino.size]
		}
		if uint64(off) >= uint64(len(data)) {
			return 0, io.EOF
		}
		n := copy(p, data[off:])
		var err error
		if uint64(off)+uint64(n) >= uint64(len(data)) {
			err = io.EOF
		}
		return n, err
	}

	blockSize := uint64(v.sb.blockSize)
	remaining := uint64(len(p))
	if off+int64(remaining) > int64(ino.size) {
		remaining = ino.size - uint64(off)
	}
	if remaining == 0 {
		return 0, io.EOF
	}

	startBlock := uint64(off) / blockSize
	endBlock := (uint64(off) + remaining + blockSize - 1) / blockSize

	runs, err := resolveRuns(ino, v.sb.blockSize, startBlock, endBlock-startBlock, v)
	if err != nil {
		return 0, err
	}

	// Zero the whole requested range up front: a logical block not covered
	// by any returned run is just as much a hole as one explicitly marked
	// hole=true (extent trees, unlike the classic indirect map, never
	// emit a run at all for a range with no extent), and io.ReaderAt
	// requires the full count read to be meaningful, not just the bytes
	// runs happened to cover.
	for i := 0; i < int(remaining); i++ {
		p[i] = 0
	}

	cursor := uint64(off)
	want := remaining
	for _, run := range runs {
		if run.hole {
			continue
		}
		runStart := uint64(run.fileBlock) * blockSize
		runEnd := runStart + uint64(run.count)*blockSize
		if runEnd <= cursor || runStart >= cursor+want {
			continue
		}
		overlapStart := maxU64(runStart, cursor)
		overlapEnd := minU64(runEnd, cursor+want)
		length := int(overlapEnd - overlapStart)

		dst := p[overlapStart-uint64(off) : overlapStart-uint64(off)+uint64(length)]
		physOffset := int64(run.diskBlock)*int64(blockSize) + int64(overlapStart-runStart)
		data, err := v.readBytesAt(physOffset, length)
		if err != nil {
			return 0, err
		}
		copy(dst, data)
	}

	total := int(want)
	var retErr error
	if uint64(off)+uint64(total) >= ino.size {
		retErr = io.EOF
	}
	return total, retErr
}

// File is a random-access, read-only handle to one file's content,
// satisfying io.ReaderAt, io.Reader, and io.Seeker. There is no Write or
// WriteAt method: this viewer has nothing to call them, by construction
// rather than by a runtime check.
type File struct {
	ino    *inode
	v      *volume
	offset int64
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return readFileAt(f.ino, f.v, p, off)
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = int64(f.ino.size) + offset
	default:
		return 0, errCorrupt("", "invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errCorrupt("", "negative seek result %d", abs)
	}
	f.offset = abs
	return abs, nil
}

// Len returns the file's size in bytes.
func (f *File) Len() int64 {
	return int64(f.ino.size)
}
