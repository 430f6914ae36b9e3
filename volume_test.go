package ext4

import "io"

// memReader is an io.ReaderAt backed by an in-memory byte slice, used
// throughout the test suite to stand in for a disk image without
// touching the filesystem.
type memReader struct {
	data []byte
}

func (m *memReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// newTestVolume builds a *volume directly over an in-memory image,
// bypassing Load's superblock/group-descriptor parsing so block-layer
// tests (cache, extents, indirect blocks) can run against hand-built
// data without constructing a full filesystem image.
func newTestVolume(blockSize uint32, data []byte) *volume {
	return &volume{
		sb:    &superblock{blockSize: blockSize},
		sec:   &sectionReader{r: &memReader{data: data}, blockSize: blockSize},
		cache: newBlockCache(defaultCacheBlocks),
		ov:    newOverlay(),
	}
}
