package ext4

import "io"

// Reader is the only capability this package asks of its backing store: a
// way to pull raw bytes from an absolute byte offset. A plain *os.File
// satisfies it via io.ReaderAt, but so does an in-memory []byte wrapped in
// bytes.NewReader, or a range-request HTTP client — the core never assumes
// anything else about the medium underneath.
type Reader interface {
	io.ReaderAt
}

// sectionReader wraps a Reader together with the volume's byte offset and
// block size, turning physical block numbers into the byte ranges a Reader
// understands. It exists so every component that needs "the bytes of
// block N" goes through one place.
type sectionReader struct {
	r         Reader
	volOffset int64
	blockSize uint32
}

func (s *sectionReader) readAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.r.ReadAt(buf, s.volOffset+offset)
	if err != nil && err != io.EOF {
		return nil, errIo("", err)
	}
	if n != length {
		return nil, errIo("", io.ErrUnexpectedEOF)
	}
	return buf, nil
}

func (s *sectionReader) readBlock(blockNum uint64) ([]byte, error) {
	return s.readAt(int64(blockNum)*int64(s.blockSize), int(s.blockSize))
}
