// Package ext4 is a read-only viewer for ext2, ext3, and ext4 volumes. It
// never writes to its backing store and never attempts to repair
// anything it finds wrong with one: corrupt or unsupported structures
// surface as a typed *Error instead of a panic, a hang, or a best-guess
// read of the wrong bytes.
package ext4

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Handle is an opened ext2/3/4 volume, ready to answer queries about its
// label, UUID, and file tree. A Handle is not safe for concurrent use.
type Handle struct {
	v *volume
}

// Load parses the superblock and group descriptor table from r, replays
// any pending journal transactions into an in-memory overlay, and
// returns a Handle ready for queries. It never modifies r.
func Load(r Reader) (*Handle, error) {
	sec := &sectionReader{r: r, blockSize: superblockSize}

	sbBytes, err := sec.readAt(superblockOffset, superblockSize)
	if err != nil {
		return nil, err
	}
	sb, err := superblockFromBytes(sbBytes)
	if err != nil {
		return nil, err
	}
	sec.blockSize = sb.blockSize

	gdtBlock := uint64(1)
	if sb.blockSize == 1024 {
		gdtBlock = 2
	}
	gdSize := int(sb.groupDescriptorSize) * int(sb.groupCount())
	gdBlocks := (gdSize + int(sb.blockSize) - 1) / int(sb.blockSize)
	gdBytes, err := sec.readAt(int64(gdtBlock)*int64(sb.blockSize), gdBlocks*int(sb.blockSize))
	if err != nil {
		return nil, err
	}
	gds, err := groupDescriptorsFromBytes(gdBytes, sb)
	if err != nil {
		return nil, err
	}

	v := &volume{
		sb:    sb,
		gds:   gds,
		sec:   sec,
		cache: newBlockCache(defaultCacheBlocks),
		ov:    newOverlay(),
	}

	if err := replayJournal(v); err != nil {
		return nil, err
	}

	return &Handle{v: v}, nil
}

// Label returns the volume's name, as set by mkfs/tune2fs. It may be empty.
func (h *Handle) Label() string {
	return h.v.sb.volumeLabel
}

// UUID returns the volume's UUID.
func (h *Handle) UUID() uuid.UUID {
	return h.v.sb.uuid
}

// Metadata describes one file or directory without reading its content.
type Metadata struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

func metadataFromInode(name string, ino *inode) Metadata {
	return Metadata{
		Name:    name,
		Size:    int64(ino.size),
		Mode:    ino.permissionsToMode(),
		ModTime: ino.modifyTime,
		IsDir:   ino.fileType == fileTypeDirectory,
	}
}

// Exists reports whether path names a file, directory, or other entry
// that can be resolved to an inode. It reports false, not an error, for
// a path that simply doesn't exist; other failures (I/O errors, a
// symlink loop, corrupt metadata encountered along the way) are still
// returned as errors.
func (h *Handle) Exists(path string) (bool, error) {
	_, err := resolvePath(h.v, path)
	if err == nil {
		return true, nil
	}
	if e, ok := err.(*Error); ok && e.Kind == NotFound {
		return false, nil
	}
	return false, err
}

// Metadata returns path's metadata without reading its content.
func (h *Handle) Metadata(path string) (Metadata, error) {
	ino, err := resolvePath(h.v, path)
	if err != nil {
		return Metadata{}, err
	}
	return metadataFromInode(baseName(path), ino), nil
}

// Read returns the entire content of the regular file at path.
func (h *Handle) Read(path string) ([]byte, error) {
	ino, err := resolvePath(h.v, path)
	if err != nil {
		return nil, err
	}
	if ino.fileType == fileTypeDirectory {
		return nil, &Error{Kind: IsADirectory, Path: path, Msg: "cannot read a directory as a file"}
	}
	if ino.fileType != fileTypeRegularFile {
		return nil, &Error{Kind: IsADirectory, Path: path, Msg: "not a regular file"}
	}

	buf := make([]byte, ino.size)
	if len(buf) == 0 {
		return buf, nil
	}
	_, err = readFileAt(ino, h.v, buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// ReadToString returns the entire content of the regular file at path as
// a string, a convenience wrapper over Read for text files.
func (h *Handle) ReadToString(path string) (string, error) {
	b, err := h.Read(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DirEntry describes one child of a directory listed by ReadDir.
type DirEntry struct {
	Name  string
	Inode uint32
	IsDir bool
}

// ReadDir lists the immediate children of the directory at path, in
// on-disk order. "." and ".." are included, exactly as the directory
// itself records them.
func (h *Handle) ReadDir(path string) ([]DirEntry, error) {
	ino, err := resolvePath(h.v, path)
	if err != nil {
		return nil, err
	}
	if ino.fileType != fileTypeDirectory {
		return nil, &Error{Kind: NotADirectory, Path: path, Msg: "not a directory"}
	}

	dir := &directory{ino: ino, v: h.v}
	entries, err := dir.entries()
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		isDir := e.fileType == dirFileTypeDir
		if e.fileType == dirFileTypeUnknown {
			// Pre-filetype filesystems (and any entry this core couldn't
			// classify from the directory record alone) require loading
			// the child inode to know whether it's a directory.
			child, err := h.v.readInode(e.inode)
			if err == nil {
				isDir = child.fileType == fileTypeDirectory
			}
		}
		out = append(out, DirEntry{
			Name:  e.name,
			Inode: e.inode,
			IsDir: isDir,
		})
	}
	return out, nil
}

// Open returns a random-access handle to the regular file at path.
func (h *Handle) Open(path string) (*File, error) {
	ino, err := resolvePath(h.v, path)
	if err != nil {
		return nil, err
	}
	if ino.fileType == fileTypeDirectory {
		return nil, &Error{Kind: IsADirectory, Path: path, Msg: "cannot open a directory as a file"}
	}
	return &File{ino: ino, v: h.v}, nil
}

// baseName returns the last non-empty, non-"." component of path, or
// "/" for a path that normalizes to the root.
func baseName(path string) string {
	components, err := splitPath(path)
	if err != nil || len(components) == 0 {
		return "/"
	}
	return components[len(components)-1]
}
