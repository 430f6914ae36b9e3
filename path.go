package ext4

import (
	"errors"
	"io"
	"strings"
)

const (
	rootInodeNumber = 2

	// maxPathLength mirrors Linux's PATH_MAX: a path this long is rejected
	// outright rather than partially resolved.
	maxPathLength = 4096
	// maxNameLength mirrors ext4's own NAME_MAX: no directory entry's name
	// can be longer than this, so a component exceeding it can never match
	// anything and is rejected up front instead of wasting a lookup.
	maxNameLength = 255
	// maxSymlinkHops bounds the total number of symlinks resolvePath will
	// follow while answering a single query, guarding against both genuine
	// cycles and the unbounded chains a corrupt image could encode.
	maxSymlinkHops = 40
)

// splitPath normalizes path into a sequence of non-empty, non-"."
// components. A leading "/" is accepted but carries no special meaning
// beyond being stripped: every lookup in this package is rooted at the
// filesystem's own root inode, there being no other filesystem to be
// relative to.
func splitPath(path string) ([]string, error) {
	if len(path) > maxPathLength {
		return nil, &Error{Kind: PathTooLong, Path: path, Msg: "path exceeds maximum length"}
	}
	if strings.IndexByte(path, 0) >= 0 {
		return nil, &Error{Kind: MalformedPath, Path: path, Msg: "path contains a NUL byte"}
	}

	var out []string
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if len(part) > maxNameLength {
			return nil, &Error{Kind: PathTooLong, Path: path, Msg: "path component exceeds maximum length"}
		}
		out = append(out, part)
	}
	return out, nil
}

// resolvePath walks path from the filesystem root, descending through
// directories and following symlinks (including a trailing one) until it
// lands on the inode the path ultimately names. It uses an explicit
// work-list of pending components rather than recursion, so a symlink
// chain's depth is bounded purely by maxSymlinkHops regardless of how
// deeply nested the path or the chain is.
func resolvePath(v *volume, path string) (*inode, error) {
	components, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	cur, err := v.readInode(rootInodeNumber)
	if err != nil {
		return nil, err
	}

	queue := components
	hops := 0

	for len(queue) > 0 {
		comp := queue[0]
		queue = queue[1:]

		if cur.fileType != fileTypeDirectory {
			return nil, &Error{Kind: NotADirectory, Path: path, Msg: "non-final path component is not a directory"}
		}

		dir := &directory{ino: cur, v: v}
		entry, err := dir.lookup(comp)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, &Error{Kind: NotFound, Path: path, Msg: "no such file or directory"}
		}

		child, err := v.readInode(entry.inode)
		if err != nil {
			return nil, err
		}

		if child.fileType == fileTypeSymbolicLink {
			hops++
			if hops > maxSymlinkHops {
				return nil, &Error{Kind: SymlinkLoop, Path: path, Msg: "too many levels of symbolic links"}
			}

			target, err := symlinkTarget(child, v)
			if err != nil {
				return nil, err
			}
			targetComponents, err := splitPath(target)
			if err != nil {
				return nil, err
			}

			if strings.HasPrefix(target, "/") {
				cur, err = v.readInode(rootInodeNumber)
				if err != nil {
					return nil, err
				}
			}
			queue = append(targetComponents, queue...)
			continue
		}

		cur = child
	}

	return cur, nil
}

// symlinkTarget returns the textual target of a symlink inode, reading
// it either from the fast-symlink bytes stored inline in the inode or,
// for longer targets, from the inode's regular file data.
func symlinkTarget(ino *inode, v *volume) (string, error) {
	if ino.linkTarget != "" || ino.size == 0 {
		return ino.linkTarget, nil
	}

	buf := make([]byte, ino.size)
	_, err := readFileAt(ino, v, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return string(buf), nil
}
