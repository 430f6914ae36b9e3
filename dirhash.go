package ext4

import "github.com/ext4view/ext4view/md4"

// hashVersion identifies which name-hashing algorithm an HTree index uses,
// taken directly from the dx_root hash_version byte. The kernel keeps
// signed and unsigned char variants distinct because the legacy and TEA
// hashes are sensitive to whether `char` is signed on the build platform
// that created the filesystem.
type hashVersion uint8

const (
	HashVersionLegacy          hashVersion = 0
	HashVersionHalfMD4         hashVersion = 1
	HashVersionTEA             hashVersion = 2
	HashVersionLegacyUnsigned  hashVersion = 3
	HashVersionHalfMD4Unsigned hashVersion = 4
	HashVersionTEAUnsigned     hashVersion = 5
	HashVersionSIP             hashVersion = 6
)

const teaDelta uint32 = 0x9e3779b9

// TEATransform runs the 16-round Tiny Encryption Algorithm mixing used by
// the "tea" HTree hash over 4 input words, folding the result into buf.
func TEATransform(buf [4]uint32, in []uint32) [4]uint32 {
	var sum uint32
	b0, b1 := buf[0], buf[1]
	a, b, c, d := in[0], in[1], in[2], in[3]

	for n := 0; n < 16; n++ {
		sum += teaDelta
		b0 += ((b1 << 4) + a) ^ (b1 + sum) ^ ((b1 >> 5) + b)
		b1 += ((b0 << 4) + c) ^ (b0 + sum) ^ ((b0 >> 5) + d)
	}

	buf[0] += b0
	buf[1] += b1
	return buf
}

// dxHackHash is the "legacy" directory hash: a simple rolling multiplicative
// hash over the name bytes, kept bit-for-bit compatible with very old
// ext2 directory indexes. signed selects whether name bytes are widened
// as int8 or uint8 before multiplying, matching the kernel's signed/
// unsigned char split.
func dxHackHash(name string, signed bool) uint32 {
	var hash0, hash1 uint32 = 0x12a3fe2d, 0x37abe8f9
	for i := 0; i < len(name); i++ {
		var c int32
		if signed {
			c = int32(int8(name[i]))
		} else {
			c = int32(name[i])
		}
		hash := hash1 + (hash0 ^ uint32(c*7152373))
		if hash&0x80000000 != 0 {
			hash -= 0x7fffffff
		}
		hash1 = hash0
		hash0 = hash
	}
	return hash0 << 1
}

// str2hashbuf packs up to num words (4 name bytes each) of msg into a
// fixed 8-word buffer for feeding to the half-MD4 or TEA transforms, padding
// any leftover space with a repeated length-derived pad word exactly as
// the kernel's str2hashbuf does.
func str2hashbuf(msg string, num int, signed bool) []uint32 {
	var buf [8]uint32

	length := len(msg)
	pad := uint32(length) | uint32(length)<<8
	pad |= pad << 16

	if length > num*4 {
		length = num * 4
	}

	val := pad
	words := 0
	for i := 0; i < length; i++ {
		if i%4 == 0 {
			val = pad
		}
		var c int32
		if signed {
			c = int32(int8(msg[i]))
		} else {
			c = int32(msg[i])
		}
		val = uint32(c) + (val << 8)
		if i%4 == 3 {
			if words < 8 {
				buf[words] = val
			}
			words++
			val = pad
			num--
		}
	}
	if num > 0 {
		if words < 8 {
			buf[words] = val
		}
		words++
		num--
	}
	for num > 0 {
		if words < 8 {
			buf[words] = pad
		}
		words++
		num--
	}

	return buf[:]
}

// ext4fsDirhash computes the major and minor hash of name under the given
// HTree hash algorithm and superblock seed, mirroring the kernel's
// ext4fs_dirhash. The minor hash is only meaningful for the half-MD4 and
// TEA algorithms, which process names longer than a single chunk in
// multiple rounds and use the extra state word to disambiguate collisions
// within a single major-hash bucket.
func ext4fsDirhash(name string, version hashVersion, seed []uint32) (hash, minor uint32) {
	switch version {
	case HashVersionLegacyUnsigned:
		hash = dxHackHash(name, false)
	case HashVersionLegacy:
		hash = dxHackHash(name, true)
	case HashVersionHalfMD4Unsigned, HashVersionHalfMD4:
		var buf [4]uint32
		copy(buf[:], seed)
		signed := version == HashVersionHalfMD4
		remaining := name
		for len(remaining) > 0 || remaining == name {
			in := str2hashbuf(remaining, 8, signed)
			buf = md4.HalfMD4TransformFull(buf, in)
			if len(remaining) <= 32 {
				break
			}
			remaining = remaining[32:]
		}
		hash = buf[1]
		minor = buf[2]
	case HashVersionTEAUnsigned, HashVersionTEA:
		var buf [4]uint32
		copy(buf[:], seed)
		signed := version == HashVersionTEA
		remaining := name
		for len(remaining) > 0 || remaining == name {
			in := str2hashbuf(remaining, 4, signed)
			buf = TEATransform(buf, in)
			if len(remaining) <= 16 {
				break
			}
			remaining = remaining[16:]
		}
		hash = buf[0]
		minor = buf[1]
	default:
		// SIP hash and any future/unknown algorithm: the core cannot
		// evaluate it, so callers must fall back to a linear scan.
		return 0, 0
	}

	hash &^= 1
	return hash, minor
}
