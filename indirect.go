package ext4

import "encoding/binary"

// Classic ext2/ext3 block mapping, used by any inode that doesn't have
// the extents flag set: 12 direct block pointers, then single, double,
// and triple indirect pointers. This predates extent trees entirely, so
// there is no teacher precedent in an ext4-only codebase to adapt — the
// layout below is the fixed, decades-stable i_block scheme every ext2
// reader implements.
const (
	indirectDirectBlocks = 12
	indirectSingleIndex  = 12
	indirectDoubleIndex  = 13
	indirectTripleIndex  = 14
)

// pointersPerBlock returns how many 4-byte block pointers fit in one
// block, i.e. the fan-out of an indirect block.
func pointersPerBlock(blockSize uint32) uint32 {
	return blockSize / 4
}

// findBlocksIndirect resolves the physical blocks backing logical blocks
// [start, start+count) of an inode using the classic direct/indirect/
// double-indirect/triple-indirect scheme. A zero pointer anywhere in the
// chain means a hole: the corresponding logical range reads as zeroes.
func findBlocksIndirect(ptrs [15]uint32, blockSize uint32, start, count uint64, v *volume) ([]physicalRun, error) {
	ppb := uint64(pointersPerBlock(blockSize))
	end := start + count

	var runs []physicalRun
	emit := func(logical uint64, diskBlock uint32) {
		hole := diskBlock == 0
		runs = append(runs, physicalRun{
			fileBlock: uint32(logical),
			diskBlock: uint64(diskBlock),
			count:     1,
			hole:      hole,
		})
	}

	// Direct blocks: logical 0..11
	for lb := start; lb < end && lb < indirectDirectBlocks; lb++ {
		emit(lb, ptrs[lb])
	}
	if end <= indirectDirectBlocks {
		return coalesceRuns(runs), nil
	}

	// Single indirect: logical 12..12+ppb-1
	singleStart := uint64(indirectDirectBlocks)
	singleEnd := singleStart + ppb
	if end > singleStart && start < singleEnd {
		if err := walkIndirectLevel(ptrs[indirectSingleIndex], 1, singleStart, ppb, start, end, blockSize, v, emit); err != nil {
			return nil, err
		}
	}
	if end <= singleEnd {
		return coalesceRuns(runs), nil
	}

	// Double indirect: logical singleEnd..singleEnd+ppb^2-1
	doubleStart := singleEnd
	doubleCount := ppb * ppb
	doubleEnd := doubleStart + doubleCount
	if end > doubleStart && start < doubleEnd {
		if err := walkIndirectLevel(ptrs[indirectDoubleIndex], 2, doubleStart, doubleCount, start, end, blockSize, v, emit); err != nil {
			return nil, err
		}
	}
	if end <= doubleEnd {
		return coalesceRuns(runs), nil
	}

	// Triple indirect: logical doubleEnd..doubleEnd+ppb^3-1
	tripleStart := doubleEnd
	tripleCount := ppb * ppb * ppb
	if err := walkIndirectLevel(ptrs[indirectTripleIndex], 3, tripleStart, tripleCount, start, end, blockSize, v, emit); err != nil {
		return nil, err
	}

	return coalesceRuns(runs), nil
}

// walkIndirectLevel descends depth levels of indirect blocks rooted at
// rootBlock, which together cover the logical range [rangeStart,
// rangeStart+rangeCount), emitting every logical block that falls within
// [wantStart, wantEnd) via emit. depth==1 means rootBlock is itself an
// array of data-block pointers; depth==2 means an array of pointers to
// depth==1 blocks, and so on.
func walkIndirectLevel(rootBlock uint32, depth int, rangeStart, rangeCount, wantStart, wantEnd uint64, blockSize uint32, v *volume, emit func(logical uint64, diskBlock uint32)) error {
	if rootBlock == 0 {
		// Entire subtree is a hole.
		for lb := maxU64(rangeStart, wantStart); lb < minU64(rangeStart+rangeCount, wantEnd); lb++ {
			emit(lb, 0)
		}
		return nil
	}

	block, err := v.readBlock(uint64(rootBlock))
	if err != nil {
		return err
	}

	ppb := uint64(pointersPerBlock(blockSize))
	if depth == 1 {
		for lb := maxU64(rangeStart, wantStart); lb < minU64(rangeStart+rangeCount, wantEnd); lb++ {
			idx := lb - rangeStart
			ptr := binary.LittleEndian.Uint32(block[idx*4 : idx*4+4])
			emit(lb, ptr)
		}
		return nil
	}

	childSpan := rangeCount / ppb
	for i := uint64(0); i < ppb; i++ {
		childStart := rangeStart + i*childSpan
		childEnd := childStart + childSpan
		if childEnd <= wantStart || childStart >= wantEnd {
			continue
		}
		childPtr := binary.LittleEndian.Uint32(block[i*4 : i*4+4])
		if err := walkIndirectLevel(childPtr, depth-1, childStart, childSpan, wantStart, wantEnd, blockSize, v, emit); err != nil {
			return err
		}
	}
	return nil
}

// coalesceRuns merges adjacent single-block runs produced by the
// block-at-a-time walk above into longer contiguous runs, so callers read
// fewer, larger spans from the backend.
func coalesceRuns(runs []physicalRun) []physicalRun {
	if len(runs) == 0 {
		return runs
	}
	out := make([]physicalRun, 0, len(runs))
	cur := runs[0]
	for _, r := range runs[1:] {
		contiguous := r.fileBlock == cur.fileBlock+cur.count && r.hole == cur.hole &&
			(r.hole || r.diskBlock == cur.diskBlock+uint64(cur.count))
		if contiguous {
			cur.count++
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}
