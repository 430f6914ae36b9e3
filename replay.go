package ext4

import "encoding/binary"

// replayJournal brings the in-memory overlay up to date with whatever the
// JBD2 journal recorded but the filesystem's primary copy of the
// metadata hadn't yet absorbed at the time of an unclean shutdown. There
// is no teacher precedent for this in the example pack — it reimplements
// jbd2 recovery's scan/replay passes directly against the FromBytes
// journal block parsers already available, guided by the documented
// on-disk jbd2 format rather than any single reference implementation.
//
// It is entirely best-effort: any structural break in the log (a bad
// header, a sequence gap, an unreadable block) simply ends the scan at
// that point, exactly as real jbd2 recovery treats the first torn
// transaction as the true end of the log. A log whose transactions can't
// all be made sense of still leaves the volume readable; it just means
// whatever that transaction was trying to commit may not be visible. Only
// a journal inode or journal superblock that can't be read or parsed
// makes the load fail.
const journalMaxTransactions = 1 << 20

// journalTag pairs one descriptor-block tag with the logical journal
// block that holds its replacement data.
type journalTag struct {
	tag          *journalBlockTag
	dataLogical  uint64
	seq          uint32
}

func replayJournal(v *volume) error {
	if !v.sb.features.hasJournal || v.sb.journalInode == 0 {
		return nil
	}
	if !v.sb.features.recoveryNeeded {
		return nil
	}

	jino, err := v.readInode(v.sb.journalInode)
	if err != nil {
		return err
	}

	sbBlock, err := readJournalLogicalBlock(jino, v, 0)
	if err != nil {
		return err
	}
	if len(sbBlock) < JournalSuperblockSize {
		return errCorrupt("", "journal superblock: block of %d bytes is too short", len(sbBlock))
	}
	jsb, err := JournalSuperblockFromBytes(sbBlock[:JournalSuperblockSize])
	if err != nil {
		return errCorrupt("", "journal superblock: %v", err)
	}
	if jsb.start == 0 || jsb.maxLen <= 1 {
		return nil
	}

	maxLen := uint64(jsb.maxLen)
	span := maxLen - 1
	wrap := func(n uint64) uint64 {
		return ((n - 1) % span) + 1
	}

	pos := wrap(uint64(jsb.start))
	seq := jsb.sequence

	var committed []journalTag
	revokes := map[uint64]uint32{}

	var pendingTags []journalTag
	var pendingRevokes []uint64

scan:
	for i := 0; i < journalMaxTransactions; i++ {
		raw, err := readJournalLogicalBlock(jino, v, pos)
		if err != nil {
			break scan
		}
		hdr, err := journalHeaderFromBytes(raw)
		if err != nil || hdr.sequence != seq {
			break scan
		}

		switch hdr.blockType {
		case journalBlockTypeDescriptor:
			dblock, err := journalDescriptorBlockFromBytes(raw, jsb)
			if err != nil {
				break scan
			}
			dataPos := wrap(pos + 1)
			for _, tag := range dblock.tags {
				pendingTags = append(pendingTags, journalTag{tag: tag, dataLogical: dataPos, seq: seq})
				dataPos = wrap(dataPos + 1)
			}
			pos = dataPos

		case journalBlockTypeCommit:
			committed = append(committed, pendingTags...)
			for _, b := range pendingRevokes {
				if cur, ok := revokes[b]; !ok || seq > cur {
					revokes[b] = seq
				}
			}
			pendingTags = nil
			pendingRevokes = nil
			seq++
			pos = wrap(pos + 1)

		case journalBlockTypeRevoke:
			rblock, err := journalRevokeBlockFromBytes(raw, jsb)
			if err != nil {
				break scan
			}
			pendingRevokes = append(pendingRevokes, rblock.blocks...)
			pos = wrap(pos + 1)

		default:
			break scan
		}
	}

	if len(pendingTags) > 0 || len(pendingRevokes) > 0 {
		log.Warnf("ext4: journal sequence %d ended without a matching commit block, discarding %d pending block(s)", seq, len(pendingTags))
	}

	for _, jt := range committed {
		target := jt.tag.blockNr
		if revokeSeq, ok := revokes[target]; ok && jt.seq <= revokeSeq {
			continue
		}
		data, err := readJournalLogicalBlock(jino, v, jt.dataLogical)
		if err != nil {
			continue
		}
		if jt.tag.flags&uint32(tagFlagEscaped) != 0 {
			out := make([]byte, len(data))
			copy(out, data)
			binary.BigEndian.PutUint32(out[0:4], journalMagic)
			data = out
		}
		v.ov.set(target, data)
	}

	return nil
}

// journalLogicalToPhysical resolves logical block n of the journal
// inode's data to a physical disk block number.
func journalLogicalToPhysical(jino *inode, v *volume, n uint64) (uint64, error) {
	runs, err := resolveRuns(jino, v.sb.blockSize, n, 1, v)
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		if uint64(run.fileBlock) <= n && n < uint64(run.fileBlock)+uint64(run.count) {
			if run.hole {
				return 0, errCorrupt("", "journal logical block %d is a hole", n)
			}
			return run.diskBlock + (n - uint64(run.fileBlock)), nil
		}
	}
	return 0, errCorrupt("", "journal logical block %d not covered by any extent", n)
}

func readJournalLogicalBlock(jino *inode, v *volume, n uint64) ([]byte, error) {
	phys, err := journalLogicalToPhysical(jino, v, n)
	if err != nil {
		return nil, err
	}
	return v.readBlock(phys)
}
