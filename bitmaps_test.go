package ext4

import "testing"

func TestBitmapIsSet(t *testing.T) {
	bm := bitmapFromBytes([]byte{0b00000101, 0b00000000})
	for i, want := range []bool{true, false, true, false, false, false, false, false} {
		got, err := bm.isSet(i)
		if err != nil {
			t.Fatalf("isSet(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("isSet(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestBitmapIsSetOutOfRange(t *testing.T) {
	bm := bitmapFromBytes([]byte{0xff})
	if _, err := bm.isSet(100); err == nil {
		t.Fatalf("expected an error for an out-of-range bit index")
	}
}

func TestFindBitForIndex(t *testing.T) {
	cases := []struct {
		index      int
		wantByte   int
		wantBit    uint8
	}{
		{0, 0, 0},
		{7, 0, 7},
		{8, 1, 0},
		{17, 2, 1},
	}
	for _, c := range cases {
		b, bit := findBitForIndex(c.index)
		if b != c.wantByte || bit != c.wantBit {
			t.Errorf("findBitForIndex(%d) = (%d,%d), want (%d,%d)", c.index, b, bit, c.wantByte, c.wantBit)
		}
	}
}

func TestIsInodeAllocated(t *testing.T) {
	const blockSize = 1024
	sb := &superblock{blockSize: blockSize, inodesPerGroup: 8}
	// inode 1 -> group 0, idx 0; inode 3 -> group 0, idx 2
	bitmapBlockNum := uint64(1)
	data := make([]byte, blockSize*2)
	data[bitmapBlockNum*blockSize] = 0b00000001 // only idx 0 allocated

	v := newTestVolume(blockSize, data)
	v.sb = sb
	v.gds = &groupDescriptors{descriptors: []groupDescriptor{
		{number: 0, inodeBitmapLocation: bitmapBlockNum},
	}}

	if allocated, ok := v.isInodeAllocated(1); !ok || !allocated {
		t.Errorf("inode 1 (idx 0): got allocated=%v ok=%v, want true,true", allocated, ok)
	}
	if allocated, ok := v.isInodeAllocated(3); !ok || allocated {
		t.Errorf("inode 3 (idx 2): got allocated=%v ok=%v, want false,true", allocated, ok)
	}
}

func TestIsInodeAllocatedUnreadableGroupReturnsNotOk(t *testing.T) {
	sb := &superblock{blockSize: 1024, inodesPerGroup: 8}
	v := newTestVolume(1024, nil)
	v.sb = sb
	v.gds = &groupDescriptors{descriptors: nil} // no groups at all

	if _, ok := v.isInodeAllocated(1); ok {
		t.Errorf("expected ok=false when the group descriptor can't be found")
	}
}
