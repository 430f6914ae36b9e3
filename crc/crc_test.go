package crc

import "testing"

func TestCRC32cKnownVector(t *testing.T) {
	// "123456789" is the standard CRC32c check string; the Castagnoli
	// polynomial produces 0xe3069283 for it starting from an all-ones seed
	// with a final inversion. CRC32c applies no final inversion, so it
	// returns the bitwise complement of that check value.
	got := CRC32c(0xffffffff, []byte("123456789"))
	want := ^uint32(0xe3069283)
	if got != want {
		t.Errorf("CRC32c(0xffffffff, \"123456789\") = 0x%x, want 0x%x", got, want)
	}
}

func TestCRC32cChaining(t *testing.T) {
	data := []byte("the quick brown fox")
	whole := CRC32c(0, data)

	chained := CRC32c(0, data[:7])
	chained = CRC32c(chained, data[7:])

	if whole != chained {
		t.Errorf("chained CRC32c = 0x%x, whole CRC32c = 0x%x, want equal", chained, whole)
	}
}

func TestCRC32cEmpty(t *testing.T) {
	if got := CRC32c(0, nil); got != 0 {
		t.Errorf("CRC32c(0, nil) = 0x%x, want 0", got)
	}
}
