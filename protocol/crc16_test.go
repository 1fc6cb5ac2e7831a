package protocol

import "testing"

func TestCRC16KnownValues(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected uint16
	}{
		{data: []byte{}, expected: 0xFFFF},
		{data: []byte("123456789"), expected: 0x6F91},
		{data: []byte{FrameMin, SeqDest | 1}, expected: 0x8F08},
	}

	for _, tc := range testCases {
		if got := CRC16(tc.data); got != tc.expected {
			t.Errorf("CRC16(%v) = 0x%04X, expected 0x%04X", tc.data, got, tc.expected)
		}
	}
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	data := []byte{0x0A, 0x10, 0x05, 0x81, 0x22}
	base := CRC16(data)

	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			if CRC16(flipped) == base {
				t.Errorf("flipping bit %d of byte %d left CRC unchanged", bit, i)
			}
		}
	}
}
