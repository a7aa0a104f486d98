package crc16

import (
	"testing"

	"github.com/icza/mighty"
)

func TestChecksumIBM(t *testing.T) {
	eq := mighty.Eq(t)
	golden := []struct {
		data string
		want uint16
	}{
		{data: "", want: 0x0000},
		// CRC-16/BUYPASS check value; polynomial 0x8005, no reflection,
		// initial value 0.
		{data: "123456789", want: 0xFEE8},
		{data: "\x00\x00", want: 0x0000},
	}
	for _, g := range golden {
		eq(g.want, ChecksumIBM([]byte(g.data)))
	}
}

func TestDigest(t *testing.T) {
	eq := mighty.Eq(t)
	h := NewIBM()
	h.Write([]byte("1234"))
	h.Write([]byte("56789"))
	eq(uint16(0xFEE8), h.Sum16())
	h.Reset()
	eq(uint16(0x0000), h.Sum16())
}
