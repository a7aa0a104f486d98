package crc8

import (
	"testing"

	"github.com/icza/mighty"
)

func TestChecksumATM(t *testing.T) {
	eq := mighty.Eq(t)
	golden := []struct {
		data string
		want uint8
	}{
		{data: "", want: 0x00},
		{data: "123456789", want: 0xF4},
		{data: "\x00", want: 0x00},
		{data: "\xFF", want: 0xF3},
	}
	for _, g := range golden {
		eq(g.want, ChecksumATM([]byte(g.data)))
	}
}

func TestDigest(t *testing.T) {
	eq := mighty.Eq(t)
	h := NewATM()
	h.Write([]byte("12345"))
	h.Write([]byte("6789"))
	eq(uint8(0xF4), h.Sum8())
	h.Reset()
	eq(uint8(0x00), h.Sum8())
}
