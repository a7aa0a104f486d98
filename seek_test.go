package flake_test

import (
	"io"
	"math"
	"os"
	"testing"

	"github.com/mewkiz/flake"
	"github.com/mewkiz/flake/meta"
)

func TestSeek(t *testing.T) {
	// 100000 samples of 16-bit mono at block size 4096; seeking must deliver
	// samples starting at the exact target.
	const n = 100000
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = int32(math.Sin(2*math.Pi*220*float64(i)/44100)*12000) + int32(i%17)
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
		NSamples:      n,
	}
	path := encodeFile(t, info, samples, flake.WithBlockSize(4096), flake.WithSeekPoints(10))

	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	targets := []uint64{50321, 0, 4095, 4096, 12288, 99999, 31415}
	for _, target := range targets {
		got, err := stream.Seek(target)
		if err != nil {
			t.Fatalf("target=%d: seek error; %v", target, err)
		}
		if got != target {
			t.Fatalf("target=%d: seek position mismatch; got %d", target, got)
		}
		f, err := stream.ParseNext()
		if err != nil {
			t.Fatalf("target=%d: error parsing frame after seek; %v", target, err)
		}
		dec := f.Subframes[0].Samples
		if len(dec) == 0 {
			t.Fatalf("target=%d: no samples delivered after seek", target)
		}
		for i := 0; i < len(dec) && int(target)+i < n; i++ {
			if dec[i] != samples[int(target)+i] {
				t.Fatalf("target=%d: sample %d mismatch; expected %d, got %d", target, int(target)+i, samples[int(target)+i], dec[i])
			}
		}
	}

	// Decoding past a seek target runs to the end of the stream.
	if _, err := stream.Seek(98000); err != nil {
		t.Fatal(err)
	}
	total := 0
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatal(err)
		}
		total += len(f.Subframes[0].Samples)
	}
	if total != n-98000 {
		t.Errorf("number of samples after seek mismatch; expected %d, got %d", n-98000, total)
	}

	// Out of range target.
	if _, err := stream.Seek(n); err == nil {
		t.Errorf("expected error when seeking past the total number of samples")
	}
}

func TestSeekUnseekable(t *testing.T) {
	samples := make([]int32, 256)
	info := &meta.StreamInfo{
		SampleRate:    8000,
		NChannels:     1,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples, flake.WithBlockSize(256))
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	stream, err := flake.New(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Seek(0); err == nil {
		t.Errorf("expected error when seeking a stream created with New")
	}
}
