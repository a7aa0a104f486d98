package flake

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flake/frame"
	"github.com/mewkiz/flake/meta"
)

// TestFrameCRCMismatch corrupts the CRC-16 footer of the middle frame of a
// three frame stream; decoding must report the mismatch exactly once and
// still deliver the two intact frames.
func TestFrameCRCMismatch(t *testing.T) {
	const blockSize = 4096
	const n = 3 * blockSize
	rng := rand.New(rand.NewSource(7))
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = int32(rng.Intn(2000) - 1000)
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
		NSamples:      n,
	}

	path := filepath.Join(t.TempDir(), "corrupt.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	// Three seek points, one per frame; their offsets locate the frame
	// boundaries for the corruption below.
	enc, err := NewEncoder(f, info, WithBlockSize(blockSize), WithSeekPoints(3))
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Write(samples); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	for i, filled := range enc.seekFilled {
		if !filled {
			t.Fatalf("seek point %d left unresolved", i)
		}
	}

	// Flip the bits of the last byte of frame 1, the middle frame; its CRC-16
	// footer.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	frame3Off := enc.firstFrameOff + int64(enc.seekTable.Points[2].Offset)
	data[frame3Off-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	stream, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var (
		frames  []*frame.Frame
		ncrcerr int
	)
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			if err == frame.ErrCRCMismatch {
				ncrcerr++
				continue
			}
			t.Fatalf("unexpected error while decoding corrupted stream; %v", err)
		}
		frames = append(frames, f)
	}
	if ncrcerr != 1 {
		t.Errorf("number of CRC-16 mismatches; expected 1, got %d", ncrcerr)
	}
	if len(frames) != 2 {
		t.Fatalf("number of intact frames; expected 2, got %d", len(frames))
	}
	if got, want := frames[0].Num, uint64(0); got != want {
		t.Errorf("frame number of first intact frame; expected %d, got %d", want, got)
	}
	if got, want := frames[1].Num, uint64(2); got != want {
		t.Errorf("frame number of second intact frame; expected %d, got %d", want, got)
	}
	for i, sample := range frames[0].Subframes[0].Samples {
		if sample != samples[i] {
			t.Fatalf("sample %d of frame 0 mismatch; expected %d, got %d", i, samples[i], sample)
		}
	}
	for i, sample := range frames[1].Subframes[0].Samples {
		if sample != samples[2*blockSize+i] {
			t.Fatalf("sample %d of frame 2 mismatch; expected %d, got %d", 2*blockSize+i, samples[2*blockSize+i], sample)
		}
	}
}

// TestTruncatedStream cuts a stream short within a frame; decoding must
// surface a truncation error rather than loop.
func TestTruncatedStream(t *testing.T) {
	samples := make([]int32, 4096)
	for i := range samples {
		samples[i] = int32(i % 512)
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
		NSamples:      4096,
	}
	path := filepath.Join(t.TempDir(), "trunc.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := NewEncoder(f, info)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Write(samples); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cut := enc.firstFrameOff + (int64(len(data))-enc.firstFrameOff)/2
	if err := os.WriteFile(path, data[:cut], 0644); err != nil {
		t.Fatal(err)
	}

	stream, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if _, err := stream.ParseNext(); err == nil {
		t.Errorf("expected error when decoding a truncated frame")
	}
}
