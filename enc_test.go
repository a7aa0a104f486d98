package flake_test

import (
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flake"
	"github.com/mewkiz/flake/frame"
	"github.com/mewkiz/flake/meta"
)

// encodeFile encodes the given interleaved samples to a FLAC file within a
// test temporary directory and returns its path.
func encodeFile(t *testing.T, info *meta.StreamInfo, samples []int32, opts ...flake.Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := flake.NewEncoder(f, info, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Write(samples); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// decodeFile decodes all audio frames of the given FLAC file and returns the
// interleaved samples.
func decodeFile(t *testing.T, path string) (*meta.StreamInfo, []int32) {
	t.Helper()
	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	var samples []int32
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatal(err)
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for _, subframe := range f.Subframes {
				samples = append(samples, subframe.Samples[i])
			}
		}
	}
	return stream.Info, samples
}

// verifyFile checks the decoded audio samples of the given FLAC file against
// the MD5 signature of its StreamInfo block.
func verifyFile(t *testing.T, path string) {
	t.Helper()
	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if err := stream.Verify(); err != nil {
		t.Errorf("MD5 verification failed; %v", err)
	}
}

func TestEncodeSilence(t *testing.T) {
	// 4096 samples of mono silence encode as a single frame holding one
	// constant subframe.
	samples := make([]int32, 4096)
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples)

	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	f, err := stream.ParseNext()
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Subframes) != 1 {
		t.Fatalf("number of subframes mismatch; expected 1, got %d", len(f.Subframes))
	}
	if f.Subframes[0].Pred != frame.PredConstant {
		t.Errorf("prediction method mismatch; expected constant, got %v", f.Subframes[0].Pred)
	}
	for i, sample := range f.Subframes[0].Samples {
		if sample != 0 {
			t.Fatalf("sample %d mismatch; expected 0, got %d", i, sample)
		}
	}
	if _, err := stream.ParseNext(); err != io.EOF {
		t.Errorf("expected io.EOF after the single frame; got %v", err)
	}
	verifyFile(t, path)
}

func TestEncodeStepStereo(t *testing.T) {
	// Stereo step signal; channel 1 mirrors channel 0, so the mid channel is
	// constant and a side-based channel assignment must win.
	const n = 1024
	samples := make([]int32, 2*n)
	for i := 0; i < n; i++ {
		samples[2*i] = int32(i % 256)
		samples[2*i+1] = -int32(i % 256)
	}
	info := &meta.StreamInfo{
		SampleRate:    48000,
		NChannels:     2,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples, flake.WithStereoDecorrelation(false))

	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := stream.ParseNext()
	if err != nil {
		t.Fatal(err)
	}
	switch f.Channels {
	case frame.ChannelsMidSide, frame.ChannelsSideRight, frame.ChannelsLeftSide:
	default:
		t.Errorf("channel assignment mismatch; expected a side-based assignment, got %v", f.Channels)
	}
	stream.Close()

	_, got := decodeFile(t, path)
	sampleEq(t, samples, got)
	verifyFile(t, path)
}

func TestEncodeSine(t *testing.T) {
	// A quantized sine must compress well past verbatim through prediction.
	const n = 2048
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = int32(math.Sin(2*math.Pi*100*float64(i)/44100) * 16000)
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples)

	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := stream.ParseNext()
	if err != nil {
		t.Fatal(err)
	}
	if pred := f.Subframes[0].Pred; pred != frame.PredFixed && pred != frame.PredFIR {
		t.Errorf("prediction method mismatch; expected fixed or LPC, got %v", pred)
	}
	stream.Close()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	rawSize := int64(n * 2)
	if fi.Size() > rawSize*8/10 {
		t.Errorf("compressed size %d exceeds 80%% of the raw sample size %d", fi.Size(), rawSize)
	}

	_, got := decodeFile(t, path)
	sampleEq(t, samples, got)
}

func TestEncodeRandom24BitStereo(t *testing.T) {
	// Uniform noise barely compresses, but must round-trip bit exact and
	// carry a valid MD5 signature.
	const n = 10000
	rng := rand.New(rand.NewSource(1))
	samples := make([]int32, 2*n)
	for i := range samples {
		samples[i] = rng.Int31n(1<<24) - 1<<23
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     2,
		BitsPerSample: 24,
	}
	path := encodeFile(t, info, samples, flake.WithStereoDecorrelation(false), flake.WithVerify())

	gotInfo, got := decodeFile(t, path)
	sampleEq(t, samples, got)
	if gotInfo.NSamples != n {
		t.Errorf("total sample count mismatch; expected %d, got %d", n, gotInfo.NSamples)
	}
	verifyFile(t, path)
}

func TestEncodeExhaustive(t *testing.T) {
	// Exhaustive model search with Rice parameter refinement; a smoke test of
	// the wider search paths.
	const n = 3000
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = int32(math.Sin(2*math.Pi*440*float64(i)/44100)*12000) + int32(i%7)
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples,
		flake.WithExhaustiveModelSearch(),
		flake.WithRiceParameterSearchDist(2),
		flake.WithCoeffPrec(14, true),
		flake.WithMaxLPCOrder(12),
		flake.WithBlockSize(1024),
		flake.WithVerify(),
	)
	_, got := decodeFile(t, path)
	sampleEq(t, samples, got)
	verifyFile(t, path)
}

func TestEncodeWastedBits(t *testing.T) {
	// All samples share two trailing zero bits; the wasted-bit shift must be
	// restored on decode.
	const n = 4096
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = int32((i%1000)-500) * 4
	}
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples, flake.WithVerify())
	_, got := decodeFile(t, path)
	sampleEq(t, samples, got)
	verifyFile(t, path)
}

func TestEncodeMetadataBlocks(t *testing.T) {
	// Extra metadata blocks are preserved in declared order.
	comment := &meta.VorbisComment{
		Vendor: "flake",
		Tags:   [][2]string{{"TITLE", "step"}, {"ARTIST", "flake test suite"}},
	}
	app := &meta.Application{ID: 0x41544348, Data: []byte("opaque")}
	blocks := []*meta.Block{
		{Header: meta.Header{Type: meta.TypeVorbisComment}, Body: comment},
		{Header: meta.Header{Type: meta.TypeApplication}, Body: app},
	}
	samples := make([]int32, 256)
	for i := range samples {
		samples[i] = int32(i)
	}
	info := &meta.StreamInfo{
		SampleRate:    8000,
		NChannels:     1,
		BitsPerSample: 16,
	}
	path := encodeFile(t, info, samples, flake.WithBlocks(blocks...), flake.WithPadding(128), flake.WithBlockSize(256))

	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if len(stream.Blocks) != 3 {
		t.Fatalf("number of metadata blocks mismatch; expected 3, got %d", len(stream.Blocks))
	}
	gotComment, ok := stream.Blocks[0].Body.(*meta.VorbisComment)
	if !ok {
		t.Fatalf("invalid body type of block 0; expected *meta.VorbisComment, got %T", stream.Blocks[0].Body)
	}
	if gotComment.Vendor != comment.Vendor || len(gotComment.Tags) != len(comment.Tags) {
		t.Errorf("vorbis comment mismatch; expected %v, got %v", comment, gotComment)
	}
	gotApp, ok := stream.Blocks[1].Body.(*meta.Application)
	if !ok {
		t.Fatalf("invalid body type of block 1; expected *meta.Application, got %T", stream.Blocks[1].Body)
	}
	if gotApp.ID != app.ID || string(gotApp.Data) != string(app.Data) {
		t.Errorf("application block mismatch; expected %v, got %v", app, gotApp)
	}
	if stream.Blocks[2].Type != meta.TypePadding {
		t.Errorf("block type mismatch of block 2; expected padding, got %v", stream.Blocks[2].Type)
	}
}

func TestStreamableSubset(t *testing.T) {
	info := &meta.StreamInfo{
		SampleRate:    44100,
		NChannels:     1,
		BitsPerSample: 16,
	}
	// Block size without a dedicated frame header code.
	if _, err := flake.NewEncoder(io.Discard, info, flake.WithStreamableSubset(), flake.WithBlockSize(5000)); err == nil {
		t.Errorf("expected streamable-subset violation for block size 5000")
	}
	// Non-enumerated sample rate.
	badRate := &meta.StreamInfo{SampleRate: 44000, NChannels: 1, BitsPerSample: 16}
	if _, err := flake.NewEncoder(io.Discard, badRate, flake.WithStreamableSubset()); err == nil {
		t.Errorf("expected streamable-subset violation for sample rate 44000")
	}
	// Non-enumerated bits-per-sample.
	badBps := &meta.StreamInfo{SampleRate: 44100, NChannels: 1, BitsPerSample: 17}
	if _, err := flake.NewEncoder(io.Discard, badBps, flake.WithStreamableSubset()); err == nil {
		t.Errorf("expected streamable-subset violation for 17 bits-per-sample")
	}

	// A conforming subset stream round-trips with enumerated frame header
	// values only.
	samples := make([]int32, 6000)
	for i := range samples {
		samples[i] = int32(math.Sin(float64(i)/50) * 10000)
	}
	path := encodeFile(t, info, samples, flake.WithStreamableSubset(), flake.WithBlockSize(4096))
	stream, err := flake.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatal(err)
		}
		if f.SampleRate != 44100 {
			t.Errorf("frame sample rate mismatch; expected 44100, got %d", f.SampleRate)
		}
		if f.BitsPerSample != 16 {
			t.Errorf("frame bits-per-sample mismatch; expected 16, got %d", f.BitsPerSample)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	golden := []struct {
		name string
		info *meta.StreamInfo
		opts []flake.Option
	}{
		{
			name: "channels",
			info: &meta.StreamInfo{SampleRate: 44100, NChannels: 0, BitsPerSample: 16},
		},
		{
			name: "bits-per-sample",
			info: &meta.StreamInfo{SampleRate: 44100, NChannels: 1, BitsPerSample: 33},
		},
		{
			name: "sample rate",
			info: &meta.StreamInfo{SampleRate: 655351, NChannels: 1, BitsPerSample: 16},
		},
		{
			name: "block size too small for LPC order",
			info: &meta.StreamInfo{SampleRate: 44100, NChannels: 1, BitsPerSample: 16},
			opts: []flake.Option{flake.WithBlockSize(16), flake.WithMaxLPCOrder(16)},
		},
		{
			name: "mid-side on mono",
			info: &meta.StreamInfo{SampleRate: 44100, NChannels: 1, BitsPerSample: 16},
			opts: []flake.Option{flake.WithStereoDecorrelation(false)},
		},
	}
	for _, g := range golden {
		if _, err := flake.NewEncoder(io.Discard, g.info, g.opts...); err == nil {
			t.Errorf("%s: expected configuration error", g.name)
		}
	}
}

func TestWriteChannels(t *testing.T) {
	const n = 2000
	left := make([]int32, n)
	right := make([]int32, n)
	for i := 0; i < n; i++ {
		left[i] = int32(math.Sin(float64(i)/20) * 5000)
		right[i] = int32(math.Cos(float64(i)/30) * 3000)
	}
	info := &meta.StreamInfo{
		SampleRate:    22050,
		NChannels:     2,
		BitsPerSample: 16,
	}
	path := filepath.Join(t.TempDir(), "out.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := flake.NewEncoder(f, info, flake.WithStereoDecorrelation(true), flake.WithBlockSize(512), flake.WithVerify())
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteChannels([][]int32{left, right}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	_, got := decodeFile(t, path)
	want := make([]int32, 0, 2*n)
	for i := 0; i < n; i++ {
		want = append(want, left[i], right[i])
	}
	sampleEq(t, want, got)
	verifyFile(t, path)
}

// sampleEq fails the test when the two interleaved sample streams differ.
func sampleEq(t *testing.T, want, got []int32) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("number of samples mismatch; expected %d, got %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("sample %d mismatch; expected %d, got %d", i, want[i], got[i])
		}
	}
}
