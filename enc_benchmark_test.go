package flake

import (
	"io"
	"math"
	"testing"

	"github.com/mewkiz/flake/meta"
)

// BenchmarkEncodeSyntheticAudio measures the performance of encoding
// synthetic audio data; a simple sine wave pattern, to avoid dependency on
// external files.
func BenchmarkEncodeSyntheticAudio(b *testing.B) {
	// One second of 44.1kHz stereo audio.
	const (
		sampleRate    = 44100
		nchannels     = 2
		bitsPerSample = 16
		nsamples      = sampleRate
	)

	// Generate synthetic audio data; a 440 Hz sine wave on both channels.
	samples := make([]int32, nsamples*nchannels)
	const freq = 440.0
	for i := 0; i < nsamples; i++ {
		sample := int32(math.Sin(2*math.Pi*freq*float64(i)/sampleRate) * 32767)
		samples[i*2] = sample
		samples[i*2+1] = sample
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		info := &meta.StreamInfo{
			SampleRate:    sampleRate,
			NChannels:     nchannels,
			BitsPerSample: bitsPerSample,
			NSamples:      nsamples,
		}
		enc, err := NewEncoder(io.Discard, info, WithStereoDecorrelation(false))
		if err != nil {
			b.Fatal(err)
		}
		if err := enc.Write(samples); err != nil {
			b.Fatal(err)
		}
		if err := enc.Close(); err != nil {
			b.Fatal(err)
		}
	}
}
