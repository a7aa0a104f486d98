// wav2flac is a tool which converts WAV files to FLAC format.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flake"
	"github.com/mewkiz/flake/meta"
	"github.com/mewkiz/pkg/osutil"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"
)

func main() {
	// Parse command line arguments.
	var (
		// force overwrite FLAC file if already present.
		force bool
		// verify decodes each emitted frame and compares it against the
		// input.
		verify bool
		// nseekpoints specifies the number of seek points to reserve.
		nseekpoints int
	)
	flag.BoolVar(&force, "f", false, "force overwrite")
	flag.BoolVar(&verify, "verify", false, "verify emitted frames against the input")
	flag.IntVar(&nseekpoints, "seekpoints", 100, "number of seek points to reserve (0 to disable)")
	flag.Parse()
	for _, wavPath := range flag.Args() {
		if err := wav2flac(wavPath, force, verify, nseekpoints); err != nil {
			log.Fatalf("%+v", err)
		}
	}
}

func wav2flac(wavPath string, force, verify bool, nseekpoints int) error {
	// Create WAV decoder.
	r, err := os.Open(wavPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer r.Close()
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return errors.Errorf("invalid WAV file %q", wavPath)
	}
	dur, err := dec.Duration()
	if err != nil {
		return errors.WithStack(err)
	}

	// Create FLAC encoder.
	flacPath := pathutil.TrimExt(wavPath) + ".flac"
	if !force && osutil.Exists(flacPath) {
		return errors.Errorf("FLAC file %q already present; use -f flag to force overwrite", flacPath)
	}
	w, err := os.Create(flacPath)
	if err != nil {
		return errors.WithStack(err)
	}
	info := &meta.StreamInfo{
		SampleRate:    uint32(dec.SampleRate),
		NChannels:     uint8(dec.NumChans),
		BitsPerSample: uint8(dec.BitDepth),
		NSamples:      uint64(dur.Seconds()*float64(dec.SampleRate) + 0.5),
	}
	var opts []flake.Option
	if verify {
		opts = append(opts, flake.WithVerify())
	}
	if info.NChannels == 2 {
		opts = append(opts, flake.WithStereoDecorrelation(false))
	}
	if nseekpoints > 0 && info.NSamples > 0 {
		opts = append(opts, flake.WithSeekPoints(nseekpoints))
	}
	enc, err := flake.NewEncoder(w, info, opts...)
	if err != nil {
		w.Close()
		return errors.WithStack(err)
	}

	// Encode samples.
	if err := dec.FwdToPCM(); err != nil {
		return errors.WithStack(err)
	}
	const bufferSize = 16 * 1024
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(info.NChannels),
			SampleRate:  int(info.SampleRate),
		},
		Data:           make([]int, bufferSize),
		SourceBitDepth: int(info.BitsPerSample),
	}
	data := make([]int32, bufferSize)
	for !dec.EOF() {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			break
		}
		data = data[:n]
		for i, sample := range buf.Data[:n] {
			data[i] = int32(sample)
		}
		if err := enc.Write(data); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(enc.Close())
}
