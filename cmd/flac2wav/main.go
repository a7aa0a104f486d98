// flac2wav is a tool which converts FLAC files to WAV format.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flake"
	"github.com/mewkiz/pkg/osutil"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"
)

func main() {
	// Parse command line arguments.
	var (
		// force overwrite WAV file if already present.
		force bool
	)
	flag.BoolVar(&force, "f", false, "force overwrite")
	flag.Parse()
	for _, flacPath := range flag.Args() {
		if err := flac2wav(flacPath, force); err != nil {
			log.Fatalf("%+v", err)
		}
	}
}

func flac2wav(flacPath string, force bool) error {
	// Open FLAC stream.
	stream, err := flake.Open(flacPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stream.Close()

	// Create WAV encoder.
	wavPath := pathutil.TrimExt(flacPath) + ".wav"
	if !force && osutil.Exists(wavPath) {
		return errors.Errorf("WAV file %q already present; use -f flag to force overwrite", wavPath)
	}
	w, err := os.Create(wavPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer w.Close()
	enc := wav.NewEncoder(w, int(stream.Info.SampleRate), int(stream.Info.BitsPerSample), int(stream.Info.NChannels), 1)
	defer enc.Close()

	// Decode FLAC audio frames and encode WAV audio samples.
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(stream.Info.NChannels),
			SampleRate:  int(stream.Info.SampleRate),
		},
		SourceBitDepth: int(stream.Info.BitsPerSample),
	}
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return errors.WithStack(err)
		}
		nsamples := len(f.Subframes[0].Samples)
		data := make([]int, 0, nsamples*len(f.Subframes))
		for i := 0; i < nsamples; i++ {
			for _, subframe := range f.Subframes {
				data = append(data, int(subframe.Samples[i]))
			}
		}
		buf.Data = data
		if err := enc.Write(buf); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
