// metaflac is a tool which lists the metadata blocks of FLAC files, in a
// fashion similar to the metaflac tool of the official FLAC distribution.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mewkiz/flake"
	"github.com/mewkiz/flake/meta"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: metaflac FILE...")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	for _, path := range flag.Args() {
		if err := list(path); err != nil {
			log.Fatalln(err)
		}
	}
}

// list prints the metadata blocks of the given FLAC file.
func list(path string) error {
	stream, err := flake.Open(path)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("METADATA block #0")
	fmt.Println("  type: 0 (STREAMINFO)")
	listStreamInfo(stream.Info)
	for i, block := range stream.Blocks {
		fmt.Printf("METADATA block #%d\n", i+1)
		fmt.Printf("  type: %d (%v)\n", block.Type, block.Type)
		fmt.Println("  is last:", block.IsLast)
		fmt.Println("  length:", block.Length)
		switch body := block.Body.(type) {
		case *meta.SeekTable:
			listSeekTable(body)
		case *meta.VorbisComment:
			listVorbisComment(body)
		case *meta.Application:
			fmt.Printf("  application ID: %08X\n", body.ID)
			fmt.Println("  data length:", len(body.Data))
		case *meta.Picture:
			fmt.Println("  MIME type:", body.MIME)
			fmt.Printf("  size: %dx%d, depth %d\n", body.Width, body.Height, body.Depth)
			fmt.Println("  data length:", len(body.Data))
		case *meta.CueSheet:
			fmt.Println("  media catalog number:", body.MCN)
			fmt.Println("  number of tracks:", len(body.Tracks))
		}
	}
	return nil
}

// listStreamInfo prints the body of a StreamInfo metadata block.
func listStreamInfo(si *meta.StreamInfo) {
	fmt.Println("  minimum blocksize:", si.BlockSizeMin, "samples")
	fmt.Println("  maximum blocksize:", si.BlockSizeMax, "samples")
	fmt.Println("  minimum framesize:", si.FrameSizeMin, "bytes")
	fmt.Println("  maximum framesize:", si.FrameSizeMax, "bytes")
	fmt.Println("  sample_rate:", si.SampleRate)
	fmt.Println("  channels:", si.NChannels)
	fmt.Println("  bits-per-sample:", si.BitsPerSample)
	fmt.Println("  total samples:", si.NSamples)
	fmt.Printf("  MD5 signature: %032x\n", si.MD5sum)
}

// listSeekTable prints the body of a SeekTable metadata block.
func listSeekTable(table *meta.SeekTable) {
	fmt.Println("  seek points:", len(table.Points))
	for i, point := range table.Points {
		if point.SampleNum == meta.PlaceholderPoint {
			fmt.Printf("    point %d: PLACEHOLDER\n", i)
			continue
		}
		fmt.Printf("    point %d: sample_number=%d, stream_offset=%d, frame_samples=%d\n", i, point.SampleNum, point.Offset, point.NSamples)
	}
}

// listVorbisComment prints the body of a VorbisComment metadata block.
func listVorbisComment(comment *meta.VorbisComment) {
	fmt.Println("  vendor string:", comment.Vendor)
	fmt.Println("  comments:", len(comment.Tags))
	for i, tag := range comment.Tags {
		fmt.Printf("    comment[%d]: %s=%s\n", i, tag[0], tag[1])
	}
}
