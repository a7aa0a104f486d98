package meta

import (
	"io"
	"strings"

	"github.com/eaburns/bit"
	"github.com/pkg/errors"
)

// A CueSheet metadata block stores track and index points, compatible with
// Red Book CD digital audio discs, as well as other CD-DA metadata such as
// media catalog number and track ISRCs.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_cuesheet
type CueSheet struct {
	// Media catalog number; up to 128 printable ASCII characters.
	MCN string
	// Number of lead-in samples; meaningful for CD-DA cue sheets only.
	NLeadInSamples uint64
	// Specifies if the cue sheet corresponds to a Compact Disc.
	IsCompactDisc bool
	// One or more tracks, the last of which is the lead-out track.
	Tracks []CueSheetTrack
}

// A CueSheetTrack contains information about a track within a cue sheet.
type CueSheetTrack struct {
	// Track offset in samples, relative to the beginning of the audio stream.
	Offset uint64
	// Track number. Never 0; 170 (or 255 for non-CD-DA) for the lead-out
	// track.
	Num uint8
	// International Standard Recording Code; empty if absent.
	ISRC string
	// Specifies if the track contains audio.
	IsAudio bool
	// Specifies if the track has been recorded with pre-emphasis.
	HasPreEmphasis bool
	// Track index points; the lead-out track has none.
	Indicies []CueSheetTrackIndex
}

// A CueSheetTrackIndex contains information about an index point of a track.
type CueSheetTrackIndex struct {
	// Offset in samples, relative to the track offset.
	Offset uint64
	// Index point number.
	Num uint8
}

// parseCueSheet reads and parses the body of a CueSheet metadata block.
func (block *Block) parseCueSheet() error {
	// 128 bytes: MCN.
	buf := make([]byte, 128)
	if _, err := io.ReadFull(block.lr, buf); err != nil {
		return errors.WithStack(err)
	}
	cs := new(CueSheet)
	block.Body = cs
	cs.MCN = strings.TrimRight(string(buf), "\x00")

	// 64 bits: NLeadInSamples.
	// 1 bit: IsCompactDisc.
	// 7 bits and 258 bytes: reserved.
	br := bit.NewReader(block.lr)
	fields, err := br.ReadFields(64, 1, 7)
	if err != nil {
		return errors.WithStack(err)
	}
	cs.NLeadInSamples = fields[0]
	cs.IsCompactDisc = fields[1] != 0
	if _, err := io.ReadFull(block.lr, make([]byte, 258)); err != nil {
		return errors.WithStack(err)
	}

	// 8 bits: (number of tracks).
	ntracks, err := br.Read(8)
	if err != nil {
		return errors.WithStack(err)
	}
	if ntracks < 1 {
		return errors.New("meta.Block.parseCueSheet: at least one track (the lead-out track) is required")
	}
	cs.Tracks = make([]CueSheetTrack, ntracks)
	for i := range cs.Tracks {
		track := &cs.Tracks[i]
		// 64 bits: Offset.
		// 8 bits: Num.
		fields, err = br.ReadFields(64, 8)
		if err != nil {
			return errors.WithStack(err)
		}
		track.Offset = fields[0]
		track.Num = uint8(fields[1])
		if track.Num == 0 {
			return errors.New("meta.Block.parseCueSheet: invalid track number (0)")
		}

		// 12 bytes: ISRC.
		isrc := make([]byte, 12)
		if _, err := io.ReadFull(block.lr, isrc); err != nil {
			return errors.WithStack(err)
		}
		track.ISRC = strings.TrimRight(string(isrc), "\x00")

		// 1 bit: IsAudio.
		// 1 bit: HasPreEmphasis.
		// 6 bits and 13 bytes: reserved.
		fields, err = br.ReadFields(1, 1, 6)
		if err != nil {
			return errors.WithStack(err)
		}
		track.IsAudio = fields[0] == 0
		track.HasPreEmphasis = fields[1] != 0
		if _, err := io.ReadFull(block.lr, make([]byte, 13)); err != nil {
			return errors.WithStack(err)
		}

		// 8 bits: (number of indicies).
		nindicies, err := br.Read(8)
		if err != nil {
			return errors.WithStack(err)
		}
		if nindicies == 0 {
			continue
		}
		track.Indicies = make([]CueSheetTrackIndex, nindicies)
		for j := range track.Indicies {
			index := &track.Indicies[j]
			// 64 bits: Offset.
			// 8 bits: Num.
			// 3 bytes: reserved.
			fields, err = br.ReadFields(64, 8)
			if err != nil {
				return errors.WithStack(err)
			}
			index.Offset = fields[0]
			index.Num = uint8(fields[1])
			if _, err := io.ReadFull(block.lr, make([]byte, 3)); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}
