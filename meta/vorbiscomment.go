package meta

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// A VorbisComment metadata block stores a list of human-readable name/value
// pairs, encoded in UTF-8. It is an implementation of the Vorbis comment
// specification without the framing bit, and the only officially supported
// tagging mechanism of the format.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_vorbis_comment
type VorbisComment struct {
	// Vendor name.
	Vendor string
	// A list of tags, each in NAME=VALUE form.
	Tags [][2]string
}

// parseVorbisComment reads and parses the body of a VorbisComment metadata
// block.
//
// Vorbis comment block body format (pseudo code):
//
//	type METADATA_BLOCK_VORBIS_COMMENT struct {
//	   vendor_length uint32 // little-endian
//	   vendor        [vendor_length]byte
//	   ntags         uint32 // little-endian
//	   tags          [ntags]tag
//	}
//
//	type tag struct {
//	   length uint32 // little-endian
//	   // vector is a name/value pair; e.g. "NAME=value".
//	   vector [length]byte
//	}
func (block *Block) parseVorbisComment() error {
	// 32 bits: vendor length.
	var x uint32
	if err := binary.Read(block.lr, binary.LittleEndian, &x); err != nil {
		return errors.WithStack(err)
	}

	// (vendor length) bytes: vendor.
	buf := make([]byte, x)
	if _, err := io.ReadFull(block.lr, buf); err != nil {
		return errors.WithStack(err)
	}
	comment := &VorbisComment{Vendor: string(buf)}
	block.Body = comment

	// 32 bits: number of tags.
	if err := binary.Read(block.lr, binary.LittleEndian, &x); err != nil {
		return errors.WithStack(err)
	}
	if x == 0 {
		return nil
	}
	comment.Tags = make([][2]string, x)
	for i := range comment.Tags {
		// 32 bits: vector length.
		if err := binary.Read(block.lr, binary.LittleEndian, &x); err != nil {
			return errors.WithStack(err)
		}

		// (vector length) bytes: vector.
		buf = make([]byte, x)
		if _, err := io.ReadFull(block.lr, buf); err != nil {
			return errors.WithStack(err)
		}
		vector := string(buf)
		pos := strings.Index(vector, "=")
		if pos == -1 {
			return errors.Errorf("meta.Block.parseVorbisComment: unable to locate '=' in tag %q", vector)
		}
		comment.Tags[i][0] = vector[:pos]
		comment.Tags[i][1] = vector[pos+1:]
	}
	return nil
}
