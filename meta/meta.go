// Package meta implements access to FLAC metadata blocks.
//
// A metadata block consists of a block header followed by a block body. The
// first block of every stream is a StreamInfo block; it is followed by zero or
// more other metadata blocks, the last of which has the IsLast flag of its
// header set.
//
// ref: https://www.xiph.org/flac/format.html#format_overview
package meta

import (
	"io"
	"io/ioutil"

	"github.com/eaburns/bit"
	"github.com/pkg/errors"
)

// A Block contains the header and body of a metadata block.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block
type Block struct {
	// Metadata block header.
	Header
	// Metadata block body of type *StreamInfo, *Application, *SeekTable, etc.
	// Body is nil if the block only contains padding, and of type []byte for
	// block types not known to this package.
	Body interface{}
	// Underlying io.Reader, limited to the length of the block body.
	lr io.Reader
}

// New creates a new Block for accessing the metadata of r. It reads and parses
// a metadata block header.
//
// Call Block.Parse to parse the metadata block body, and call Block.Skip to
// ignore it.
func New(r io.Reader) (block *Block, err error) {
	block = new(Block)
	if err = block.parseHeader(r); err != nil {
		return block, err
	}
	block.lr = io.LimitReader(r, block.Length)
	return block, nil
}

// Parse reads and parses the header and body of a metadata block. Use New for
// additional granularity.
func Parse(r io.Reader) (block *Block, err error) {
	block, err = New(r)
	if err != nil {
		return block, err
	}
	if err = block.Parse(); err != nil {
		return block, err
	}
	return block, nil
}

// Parse reads and parses the metadata block body.
func (block *Block) Parse() error {
	switch block.Type {
	case TypeStreamInfo:
		return block.parseStreamInfo()
	case TypePadding:
		return block.verifyPadding()
	case TypeApplication:
		return block.parseApplication()
	case TypeSeekTable:
		return block.parseSeekTable()
	case TypeVorbisComment:
		return block.parseVorbisComment()
	case TypeCueSheet:
		return block.parseCueSheet()
	case TypePicture:
		return block.parsePicture()
	}
	// Blocks of unknown type are preserved verbatim, so that they may be kept
	// intact on transcode.
	buf, err := ioutil.ReadAll(block.lr)
	if err != nil {
		return errors.WithStack(err)
	}
	block.Body = buf
	return nil
}

// Skip ignores the contents of the metadata block body.
func (block *Block) Skip() error {
	if _, err := io.Copy(ioutil.Discard, block.lr); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// A Header contains information about the type and length of a metadata block.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_header
type Header struct {
	// IsLast specifies if the block is the last metadata block.
	IsLast bool
	// Block types.
	Type Type
	// Length of block body in bytes.
	Length int64
}

// parseHeader reads and parses the header of a metadata block.
//
// Metadata block header format (pseudo code):
//
//	type METADATA_BLOCK_HEADER struct {
//	   is_last    bool
//	   block_type uint7
//	   length     uint24
//	}
func (block *Block) parseHeader(r io.Reader) error {
	br := bit.NewReader(r)
	// 1 bit: IsLast.
	// 7 bits: Type.
	// 24 bits: Length.
	fields, err := br.ReadFields(1, 7, 24)
	if err != nil {
		return errors.WithStack(err)
	}
	block.IsLast = fields[0] != 0
	block.Type = Type(fields[1])
	block.Length = int64(fields[2])
	if block.Type == TypeInvalid {
		return errors.New("meta.Block.parseHeader: invalid block type, would be mistaken for a frame sync code")
	}
	return nil
}

// Type represents the type of a metadata block.
type Type uint8

// Metadata block types.
const (
	TypeStreamInfo Type = iota
	TypePadding
	TypeApplication
	TypeSeekTable
	TypeVorbisComment
	TypeCueSheet
	TypePicture

	// TypeInvalid is disallowed, to avoid confusion with a frame sync code.
	TypeInvalid Type = 127
)

func (t Type) String() string {
	switch t {
	case TypeStreamInfo:
		return "stream info"
	case TypePadding:
		return "padding"
	case TypeApplication:
		return "application"
	case TypeSeekTable:
		return "seek table"
	case TypeVorbisComment:
		return "vorbis comment"
	case TypeCueSheet:
		return "cue sheet"
	case TypePicture:
		return "picture"
	}
	return "<unknown block type>"
}
