package meta

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// A Picture metadata block is for storing pictures associated with the file,
// most commonly cover art from CDs.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_picture
type Picture struct {
	// Picture type according to the ID3v2 APIC frame.
	Type uint32
	// MIME type string. The MIME type "-->" specifies that the picture data is
	// a URL of the picture instead of the picture data itself.
	MIME string
	// Description of the picture.
	Desc string
	// Width and height of the picture in pixels.
	Width, Height uint32
	// Color depth of the picture in bits-per-pixel.
	Depth uint32
	// Number of colors in an indexed-color picture; 0 for non-indexed
	// pictures.
	NPalColors uint32
	// Picture data.
	Data []byte
}

// parsePicture reads and parses the body of a Picture metadata block.
//
// Picture block body format (pseudo code):
//
//	type METADATA_BLOCK_PICTURE struct {
//	   type        uint32
//	   mime_length uint32
//	   mime        [mime_length]byte
//	   desc_length uint32
//	   desc        [desc_length]byte
//	   width       uint32
//	   height      uint32
//	   depth       uint32
//	   npal_colors uint32
//	   data_length uint32
//	   data        [data_length]byte
//	}
func (block *Block) parsePicture() error {
	// 32 bits: Type.
	pic := new(Picture)
	block.Body = pic
	if err := binary.Read(block.lr, binary.BigEndian, &pic.Type); err != nil {
		return errors.WithStack(err)
	}

	// 32 bits: (MIME type length), and (MIME type length) bytes: MIME.
	var x uint32
	if err := binary.Read(block.lr, binary.BigEndian, &x); err != nil {
		return errors.WithStack(err)
	}
	buf := make([]byte, x)
	if _, err := io.ReadFull(block.lr, buf); err != nil {
		return errors.WithStack(err)
	}
	pic.MIME = string(buf)

	// 32 bits: (description length), and (description length) bytes: Desc.
	if err := binary.Read(block.lr, binary.BigEndian, &x); err != nil {
		return errors.WithStack(err)
	}
	buf = make([]byte, x)
	if _, err := io.ReadFull(block.lr, buf); err != nil {
		return errors.WithStack(err)
	}
	pic.Desc = string(buf)

	// 32 bits each: Width, Height, Depth, NPalColors.
	fields := []*uint32{&pic.Width, &pic.Height, &pic.Depth, &pic.NPalColors}
	for _, field := range fields {
		if err := binary.Read(block.lr, binary.BigEndian, field); err != nil {
			return errors.WithStack(err)
		}
	}

	// 32 bits: (data length), and (data length) bytes: Data.
	if err := binary.Read(block.lr, binary.BigEndian, &x); err != nil {
		return errors.WithStack(err)
	}
	pic.Data = make([]byte, x)
	if _, err := io.ReadFull(block.lr, pic.Data); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
