package meta

import (
	"io/ioutil"

	"github.com/pkg/errors"
)

// An Application metadata block is used by third-party applications. The only
// mandatory field is a 32-bit identifier, granted upon request to an
// application by the FLAC maintainers. The remainder of the block is defined
// by the registered application.
//
// ref: https://www.xiph.org/flac/format.html#metadata_block_application
type Application struct {
	// Registered application ID.
	ID uint32
	// Application data.
	Data []byte
}

// parseApplication reads and parses the body of an Application metadata block.
//
// Application block body format (pseudo code):
//
//	type METADATA_BLOCK_APPLICATION struct {
//	   id   uint32
//	   data [header.length-4]byte
//	}
func (block *Block) parseApplication() error {
	if block.Length < 4 {
		return errors.Errorf("meta.Block.parseApplication: invalid block length (%d); expected >= 4", block.Length)
	}
	buf, err := ioutil.ReadAll(block.lr)
	if err != nil {
		return errors.WithStack(err)
	}
	app := &Application{
		ID: uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]),
	}
	if len(buf) > 4 {
		app.Data = buf[4:]
	}
	block.Body = app
	return nil
}
