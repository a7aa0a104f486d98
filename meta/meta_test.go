package meta_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mewkiz/flake/meta"
)

// block returns the raw bytes of a metadata block with the given header
// fields and body.
func block(isLast bool, typ meta.Type, body []byte) []byte {
	buf := new(bytes.Buffer)
	b := byte(typ)
	if isLast {
		b |= 0x80
	}
	buf.WriteByte(b)
	buf.WriteByte(byte(len(body) >> 16))
	buf.WriteByte(byte(len(body) >> 8))
	buf.WriteByte(byte(len(body)))
	buf.Write(body)
	return buf.Bytes()
}

func TestParseSeekTable(t *testing.T) {
	body := new(bytes.Buffer)
	points := []meta.SeekPoint{
		{SampleNum: 0, Offset: 0, NSamples: 4096},
		{SampleNum: 4096, Offset: 17494, NSamples: 4096},
		{SampleNum: meta.PlaceholderPoint},
		{SampleNum: meta.PlaceholderPoint},
	}
	for _, point := range points {
		if err := binary.Write(body, binary.BigEndian, point); err != nil {
			t.Fatal(err)
		}
	}
	b, err := meta.Parse(bytes.NewReader(block(true, meta.TypeSeekTable, body.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	table, ok := b.Body.(*meta.SeekTable)
	if !ok {
		t.Fatalf("invalid body type; expected *meta.SeekTable, got %T", b.Body)
	}
	if len(table.Points) != len(points) {
		t.Fatalf("number of seek points mismatch; expected %d, got %d", len(points), len(table.Points))
	}
	for i, want := range points {
		if table.Points[i] != want {
			t.Errorf("seek point %d mismatch; expected %v, got %v", i, want, table.Points[i])
		}
	}
}

func TestParseSeekTableInvalid(t *testing.T) {
	golden := [][]meta.SeekPoint{
		// Out of order.
		{
			{SampleNum: 4096, Offset: 17494, NSamples: 4096},
			{SampleNum: 0, Offset: 0, NSamples: 4096},
		},
		// Non-placeholder point after a placeholder point.
		{
			{SampleNum: meta.PlaceholderPoint},
			{SampleNum: 4096, Offset: 17494, NSamples: 4096},
		},
	}
	for i, points := range golden {
		body := new(bytes.Buffer)
		for _, point := range points {
			if err := binary.Write(body, binary.BigEndian, point); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := meta.Parse(bytes.NewReader(block(true, meta.TypeSeekTable, body.Bytes()))); err == nil {
			t.Errorf("i=%d: expected error when parsing invalid seek table", i)
		}
	}
}

func TestParsePadding(t *testing.T) {
	if _, err := meta.Parse(bytes.NewReader(block(true, meta.TypePadding, make([]byte, 32)))); err != nil {
		t.Errorf("unable to parse padding block; %v", err)
	}
	invalid := make([]byte, 32)
	invalid[17] = 0x01
	if _, err := meta.Parse(bytes.NewReader(block(true, meta.TypePadding, invalid))); err == nil {
		t.Errorf("expected error when parsing padding block with non-zero bytes")
	}
}

func TestParseVorbisComment(t *testing.T) {
	body := new(bytes.Buffer)
	vendor := "reference libFLAC 1.1.0 20030126"
	binary.Write(body, binary.LittleEndian, uint32(len(vendor)))
	body.WriteString(vendor)
	tags := [][2]string{{"TITLE", "A Kind of Magic"}, {"ARTIST", "Queen"}}
	binary.Write(body, binary.LittleEndian, uint32(len(tags)))
	for _, tag := range tags {
		vector := tag[0] + "=" + tag[1]
		binary.Write(body, binary.LittleEndian, uint32(len(vector)))
		body.WriteString(vector)
	}
	b, err := meta.Parse(bytes.NewReader(block(true, meta.TypeVorbisComment, body.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	comment, ok := b.Body.(*meta.VorbisComment)
	if !ok {
		t.Fatalf("invalid body type; expected *meta.VorbisComment, got %T", b.Body)
	}
	if comment.Vendor != vendor {
		t.Errorf("vendor mismatch; expected %q, got %q", vendor, comment.Vendor)
	}
	if len(comment.Tags) != len(tags) {
		t.Fatalf("number of tags mismatch; expected %d, got %d", len(tags), len(comment.Tags))
	}
	for i, want := range tags {
		if comment.Tags[i] != want {
			t.Errorf("tag %d mismatch; expected %v, got %v", i, want, comment.Tags[i])
		}
	}
}

func TestParseUnknownBlockType(t *testing.T) {
	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	b, err := meta.Parse(bytes.NewReader(block(true, meta.Type(42), body)))
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := b.Body.([]byte)
	if !ok {
		t.Fatalf("invalid body type; expected []byte, got %T", b.Body)
	}
	if !bytes.Equal(raw, body) {
		t.Errorf("body mismatch; expected % X, got % X", body, raw)
	}
}
