// Package ogg encodes Ogg pages carrying a single Opus logical stream.
package ogg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderTypeContinuationOfStream is written on the comment page and on every data page.
	HeaderTypeContinuationOfStream byte = 0x00
	// HeaderTypeBeginningOfStream marks the identification page.
	HeaderTypeBeginningOfStream byte = 0x02

	// StreamSerial is the bitstream serial number of every page written.
	StreamSerial uint32 = 42069

	headerSize  = 27
	maxSegments = 255
	segmentSize = 255
)

var pageSignature = []byte("OggS")

// ErrPayloadTooLarge is returned when a payload needs more than 255 lacing segments.
var ErrPayloadTooLarge = errors.New("ogg: payload exceeds one page")

// Page is the header information of one encoded page.
type Page struct {
	HeaderType byte
	Granule    uint64
	Sequence   uint32
}

// Encode lays out a complete page around payload, including the checksum.
// Lacing follows the stream's historical layout: ceil(len/255) segments with the
// remainder last, so a payload of exactly 255 bytes is a single 255 segment.
// An empty payload is written as one zero-length segment.
func Encode(p Page, payload []byte) ([]byte, error) {
	segments := (len(payload) + segmentSize - 1) / segmentSize
	if segments == 0 {
		segments = 1
	}
	if segments > maxSegments {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	page := make([]byte, headerSize+segments+len(payload))
	copy(page[0:4], pageSignature)
	page[4] = 0
	page[5] = p.HeaderType
	binary.LittleEndian.PutUint64(page[6:14], p.Granule)
	binary.LittleEndian.PutUint32(page[14:18], StreamSerial)
	binary.LittleEndian.PutUint32(page[18:22], p.Sequence)
	page[26] = byte(segments)

	for i := 0; i < segments-1; i++ {
		page[headerSize+i] = segmentSize
	}
	page[headerSize+segments-1] = byte(len(payload) - (segments-1)*segmentSize)
	copy(page[headerSize+segments:], payload)

	binary.LittleEndian.PutUint32(page[22:26], Checksum(page))
	return page, nil
}

// Decode parses the header of an encoded page and returns it with the payload.
func Decode(page []byte) (Page, []byte, error) {
	if len(page) < headerSize || string(page[0:4]) != string(pageSignature) {
		return Page{}, nil, errors.New("ogg: not a page")
	}
	segments := int(page[26])
	if len(page) < headerSize+segments {
		return Page{}, nil, errors.New("ogg: truncated lacing table")
	}
	size := 0
	for _, l := range page[headerSize : headerSize+segments] {
		size += int(l)
	}
	start := headerSize + segments
	if len(page) < start+size {
		return Page{}, nil, errors.New("ogg: truncated payload")
	}
	return Page{
		HeaderType: page[5],
		Granule:    binary.LittleEndian.Uint64(page[6:14]),
		Sequence:   binary.LittleEndian.Uint32(page[18:22]),
	}, page[start : start+size], nil
}
