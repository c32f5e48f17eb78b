package ogg

import "encoding/binary"

const (
	// PreSkip is the number of 48 kHz samples a decoder discards at stream start.
	PreSkip uint16 = 3840
	// Vendor is written into the comment header.
	Vendor = "GetRec"

	opusChannels   = 2
	opusSampleRate = 48000
)

// IdentificationPage returns the OpusHead page. It is the first page of the
// stream and carries the beginning-of-stream flag.
func IdentificationPage(sequence uint32) ([]byte, error) {
	payload := make([]byte, 19)
	copy(payload[0:8], "OpusHead")
	payload[8] = 1
	payload[9] = opusChannels
	binary.LittleEndian.PutUint16(payload[10:12], PreSkip)
	binary.LittleEndian.PutUint32(payload[12:16], opusSampleRate)
	binary.LittleEndian.PutUint16(payload[16:18], 0)
	payload[18] = 0
	return Encode(Page{HeaderType: HeaderTypeBeginningOfStream, Sequence: sequence}, payload)
}

// CommentPage returns the OpusTags page with the vendor string and no user comments.
func CommentPage(sequence uint32) ([]byte, error) {
	payload := make([]byte, 8+4+len(Vendor)+4)
	copy(payload[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(payload[8:12], uint32(len(Vendor)))
	copy(payload[12:], Vendor)
	binary.LittleEndian.PutUint32(payload[12+len(Vendor):], 0)
	return Encode(Page{HeaderType: HeaderTypeContinuationOfStream, Sequence: sequence}, payload)
}

// DataPage wraps one Opus packet.
func DataPage(packet []byte, granule uint64, sequence uint32) ([]byte, error) {
	return Encode(Page{HeaderType: HeaderTypeContinuationOfStream, Granule: granule, Sequence: sequence}, packet)
}
