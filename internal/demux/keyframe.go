package demux

import "encoding/binary"

const (
	naluTypeBitmask = 0x1F
	naluTypeSPS     = 7
	naluTypeSTAPA   = 24
)

// IsKeyframe reports whether data carries an SPS at any of the configured offsets.
func (c Config) IsKeyframe(data []byte) bool {
	for _, off := range c.KeyframeOffsets {
		if isKeyframeAt(data, off) {
			return true
		}
	}
	return false
}

// isKeyframeAt checks the 32-bit word at off for a bare SPS NAL or a STAP-A whose
// first aggregated NAL is an SPS.
func isKeyframeAt(data []byte, off int) bool {
	if off < 0 || len(data) < off+4 {
		return false
	}
	word := binary.BigEndian.Uint32(data[off : off+4])
	naluType := (word >> 24) & naluTypeBitmask
	return naluType == naluTypeSPS || (naluType == naluTypeSTAPA && word&naluTypeBitmask == naluTypeSPS)
}
