package ogg

import "encoding/binary"

// crcPolynomial is the Ogg CRC-32 generator. The checksum is computed MSB first
// with a zero initial value and no final xor, which differs from IEEE CRC-32.
const crcPolynomial = 0x04c11db7

var crcTable = generateChecksumTable()

func generateChecksumTable() *[256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ crcPolynomial
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}

// Checksum computes the page CRC over b. The checksum field of a page must be
// zero when it is passed in.
func Checksum(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

// Verify recomputes the checksum of an encoded page and compares it with the
// value stored in the header.
func Verify(page []byte) bool {
	if len(page) < headerSize {
		return false
	}
	stored := binary.LittleEndian.Uint32(page[22:26])
	tmp := make([]byte, len(page))
	copy(tmp, page)
	binary.LittleEndian.PutUint32(tmp[22:26], 0)
	return Checksum(tmp) == stored
}
