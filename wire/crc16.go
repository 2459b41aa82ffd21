package wire

// CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF, no
// reflection, no final XOR. Chosen over hash/crc32 because the wire
// format reserves exactly two trailer bytes.

const crcPoly = 0x1021

const crcInit = 0xFFFF

var crcTable [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// Checksum computes the CRC-16 of data.
func Checksum(data []byte) uint16 {
	return Update(crcInit, data)
}

// Update continues a CRC-16 computation with additional data.
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
