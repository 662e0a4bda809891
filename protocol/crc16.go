package protocol

import "github.com/sigurn/crc16"

// CRC-16/XMODEM: poly 0x1021, init 0x0000, no reflection, no final xor.
// This is the variant the firmware calls "crc16" in its packet layer.
var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum calculates the CRC16 of a frame body
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// checksumBitwise is the shift-register form of Checksum, kept for
// cross-checking the table driven implementation in tests
func checksumBitwise(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
