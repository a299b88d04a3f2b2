package arim

// Checksum returns the CRC-16/CCITT-FALSE of p (polynomial 0x1021, initial
// value 0xFFFF, no reflection, no final XOR).
func Checksum(p []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range p {
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
