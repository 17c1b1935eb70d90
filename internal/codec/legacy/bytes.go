package legacy

// Int2Byte encodes val big-endian into width bytes, dropping higher bits
func Int2Byte(val int, width int) []byte {
	if width <= 0 {
		return []byte{}
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		shift := uint(8 * (width - 1 - i))
		out[i] = byte((val >> shift) & 0xFF)
	}
	return out
}

// Byte2Int decodes a big-endian unsigned integer of any width up to 8 bytes.
// Longer inputs only use their first 8 bytes.
func Byte2Int(b []byte) int {
	if len(b) > 8 {
		b = b[:8]
	}
	result := 0
	for _, v := range b {
		result = result<<8 | int(v)
	}
	return result
}

// FixCRC writes the checksum into the second-to-last byte of a frame:
// the sum of every byte between the start byte and the checksum, mod 256.
// Frames shorter than 3 bytes are left alone.
func FixCRC(frame []byte) {
	if len(frame) < 3 {
		return
	}
	sum := 0
	for _, b := range frame[1 : len(frame)-2] {
		sum += int(b)
	}
	frame[len(frame)-2] = byte(sum % 256)
}

// ValidCRC reports whether a complete frame carries a correct checksum
func ValidCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	sum := 0
	for _, b := range frame[1 : len(frame)-2] {
		sum += int(b)
	}
	return frame[len(frame)-2] == byte(sum%256)
}
