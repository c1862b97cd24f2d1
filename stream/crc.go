package stream

import (
	"hash/crc32"
	"strconv"
	"strings"
)

// ComputeCRC computes the IEEE CRC-32 of data.
func ComputeCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// VerifyCRC reports whether data matches the expected checksum.
func VerifyCRC(data []byte, expected uint32) bool {
	return ComputeCRC(data) == expected
}

// formatCRC renders a checksum as 8 lower-case hex digits.
func formatCRC(crc uint32) string {
	s := strconv.FormatUint(uint64(crc), 16)
	return strings.Repeat("0", 8-len(s)) + s
}

// parseCRC accepts "XXXXXXXX" or "crc32:XXXXXXXX".
func parseCRC(val string) (uint32, bool) {
	val = strings.TrimPrefix(val, "crc32:")
	if len(val) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(val, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
