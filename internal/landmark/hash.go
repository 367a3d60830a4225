package landmark

import (
	"fmt"
	"strconv"
)

// HashWidth is the length of a rendered hash token in hex characters.
const HashWidth = 10

// EncodeHash packs an anchor bin, target bin and frame distance into a
// 40-bit token rendered as fixed-width lowercase hex. The encoding is a
// plain bit concatenation, so it is identical on every platform and build:
// bits 24..39 hold fa, bits 8..23 hold fb, bits 0..7 hold dt.
func EncodeHash(fa, fb, dt int) string {
	packed := (uint64(fa)&0xffff)<<24 | (uint64(fb)&0xffff)<<8 | uint64(dt)&0xff
	return fmt.Sprintf("%010x", packed)
}

// DecodeHash unpacks a hash token back into its components. Used by
// inspection tooling only; matching never decodes.
func DecodeHash(hash string) (fa, fb, dt int, err error) {
	if len(hash) != HashWidth {
		return 0, 0, 0, fmt.Errorf("hash %q is not %d characters", hash, HashWidth)
	}
	packed, err := strconv.ParseUint(hash, 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("hash %q is not hex: %w", hash, err)
	}
	return int(packed >> 24 & 0xffff), int(packed >> 8 & 0xffff), int(packed & 0xff), nil
}
