package hash

import (
	"fmt"
	"hash/maphash"
)

// writeAny feeds a generic comparable key into a maphash.Hash. Integer keys
// such as page ids (the key of spec.md §4.3's page table) and strings take a
// fast path; anything else falls back to its fmt.Sprintf form.
func writeAny(h *maphash.Hash, k any) {
	switch v := k.(type) {
	case int32:
		var buf [4]byte
		putU32(buf[:], uint32(v))
		h.Write(buf[:])
	case int64:
		var buf [8]byte
		putU64(buf[:], uint64(v))
		h.Write(buf[:])
	case int:
		var buf [8]byte
		putU64(buf[:], uint64(v))
		h.Write(buf[:])
	case string:
		h.WriteString(v)
	default:
		h.WriteString(fmt.Sprintf("%v", v))
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
