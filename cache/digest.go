package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// Digest derives the content-addressable key for an analysis request: a
// SHA-256 over the ordered (model, tone, image) tuple. Each field is
// length-prefixed so adjacent fields can never alias ("ab"+"c" vs
// "a"+"bc"). Identical tuples always produce identical keys.
func Digest(model, tone string, imageData []byte) string {
	h := sha256.New()
	writeField(h, []byte(model))
	writeField(h, []byte(tone))
	writeField(h, imageData)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h io.Writer, field []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(field)))
	h.Write(n[:])
	h.Write(field)
}
