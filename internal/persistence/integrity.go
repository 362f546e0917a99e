package persistence

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const checksumSeed = "perpcore:snapshot:v1"

// snapshotChecksum computes SHA-256(seed || height || body) over a
// snapshot's serialized body. The checksum travels inside the stored JSON
// and is re-verified on load, catching truncated or hand-edited rows
// before a corrupt state reaches the ledger.
func snapshotChecksum(height int64, body []byte) string {
	h := sha256.New()
	h.Write([]byte(checksumSeed))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])

	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
