package wire

import "github.com/cespare/xxhash/v2"

// Digest returns a fast, non-cryptographic checksum of data for an optional
// debug aid: a worker can log Digest(body) alongside a shipped WalHead/
// FileInfo record so that leader and follower logs can be diffed side by
// side to spot silent corruption. It is not part of the wire framing
// itself — the protocol carries no checksum field on the wire.
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}
