package sim

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Checksum digests every raw word of s in slot order. Two states share a
// checksum when they are bit-identical.
func Checksum(s State) uint64 {
	digest := xxhash.New()
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(len(s.Bodies)))
	digest.Write(word[:])
	for _, b := range s.Bodies {
		for _, v := range [...]int64{
			b.PositionX.Raw(), b.PositionY.Raw(),
			b.VelocityX.Raw(), b.VelocityY.Raw(),
			b.Radius.Raw(), b.JumpForce.Raw(), b.MoveSpeed.Raw(),
		} {
			binary.LittleEndian.PutUint64(word[:], uint64(v))
			digest.Write(word[:])
		}
	}
	return digest.Sum64()
}
