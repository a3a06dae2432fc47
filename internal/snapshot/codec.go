// Package snapshot encodes a full simulation state for transfer between
// peers: msgpack framed, zstd compressed, and sealed with the state checksum.
package snapshot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"netball/server/internal/fixed"
	"netball/server/internal/sim"
)

// Version is bumped whenever the wire layout changes.
const Version = 1

var (
	ErrChecksumMismatch   = errors.New("snapshot: checksum mismatch")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")
	ErrMalformed          = errors.New("snapshot: malformed payload")
	ErrTooLarge           = errors.New("snapshot: payload exceeds size limit")
)

// MaxPlayers is the largest slot count a sim.PlayerID can address.
const MaxPlayers = 256

const (
	// Upper bounds of the msgpack layout: the envelope fields plus each body
	// as a seven-entry map of int64 words.
	packedHeaderSize = 64
	packedBodySize   = 80
	// zstd frame header, block headers and checksum.
	frameOverhead = 32
)

// MaxPackedSize bounds the uncompressed payload for players bodies.
func MaxPackedSize(players int) int {
	return packedHeaderSize + packedBodySize*max(players, 1)
}

// MaxEncodedSize bounds what Encode can produce for players bodies.
func MaxEncodedSize(players int) int {
	return MaxPackedSize(players) + frameOverhead
}

type wireBody struct {
	X         int64 `msgpack:"x"`
	Y         int64 `msgpack:"y"`
	VX        int64 `msgpack:"vx"`
	VY        int64 `msgpack:"vy"`
	Radius    int64 `msgpack:"r"`
	JumpForce int64 `msgpack:"j"`
	MoveSpeed int64 `msgpack:"m"`
}

type wireSnapshot struct {
	Version  int        `msgpack:"v"`
	Frame    int64      `msgpack:"f"`
	Checksum uint64     `msgpack:"c"`
	Bodies   []wireBody `msgpack:"b"`
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func sharedEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return encoder, encoderErr
}

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(MaxPackedSize(MaxPlayers))))
	})
	return decoder, decoderErr
}

// Encode packs the state of frame.
func Encode(frame sim.Frame, state sim.State) ([]byte, error) {
	w := wireSnapshot{
		Version:  Version,
		Frame:    int64(frame),
		Checksum: sim.Checksum(state),
		Bodies:   make([]wireBody, len(state.Bodies)),
	}
	for i, b := range state.Bodies {
		w.Bodies[i] = wireBody{
			X:         b.PositionX.Raw(),
			Y:         b.PositionY.Raw(),
			VX:        b.VelocityX.Raw(),
			VY:        b.VelocityY.Raw(),
			Radius:    b.Radius.Raw(),
			JumpForce: b.JumpForce.Raw(),
			MoveSpeed: b.MoveSpeed.Raw(),
		}
	}
	packed, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("snapshot: pack frame %d: %w", frame, err)
	}
	enc, err := sharedEncoder()
	if err != nil {
		return nil, fmt.Errorf("snapshot: encoder: %w", err)
	}
	return enc.EncodeAll(packed, make([]byte, 0, len(packed))), nil
}

// Decode unpacks data and verifies its checksum.
func Decode(data []byte) (sim.Frame, sim.State, error) {
	return DecodeFor(data, MaxPlayers)
}

// DecodeFor is Decode for a session of players slots. Payloads larger than
// such a session can produce are refused before and after decompression.
func DecodeFor(data []byte, players int) (sim.Frame, sim.State, error) {
	players = min(max(players, 1), MaxPlayers)
	if len(data) > MaxEncodedSize(players) {
		return 0, sim.State{}, fmt.Errorf("%w: %d compressed bytes for %d players", ErrTooLarge, len(data), players)
	}
	dec, err := sharedDecoder()
	if err != nil {
		return 0, sim.State{}, fmt.Errorf("snapshot: decoder: %w", err)
	}
	packed, err := dec.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return 0, sim.State{}, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	if err != nil {
		return 0, sim.State{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(packed) > MaxPackedSize(players) {
		return 0, sim.State{}, fmt.Errorf("%w: %d bytes for %d players", ErrTooLarge, len(packed), players)
	}
	var w wireSnapshot
	if err := msgpack.Unmarshal(packed, &w); err != nil {
		return 0, sim.State{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Version != Version {
		return 0, sim.State{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.Version)
	}

	state := sim.State{Bodies: make([]sim.Body, len(w.Bodies))}
	for i, b := range w.Bodies {
		state.Bodies[i] = sim.Body{
			PositionX: fixed.FromRaw(b.X),
			PositionY: fixed.FromRaw(b.Y),
			VelocityX: fixed.FromRaw(b.VX),
			VelocityY: fixed.FromRaw(b.VY),
			Radius:    fixed.FromRaw(b.Radius),
			JumpForce: fixed.FromRaw(b.JumpForce),
			MoveSpeed: fixed.FromRaw(b.MoveSpeed),
		}
	}
	if sum := sim.Checksum(state); sum != w.Checksum {
		return 0, sim.State{}, fmt.Errorf("%w: frame %d carries %x, decoded %x", ErrChecksumMismatch, w.Frame, w.Checksum, sum)
	}
	return sim.Frame(w.Frame), state, nil
}
