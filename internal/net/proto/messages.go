package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"netball/server/internal/fixed"
	"netball/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by peers.
	Version = 1

	TypeHello         = "hello"
	TypeInput         = "input"
	TypeResyncRequest = "resyncRequest"
)

var (
	ErrUnsupportedVersion = errors.New("proto: unsupported version")
	ErrUnknownType        = errors.New("proto: unknown message type")
	ErrMissingPayload     = errors.New("proto: message payload missing")
)

// Envelope is the text frame exchanged between peers. Exactly one payload
// matching Type is set.
type Envelope struct {
	Ver     int            `json:"ver" jsonschema:"description=Protocol revision,required"`
	Type    string         `json:"type" jsonschema:"enum=hello,enum=input,enum=resyncRequest,required"`
	Session string         `json:"session,omitempty" jsonschema:"description=Sender session identifier"`
	Hello   *Hello         `json:"hello,omitempty"`
	Input   *InputPayload  `json:"input,omitempty"`
	Resync  *ResyncRequest `json:"resync,omitempty"`
}

// Hello announces the sender's player slot and current frame.
type Hello struct {
	Player  uint8 `json:"player" jsonschema:"required"`
	Players int   `json:"players" jsonschema:"minimum=1,required"`
	Frame   int64 `json:"frame" jsonschema:"minimum=0"`
}

// InputPayload carries one player's input for one frame. Axis is a decimal
// string so the value survives the wire exactly.
type InputPayload struct {
	Player uint8  `json:"player" jsonschema:"required"`
	Frame  int64  `json:"frame" jsonschema:"minimum=0,required"`
	Axis   string `json:"axis" jsonschema:"description=Horizontal axis in [-1 1] as a decimal string,required"`
	Jump   bool   `json:"jump"`
}

// ResyncRequest asks the peer for a full snapshot.
type ResyncRequest struct {
	Frame  int64  `json:"frame"`
	Reason string `json:"reason,omitempty"`
}

// NewInput renders a frame input as a wire payload.
func NewInput(player sim.PlayerID, in sim.FrameInput) InputPayload {
	return InputPayload{
		Player: uint8(player),
		Frame:  int64(in.Frame),
		Axis:   in.Axis.String(),
		Jump:   in.Jump,
	}
}

// FrameInput parses the payload back into simulation types.
func (p InputPayload) FrameInput() (sim.PlayerID, sim.FrameInput, error) {
	axis, err := fixed.Parse(p.Axis)
	if err != nil {
		return 0, sim.FrameInput{}, fmt.Errorf("proto: input axis: %w", err)
	}
	if p.Frame < 0 {
		return 0, sim.FrameInput{}, fmt.Errorf("proto: negative frame %d", p.Frame)
	}
	in := sim.FrameInput{Frame: sim.Frame(p.Frame), Axis: axis, Jump: p.Jump}
	if err := in.Validate(); err != nil {
		return 0, sim.FrameInput{}, err
	}
	return sim.PlayerID(p.Player), in, nil
}

func EncodeHello(session string, msg Hello) ([]byte, error) {
	return json.Marshal(Envelope{Ver: Version, Type: TypeHello, Session: session, Hello: &msg})
}

func EncodeInput(session string, msg InputPayload) ([]byte, error) {
	return json.Marshal(Envelope{Ver: Version, Type: TypeInput, Session: session, Input: &msg})
}

func EncodeResyncRequest(session string, msg ResyncRequest) ([]byte, error) {
	return json.Marshal(Envelope{Ver: Version, Type: TypeResyncRequest, Session: session, Resync: &msg})
}

// Decode parses a text frame and checks its version and payload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("proto: decode: %w", err)
	}
	if env.Ver != Version {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Ver)
	}
	var missing bool
	switch env.Type {
	case TypeHello:
		missing = env.Hello == nil
	case TypeInput:
		missing = env.Input == nil
	case TypeResyncRequest:
		missing = env.Resync == nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if missing {
		return Envelope{}, fmt.Errorf("%w: %s", ErrMissingPayload, env.Type)
	}
	return env, nil
}

// Schema describes Envelope as a JSON schema document.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.ReflectFromType(reflect.TypeOf(Envelope{}))
	schema.Version = jsonschema.Version
	schema.Title = "Netball Peer Envelope"
	schema.Description = "Text frame exchanged between rollback peers. Snapshots travel as binary frames."
	return schema
}
