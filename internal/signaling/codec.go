package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	FrameType() int
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(data []byte, env *Envelope) error
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName returns the codec for a RELAY_CODEC / ?codec= value.
// An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec writes text frames that a browser peer can read as-is.
type JSONCodec struct{}

func (JSONCodec) Name() string   { return CodecJSON }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Unmarshal(data []byte, env *Envelope) error {
	return json.Unmarshal(data, env)
}

// MsgpackCodec writes compact binary frames.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string   { return CodecMsgpack }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Marshal(env *Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func (MsgpackCodec) Unmarshal(data []byte, env *Envelope) error {
	return msgpack.Unmarshal(data, env)
}
