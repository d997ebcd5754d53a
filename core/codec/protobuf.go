package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Protobuf is the binary Protocol Buffers codec.
var Protobuf = &ProtobufCodec{}

// ProtoJSON is the canonical JSON mapping of Protocol Buffers.
var ProtoJSON = &ProtoJSONCodec{}

// ProtobufCodec implements Protocol Buffers encoding/decoding
type ProtobufCodec struct{}

func (c *ProtobufCodec) Encode(v any) ([]byte, error) {
	msg, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func (c *ProtobufCodec) Decode(data []byte, v any) error {
	msg, err := asMessage(v)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}

func (c *ProtobufCodec) Name() string {
	return "protobuf"
}

func (c *ProtobufCodec) ContentType() string {
	return ContentTypeProtobuf
}

// ProtoJSONCodec encodes messages with protojson
type ProtoJSONCodec struct{}

func (c *ProtoJSONCodec) Encode(v any) ([]byte, error) {
	msg, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(msg)
}

func (c *ProtoJSONCodec) Decode(data []byte, v any) error {
	msg, err := asMessage(v)
	if err != nil {
		return err
	}
	return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, msg)
}

func (c *ProtoJSONCodec) Name() string {
	return "protojson"
}

func (c *ProtoJSONCodec) ContentType() string {
	return ContentTypeJSON
}

func asMessage(v any) (proto.Message, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.Newf("value must implement proto.Message interface, got %T", v)
	}
	return msg, nil
}
