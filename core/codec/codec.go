package codec

import (
	"encoding/json"
	"mime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/searchktools/h1/core/http"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Content types understood by ForContentType
const (
	ContentTypeJSON      = "application/json"
	ContentTypeProtobuf  = "application/x-protobuf"
	ContentTypeProtoJSON = "application/protojson"
)

// Codec encodes and decodes request and response bodies
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string

	// ContentType returns the media type written in responses
	ContentType() string
}

// ForContentType picks the codec for a Content-Type header value.
// Parameters such as charset are ignored.
func ForContentType(contentType string) (Codec, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedCodec, "content type %q", contentType)
	}
	switch strings.ToLower(mediaType) {
	case ContentTypeJSON:
		return JSON, nil
	case ContentTypeProtobuf, "application/protobuf", "application/vnd.google.protobuf":
		return Protobuf, nil
	case ContentTypeProtoJSON:
		return ProtoJSON, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedCodec, "content type %q", mediaType)
	}
}

// Bind decodes the request body with the codec matching its Content-Type.
// Requests without a Content-Type are decoded as JSON.
func Bind(req *http.Request, v any) error {
	c := Codec(JSON)
	if ct, ok := req.Header("Content-Type"); ok {
		var err error
		if c, err = ForContentType(ct); err != nil {
			return err
		}
	}
	if err := c.Decode(req.Body(), v); err != nil {
		return errors.Wrapf(err, "decode %s body", c.Name())
	}
	return nil
}

// Respond encodes v into the body of a response with status code.
func Respond(c Codec, code int, v any) (*http.Response, error) {
	body, err := c.Encode(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s response", c.Name())
	}
	return http.NewResponse().
		Status(code, "").
		Header("Content-Type", c.ContentType()).
		Bytes(body), nil
}

// JSON is the encoding/json codec.
var JSON = &JSONCodec{}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) ContentType() string {
	return ContentTypeJSON
}
