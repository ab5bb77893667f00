package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Frame represents a transport-level message frame.
// Inbound frames carry an operation in Type and a client chosen ID;
// outbound frames carry an event in Type and a hub generated ID.
type Frame struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewFrame creates a new frame
func NewFrame(frameType string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Frame{
		ID:        uuid.NewString(),
		Type:      frameType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Decode decodes the frame payload into the provided value
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(f.Data, v)
}

// Marshal marshals the frame to bytes
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal unmarshals bytes into a frame
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Codec defines the interface for frame encoding/decoding
type Codec interface {
	// Encode encodes a frame to bytes
	Encode(f *Frame) ([]byte, error)

	// Decode decodes bytes to a frame
	Decode(data []byte) (*Frame, error)
}

// JSONCodec implements Codec using JSON
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements the Codec interface
func (c *JSONCodec) Encode(f *Frame) ([]byte, error) {
	return f.Marshal()
}

// Decode implements the Codec interface
func (c *JSONCodec) Decode(data []byte) (*Frame, error) {
	return Unmarshal(data)
}
