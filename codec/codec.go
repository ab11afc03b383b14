// Package codec defines the serialization contract shared by checkpoints,
// event payloads, and watch frames. The default codec is JSON so persisted
// state stays inspectable; msgpack is available where payload size matters.
package codec

// Codec serializes step results, resume payloads, and frames to bytes.
type Codec interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into the value pointed to by v.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// Name constants for format negotiation.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return &Msgpack{}
	case NameJSON, "":
		return &JSON{}
	default:
		return &JSON{}
	}
}

// Default returns the JSON codec.
func Default() Codec { return &JSON{} }
