// Package jsoncodec registers a JSON codec for gRPC so services can exchange
// plain Go structs without generated protobuf bindings.
package jsoncodec

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Name is the content-subtype used on calls: application/grpc+json.
const Name = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec implements grpc encoding.Codec over JSON.
type Codec struct{}

// Marshal serializes v to JSON.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsoncodec marshal: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsoncodec unmarshal: %w", err)
	}
	return nil
}

// Name returns the codec name.
func (Codec) Name() string {
	return Name
}
