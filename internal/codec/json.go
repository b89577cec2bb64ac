// Package codec registers a JSON-based gRPC message codec.
//
// The gRPC wire framing itself is out of scope for this broker (spec §1);
// what the broker does need is a real, working *grpc.Server/*grpc.ClientConn
// pair to exercise. Hand-writing the protoreflect.Message implementations
// that protoc-gen-go would normally generate is not something any example
// in this codebase does by hand, and fabricating a fake "generated" package
// would misrepresent a toolchain step that never ran. Instead this codec
// plugs into grpc-go's own encoding.Codec extension point
// (google.golang.org/grpc/encoding) and transports the plain Go structs in
// internal/grpcapi as JSON, keyed by content-subtype "json" instead of the
// default "proto". The canonical wire shape is still documented in
// api/broker/v1/broker.proto for a future protoc build step.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype registered with grpc-go's encoding package.
const Name = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
