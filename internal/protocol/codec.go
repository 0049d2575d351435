// Package protocol defines the gRPC surface between hayabusa submitters,
// the broker, and workers. Messages are the plain structs of pkg/types,
// carried by a CBOR codec with snappy block compression so that large
// search outputs stay cheap on the wire.
package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	"google.golang.org/grpc/encoding"
)

// Name is the codec name and the gRPC content subtype clients must request.
const Name = "hayabusa"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Record timestamps keep sub-second precision.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}

	encoding.RegisterCodec(Codec{})
}

// Codec implements encoding.Codec with snappy-compressed CBOR.
type Codec struct{}

// Marshal encodes v to CBOR and compresses the result.
func (Codec) Marshal(v any) ([]byte, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %T: %w", v, err)
	}
	return snappy.Encode(nil, raw), nil
}

// Unmarshal decompresses data and decodes it into v.
func (Codec) Unmarshal(data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("protocol: decompress %T: %w", v, err)
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("protocol: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name returns the registered codec name.
func (Codec) Name() string {
	return Name
}
