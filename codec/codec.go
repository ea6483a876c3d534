// Package codec holds the encode/decode and serializability-validation
// helpers shared by the state, schedule, and queue managers. Persisted
// payloads are CBOR (compact, preserves byte slices and map key
// ordering is irrelevant to us); anything that crosses into human-facing
// output, like the demo host's HTTP action responses, is marshalled to
// JSON at that boundary instead of carrying two representations through
// the core.
package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/teranos/actorcore/errors"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CanonicalEncOptions()
	// The canonical options encode time.Time as whole epoch seconds;
	// RFC 3339 text with nanoseconds keeps persisted timestamps
	// (availableAt, scheduled event times) exact across a reload.
	encOpts.Time = cbor.TimeRFC3339Nano
	mode, err := encOpts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode

	decOpts := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}
	dmode, err := decOpts.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dmode
}

// Marshal encodes v as canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "cbor encode failed")
	}
	return b, nil
}

// Unmarshal decodes CBOR bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "cbor decode failed")
	}
	return nil
}
