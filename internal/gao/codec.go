package gao

import "encoding/json"

// Codec marshals and unmarshals a GAO's opaque state payload (spec.md
// §3.6's `state: opaque payload`) to and from the plaintext bytes stored in
// a GEOC container.
type Codec interface {
	Marshal(state interface{}) ([]byte, error)
	Unmarshal(data []byte, out interface{}) error
}

// JSONCodec is the default Codec, backed by encoding/json. Sufficient for
// any state type that round-trips through Go's standard JSON tags; callers
// needing a denser wire format can supply their own Codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(state interface{}) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONCodec) Unmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}
