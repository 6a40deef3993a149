// Package serializer converts task arguments and results between Go values
// and the wire bytes carried on domain.TaskMessage.Args / domain.TaskResult.Result.
package serializer

import (
	"encoding/json"
	"fmt"
)

// Serializer encodes/decodes task payloads. The in-repo implementation is
// JSON; brokers carry the content type on the envelope, so alternate
// codecs can plug in per message.
type Serializer interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default Serializer.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }

func (JSON) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializer: marshal: %w", err)
	}
	return b, nil
}

func (JSON) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("serializer: unmarshal: %w", err)
	}
	return nil
}

// Decode unmarshals data into a freshly zeroed T.
func Decode[T any](s Serializer, data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := s.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Encode marshals v with s.
func Encode(s Serializer, v any) ([]byte, error) {
	return s.Marshal(v)
}
