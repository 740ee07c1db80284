package message

import (
	"encoding/json"
	"fmt"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
)

// Serde names accepted for key_serde and value_serde
const (
	SerdeBytes  = "bytes"
	SerdeString = "string"
	SerdeJSON   = "json"
)

// ValidSerde reports whether name is a known serde
func ValidSerde(name string) bool {
	switch name {
	case "", SerdeBytes, SerdeString, SerdeJSON:
		return true
	}
	return false
}

// Decode converts raw bytes using the named serde. An empty name means bytes.
func Decode(serde string, data []byte) (any, error) {
	switch serde {
	case "", SerdeBytes:
		return data, nil
	case SerdeString:
		return string(data), nil
	case SerdeJSON:
		if len(data) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"message", "Decode", "json decode")
		}
		return v, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown serde %q", errors.ErrInvalidConfig, serde),
			"message", "Decode", "select serde")
	}
}

// DecodeKey converts a raw key to its string form. Keys are always compared
// as strings by joins.
func DecodeKey(serde string, data []byte) (string, error) {
	v, err := Decode(serde, data)
	if err != nil {
		return "", err
	}
	switch k := v.(type) {
	case nil:
		return "", nil
	case []byte:
		return string(k), nil
	case string:
		return k, nil
	default:
		b, err := json.Marshal(k)
		if err != nil {
			return "", errors.WrapInvalid(err, "message", "DecodeKey", "encode key")
		}
		return string(b), nil
	}
}
