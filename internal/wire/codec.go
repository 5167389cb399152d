package wire

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Encode serializes any wire object deterministically. encoding/json already
// sorts map[string]T keys alphabetically before emission; sequences keep
// their declared order. This repo relies on that stdlib guarantee rather
// than reimplementing a canonical-JSON encoder.
func Encode(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire encode: %w", err)
	}
	return data, nil
}

// Decode deserializes bytes into the given pointer target. It rejects
// payloads containing invalid UTF-8 before handing off to encoding/json, so
// malformed frames are reported precisely as ErrInvalidUTF8 rather than as an
// opaque json error.
func Decode(data []byte, target interface{}) error {
	if !utf8.Valid(data) {
		return ErrInvalidUTF8
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}

// DecodeCompleteState is a typed convenience wrapper around Decode.
func DecodeCompleteState(data []byte) (CompleteState, error) {
	var cs CompleteState
	if err := Decode(data, &cs); err != nil {
		return CompleteState{}, err
	}
	return cs, nil
}
