package porttype

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec converts a port value to bytes and back.
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// CodecFuncs adapts a pair of functions to the Codec interface.
type CodecFuncs struct {
	EncodeFunc func(value any) ([]byte, error)
	DecodeFunc func(data []byte) (any, error)
}

// Encode calls EncodeFunc.
func (c CodecFuncs) Encode(value any) ([]byte, error) { return c.EncodeFunc(value) }

// Decode calls DecodeFunc.
func (c CodecFuncs) Decode(data []byte) (any, error) { return c.DecodeFunc(data) }

// Text is the value carried by the text port types.
type Text struct {
	Text string `json:"text"`
}

// Blob is the value carried by AnyBlob ports.
type Blob struct {
	Data []byte `json:"data"`
}

// textCodec encodes a Text as its raw UTF-8 bytes.
type textCodec struct{}

func (textCodec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case Text:
		return []byte(v.Text), nil
	case *Text:
		if v == nil {
			return nil, fmt.Errorf("%w: nil *Text", ErrInvalidValue)
		}
		return []byte(v.Text), nil
	case string:
		return []byte(v), nil
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return []byte(s), nil
		}
	}
	return nil, fmt.Errorf("%w: want text, got %T", ErrInvalidValue, value)
}

func (textCodec) Decode(data []byte) (any, error) {
	return Text{Text: string(data)}, nil
}

// blobCodec passes bytes through unchanged.
type blobCodec struct{}

func (blobCodec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case Blob:
		return v.Data, nil
	case *Blob:
		if v == nil {
			return nil, fmt.Errorf("%w: nil *Blob", ErrInvalidValue)
		}
		return v.Data, nil
	case []byte:
		return v, nil
	}
	return nil, fmt.Errorf("%w: want blob, got %T", ErrInvalidValue, value)
}

func (blobCodec) Decode(data []byte) (any, error) {
	return Blob{Data: data}, nil
}

// JSONCodec encodes any JSON-serialisable value. Decoded numbers are
// json.Number so integers beyond 2^53 survive a round trip.
type JSONCodec struct{}

// Encode marshals value as compact JSON.
func (JSONCodec) Encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return data, nil
}

// Decode unmarshals JSON into a generic value.
func (JSONCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}
