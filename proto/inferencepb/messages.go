// Package inferencepb holds the wire messages and gRPC service description of
// the ignition.v1.Inference service. Messages are encoded with protowire and
// are wire-compatible with inference.proto, so any protobuf client can call
// the service.
package inferencepb

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

var errWireType = errors.New("unexpected wire type")

// Tensor is a named dense tensor.
type Tensor struct {
	Name  string
	DType string
	Shape []int64
	Data  []byte
}

// TensorSpec declares a plan input or output. -1 marks a dynamic dimension.
type TensorSpec struct {
	Name    string
	DType   string
	Shape   []int64
	MaxDims []int64
}

type PredictRequest struct {
	Inputs []*Tensor
	// NoCache bypasses the prediction cache for this call.
	NoCache bool
}

type PredictResponse struct {
	Outputs []*Tensor
	Cached  bool
}

type MetadataRequest struct{}

type MetadataResponse struct {
	Inputs     []*TensorSpec
	Outputs    []*TensorSpec
	Checksum   uint64
	Attributes map[string]string
}

func (m *Tensor) Marshal() ([]byte, error) { return m.appendTo(nil), nil }

func (m *Tensor) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Name)
	b = appendString(b, 2, m.DType)
	b = appendPacked(b, 3, m.Shape)
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	return b
}

func (m *Tensor) Unmarshal(b []byte) error {
	*m = Tensor{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Name)
		case 2:
			return consumeString(typ, b, &m.DType)
		case 3:
			return consumeInt64s(typ, b, &m.Shape)
		case 4:
			v, n, err := consumeBytes(typ, b)
			if err == nil {
				m.Data = append([]byte(nil), v...)
			}
			return n, err
		}
		return -1, nil
	})
}

func (m *TensorSpec) Marshal() ([]byte, error) { return m.appendTo(nil), nil }

func (m *TensorSpec) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Name)
	b = appendString(b, 2, m.DType)
	b = appendPacked(b, 3, m.Shape)
	b = appendPacked(b, 4, m.MaxDims)
	return b
}

func (m *TensorSpec) Unmarshal(b []byte) error {
	*m = TensorSpec{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Name)
		case 2:
			return consumeString(typ, b, &m.DType)
		case 3:
			return consumeInt64s(typ, b, &m.Shape)
		case 4:
			return consumeInt64s(typ, b, &m.MaxDims)
		}
		return -1, nil
	})
}

func (m *PredictRequest) Marshal() ([]byte, error) {
	var b []byte
	for _, t := range m.Inputs {
		b = appendMessage(b, 1, t.appendTo(nil))
	}
	if m.NoCache {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b, nil
}

func (m *PredictRequest) Unmarshal(b []byte) error {
	*m = PredictRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			t := new(Tensor)
			n, err := consumeMessage(typ, b, t.Unmarshal)
			if err == nil {
				m.Inputs = append(m.Inputs, t)
			}
			return n, err
		case 2:
			return consumeBool(typ, b, &m.NoCache)
		}
		return -1, nil
	})
}

func (m *PredictResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, t := range m.Outputs {
		b = appendMessage(b, 1, t.appendTo(nil))
	}
	if m.Cached {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b, nil
}

func (m *PredictResponse) Unmarshal(b []byte) error {
	*m = PredictResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			t := new(Tensor)
			n, err := consumeMessage(typ, b, t.Unmarshal)
			if err == nil {
				m.Outputs = append(m.Outputs, t)
			}
			return n, err
		case 2:
			return consumeBool(typ, b, &m.Cached)
		}
		return -1, nil
	})
}

func (m *MetadataRequest) Marshal() ([]byte, error) { return nil, nil }

func (m *MetadataRequest) Unmarshal(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return -1, nil })
}

func (m *MetadataResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, s := range m.Inputs {
		b = appendMessage(b, 1, s.appendTo(nil))
	}
	for _, s := range m.Outputs {
		b = appendMessage(b, 2, s.appendTo(nil))
	}
	if m.Checksum != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, m.Checksum)
	}
	keys := make([]string, 0, len(m.Attributes))
	for k := range m.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, m.Attributes[k])
		b = appendMessage(b, 4, entry)
	}
	return b, nil
}

func (m *MetadataResponse) Unmarshal(b []byte) error {
	*m = MetadataResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			s := new(TensorSpec)
			n, err := consumeMessage(typ, b, s.Unmarshal)
			if err != nil {
				return n, err
			}
			if num == 1 {
				m.Inputs = append(m.Inputs, s)
			} else {
				m.Outputs = append(m.Outputs, s)
			}
			return n, nil
		case 3:
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("checksum: %w", errWireType)
			}
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Checksum = v
			return n, nil
		case 4:
			var key, value string
			n, err := consumeMessage(typ, b, func(entry []byte) error {
				return walk(entry, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &key)
					case 2:
						return consumeString(typ, b, &value)
					}
					return -1, nil
				})
			})
			if err != nil {
				return n, err
			}
			if m.Attributes == nil {
				m.Attributes = make(map[string]string)
			}
			m.Attributes[key] = value
			return n, nil
		}
		return -1, nil
	})
}

// fieldFunc decodes the value of one field from the start of b and returns
// the bytes consumed. A negative count skips the field as unknown.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n < 0 {
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPacked(b []byte, num protowire.Number, values []int64) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

// consumeInt64s accepts both packed and unpacked encodings of a repeated int64.
func consumeInt64s(typ protowire.Type, b []byte, dst *[]int64) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*dst = append(*dst, int64(v))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			*dst = append(*dst, int64(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return 0, errWireType
}

func consumeMessage(typ protowire.Type, b []byte, unmarshal func([]byte) error) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	return n, unmarshal(v)
}
