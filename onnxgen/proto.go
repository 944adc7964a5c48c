// Package onnxgen exports llama-family safetensors checkpoints to the ONNX
// inference format consumed by the comparison runtime and by downstream
// consumers such as transformers.js. The ModelProto is assembled directly on
// the protobuf wire format, so no generated ONNX bindings are needed.
package onnxgen

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX TensorProto element types
const (
	elemFloat = 1
	elemInt64 = 7
)

// AttributeProto type enum values
const (
	attrFloat  = 1
	attrInt    = 2
	attrTensor = 4
	attrInts   = 7
)

// appendStringField appends a length-delimited string field
func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendBytesField appends a length-delimited bytes field, including empty
// payloads
func appendBytesField(b []byte, num protowire.Number, data []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

// appendIntField appends a varint field
func appendIntField(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// appendFloatField appends a 32-bit float field
func appendFloatField(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

// appendPackedInts appends a packed repeated int64 field
func appendPackedInts(b []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendBytesField(b, num, packed)
}

// tensorProto encodes a TensorProto with raw little-endian data.
// Fields: dims=1, data_type=2, name=8, raw_data=9.
func tensorProto(name string, dims []int64, elemType int32, raw []byte) []byte {
	var b []byte
	b = appendPackedInts(b, 1, dims)
	b = appendIntField(b, 2, int64(elemType))
	b = appendStringField(b, 8, name)
	b = appendBytesField(b, 9, raw)
	return b
}

// floatTensor encodes a float32 TensorProto
func floatTensor(name string, dims []int64, data []float32) []byte {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return tensorProto(name, dims, elemFloat, raw)
}

// int64Tensor encodes an int64 TensorProto
func int64Tensor(name string, dims []int64, data []int64) []byte {
	raw := make([]byte, len(data)*8)
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	return tensorProto(name, dims, elemInt64, raw)
}

// attribute is one NodeProto attribute
type attribute struct {
	name string
	typ  int32
	i    int64
	f    float32
	ints []int64
}

func intAttr(name string, v int64) attribute {
	return attribute{name: name, typ: attrInt, i: v}
}

func floatAttr(name string, v float32) attribute {
	return attribute{name: name, typ: attrFloat, f: v}
}

func intsAttr(name string, vals ...int64) attribute {
	return attribute{name: name, typ: attrInts, ints: vals}
}

// encode serializes an AttributeProto.
// Fields: name=1, f=2, i=3, ints=8, type=20.
func (a attribute) encode() []byte {
	var b []byte
	b = appendStringField(b, 1, a.name)
	switch a.typ {
	case attrFloat:
		b = appendFloatField(b, 2, a.f)
	case attrInt:
		b = appendIntField(b, 3, a.i)
	case attrInts:
		b = appendPackedInts(b, 8, a.ints)
	}
	b = appendIntField(b, 20, int64(a.typ))
	return b
}

// nodeProto encodes a NodeProto.
// Fields: input=1, output=2, name=3, op_type=4, attribute=5.
func nodeProto(opType, name string, inputs, outputs []string, attrs []attribute) []byte {
	var b []byte
	for _, in := range inputs {
		b = appendStringField(b, 1, in)
	}
	for _, out := range outputs {
		b = appendStringField(b, 2, out)
	}
	b = appendStringField(b, 3, name)
	b = appendStringField(b, 4, opType)
	for _, attr := range attrs {
		b = appendBytesField(b, 5, attr.encode())
	}
	return b
}

// dimension is one entry of a TensorShapeProto: either a fixed value or a
// symbolic parameter such as "sequence"
type dimension struct {
	value int64
	param string
}

// valueInfoProto encodes a ValueInfoProto for a tensor input or output.
// ValueInfo: name=1, type=2. TypeProto: tensor_type=1. Tensor: elem_type=1,
// shape=2. TensorShapeProto: dim=1. Dimension: dim_value=1, dim_param=2.
func valueInfoProto(name string, elemType int32, dims []dimension) []byte {
	var shape []byte
	for _, d := range dims {
		var dim []byte
		if d.param != "" {
			dim = appendStringField(dim, 2, d.param)
		} else {
			dim = appendIntField(dim, 1, d.value)
		}
		shape = appendBytesField(shape, 1, dim)
	}

	var tensorType []byte
	tensorType = appendIntField(tensorType, 1, int64(elemType))
	tensorType = appendBytesField(tensorType, 2, shape)

	var typeProto []byte
	typeProto = appendBytesField(typeProto, 1, tensorType)

	var b []byte
	b = appendStringField(b, 1, name)
	b = appendBytesField(b, 2, typeProto)
	return b
}

// graphProto encodes a GraphProto.
// Fields: node=1, name=2, initializer=5, input=11, output=12.
func graphProto(name string, nodes, initializers, inputs, outputs [][]byte) []byte {
	var b []byte
	for _, n := range nodes {
		b = appendBytesField(b, 1, n)
	}
	b = appendStringField(b, 2, name)
	for _, t := range initializers {
		b = appendBytesField(b, 5, t)
	}
	for _, in := range inputs {
		b = appendBytesField(b, 11, in)
	}
	for _, out := range outputs {
		b = appendBytesField(b, 12, out)
	}
	return b
}

// modelProto encodes the top-level ModelProto.
// Fields: ir_version=1, producer_name=2, producer_version=3, graph=7,
// opset_import=8. OperatorSetId: domain=1, version=2.
func modelProto(irVersion, opsetVersion int64, producer, producerVersion string, graph []byte) []byte {
	var opset []byte
	opset = appendIntField(opset, 2, opsetVersion)

	var b []byte
	b = appendIntField(b, 1, irVersion)
	b = appendStringField(b, 2, producer)
	b = appendStringField(b, 3, producerVersion)
	b = appendBytesField(b, 7, graph)
	b = appendBytesField(b, 8, opset)
	return b
}
