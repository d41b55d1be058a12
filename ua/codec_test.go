// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestQualifiedNameRoundTrip(t *testing.T) {
	cases := []*QualifiedName{
		{NamespaceIndex: 0, Name: ""},
		{NamespaceIndex: 2, Name: "Objects"},
	}
	for _, in := range cases {
		e := NewEncoder(nil)
		in.Encode(e)
		out, err := DecodeQualifiedName(NewDecoder(bytes.NewReader(e.Bytes()), nil))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if *out != *in {
			t.Fatalf("round trip: got %+v, want %+v", out, in)
		}
	}
}

func TestLocalizedTextNullWhenEmpty(t *testing.T) {
	e := NewEncoder(nil)
	(&LocalizedText{}).Encode(e)
	if !bytes.Equal(e.Bytes(), []byte{0x00}) {
		t.Fatalf("empty LocalizedText encodes as % x, want 00", e.Bytes())
	}

	e = NewEncoder(nil)
	(&LocalizedText{Text: "app-name"}).Encode(e)
	want := []byte{0x02, 0x08, 0x00, 0x00, 0x00, 'a', 'p', 'p', '-', 'n', 'a', 'm', 'e'}
	if !bytes.Equal(e.Bytes(), want) {
		t.Fatalf("text-only LocalizedText encodes as % x, want % x", e.Bytes(), want)
	}

	out, err := DecodeLocalizedText(NewDecoder(bytes.NewReader(want), nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Locale != "" || out.Text != "app-name" {
		t.Fatalf("round trip: %+v", out)
	}
}

func TestVariantScalarRoundTrip(t *testing.T) {
	values := []interface{}{
		true, int8(-5), byte(200), int16(-1000), uint16(1000),
		int32(-100000), uint32(100000), int64(-1 << 40), uint64(1 << 40),
		float32(1.5), float64(2.25), "hello", []byte{1, 2, 3},
		NewStringNodeID(1, "n"), StatusCode(0x800A0000),
	}
	for _, v := range values {
		in, err := NewVariant(v)
		if err != nil {
			t.Fatalf("NewVariant(%T): %v", v, err)
		}
		e := NewEncoder(nil)
		if err := in.Encode(e, nil); err != nil {
			t.Fatalf("encode %T: %v", v, err)
		}
		out, err := DecodeVariant(NewDecoder(bytes.NewReader(e.Bytes()), nil), nil)
		if err != nil {
			t.Fatalf("decode %T: %v", v, err)
		}
		if out.Type != in.Type {
			t.Fatalf("type mismatch for %T: %d vs %d", v, out.Type, in.Type)
		}
		if !reflect.DeepEqual(out.Value, in.Value) {
			t.Fatalf("value mismatch for %T: %#v vs %#v", v, out.Value, in.Value)
		}
	}
}

func TestVariantArrayDimensions(t *testing.T) {
	in := &Variant{
		Type:       VariantTypeInt32,
		IsArray:    true,
		Array:      []interface{}{int32(1), int32(2), int32(3), int32(4)},
		Dimensions: []uint32{2, 2},
	}
	e := NewEncoder(nil)
	if err := in.Encode(e, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeVariant(NewDecoder(bytes.NewReader(e.Bytes()), nil), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(out.Dimensions, in.Dimensions) || len(out.Array) != 4 {
		t.Fatalf("round trip: %+v", out)
	}
}

func TestVariantDimensionMismatchRejected(t *testing.T) {
	in := &Variant{
		Type:       VariantTypeInt32,
		IsArray:    true,
		Array:      []interface{}{int32(1), int32(2), int32(3)},
		Dimensions: []uint32{2, 2},
	}
	e := NewEncoder(nil)
	if err := in.Encode(e, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err := DecodeVariant(NewDecoder(bytes.NewReader(e.Bytes()), nil), nil)
	if err == nil {
		t.Fatal("decoder accepted dimensions product != value count")
	}
	if !errors.Is(err, StatusBadDecodingError) {
		t.Fatalf("got %v, want BadDecodingError", err)
	}
}

func TestDepthGauge(t *testing.T) {
	// A Variant nesting another Variant per level: 150 levels overflows
	// the default gauge of 100.
	var raw []byte
	for i := 0; i < 150; i++ {
		raw = append(raw, byte(VariantTypeVariant))
	}
	raw = append(raw, 0x00) // innermost: null variant

	ctx := DefaultEncodingContext()
	_, err := DecodeVariant(NewDecoder(bytes.NewReader(raw), ctx), nil)
	if err == nil {
		t.Fatal("decoder accepted nesting beyond MaxDepth")
	}
	if !errors.Is(err, StatusBadDecodingError) {
		t.Fatalf("got %v, want BadDecodingError", err)
	}
	if ctx.depth != 0 {
		t.Fatalf("depth gauge not released: %d", ctx.depth)
	}

	// A shallow nesting must still decode, and release the gauge too.
	raw = []byte{byte(VariantTypeVariant), byte(VariantTypeVariant), 0x00}
	if _, err := DecodeVariant(NewDecoder(bytes.NewReader(raw), ctx), nil); err != nil {
		t.Fatalf("shallow nesting: %v", err)
	}
	if ctx.depth != 0 {
		t.Fatalf("depth gauge not released after success: %d", ctx.depth)
	}
}

func TestDataValueRoundTrip(t *testing.T) {
	v, _ := NewVariant(float64(42.5))
	in := &DataValue{
		Value:              v,
		Status:             StatusOK,
		SourceTimestamp:    time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC),
		HasValue:           true,
		HasStatus:          true,
		HasSourceTimestamp: true,
	}
	e := NewEncoder(nil)
	if err := in.Encode(e, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeDataValue(NewDecoder(bytes.NewReader(e.Bytes()), nil), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.HasValue || out.Value.Value != in.Value.Value {
		t.Fatalf("value: %+v", out)
	}
	if !out.SourceTimestamp.Equal(in.SourceTimestamp) {
		t.Fatalf("timestamp: %v vs %v", out.SourceTimestamp, in.SourceTimestamp)
	}
}

func TestExtensionObjectUnknownTypePreservesBytes(t *testing.T) {
	// An ExtensionObject with an unregistered type id decodes to an opaque
	// body that re-encodes byte-identically.
	raw := []byte{
		0x01, 0x00, 0x39, 0x30, // four-byte NodeId i=12345
		0x01,                   // binary body
		0x03, 0x00, 0x00, 0x00, // length 3
		0xaa, 0xbb, 0xcc,
	}
	reg := NewTypeRegistry()
	out, err := DecodeExtensionObject(NewDecoder(bytes.NewReader(raw), nil), reg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e := NewEncoder(nil)
	if err := out.Encode(e, reg); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(e.Bytes(), raw) {
		t.Fatalf("round trip: got % x, want % x", e.Bytes(), raw)
	}
}

func TestDynamicStructDecode(t *testing.T) {
	info := &StructInfo{
		Name: "MachineStatus",
		Fields: []StructField{
			{Name: "Speed", DataType: NewNumericNodeID(0, 11), ValueRank: -1},
			{Name: "Label", DataType: NewNumericNodeID(0, 12), ValueRank: -1},
		},
	}
	reg := NewTypeRegistry()
	reg.RegisterStructInfo(5001, info)

	e := NewEncoder(nil)
	e.Float64(12.5)
	e.String("ok")

	dec, ok := reg.LookupBinary(NewNumericNodeID(0, 5001))
	if !ok {
		t.Fatal("struct info decoder not registered")
	}
	body, err := dec(NewDecoder(bytes.NewReader(e.Bytes()), nil), reg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ds, ok := body.(*DynamicStruct)
	if !ok {
		t.Fatalf("got %T", body)
	}
	if ds.Fields["Speed"].Value != 12.5 || ds.Fields["Label"].Value != "ok" {
		t.Fatalf("fields: %#v", ds.Fields)
	}
}
