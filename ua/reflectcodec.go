// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"fmt"
	"reflect"
	"time"
)

// ReflectEncode and ReflectDecode implement the field-by-field binary
// codec for the hand-written core service messages; the generated type
// catalog lives outside this module, but the core still needs a request/
// response surface to dispatch against. Rather than hand-writing an
// Encode/Decode pair per message the way a code generator would, exported
// struct fields are walked in declaration order and dispatched by Go type
// -- the OPC UA binary encoding is itself just "fields in declaration
// order", so this is a faithful, if generic, stand-in for the generator.
func ReflectEncode(e *Encoder, reg *TypeRegistry, v interface{}) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return fmt.Errorf("ua: ReflectEncode: nil %T", v)
		}
		rv = rv.Elem()
	}
	return encodeStructValue(e, reg, rv)
}

func encodeStructValue(e *Encoder, reg *TypeRegistry, rv reflect.Value) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		if err := encodeField(e, reg, rv.Field(i)); err != nil {
			return fmt.Errorf("ua: field %s: %w", f.Name, err)
		}
	}
	return nil
}

func encodeField(e *Encoder, reg *TypeRegistry, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			e.ByteString(fv.Bytes())
			return nil
		}
		if fv.IsNil() {
			e.ArrayLength(-1)
			return nil
		}
		e.ArrayLength(fv.Len())
		for i := 0; i < fv.Len(); i++ {
			if err := encodeField(e, reg, fv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Ptr:
		if fv.IsNil() {
			return encodeZeroPointee(e, reg, fv.Type().Elem())
		}
		return encodeField(e, reg, fv.Elem())
	case reflect.Struct:
		return encodeKnownStruct(e, reg, fv)
	case reflect.String:
		e.String(fv.String())
		return nil
	case reflect.Bool:
		e.Bool(fv.Bool())
		return nil
	case reflect.Uint8:
		e.Byte(byte(fv.Uint()))
		return nil
	case reflect.Int8:
		e.Byte(byte(fv.Int()))
		return nil
	case reflect.Int16:
		e.Int16(int16(fv.Int()))
		return nil
	case reflect.Uint16:
		e.Uint16(uint16(fv.Uint()))
		return nil
	case reflect.Int32:
		e.Int32(int32(fv.Int()))
		return nil
	case reflect.Uint32:
		e.Uint32(uint32(fv.Uint()))
		return nil
	case reflect.Int64:
		e.Int64(fv.Int())
		return nil
	case reflect.Uint64:
		e.Uint64(fv.Uint())
		return nil
	case reflect.Float32:
		e.Float32(float32(fv.Float()))
		return nil
	case reflect.Float64:
		e.Float64(fv.Float())
		return nil
	case reflect.Interface:
		if fv.IsNil() {
			return nil
		}
		return encodeField(e, reg, fv.Elem())
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
}

func encodeKnownStruct(e *Encoder, reg *TypeRegistry, fv reflect.Value) error {
	iv := fv.Addr().Interface()
	switch v := iv.(type) {
	case *NodeID:
		v.Encode(e)
		return nil
	case *ExpandedNodeID:
		v.Encode(e)
		return nil
	case *QualifiedName:
		v.Encode(e)
		return nil
	case *LocalizedText:
		v.Encode(e)
		return nil
	case *Variant:
		return v.Encode(e, reg)
	case *DataValue:
		return v.Encode(e, reg)
	case *ExtensionObject:
		return v.Encode(e, reg)
	case *StatusCode:
		e.Uint32(uint32(*v))
		return nil
	case *time.Time:
		e.Int64(toFiletime(*v))
		return nil
	case *DiagnosticInfoPlaceholder:
		e.Byte(0)
		return nil
	default:
		return encodeStructValue(e, reg, fv)
	}
}

func encodeZeroPointee(e *Encoder, reg *TypeRegistry, t reflect.Type) error {
	switch t {
	case reflect.TypeOf(NodeID{}):
		NullNodeID.Encode(e)
		return nil
	case reflect.TypeOf(ExpandedNodeID{}):
		(&ExpandedNodeID{NodeID: NullNodeID}).Encode(e)
		return nil
	case reflect.TypeOf(QualifiedName{}):
		(&QualifiedName{}).Encode(e)
		return nil
	case reflect.TypeOf(LocalizedText{}):
		(&LocalizedText{}).Encode(e)
		return nil
	case reflect.TypeOf(Variant{}):
		return (&Variant{Type: VariantTypeNull}).Encode(e, reg)
	case reflect.TypeOf(DataValue{}):
		return (&DataValue{}).Encode(e, reg)
	case reflect.TypeOf(ExtensionObject{}):
		return (&ExtensionObject{}).Encode(e, reg)
	default:
		zero := reflect.New(t).Elem()
		return encodeStructValue(e, reg, zero)
	}
}

// ReflectDecode fills v (a pointer to struct) field by field, mirroring
// ReflectEncode.
func ReflectDecode(d *Decoder, reg *TypeRegistry, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("ua: ReflectDecode: need non-nil pointer, got %T", v)
	}
	return decodeStructValue(d, reg, rv.Elem())
}

func decodeStructValue(d *Decoder, reg *TypeRegistry, rv reflect.Value) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		if err := decodeField(d, reg, rv.Field(i)); err != nil {
			return fmt.Errorf("ua: field %s: %w", f.Name, err)
		}
	}
	return nil
}

func decodeField(d *Decoder, reg *TypeRegistry, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			b, err := d.ByteString()
			if err != nil {
				return err
			}
			fv.SetBytes(b)
			return nil
		}
		n, err := d.ArrayLength()
		if err != nil {
			return err
		}
		if n < 0 {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		s := reflect.MakeSlice(fv.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := decodeField(d, reg, s.Index(i)); err != nil {
				return err
			}
		}
		fv.Set(s)
		return nil
	case reflect.Ptr:
		ev := reflect.New(fv.Type().Elem())
		if err := decodeField(d, reg, ev.Elem()); err != nil {
			return err
		}
		fv.Set(ev)
		return nil
	case reflect.Struct:
		return decodeKnownStruct(d, reg, fv)
	case reflect.String:
		s, err := d.String()
		if err != nil {
			return err
		}
		fv.SetString(s)
		return nil
	case reflect.Bool:
		b, err := d.Bool()
		if err != nil {
			return err
		}
		fv.SetBool(b)
		return nil
	case reflect.Uint8:
		b, err := d.Byte()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(b))
		return nil
	case reflect.Int8:
		b, err := d.Byte()
		if err != nil {
			return err
		}
		fv.SetInt(int64(int8(b)))
		return nil
	case reflect.Int16:
		v, err := d.Int16()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
		return nil
	case reflect.Uint16:
		v, err := d.Uint16()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
		return nil
	case reflect.Int32:
		v, err := d.Int32()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
		return nil
	case reflect.Uint32:
		v, err := d.Uint32()
		if err != nil {
			return err
		}
		fv.SetUint(uint64(v))
		return nil
	case reflect.Int64:
		v, err := d.Int64()
		if err != nil {
			return err
		}
		fv.SetInt(v)
		return nil
	case reflect.Uint64:
		v, err := d.Uint64()
		if err != nil {
			return err
		}
		fv.SetUint(v)
		return nil
	case reflect.Float32:
		v, err := d.Float32()
		if err != nil {
			return err
		}
		fv.SetFloat(float64(v))
		return nil
	case reflect.Float64:
		v, err := d.Float64()
		if err != nil {
			return err
		}
		fv.SetFloat(v)
		return nil
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
}

func decodeKnownStruct(d *Decoder, reg *TypeRegistry, fv reflect.Value) error {
	switch fv.Addr().Interface().(type) {
	case *NodeID:
		v, err := DecodeNodeID(d)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *ExpandedNodeID:
		v, err := DecodeExpandedNodeID(d)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *QualifiedName:
		v, err := DecodeQualifiedName(d)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *LocalizedText:
		v, err := DecodeLocalizedText(d)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *Variant:
		v, err := DecodeVariant(d, reg)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *DataValue:
		v, err := DecodeDataValue(d, reg)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *ExtensionObject:
		v, err := DecodeExtensionObject(d, reg)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(*v))
		return nil
	case *StatusCode:
		v, err := d.Uint32()
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(StatusCode(v)))
		return nil
	case *time.Time:
		v, err := d.Int64()
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(fromFiletime(v)))
		return nil
	case *DiagnosticInfoPlaceholder:
		if _, err := d.Byte(); err != nil {
			return err
		}
		return nil
	default:
		return decodeStructValue(d, reg, fv)
	}
}
